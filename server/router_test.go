package server

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talentchat/auth"
	"talentchat/config"
	"talentchat/db"
	"talentchat/directory"
	"talentchat/models"
	"talentchat/protocol"
)

const testSupportID = "support"

type testEnv struct {
	cfg      *config.Config
	db       *db.DB
	dir      directory.Directory
	verifier *auth.JWTVerifier
	registry *Registry
	router   *Router
	srv      *Server
}

// newTestEnv собирает сервер с временной базой и засеянным справочником
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		ServiceName:  "talentchat-test",
		JWTSecret:    "test-secret",
		SupportID:    testSupportID,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	database, err := db.New(filepath.Join(t.TempDir(), "chat.db"), cfg.SupportID)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	seed := []models.Profile{
		{ID: "a1", Name: "Alice", Role: models.RoleAdmin},
		{ID: "a2", Name: "Ann", Role: models.RoleAdmin},
		{ID: "u1", Name: "Bob", Role: models.RoleClient},
		{ID: "u2", Name: "Carol", Role: models.RoleTalent},
	}
	for i := range seed {
		require.NoError(t, database.UpsertUser(&seed[i]))
	}

	dir := directory.NewSQL(database)
	verifier := auth.NewJWTVerifier(cfg.JWTSecret)
	registry := NewRegistry()
	router := NewRouter(database, dir, registry, zerolog.Nop())
	srv := New(cfg, database, registry, router, verifier, zerolog.Nop())

	return &testEnv{
		cfg:      cfg,
		db:       database,
		dir:      dir,
		verifier: verifier,
		registry: registry,
		router:   router,
		srv:      srv,
	}
}

func (e *testEnv) token(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := e.verifier.Issue(userID, role, time.Hour)
	require.NoError(t, err)
	return token
}

// fakePeer подменяет websocket-соединение в тестах реестра и роутера
type fakePeer struct {
	mu     sync.Mutex
	frames []any
	closed bool
}

func (p *fakePeer) Send(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, v)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) frameCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

func (p *fakePeer) lastMessage(t *testing.T) *models.Message {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.frames)
	frame, ok := p.frames[len(p.frames)-1].(protocol.NewMessageFrame)
	require.True(t, ok)
	return frame.Message
}

// TestIdentityResolution проверяет таблицу подстановки отправителя и
// получателя для каждой комбинации (роль, isSupport).
func TestIdentityResolution(t *testing.T) {
	cases := []struct {
		name         string
		senderID     string
		role         string
		receiverID   string
		support      bool
		wantSender   string
		wantReceiver string
	}{
		{"admin support reply goes out as sentinel", "a1", models.RoleAdmin, "u1", true, testSupportID, "u1"},
		{"client support request lands on sentinel", "u1", models.RoleClient, "", true, "u1", testSupportID},
		{"client support ignores given receiver", "u1", models.RoleClient, "u2", true, "u1", testSupportID},
		{"talent support request lands on sentinel", "u2", models.RoleTalent, "", true, "u2", testSupportID},
		{"general message stays as given", "u1", models.RoleClient, "u2", false, "u1", "u2"},
		{"admin general message stays as given", "a1", models.RoleAdmin, "u1", false, "a1", "u1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)

			msg, err := env.router.Send(tc.senderID, tc.role, tc.receiverID, "hello", tc.support)
			require.NoError(t, err)
			assert.Equal(t, tc.wantSender, msg.SenderID)
			assert.Equal(t, tc.wantReceiver, msg.ReceiverID)
			assert.False(t, msg.Read)
			assert.NotEmpty(t, msg.ID)
		})
	}
}

func TestSendValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.router.Send("u1", models.RoleClient, "u2", "", false)
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = env.router.Send("u1", models.RoleClient, "", "hi", false)
	assert.ErrorIs(t, err, ErrReceiverRequired)

	// Админу в саппорте нужен тред конкретного пользователя
	_, err = env.router.Send("a1", models.RoleAdmin, "", "hi", true)
	assert.ErrorIs(t, err, ErrReceiverRequired)
}

// TestSupportTicketNotifiesEveryAdmin: не-админ открывает тикет - каждый
// администратор получает по одному уведомлению support_ticket.
func TestSupportTicketNotifiesEveryAdmin(t *testing.T) {
	env := newTestEnv(t)

	msg, err := env.router.Send("u1", models.RoleClient, "", "help", true)
	require.NoError(t, err)
	assert.Equal(t, "u1", msg.SenderID)
	assert.Equal(t, testSupportID, msg.ReceiverID)

	for _, adminID := range []string{"a1", "a2"} {
		list, err := env.db.Notifications(adminID, 100, 0)
		require.NoError(t, err)
		require.Len(t, list, 1, "admin %s", adminID)
		assert.Equal(t, models.NotificationSupportTicket, list[0].Type)
		assert.Equal(t, "help", list[0].Content)

		var data map[string]string
		require.NoError(t, json.Unmarshal([]byte(list[0].Data), &data))
		assert.Equal(t, "u1", data["sender_id"])
		assert.Equal(t, msg.ID, data["message_id"])
	}
}

func TestNotificationPreviewTruncated(t *testing.T) {
	env := newTestEnv(t)

	long := ""
	for i := 0; i < 30; i++ {
		long += "выручайте "
	}
	_, err := env.router.Send("u1", models.RoleClient, "", long, true)
	require.NoError(t, err)

	list, err := env.db.Notifications("a1", 100, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, previewLimit, len([]rune(list[0].Content)))
}

// TestAdminReplyCreatesNoNotification: ответ пула не плодит уведомлений,
// пользователь узнает о нем через собственный счетчик непрочитанного.
func TestAdminReplyCreatesNoNotification(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.router.Send("a1", models.RoleAdmin, "u1", "hi", true)
	require.NoError(t, err)

	for _, userID := range []string{"a1", "a2", "u1"} {
		list, err := env.db.Notifications(userID, 100, 0)
		require.NoError(t, err)
		assert.Empty(t, list)
	}

	counts, err := env.db.UnreadCounts("u1", models.RoleClient)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Support)

	// Счетчик пула ответом не затронут
	adminCounts, err := env.db.UnreadCounts("a2", models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 0, adminCounts.Support)
}

func TestGeneralMessageCreatesNoNotification(t *testing.T) {
	env := newTestEnv(t)

	msg, err := env.router.Send("u1", models.RoleClient, "u2", "hey", false)
	require.NoError(t, err)
	assert.Equal(t, "u1", msg.SenderID)
	assert.Equal(t, "u2", msg.ReceiverID)

	list, err := env.db.Notifications("a1", 100, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestChannelExclusivity(t *testing.T) {
	env := newTestEnv(t)

	general, err := env.router.Send("u1", models.RoleClient, "u2", "direct", false)
	require.NoError(t, err)
	support, err := env.router.Send("u1", models.RoleClient, "", "ticket", true)
	require.NoError(t, err)

	isSupport := func(m *models.Message) bool {
		return m.SenderID == testSupportID || m.ReceiverID == testSupportID
	}
	assert.False(t, isSupport(general))
	assert.True(t, isSupport(support))
}

func TestDeliveryToReceiverConnection(t *testing.T) {
	env := newTestEnv(t)

	receiver := &fakePeer{}
	bystander := &fakePeer{}
	env.registry.Register("u2", models.RoleTalent, receiver)
	env.registry.Register("a1", models.RoleAdmin, bystander)

	_, err := env.router.Send("u1", models.RoleClient, "u2", "hey", false)
	require.NoError(t, err)

	require.Equal(t, 1, receiver.frameCount())
	pushed := receiver.lastMessage(t)
	assert.Equal(t, "hey", pushed.Content)
	assert.Equal(t, "Bob", pushed.SenderName)
	assert.Zero(t, bystander.frameCount())
}

// TestSupportDeliveryReachesOnlyAdmins: рассылка тикета фильтруется по
// роли, посторонние подключенные пользователи пуш не получают.
func TestSupportDeliveryReachesOnlyAdmins(t *testing.T) {
	env := newTestEnv(t)

	admin1 := &fakePeer{}
	admin2 := &fakePeer{}
	outsider := &fakePeer{}
	env.registry.Register("a1", models.RoleAdmin, admin1)
	env.registry.Register("a2", models.RoleAdmin, admin2)
	env.registry.Register("u2", models.RoleTalent, outsider)

	_, err := env.router.Send("u1", models.RoleClient, "", "help", true)
	require.NoError(t, err)

	assert.Equal(t, 1, admin1.frameCount())
	assert.Equal(t, 1, admin2.frameCount())
	assert.Zero(t, outsider.frameCount())
}

func TestOfflineReceiverDegradesToPoll(t *testing.T) {
	env := newTestEnv(t)

	// Никто не подключен: отправка обязана пройти без ошибки
	msg, err := env.router.Send("u1", models.RoleClient, "u2", "hey", false)
	require.NoError(t, err)

	stored, err := env.db.GeneralThread("u1", "u2", 100, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, msg.ID, stored[0].ID)
}

func TestDecorateSentinelIdentity(t *testing.T) {
	env := newTestEnv(t)

	msg, err := env.router.Send("a1", models.RoleAdmin, "u1", "hi", true)
	require.NoError(t, err)

	assert.Equal(t, directory.SupportDisplayName, msg.SenderName)
	assert.Equal(t, "Bob", msg.ReceiverName)
}
