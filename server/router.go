package server

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"talentchat/db"
	"talentchat/directory"
	"talentchat/models"
	"talentchat/protocol"
)

var (
	ErrEmptyContent     = errors.New("message content required")
	ErrReceiverRequired = errors.New("receiver required")
)

// previewLimit - длина превью сообщения в уведомлении, в рунах.
const previewLimit = 80

// Router decides real sender/receiver identities, persists the message and
// runs the delivery and notification fan-outs. Оба транспорта - websocket
// и HTTP - обязаны ходить через Send, чтобы состояние в базе не зависело
// от пути доставки.
type Router struct {
	db       *db.DB
	dir      directory.Directory
	registry *Registry
	log      zerolog.Logger
	support  string
}

func NewRouter(database *db.DB, dir directory.Directory, registry *Registry, log zerolog.Logger) *Router {
	return &Router{
		db:       database,
		dir:      dir,
		registry: registry,
		log:      log.With().Str("component", "router").Logger(),
		support:  database.SupportID(),
	}
}

// Send validates, resolves identities, persists and fans out one message.
// Persistence is the durability boundary: if the insert fails, no delivery
// and no notification happen and the caller sees the error.
func (r *Router) Send(senderID, role, receiverID, content string, support bool) (*models.Message, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}

	// Таблица подстановки идентичностей, порядок условий важен:
	// админ пишет в саппорт от имени сентинела в тред конкретного
	// пользователя; не-админ пишет сентинелу; общий канал - как есть.
	actualSender := senderID
	actualReceiver := receiverID
	switch {
	case support && role == models.RoleAdmin:
		if receiverID == "" {
			return nil, ErrReceiverRequired
		}
		actualSender = r.support
	case support:
		actualReceiver = r.support
	default:
		if receiverID == "" {
			return nil, ErrReceiverRequired
		}
	}

	msg := &models.Message{
		ID:         uuid.NewString(),
		SenderID:   actualSender,
		ReceiverID: actualReceiver,
		Content:    content,
		Timestamp:  time.Now().UTC(),
	}

	if err := r.db.SaveMessage(msg); err != nil {
		return nil, err
	}

	channel := "general"
	if support {
		channel = "support"
	}
	metricMessagesRouted.WithLabelValues(channel).Inc()

	r.Decorate(msg)

	// Сообщение уже в базе: фан-ауты дальше только best-effort.
	if support && role != models.RoleAdmin {
		r.notifyAdmins(msg)
	}
	r.deliver(msg)

	return msg, nil
}

// Decorate fills in display names and avatars from the user directory; the
// sentinel gets the fixed support identity. Lookup failures leave the
// message undecorated rather than failing the operation.
func (r *Router) Decorate(m *models.Message) {
	if p, err := r.dir.Profile(m.SenderID); err == nil {
		m.SenderName = p.Name
		m.SenderAvatar = p.Avatar
	} else {
		r.log.Warn().Err(err).Str("user_id", m.SenderID).Msg("sender profile lookup failed")
	}
	if p, err := r.dir.Profile(m.ReceiverID); err == nil {
		m.ReceiverName = p.Name
		m.ReceiverAvatar = p.Avatar
	} else {
		r.log.Warn().Err(err).Str("user_id", m.ReceiverID).Msg("receiver profile lookup failed")
	}
}

// deliver attempts best-effort realtime push. Получатель-сентинел значит
// "весь пул": рассылаем по всем подключенным администраторам. Отсутствие
// соединения или ошибка записи не ошибка - получатель доберет по опросу.
func (r *Router) deliver(m *models.Message) {
	frame := protocol.NewMessagePush(m)

	if m.ReceiverID == r.support {
		sent := r.registry.Broadcast(models.RoleAdmin, frame)
		metricPushDelivered.Add(float64(sent))
		if sent == 0 {
			metricPushMissed.Inc()
		}
		return
	}

	if err := r.registry.Push(m.ReceiverID, frame); err != nil {
		metricPushMissed.Inc()
		if !errors.Is(err, ErrNotConnected) {
			r.log.Warn().Err(err).Str("user_id", m.ReceiverID).Msg("push failed, message stays poll-discoverable")
		}
		return
	}
	metricPushDelivered.Inc()
}

// notifyAdmins writes one support_ticket notification per admin identity,
// independent of who is currently connected. Ошибки здесь не валят
// отправку: сообщение уже сохранено и видно через счетчик непрочитанного.
func (r *Router) notifyAdmins(m *models.Message) {
	admins, err := r.dir.Admins()
	if err != nil {
		r.log.Error().Err(err).Msg("admin enumeration failed, support notifications skipped")
		return
	}

	data, err := json.Marshal(map[string]string{
		"sender_id":  m.SenderID,
		"message_id": m.ID,
	})
	if err != nil {
		r.log.Error().Err(err).Msg("notification context marshal failed")
		return
	}

	preview := truncate(m.Content, previewLimit)
	for _, admin := range admins {
		n := &models.Notification{
			ID:        uuid.NewString(),
			Type:      models.NotificationSupportTicket,
			Content:   preview,
			UserID:    admin.ID,
			Data:      string(data),
			CreatedAt: time.Now().UTC(),
		}
		if err := r.db.CreateNotification(n); err != nil {
			r.log.Error().Err(err).Str("user_id", admin.ID).Msg("notification insert failed")
			continue
		}
		metricNotificationsCreated.Inc()
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
