package db

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"talentchat/models"
)

var (
	ErrNoRows = errors.New("no rows found")

	// ErrThreadRequired: админ отмечает саппорт прочитанным только в
	// рамках выбранного треда.
	ErrThreadRequired = errors.New("thread user required")
)

// timeLayout - формат хранения таймстемпов. Ширина дробной части
// фиксирована, иначе лексикографический ORDER BY по тексту не совпадает
// с хронологическим порядком (RFC3339Nano обрезает хвостовые нули).
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB - единственный источник истины для сообщений и уведомлений.
// Конкурирующие записи по одной строке сериализует сам SQLite.
type DB struct {
	conn    *sql.DB
	support string // идентификатор-сентинел пула администраторов
}

func New(path, supportID string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn, support: supportID}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// SupportID returns the sentinel identity shared by the admin pool.
func (db *DB) SupportID() string {
	return db.support
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender_id TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			read INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			data TEXT NOT NULL DEFAULT '',
			is_read INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			avatar TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver_id, read)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, is_read)`,
		`CREATE INDEX IF NOT EXISTS idx_users_role ON users(role)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// Message methods

// SaveMessage persists a message; it is the durability boundary for sends.
func (db *DB) SaveMessage(m *models.Message) error {
	read := 0
	if m.Read {
		read = 1
	}
	_, err := db.conn.Exec(
		"INSERT INTO messages (id, sender_id, receiver_id, content, timestamp, read) VALUES (?, ?, ?, ?, ?, ?)",
		m.ID, m.SenderID, m.ReceiverID, m.Content, m.Timestamp.UTC().Format(timeLayout), read,
	)
	return err
}

// GeneralThread returns the conversation between two ordinary participants,
// oldest first.
func (db *DB) GeneralThread(userID, peerID string, limit, offset int) ([]models.Message, error) {
	query := `
		SELECT id, sender_id, receiver_id, content, timestamp, read
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY timestamp ASC
		LIMIT ? OFFSET ?
	`
	return db.queryMessages(query, userID, peerID, peerID, userID, limit, offset)
}

// SupportThread returns the conversation between one requester and the
// admin pool sentinel, oldest first.
func (db *DB) SupportThread(userID string, limit, offset int) ([]models.Message, error) {
	query := `
		SELECT id, sender_id, receiver_id, content, timestamp, read
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY timestamp ASC
		LIMIT ? OFFSET ?
	`
	return db.queryMessages(query, userID, db.support, db.support, userID, limit, offset)
}

func (db *DB) queryMessages(query string, args ...any) ([]models.Message, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var timestampStr string
		var read int
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &timestampStr, &read); err != nil {
			return nil, err
		}

		timestamp, err := time.Parse(timeLayout, timestampStr)
		if err != nil {
			return nil, err
		}
		m.Timestamp = timestamp
		m.Read = read != 0

		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// Unread/read-state engine

// UnreadCounts computes the general and support unread counters for a user.
// Подсчет асимметричен: администратор видит тикеты, ждущие любого из
// пула, обычный пользователь - ответы саппорта лично ему.
func (db *DB) UnreadCounts(userID, role string) (*models.UnreadCounts, error) {
	counts := &models.UnreadCounts{}

	// Общий канал: непрочитанное этому пользователю, сентинел исключен.
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM messages WHERE receiver_id = ? AND read = 0 AND sender_id <> ? AND receiver_id <> ?",
		userID, db.support, db.support,
	).Scan(&counts.General)
	if err != nil {
		return nil, err
	}

	if role == models.RoleAdmin {
		// Тикеты, адресованные сентинелу и еще не разобранные пулом.
		err = db.conn.QueryRow(
			"SELECT COUNT(*) FROM messages WHERE receiver_id = ? AND sender_id <> ? AND read = 0",
			db.support, db.support,
		).Scan(&counts.Support)
	} else {
		// Ответы саппорта, ждущие этого пользователя.
		err = db.conn.QueryRow(
			"SELECT COUNT(*) FROM messages WHERE receiver_id = ? AND sender_id = ? AND read = 0",
			userID, db.support,
		).Scan(&counts.Support)
	}
	if err != nil {
		return nil, err
	}

	return counts, nil
}

// MarkRead performs the bulk unread -> read transition. The operation is
// idempotent: repeating it with no new messages is a no-op.
func (db *DB) MarkRead(userID, role string, support bool, threadUserID string) error {
	var err error
	switch {
	case !support:
		_, err = db.conn.Exec(
			"UPDATE messages SET read = 1 WHERE receiver_id = ? AND read = 0 AND sender_id <> ?",
			userID, db.support,
		)
	case role == models.RoleAdmin:
		if threadUserID == "" {
			return ErrThreadRequired
		}
		_, err = db.conn.Exec(
			"UPDATE messages SET read = 1 WHERE sender_id = ? AND receiver_id = ? AND read = 0",
			threadUserID, db.support,
		)
	default:
		_, err = db.conn.Exec(
			"UPDATE messages SET read = 1 WHERE sender_id = ? AND receiver_id = ? AND read = 0",
			db.support, userID,
		)
	}
	return err
}

// SupportThreads returns the admin ticket list: the most recent message per
// distinct requester among messages addressed to the sentinel, newest first.
func (db *DB) SupportThreads() ([]models.SupportThread, error) {
	// Голый столбец при GROUP BY в SQLite берется из строки с MAX(timestamp).
	query := `
		SELECT sender_id, content, MAX(timestamp)
		FROM messages
		WHERE receiver_id = ? AND sender_id <> ?
		GROUP BY sender_id
		ORDER BY MAX(timestamp) DESC
	`
	rows, err := db.conn.Query(query, db.support, db.support)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []models.SupportThread
	for rows.Next() {
		var t models.SupportThread
		var timestampStr string
		if err := rows.Scan(&t.UserID, &t.Preview, &timestampStr); err != nil {
			return nil, err
		}

		lastAt, err := time.Parse(timeLayout, timestampStr)
		if err != nil {
			return nil, err
		}
		t.LastAt = lastAt

		threads = append(threads, t)
	}

	return threads, rows.Err()
}

// Notification methods

func (db *DB) CreateNotification(n *models.Notification) error {
	read := 0
	if n.IsRead {
		read = 1
	}
	_, err := db.conn.Exec(
		"INSERT INTO notifications (id, type, content, user_id, data, is_read, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		n.ID, n.Type, n.Content, n.UserID, n.Data, read, n.CreatedAt.UTC().Format(timeLayout),
	)
	return err
}

// Notifications returns the user's notifications, newest first.
func (db *DB) Notifications(userID string, limit, offset int) ([]models.Notification, error) {
	query := `
		SELECT id, type, content, user_id, data, is_read, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`
	rows, err := db.conn.Query(query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		var n models.Notification
		var createdStr string
		var read int
		if err := rows.Scan(&n.ID, &n.Type, &n.Content, &n.UserID, &n.Data, &read, &createdStr); err != nil {
			return nil, err
		}

		createdAt, err := time.Parse(timeLayout, createdStr)
		if err != nil {
			return nil, err
		}
		n.CreatedAt = createdAt
		n.IsRead = read != 0

		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// MarkNotificationRead marks one notification as read for its owner.
func (db *DB) MarkNotificationRead(id, userID string) error {
	result, err := db.conn.Exec(
		"UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?",
		id, userID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNoRows
	}

	return nil
}

// User directory rows (read model synced from the platform)

func (db *DB) UpsertUser(p *models.Profile) error {
	_, err := db.conn.Exec(
		`INSERT INTO users (id, name, avatar, role) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, avatar = excluded.avatar, role = excluded.role`,
		p.ID, p.Name, p.Avatar, p.Role,
	)
	return err
}

func (db *DB) GetProfile(id string) (*models.Profile, error) {
	var p models.Profile
	err := db.conn.QueryRow(
		"SELECT id, name, avatar, role FROM users WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &p.Avatar, &p.Role)
	if err == sql.ErrNoRows {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (db *DB) GetAdmins() ([]models.Profile, error) {
	rows, err := db.conn.Query("SELECT id, name, avatar, role FROM users WHERE role = ?", models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var admins []models.Profile
	for rows.Next() {
		var p models.Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.Avatar, &p.Role); err != nil {
			return nil, err
		}
		admins = append(admins, p)
	}

	return admins, rows.Err()
}
