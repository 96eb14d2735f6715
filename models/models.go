package models

import "time"

// Роли участников маркетплейса. Роль admin открывает доступ к общему
// саппорт-инбоксу, остальные роли для чата равнозначны.
const (
	RoleAdmin  = "admin"
	RoleClient = "client"
	RoleTalent = "talent"
	RoleAgency = "agency"
)

// NotificationSupportTicket создается для каждого администратора,
// когда пользователь открывает или продолжает саппорт-тред.
const NotificationSupportTicket = "support_ticket"

type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Read       bool      `json:"read"`

	// Отображаемые имена и аватары не хранятся, а подставляются из
	// справочника пользователей при отдаче сообщения.
	SenderName     string `json:"sender_name,omitempty"`
	SenderAvatar   string `json:"sender_avatar,omitempty"`
	ReceiverName   string `json:"receiver_name,omitempty"`
	ReceiverAvatar string `json:"receiver_avatar,omitempty"`
}

type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	UserID    string    `json:"user_id,omitempty"` // пусто - системное уведомление
	Data      string    `json:"data,omitempty"`    // сериализованный JSON-контекст
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile - строка справочника пользователей (read model платформы).
type Profile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Role   string `json:"role"`
}

type UnreadCounts struct {
	General int `json:"general"`
	Support int `json:"support"`
}

// SupportThread - одна строка тикет-листа администратора: последнее
// сообщение каждого пользователя, писавшего в саппорт.
type SupportThread struct {
	UserID  string    `json:"user_id"`
	Preview string    `json:"preview"`
	LastAt  time.Time `json:"last_at"`
	Name    string    `json:"name,omitempty"`
	Avatar  string    `json:"avatar,omitempty"`
}
