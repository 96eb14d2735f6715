package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"talentchat/models"
)

var (
	ErrInvalidFrame = errors.New("invalid frame format")
	ErrUnknownFrame = errors.New("unknown frame type")
)

// FrameKind - закрытое множество типов кадров. Тип разбирается один раз
// на границе транспорта, дальше код работает с типизированными кадрами.
type FrameKind string

const (
	// клиент -> сервер
	KindAuth    FrameKind = "auth"
	KindMessage FrameKind = "message"

	// сервер -> клиент
	KindAuthenticated FrameKind = "authenticated"
	KindError         FrameKind = "error"
	KindNewMessage    FrameKind = "new_message"
)

// ClientFrame - кадр, присланный клиентом. Множество реализаций закрыто:
// AuthFrame и MessageFrame.
type ClientFrame interface {
	Kind() FrameKind
}

// AuthFrame - единственный кадр рукопожатия, несет bearer-токен.
type AuthFrame struct {
	Token string `json:"token"`
}

func (AuthFrame) Kind() FrameKind { return KindAuth }

// MessageFrame - исходящее сообщение от аутентифицированного клиента.
type MessageFrame struct {
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
	Support    bool   `json:"isSupport"`
}

func (MessageFrame) Kind() FrameKind { return KindMessage }

// DecodeClient разбирает сырой кадр в типизированный ClientFrame.
// Неизвестный тип или битый JSON - ошибка, соединение при этом не рвется.
func DecodeClient(data []byte) (ClientFrame, error) {
	var env struct {
		Type FrameKind `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	switch env.Type {
	case KindAuth:
		var f AuthFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
		return f, nil
	case KindMessage:
		var f MessageFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, env.Type)
	}
}

// AuthenticatedFrame подтверждает успешное рукопожатие.
type AuthenticatedFrame struct {
	Type   FrameKind `json:"type"`
	Status string    `json:"status"`
}

func NewAuthenticated() AuthenticatedFrame {
	return AuthenticatedFrame{Type: KindAuthenticated, Status: "ok"}
}

// ErrorFrame сообщает клиенту об ошибке, не закрывая соединение.
type ErrorFrame struct {
	Type    FrameKind `json:"type"`
	Message string    `json:"message"`
}

func NewError(message string) ErrorFrame {
	return ErrorFrame{Type: KindError, Message: message}
}

// NewMessageFrame - пуш доставленного сообщения получателю.
type NewMessageFrame struct {
	Type    FrameKind       `json:"type"`
	Message *models.Message `json:"message"`
}

func NewMessagePush(m *models.Message) NewMessageFrame {
	return NewMessageFrame{Type: KindNewMessage, Message: m}
}
