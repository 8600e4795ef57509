package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType тип сообщения чата.
type MessageType string

const (
	MessageTypeText        MessageType = "text"
	MessageTypeImage       MessageType = "image"
	MessageTypeFile        MessageType = "file"
	MessageTypeVideo       MessageType = "video"
	MessageTypeAudio       MessageType = "audio"
	MessageTypeSystem      MessageType = "system"
	MessageTypeScheduled   MessageType = "scheduled"
	MessageTypeBot         MessageType = "bot"
	MessageTypeRichContent MessageType = "rich_content"
	MessageTypeLocation    MessageType = "location"
	MessageTypeSticker     MessageType = "sticker"
)

// MessageTypes возвращает все известные типы.
func MessageTypes() []MessageType {
	return []MessageType{
		MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeVideo,
		MessageTypeAudio, MessageTypeSystem, MessageTypeScheduled, MessageTypeBot,
		MessageTypeRichContent, MessageTypeLocation, MessageTypeSticker,
	}
}

// Valid проверяет, что тип известен.
func (t MessageType) Valid() bool {
	for _, known := range MessageTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Message сохранённое сообщение чата.
type Message struct {
	ID        uuid.UUID       `json:"id"`
	RoomID    string          `json:"room_id"`
	ChannelID string          `json:"channel_id,omitempty"`
	SenderID  string          `json:"sender_id"`
	Type      MessageType     `json:"message_type"`
	Content   json.RawMessage `json:"content"`
	Status    MessageStatus   `json:"status"`

	// ScheduleID заполнен, если сообщение создано правилом расписания.
	ScheduleID *uuid.UUID `json:"schedule_id,omitempty"`

	// IdempotencyKey уникален среди сообщений. Повторная запись с тем же
	// ключом не создаёт второе сообщение.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	SentAt    time.Time `json:"sent_at"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageEvent запись, которую получают подписчики шины.
type MessageEvent struct {
	MessageID   uuid.UUID       `json:"message_id"`
	RoomID      string          `json:"room_id"`
	ChannelID   string          `json:"channel_id,omitempty"`
	SenderID    string          `json:"sender_id"`
	MessageType MessageType     `json:"message_type"`
	Content     json.RawMessage `json:"content"`
	Status      MessageStatus   `json:"status"`
	SentAt      time.Time       `json:"sent_at"`
}

// Event строит MessageEvent для публикации.
func (m *Message) Event() MessageEvent {
	return MessageEvent{
		MessageID:   m.ID,
		RoomID:      m.RoomID,
		ChannelID:   m.ChannelID,
		SenderID:    m.SenderID,
		MessageType: m.Type,
		Content:     m.Content,
		Status:      m.Status,
		SentAt:      m.SentAt,
	}
}
