package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventTypeMessageCreated тег события о новом сообщении.
const EventTypeMessageCreated = "message.created"

// OutboxEvent доказательство того, что событие должно дойти до шины.
//
// Создаётся в одной транзакции с сообщением, на которое ссылается.
// Relay ставит Processed только после подтверждённой публикации.
type OutboxEvent struct {
	ID int64 `json:"id"`

	// AggregateID идентификатор сообщения.
	AggregateID uuid.UUID `json:"aggregate_id"`

	EventType string `json:"event_type"`

	// Payload сериализованный MessageEvent.
	Payload json.RawMessage `json:"payload"`

	Processed   bool       `json:"processed"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// NewMessageCreatedEvent строит событие для сообщения.
func NewMessageCreatedEvent(m *Message) (*OutboxEvent, error) {
	payload, err := json.Marshal(m.Event())
	if err != nil {
		return nil, err
	}
	return &OutboxEvent{
		AggregateID: m.ID,
		EventType:   EventTypeMessageCreated,
		Payload:     payload,
		CreatedAt:   m.CreatedAt,
	}, nil
}

// MessageEvent декодирует payload события.
func (e *OutboxEvent) MessageEvent() (MessageEvent, error) {
	var ev MessageEvent
	err := json.Unmarshal(e.Payload, &ev)
	return ev, err
}
