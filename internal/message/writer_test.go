package message

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/domain"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/telemetry"
)

type fakeStore struct {
	messages []*domain.Message
	events   []*domain.OutboxEvent
	err      error
}

func (s *fakeStore) CreateWithOutbox(_ context.Context, msg *domain.Message, ev *domain.OutboxEvent) error {
	if s.err != nil {
		return s.err
	}
	ev.ID = int64(len(s.events) + 1)
	s.messages = append(s.messages, msg)
	s.events = append(s.events, ev)
	return nil
}

func newTestWriter(store Store) *Writer {
	return NewWriter(WriterConfig{Store: store, Logger: telemetry.Discard()})
}

func TestWriter_Write(t *testing.T) {
	store := &fakeStore{}
	w := newTestWriter(store)

	scheduleID := uuid.New()
	msg, err := w.Write(context.Background(), Request{
		RoomID:         "room-1",
		SenderID:       "user-1",
		Type:           domain.MessageTypeText,
		Content:        json.RawMessage(`{"text":"hello"}`),
		ScheduleID:     &scheduleID,
		IdempotencyKey: "k1",
	})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, msg.ID)
	assert.Equal(t, domain.MessageStatusSent, msg.Status)
	assert.Equal(t, "k1", msg.IdempotencyKey)
	assert.False(t, msg.SentAt.IsZero())

	require.Len(t, store.events, 1)
	ev := store.events[0]
	assert.Equal(t, msg.ID, ev.AggregateID)
	assert.Equal(t, domain.EventTypeMessageCreated, ev.EventType)

	payload, err := ev.MessageEvent()
	require.NoError(t, err)
	assert.Equal(t, "room-1", payload.RoomID)
	assert.JSONEq(t, `{"text":"hello"}`, string(payload.Content))
}

func TestWriter_Validation(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{
			name:    "missing room",
			req:     Request{SenderID: "u", Type: domain.MessageTypeText, Content: json.RawMessage(`{"text":"x"}`)},
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "missing sender",
			req:     Request{RoomID: "r", Type: domain.MessageTypeText, Content: json.RawMessage(`{"text":"x"}`)},
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "unknown type",
			req:     Request{RoomID: "r", SenderID: "u", Type: "poll", Content: json.RawMessage(`{}`)},
			wantErr: ErrUnknownType,
		},
		{
			name:    "text without text",
			req:     Request{RoomID: "r", SenderID: "u", Type: domain.MessageTypeText, Content: json.RawMessage(`{"body":"x"}`)},
			wantErr: ErrInvalidContent,
		},
		{
			name:    "image without url",
			req:     Request{RoomID: "r", SenderID: "u", Type: domain.MessageTypeImage, Content: json.RawMessage(`{"caption":"x"}`)},
			wantErr: ErrInvalidContent,
		},
		{
			name:    "location out of range",
			req:     Request{RoomID: "r", SenderID: "u", Type: domain.MessageTypeLocation, Content: json.RawMessage(`{"latitude":91,"longitude":0}`)},
			wantErr: ErrInvalidContent,
		},
		{
			name:    "not an object",
			req:     Request{RoomID: "r", SenderID: "u", Type: domain.MessageTypeSticker, Content: json.RawMessage(`[1,2]`)},
			wantErr: ErrInvalidContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			_, err := newTestWriter(store).Write(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, store.messages)
		})
	}
}

func TestWriter_StoreErrorPropagates(t *testing.T) {
	boom := errors.New("db down")
	w := newTestWriter(&fakeStore{err: boom})

	_, err := w.Write(context.Background(), Request{
		RoomID: "r", SenderID: "u", Type: domain.MessageTypeText, Content: json.RawMessage(`{"text":"x"}`),
	})
	assert.ErrorIs(t, err, boom)
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Len(t, r.Types(), len(domain.MessageTypes()))

	valid := map[domain.MessageType]string{
		domain.MessageTypeText:     `{"text":"hi"}`,
		domain.MessageTypeImage:    `{"image_url":"https://cdn/x.png"}`,
		domain.MessageTypeFile:     `{"file_url":"https://cdn/x.pdf","file_name":"x.pdf"}`,
		domain.MessageTypeLocation: `{"latitude":37.5,"longitude":127.0}`,
		domain.MessageTypeBot:      `{"anything":true}`,
	}
	for typ, content := range valid {
		assert.NoError(t, r.Validate(typ, json.RawMessage(content)), typ)
	}

	r.Register(requiredFields(domain.MessageTypeBot, "bot_id"))
	assert.ErrorIs(t, r.Validate(domain.MessageTypeBot, json.RawMessage(`{}`)), ErrInvalidContent)
}
