package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/domain"
)

// ErrInvalidRequest обязательные поля запроса не заполнены.
var ErrInvalidRequest = errors.New("invalid message request")

// Store атомарно сохраняет сообщение вместе с outbox-событием.
// Реализуется repo.MessageRepo.
type Store interface {
	CreateWithOutbox(ctx context.Context, msg *domain.Message, event *domain.OutboxEvent) error
}

// Request входные данные для записи сообщения.
type Request struct {
	RoomID    string
	ChannelID string
	SenderID  string
	Type      domain.MessageType
	Content   json.RawMessage

	// ScheduleID правило, от имени которого пишется сообщение.
	ScheduleID *uuid.UUID

	// IdempotencyKey ключ, по которому повторная запись отбрасывается.
	IdempotencyKey string
}

// Writer создаёт сообщения так, что сообщение и событие о нём
// появляются в хранилище только вместе.
type Writer struct {
	store    Store
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time
}

// WriterConfig конфигурация Writer.
type WriterConfig struct {
	Store    Store
	Registry *Registry // default: DefaultRegistry()
	Logger   *slog.Logger
}

// NewWriter создаёт Writer.
func NewWriter(cfg WriterConfig) *Writer {
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Writer{
		store:    cfg.Store,
		registry: cfg.Registry,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

// Write проверяет запрос, сохраняет сообщение с outbox-событием и
// возвращает сохранённое сообщение.
//
// Ошибка хранилища возвращается как есть. Повтор по уже записанному
// IdempotencyKey приходит от Store как repo.ErrAlreadyExists.
func (w *Writer) Write(ctx context.Context, req Request) (*domain.Message, error) {
	if req.RoomID == "" {
		return nil, fmt.Errorf("%w: room_id is required", ErrInvalidRequest)
	}
	if req.SenderID == "" {
		return nil, fmt.Errorf("%w: sender_id is required", ErrInvalidRequest)
	}
	if err := w.registry.Validate(req.Type, req.Content); err != nil {
		return nil, err
	}

	now := w.now().UTC()
	msg := &domain.Message{
		ID:             uuid.New(),
		RoomID:         req.RoomID,
		ChannelID:      req.ChannelID,
		SenderID:       req.SenderID,
		Type:           req.Type,
		Content:        req.Content,
		Status:         domain.MessageStatusSent,
		ScheduleID:     req.ScheduleID,
		IdempotencyKey: req.IdempotencyKey,
		SentAt:         now,
		CreatedAt:      now,
	}

	event, err := domain.NewMessageCreatedEvent(msg)
	if err != nil {
		return nil, fmt.Errorf("build outbox event: %w", err)
	}

	if err := w.store.CreateWithOutbox(ctx, msg, event); err != nil {
		return nil, err
	}

	w.logger.Debug("message written",
		"message_id", msg.ID,
		"room_id", msg.RoomID,
		"type", msg.Type,
		"outbox_id", event.ID,
	)

	return msg, nil
}
