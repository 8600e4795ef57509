package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/domain"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/message"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/repo"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/telemetry"
)

// ScheduleStore операции над правилами, нужные API. Реализуется repo.ScheduleRepo.
type ScheduleStore interface {
	Create(ctx context.Context, rule *domain.ScheduleRule) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduleRule, error)
	List(ctx context.Context, filter repo.ScheduleFilter) ([]domain.ScheduleRule, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.ScheduleRule, error)
}

// MessageWriter записывает сообщение вместе с outbox-событием.
type MessageWriter interface {
	Write(ctx context.Context, req message.Request) (*domain.Message, error)
}

// MessageReader чтение истории комнаты. Реализуется repo.MessageRepo.
type MessageReader interface {
	ListByRoom(ctx context.Context, roomID string, limit int) ([]domain.Message, error)
}

// Presence счётчики сессий по всем экземплярам шлюза.
type Presence interface {
	RoomSessionIDs(ctx context.Context, roomID string) ([]string, error)
}

// Handler главный обработчик API с зависимостями.
type Handler struct {
	schedules ScheduleStore
	writer    MessageWriter
	messages  MessageReader
	presence  Presence
	limiter   RateLimiter
	registry  *message.Registry
	logger    *slog.Logger
	now       func() time.Time
}

// Config конфигурация для создания Handler.
type Config struct {
	Schedules ScheduleStore
	Writer    MessageWriter
	Messages  MessageReader
	Presence  Presence    // nil отключает /presence
	Limiter   RateLimiter // nil отключает ограничение частоты
	Registry  *message.Registry
	Logger    *slog.Logger
	Now       func() time.Time
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Registry == nil {
		cfg.Registry = message.DefaultRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Handler{
		schedules: cfg.Schedules,
		writer:    cfg.Writer,
		messages:  cfg.Messages,
		presence:  cfg.Presence,
		limiter:   cfg.Limiter,
		registry:  cfg.Registry,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}

// log логгер запроса с request_id, если запрос прошёл через RequestID.
func (h *Handler) log(r *http.Request) *slog.Logger {
	if logger, ok := r.Context().Value(telemetry.CtxLogger).(*slog.Logger); ok {
		return logger
	}
	return h.logger
}
