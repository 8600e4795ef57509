package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/mq"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/session"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/telemetry"
)

// Registry реестр сессий, нужный диспетчеру. Реализуется session.Registry.
type Registry interface {
	FindActiveByRoom(roomID string) []session.Session
	FindActiveByUser(userID string) []session.Session
	Remove(id string) (session.Session, bool)
}

// Event кадр, который получает клиент.
type Event struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Data any    `json:"data"`
}

// Result итог одной рассылки.
type Result struct {
	Delivered int
	Failed    int // отправка упала, сессия выселена
	Skipped   int // сессия закрылась до отправки или событие уже доставлялось
}

// Config конфигурация Dispatcher.
type Config struct {
	Registry Registry
	Logger   *slog.Logger

	// DedupeSize сколько последних id событий помнить. 0 отключает подавление
	// дублей и фоновую горутину очистки.
	DedupeSize int
	// DedupeWindow сколько помнить id события (default: 5m).
	DedupeWindow time.Duration
}

// Dispatcher доставляет события шины в локальные сессии.
type Dispatcher struct {
	registry Registry
	logger   *slog.Logger
	seen     *expirable.LRU[string, struct{}]
}

// New создаёт Dispatcher.
//
// При DedupeSize > 0 New запускает горутину очистки окна дедупликации,
// которая работает до конца процесса. Создавайте Dispatcher один раз
// на процесс.
func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = 5 * time.Minute
	}

	d := &Dispatcher{
		registry: cfg.Registry,
		logger:   cfg.Logger,
	}
	if cfg.DedupeSize > 0 {
		d.seen = expirable.NewLRU[string, struct{}](cfg.DedupeSize, nil, cfg.DedupeWindow)
	}
	return d
}

// BroadcastToRoom отправляет event всем активным сессиям комнаты.
//
// Событие сериализуется один раз. Сессия, отправка в которую упала,
// выселяется из реестра и закрывается. Ошибки наружу не выходят.
func (d *Dispatcher) BroadcastToRoom(roomID string, event *Event) Result {
	if roomID == "" || event == nil {
		return Result{}
	}
	return d.broadcast(d.registry.FindActiveByRoom(roomID), event, "room_id", roomID)
}

// BroadcastToUser отправляет event всем активным сессиям пользователя.
func (d *Dispatcher) BroadcastToUser(userID string, event *Event) Result {
	if userID == "" || event == nil {
		return Result{}
	}
	return d.broadcast(d.registry.FindActiveByUser(userID), event, "user_id", userID)
}

func (d *Dispatcher) broadcast(sessions []session.Session, event *Event, scope, target string) Result {
	var result Result
	if len(sessions) == 0 {
		return result
	}

	frame, err := json.Marshal(event)
	if err != nil {
		d.logger.Error("failed to serialize event", scope, target, "event_id", event.ID, "error", err)
		result.Skipped = len(sessions)
		return result
	}

	for _, s := range sessions {
		err := s.Send(frame)
		switch {
		case err == nil:
			result.Delivered++
			telemetry.BroadcastDeliveries.WithLabelValues(telemetry.ResultDelivered).Inc()
		case errors.Is(err, session.ErrSessionClosed):
			result.Skipped++
			telemetry.BroadcastDeliveries.WithLabelValues(telemetry.ResultSkipped).Inc()
			d.evict(s, err)
		default:
			result.Failed++
			telemetry.BroadcastDeliveries.WithLabelValues(telemetry.ResultFailed).Inc()
			d.evict(s, err)
		}
	}

	d.logger.Debug("broadcast completed",
		scope, target,
		"event_id", event.ID,
		"delivered", result.Delivered,
		"failed", result.Failed,
		"skipped", result.Skipped,
	)
	return result
}

// evict убирает сессию, отправка в которую не удалась.
func (d *Dispatcher) evict(s session.Session, cause error) {
	d.registry.Remove(s.ID())
	_ = s.Close()
	telemetry.WithSessionID(d.logger, s.ID()).Info("session evicted after failed send",
		"room_id", s.RoomID(),
		"reason", cause,
	)
}

// HandleBusMessage mq.Handler: рассылает событие шины в комнату из топика.
//
// Всегда возвращает nil, чтобы проблемы отдельных сессий не возвращали
// сообщение в очередь. Повторная доставка того же id в окне дедупликации
// пропускается.
func (d *Dispatcher) HandleBusMessage(_ context.Context, topic string, msg *mq.Message) error {
	roomID, ok := mq.RoomFromTopic(topic)
	if !ok {
		d.logger.Warn("message on non-room topic ignored", "topic", topic, "message_id", msg.ID)
		return nil
	}

	if d.seen != nil && msg.ID != "" {
		key := roomID + "/" + msg.ID
		if d.seen.Contains(key) {
			telemetry.BroadcastDeliveries.WithLabelValues(telemetry.ResultDuplicate).Inc()
			d.logger.Debug("duplicate event suppressed", "room_id", roomID, "message_id", msg.ID)
			return nil
		}
		d.seen.Add(key, struct{}{})
	}

	d.BroadcastToRoom(roomID, &Event{
		Type: string(msg.Type),
		ID:   msg.ID,
		Data: msg.Payload,
	})
	return nil
}
