package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/domain"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/mq"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/telemetry"
)

// LockKey ключ блокировки relay (с префиксом lock.RelayPrefix).
const LockKey = "outbox"

// ErrCircuitOpen проход остановлен разомкнутой цепью: публикация не пробовалась.
var ErrCircuitOpen = errors.New("outbox circuit open")

// Store хранилище outbox. Реализуется repo.OutboxRepo.
type Store interface {
	ListUnprocessed(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkProcessed(ctx context.Context, id int64) error
	CountUnprocessed(ctx context.Context) (int, error)
	PurgeProcessed(ctx context.Context, before time.Time) (int64, error)
}

// Publisher публикует в шину. Реализуется любым mq.Bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg *mq.Message) error
}

// Locker необязательная блокировка, чтобы проходы разных экземпляров
// не пересекались. Реализуется lock.RedisLocker.
type Locker interface {
	TryLock(ctx context.Context, key string, lease time.Duration) (bool, error)
	Unlock(ctx context.Context, key string)
}

// Config конфигурация Relay.
type Config struct {
	Store     Store
	Publisher Publisher
	Locker    Locker // опционально
	Logger    *slog.Logger

	PollInterval time.Duration // default: 1s
	BatchSize    int           // событий за проход (default: 100)
	LockLease    time.Duration // default: 30s

	// Retention сколько хранить обработанные события. 0 отключает очистку.
	Retention     time.Duration
	PurgeInterval time.Duration // default: 1h

	// BreakerFailures подряд неудачных публикаций до размыкания (default: 5).
	BreakerFailures uint32
	// BreakerTimeout сколько цепь остаётся разомкнутой (default: 30s).
	BreakerTimeout time.Duration

	Now func() time.Time
}

// PassResult итоги одного прохода.
type PassResult struct {
	Published int
	Unmarked  int // опубликованы, но не помечены; уйдут повторно
	Dropped   int // payload не разбирается, помечены без публикации
}

// Relay переносит события из outbox в шину, at-least-once.
type Relay struct {
	store     Store
	publisher Publisher
	locker    Locker
	logger    *slog.Logger
	breaker   *gobreaker.CircuitBreaker[struct{}]

	pollInterval  time.Duration
	batchSize     int
	lockLease     time.Duration
	retention     time.Duration
	purgeInterval time.Duration
	now           func() time.Time
}

// New создаёт Relay.
func New(cfg Config) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LockLease <= 0 {
		cfg.LockLease = 30 * time.Second
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = time.Hour
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	logger := cfg.Logger
	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "outbox-publish",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Relay{
		store:         cfg.Store,
		publisher:     cfg.Publisher,
		locker:        cfg.Locker,
		logger:        logger,
		breaker:       breaker,
		pollInterval:  cfg.PollInterval,
		batchSize:     cfg.BatchSize,
		lockLease:     cfg.LockLease,
		retention:     cfg.Retention,
		purgeInterval: cfg.PurgeInterval,
		now:           cfg.Now,
	}
}

// Run выполняет проход сразу и затем каждые PollInterval до отмены ctx.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay started",
		"poll_interval", r.pollInterval,
		"batch_size", r.batchSize,
		"retention", r.retention,
	)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	var purge <-chan time.Time
	if r.retention > 0 {
		purgeTicker := time.NewTicker(r.purgeInterval)
		defer purgeTicker.Stop()
		purge = purgeTicker.C
	}

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			if errors.Is(err, ErrCircuitOpen) {
				r.logger.Debug("outbox pass skipped, circuit open", "error", err)
			} else {
				r.logger.Warn("outbox pass stopped", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-purge:
			if _, err := r.Purge(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("outbox purge failed", "error", err)
			}
		case <-ticker.C:
		}
	}
}

// RunOnce публикует одну пачку необработанных событий в порядке создания.
//
// Событие помечается обработанным только после успешной публикации.
// Ошибка публикации останавливает проход: более поздние события не уходят
// раньше раннего. Ошибка пометки только логируется, событие уйдёт повторно.
func (r *Relay) RunOnce(ctx context.Context) (PassResult, error) {
	var result PassResult

	if r.locker != nil {
		ok, err := r.locker.TryLock(ctx, LockKey, r.lockLease)
		if err != nil {
			return result, fmt.Errorf("acquire relay lock: %w", err)
		}
		if !ok {
			r.logger.Debug("relay lock held by another instance")
			return result, nil
		}
		defer r.locker.Unlock(context.WithoutCancel(ctx), LockKey)
	}

	events, err := r.store.ListUnprocessed(ctx, r.batchSize)
	if err != nil {
		return result, fmt.Errorf("list unprocessed events: %w", err)
	}
	r.updateBacklog(ctx)

	for i := range events {
		ev := &events[i]

		msg, topic, err := envelope(ev)
		if err != nil {
			// Такое событие не опубликуется никогда, держать его значит остановить relay
			r.logger.Error("dropping undecodable outbox event", "outbox_id", ev.ID, "error", err)
			if err := r.store.MarkProcessed(ctx, ev.ID); err != nil {
				return result, fmt.Errorf("mark dropped event %d: %w", ev.ID, err)
			}
			result.Dropped++
			continue
		}

		_, err = r.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, r.publisher.Publish(ctx, topic, msg)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return result, fmt.Errorf("%w: event %d: %w", ErrCircuitOpen, ev.ID, err)
		}
		if err != nil {
			telemetry.OutboxPublishFailures.Inc()
			return result, fmt.Errorf("publish event %d to %s: %w", ev.ID, topic, err)
		}
		telemetry.OutboxPublished.Inc()

		if err := r.store.MarkProcessed(ctx, ev.ID); err != nil {
			r.logger.Warn("published event not marked, will republish",
				"outbox_id", ev.ID,
				"error", err,
			)
			result.Unmarked++
			continue
		}
		result.Published++
	}

	if len(events) > 0 {
		r.logger.Debug("outbox pass completed",
			"events", len(events),
			"published", result.Published,
			"unmarked", result.Unmarked,
			"dropped", result.Dropped,
		)
	}
	return result, nil
}

// Purge удаляет обработанные события старше Retention.
func (r *Relay) Purge(ctx context.Context) (int64, error) {
	if r.retention <= 0 {
		return 0, nil
	}
	n, err := r.store.PurgeProcessed(ctx, r.now().Add(-r.retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("purged processed outbox events", "count", n)
	}
	return n, nil
}

func (r *Relay) updateBacklog(ctx context.Context) {
	n, err := r.store.CountUnprocessed(ctx)
	if err != nil {
		r.logger.Debug("failed to count outbox backlog", "error", err)
		return
	}
	telemetry.OutboxBacklog.Set(float64(n))
}

// envelope строит конверт шины и топик комнаты для события.
func envelope(ev *domain.OutboxEvent) (*mq.Message, string, error) {
	payload, err := ev.MessageEvent()
	if err != nil {
		return nil, "", fmt.Errorf("decode payload: %w", err)
	}
	if payload.RoomID == "" {
		return nil, "", errors.New("payload has no room_id")
	}

	return &mq.Message{
		ID:        ev.AggregateID.String(),
		Type:      mq.MessageType(ev.EventType),
		Payload:   ev.Payload,
		Timestamp: ev.CreatedAt,
	}, mq.RoomTopic(payload.RoomID), nil
}
