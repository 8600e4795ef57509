package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/domain"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/message"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/repo"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/telemetry"
)

// Store хранилище правил, которое нужно координатору.
// Реализуется repo.ScheduleRepo.
type Store interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduleRule, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.ScheduleRule, error)
	SaveExecution(ctx context.Context, rule *domain.ScheduleRule, expectedCount int) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	RecordError(ctx context.Context, id uuid.UUID, reason string) error
}

// Locker распределённая блокировка. Реализуется lock.RedisLocker.
type Locker interface {
	TryLock(ctx context.Context, key string, lease time.Duration) (bool, error)
	Unlock(ctx context.Context, key string)
}

// Writer пишет сообщение вместе с outbox-событием. Реализуется message.Writer.
type Writer interface {
	Write(ctx context.Context, req message.Request) (*domain.Message, error)
}

// Outcome исход одной попытки выполнить правило.
type Outcome int

const (
	// OutcomeSkipped правило не выполнялось: блокировка занята,
	// правило уже не due или слот выполнен другим экземпляром.
	OutcomeSkipped Outcome = iota
	OutcomeExecuted
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExecuted:
		return telemetry.ResultExecuted
	case OutcomeFailed:
		return telemetry.ResultFailed
	default:
		return telemetry.ResultSkipped
	}
}

// TickResult итоги одного тика.
type TickResult struct {
	Due      int
	Executed int
	Skipped  int
	Failed   int
}

func (r *TickResult) add(o Outcome) {
	switch o {
	case OutcomeExecuted:
		r.Executed++
	case OutcomeFailed:
		r.Failed++
	default:
		r.Skipped++
	}
}

// Config конфигурация Coordinator.
type Config struct {
	Store  Store
	Locker Locker
	Writer Writer
	Logger *slog.Logger

	TickInterval  time.Duration // default: 5s
	BatchSize     int           // правил за тик (default: 100)
	LeaseDuration time.Duration // аренда блокировки правила (default: 30s)
	Concurrency   int           // правил параллельно (default: 4)

	// Now источник времени, для тестов. По умолчанию time.Now.
	Now func() time.Time
}

// Coordinator выполняет due правила не более одного раза на весь кластер.
//
// Все экземпляры опрашивают хранилище независимо. От двойного выполнения
// защищают блокировка правила, перечитывание строки перед записью и
// ключ идемпотентности слота на сообщении.
type Coordinator struct {
	store  Store
	locker Locker
	writer Writer
	logger *slog.Logger

	tickInterval  time.Duration
	batchSize     int
	leaseDuration time.Duration
	concurrency   int
	now           func() time.Time
}

// New создаёт Coordinator.
func New(cfg Config) *Coordinator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Coordinator{
		store:         cfg.Store,
		locker:        cfg.Locker,
		writer:        cfg.Writer,
		logger:        cfg.Logger,
		tickInterval:  cfg.TickInterval,
		batchSize:     cfg.BatchSize,
		leaseDuration: cfg.LeaseDuration,
		concurrency:   cfg.Concurrency,
		now:           cfg.Now,
	}
}

// Run тикает сразу и затем каждые TickInterval до отмены ctx.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator started",
		"tick_interval", c.tickInterval,
		"batch_size", c.batchSize,
		"concurrency", c.concurrency,
	)

	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		if _, err := c.Tick(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("scheduler tick failed", "error", err)
		}

		select {
		case <-ctx.Done():
			c.logger.Info("coordinator stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick выполняет один опрос: находит due правила и прогоняет каждое
// через Execute с ограниченным параллелизмом.
//
// Ошибки отдельных правил логируются и не прерывают тик.
func (c *Coordinator) Tick(ctx context.Context) (TickResult, error) {
	rules, err := c.store.ListDue(ctx, c.now(), c.batchSize)
	if err != nil {
		return TickResult{}, fmt.Errorf("list due schedules: %w", err)
	}

	result := TickResult{Due: len(rules)}
	if len(rules) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(c.concurrency)

	for i := range rules {
		id := rules[i].ID
		g.Go(func() error {
			outcome, err := c.Execute(ctx, id)
			if err != nil {
				c.logger.Error("schedule execution error", "schedule_id", id, "outcome", outcome.String(), "error", err)
			}
			mu.Lock()
			result.add(outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Info("scheduler tick completed",
		"due", result.Due,
		"executed", result.Executed,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)

	return result, nil
}

// Execute пытается выполнить одно правило.
//
// Порядок: блокировка правила, перечитывание строки с блокировкой,
// повторная проверка статуса и срока, запись сообщения с ключом слота,
// фиксация срабатывания. Блокировка снимается всегда, даже после отмены ctx.
func (c *Coordinator) Execute(ctx context.Context, id uuid.UUID) (outcome Outcome, err error) {
	logger := telemetry.WithScheduleID(c.logger, id.String())
	defer func() {
		telemetry.SchedulerExecutions.WithLabelValues(outcome.String()).Inc()
	}()

	// 1. Блокировка
	locked, err := c.locker.TryLock(ctx, id.String(), c.leaseDuration)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		logger.Debug("schedule locked by another instance")
		return OutcomeSkipped, nil
	}
	defer c.locker.Unlock(context.WithoutCancel(ctx), id.String())

	// 2. Перечитываем строку
	rule, err := c.store.GetForUpdate(ctx, id)
	switch {
	case errors.Is(err, repo.ErrLocked), errors.Is(err, repo.ErrNotFound):
		logger.Debug("schedule row unavailable", "reason", err)
		return OutcomeSkipped, nil
	case err != nil:
		return OutcomeSkipped, fmt.Errorf("reread schedule: %w", err)
	}

	now := c.now()
	if !rule.IsDue(now) {
		logger.Debug("schedule no longer due", "status", rule.Status)
		return OutcomeSkipped, nil
	}

	// 3. Следующий слот считаем до записи: битое выражение не должно
	// порождать сообщение.
	var next time.Time
	if rule.IsRecurring() {
		next, err = NextFire(rule.CronExpr, rule.Timezone, now)
		if err != nil {
			return c.fail(ctx, logger, rule, err)
		}
	}

	// 4. Сообщение
	slot := rule.SlotKey()
	_, err = c.writer.Write(ctx, message.Request{
		RoomID:         rule.RoomID,
		ChannelID:      rule.ChannelID,
		SenderID:       rule.SenderID,
		Type:           rule.MessageType,
		Content:        rule.Payload,
		ScheduleID:     &rule.ID,
		IdempotencyKey: slot,
	})
	switch {
	case errors.Is(err, repo.ErrAlreadyExists):
		// Слот уже записан экземпляром, чья аренда истекла. Только продвигаем правило.
		logger.Warn("slot already written, advancing schedule", "slot", slot)
	case err != nil:
		return c.fail(ctx, logger, rule, err)
	}

	// 5. Фиксируем срабатывание
	expected := rule.ExecutionCount
	if err := rule.RecordExecution(now, next); err != nil {
		// Сообщение уже записано, правило не продвинуто
		return OutcomeFailed, fmt.Errorf("record execution: %w", err)
	}
	if err := c.store.SaveExecution(ctx, rule, expected); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			logger.Warn("schedule advanced concurrently", "slot", slot)
			return OutcomeSkipped, nil
		}
		// Сообщение записано, правило не продвинуто. Следующий тик получит
		// ErrAlreadyExists по тому же слоту и продвинет правило.
		return OutcomeFailed, fmt.Errorf("save execution: %w", err)
	}

	logger.Info("schedule executed",
		"slot", slot,
		"execution_count", rule.ExecutionCount,
		"status", rule.Status,
	)
	return OutcomeExecuted, nil
}

// fail обрабатывает ошибку выполнения.
// ONE_TIME переходит в FAILED, RECURRING остаётся ACTIVE до следующего тика.
func (c *Coordinator) fail(ctx context.Context, logger *slog.Logger, rule *domain.ScheduleRule, cause error) (Outcome, error) {
	// Остановка процесса не делает разовое правило проваленным.
	if ctx.Err() != nil {
		return OutcomeSkipped, cause
	}

	reason := cause.Error()
	if rule.IsOneTime() {
		if err := c.store.MarkFailed(ctx, rule.ID, reason); err != nil {
			logger.Error("failed to mark schedule failed", "error", err)
		}
		logger.Warn("one-time schedule failed", "error", cause)
		return OutcomeFailed, cause
	}

	if err := c.store.RecordError(ctx, rule.ID, reason); err != nil {
		logger.Error("failed to record schedule error", "error", err)
	}
	logger.Warn("recurring schedule failed, will retry", "error", cause)
	return OutcomeFailed, cause
}
