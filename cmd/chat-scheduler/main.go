// chat-scheduler выполняет due правила расписаний и пишет их сообщения
// через outbox. Экземпляров может быть несколько: каждое правило
// захватывается через блокировку в Redis.
package main

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/app"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/config"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/lock"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/message"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/repo"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/scheduler"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/telemetry"
)

func main() {
	app.Main(app.Command("chat-scheduler", "Scheduled message executor", run))
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	pool, err := app.DialPostgres(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := repo.Migrate(pool, logger); err != nil {
		return err
	}

	rdb, err := app.DialRedis(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer rdb.Close()

	locker := lock.NewRedisLocker(rdb, lock.Options{
		Prefix:    lock.SchedulePrefix,
		OpTimeout: cfg.Scheduler.LockTimeout,
		Logger:    logger,
	})
	writer := message.NewWriter(message.WriterConfig{
		Store:  repo.NewMessageRepo(pool),
		Logger: logger,
	})
	coordinator := scheduler.New(scheduler.Config{
		Store:         repo.NewScheduleRepo(pool),
		Locker:        locker,
		Writer:        writer,
		Logger:        logger,
		TickInterval:  cfg.Scheduler.TickInterval,
		BatchSize:     cfg.Scheduler.BatchSize,
		LeaseDuration: cfg.Scheduler.LeaseDuration,
		Concurrency:   cfg.Scheduler.Concurrency,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coordinator.Run(ctx) })
	g.Go(func() error {
		return app.ServeHTTP(ctx, logger, app.Addr(cfg.Scheduler.MetricsPort), telemetry.OpsMux())
	})
	return g.Wait()
}
