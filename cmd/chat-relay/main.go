// chat-relay публикует события outbox в RabbitMQ.
package main

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/app"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/config"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/lock"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/mq"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/relay"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/repo"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/telemetry"
)

func main() {
	app.Main(app.Command("chat-relay", "Outbox to message bus relay", run))
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

	conn, err := app.DialRabbitMQ(ctx, cfg.RabbitMQ, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	bus, err := mq.NewAMQPBus(conn, cfg.RabbitMQ.Exchange, logger)
	if err != nil {
		return err
	}

	r := relay.New(relay.Config{
		Store:        repo.NewOutboxRepo(pool),
		Publisher:    bus,
		Locker:       lock.NewRedisLocker(rdb, lock.Options{Prefix: lock.RelayPrefix, Logger: logger}),
		Logger:       logger,
		PollInterval: cfg.Relay.PollInterval,
		BatchSize:    cfg.Relay.BatchSize,
		LockLease:    cfg.Relay.LockLease,
		Retention:    cfg.Relay.Retention,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Run(ctx) })
	g.Go(func() error {
		return app.ServeHTTP(ctx, logger, app.Addr(cfg.Relay.MetricsPort), telemetry.OpsMux())
	})
	return g.Wait()
}
