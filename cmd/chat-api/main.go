// chat-api HTTP API: отправка сообщений, история комнат, присутствие и
// управление расписаниями.
package main

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/api"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/app"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/config"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/message"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/repo"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/session"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/telemetry"
)

func main() {
	app.Main(app.Command("chat-api", "Chat HTTP API", run))
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

	messages := repo.NewMessageRepo(pool)
	registry := message.DefaultRegistry()

	var limiter api.RateLimiter
	if cfg.API.RateLimitPerSecond > 0 {
		limiter = api.NewRedisRateLimiter(rdb, cfg.API.RateLimitPerSecond, cfg.API.RateLimitBurst)
	}

	handler := api.NewHandler(api.Config{
		Schedules: repo.NewScheduleRepo(pool),
		Writer: message.NewWriter(message.WriterConfig{
			Store:    messages,
			Registry: registry,
			Logger:   logger,
		}),
		Messages: messages,
		Presence: session.NewRedisPresence(rdb, logger),
		Limiter:  limiter,
		Registry: registry,
		Logger:   logger,
	})

	mux := telemetry.OpsMux()
	handler.RegisterRoutes(mux)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.ServeHTTP(ctx, logger, app.Addr(cfg.API.Port), mux) })
	return g.Wait()
}
