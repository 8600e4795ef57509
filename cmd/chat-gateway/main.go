// chat-gateway держит WebSocket-соединения клиентов и раздаёт им события
// комнат из шины.
package main

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/app"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/broadcast"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/config"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/mq"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/session"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/telemetry"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/ws"
)

func main() {
	app.Main(app.Command("chat-gateway", "WebSocket gateway for chat rooms", run))
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
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

	registry := session.NewRegistry(logger, session.NewRedisPresence(rdb, logger))
	dispatcher := broadcast.New(broadcast.Config{
		Registry:     registry,
		Logger:       logger,
		DedupeSize:   cfg.Gateway.DedupeSize,
		DedupeWindow: cfg.Gateway.DedupeWindow,
	})
	wsHandler := ws.NewHandler(ws.Config{
		Registry:     registry,
		Logger:       logger,
		PingInterval: cfg.Gateway.PingInterval,
		WriteTimeout: cfg.Gateway.WriteTimeout,
	})

	mux := telemetry.OpsMux()
	mux.Handle("GET /ws", wsHandler)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bus.Subscribe(ctx, mq.RoomPattern, dispatcher.HandleBusMessage) })
	g.Go(func() error {
		<-ctx.Done()
		// Закрываем клиентов до остановки HTTP-сервера: Shutdown не ждёт
		// hijacked-соединения.
		wsHandler.Close()
		return nil
	})
	g.Go(func() error { return app.ServeHTTP(ctx, logger, app.Addr(cfg.Gateway.Port), mux) })
	return g.Wait()
}
