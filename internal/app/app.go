package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/config"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/mq"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/repo"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/telemetry"
)

// DialAttempts попыток подключения к зависимости при старте.
const DialAttempts = 8

// ShutdownTimeout сколько ждать завершения HTTP-запросов при остановке.
const ShutdownTimeout = 10 * time.Second

// Setup загружает конфиг, проверяет его и настраивает логгер процесса.
func Setup(configPath, component string) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}

	logger := telemetry.SetupLogger(cfg.Log).With("component", component)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// dial повторяет fn с экспоненциальной задержкой, пока не выйдут попытки или ctx.
func dial(ctx context.Context, logger *slog.Logger, what string, fn func() error) error {
	return retry.New(
		retry.Context(ctx),
		retry.Attempts(DialAttempts),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(10*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("dependency unavailable, retrying", "dependency", what, "attempt", n+1, "error", err)
		}),
	).Do(fn)
}

// DialPostgres открывает пул PostgreSQL.
func DialPostgres(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	err := dial(ctx, logger, "postgres", func() error {
		p, err := repo.NewPool(ctx, cfg.URL, cfg.MaxConns)
		if err != nil {
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	logger.Info("postgres connected")
	return pool, nil
}

// DialRedis создаёт клиент Redis и дожидается ответа на PING.
func DialRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	err := dial(ctx, logger, "redis", func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("redis connected", "addr", cfg.Addr)
	return client, nil
}

// DialRabbitMQ открывает соединение с RabbitMQ.
func DialRabbitMQ(ctx context.Context, cfg config.RabbitMQConfig, logger *slog.Logger) (*mq.Connection, error) {
	conn, err := mq.NewConnection(ctx, mq.ConnectionConfig{
		URL:          cfg.URL,
		Logger:       logger,
		DialAttempts: DialAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	return conn, nil
}

// Addr адрес прослушивания для порта.
func Addr(port int) string {
	return ":" + strconv.Itoa(port)
}

// ServeHTTP обслуживает handler на addr до отмены ctx, затем корректно останавливает сервер.
func ServeHTTP(ctx context.Context, logger *slog.Logger, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server %s: %w", addr, err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("http server stopped", "addr", addr)
	return nil
}
