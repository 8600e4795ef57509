package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/mq"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/repo"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/telemetry"
)

// EnvPrefix префикс переменных окружения. CHAT_DATABASE__URL задаёт database.url.
const EnvPrefix = "CHAT_"

// ErrInvalid возвращается Validate.
var ErrInvalid = errors.New("invalid config")

// Config конфигурация всех процессов платформы.
type Config struct {
	Database  DatabaseConfig       `koanf:"database"`
	Redis     RedisConfig          `koanf:"redis"`
	RabbitMQ  RabbitMQConfig       `koanf:"rabbitmq"`
	Scheduler SchedulerConfig      `koanf:"scheduler"`
	Relay     RelayConfig          `koanf:"relay"`
	Gateway   GatewayConfig        `koanf:"gateway"`
	API       APIConfig            `koanf:"api"`
	Log       telemetry.LogOptions `koanf:"log"`
}

// DatabaseConfig подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `koanf:"url"`
	MaxConns int32  `koanf:"max_conns"`
}

// RedisConfig подключение к Redis (блокировки, присутствие, лимиты).
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type RabbitMQConfig struct {
	URL      string `koanf:"url"`
	Exchange string `koanf:"exchange"`
}

// SchedulerConfig процесс chat-scheduler.
//
// LockTimeout таймаут одного обращения к Redis, LeaseDuration срок
// аренды блокировки правила.
type SchedulerConfig struct {
	TickInterval  time.Duration `koanf:"tick_interval"`
	BatchSize     int           `koanf:"batch_size"`
	LeaseDuration time.Duration `koanf:"lease_duration"`
	LockTimeout   time.Duration `koanf:"lock_timeout"`
	Concurrency   int           `koanf:"concurrency"`
	MetricsPort   int           `koanf:"metrics_port"`
}

// RelayConfig процесс chat-relay. Retention 0 отключает очистку outbox.
type RelayConfig struct {
	PollInterval time.Duration `koanf:"poll_interval"`
	BatchSize    int           `koanf:"batch_size"`
	LockLease    time.Duration `koanf:"lock_lease"`
	Retention    time.Duration `koanf:"retention"`
	MetricsPort  int           `koanf:"metrics_port"`
}

// GatewayConfig WebSocket-шлюз. DedupeSize 0 отключает подавление повторов.
type GatewayConfig struct {
	Port         int           `koanf:"port"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	PingInterval time.Duration `koanf:"ping_interval"`
	DedupeWindow time.Duration `koanf:"dedupe_window"`
	DedupeSize   int           `koanf:"dedupe_size"`
}

// APIConfig HTTP API. RateLimitPerSecond 0 отключает ограничение.
type APIConfig struct {
	Port               int `koanf:"port"`
	RateLimitPerSecond int `koanf:"rate_limit_per_second"`
	RateLimitBurst     int `koanf:"rate_limit_burst"`
}

// Default значения по умолчанию для локального запуска.
func Default() Config {
	return Config{
		Database: DatabaseConfig{URL: repo.DefaultURL, MaxConns: 10},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		RabbitMQ: RabbitMQConfig{URL: mq.DefaultURL, Exchange: mq.ExchangeRooms},
		Scheduler: SchedulerConfig{
			TickInterval:  5 * time.Second,
			BatchSize:     100,
			LeaseDuration: 30 * time.Second,
			LockTimeout:   2 * time.Second,
			Concurrency:   4,
			MetricsPort:   8081,
		},
		Relay: RelayConfig{
			PollInterval: time.Second,
			BatchSize:    100,
			LockLease:    30 * time.Second,
			Retention:    7 * 24 * time.Hour,
			MetricsPort:  8082,
		},
		Gateway: GatewayConfig{
			Port:         8090,
			WriteTimeout: 10 * time.Second,
			PingInterval: 30 * time.Second,
			DedupeWindow: 5 * time.Minute,
			DedupeSize:   10000,
		},
		API: APIConfig{
			Port:               8080,
			RateLimitPerSecond: 20,
			RateLimitBurst:     40,
		},
		Log: telemetry.LogOptions{Level: "INFO", Format: "json"},
	}
}

// Load читает YAML-файл path поверх Default и применяет переменные CHAT_*.
// Пустой path или отсутствующий файл не ошибка.
func Load(path string) (Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			data = b
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return Parse(data)
}

// Parse собирает конфиг из YAML data и переменных окружения CHAT_*.
func Parse(data []byte) (Config, error) {
	k := koanf.New(".")

	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// envKey CHAT_SCHEDULER__TICK_INTERVAL -> scheduler.tick_interval.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate проверяет значения, без которых процессы не стартуют.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.Database.URL != "", "database.url is empty")
	check(c.Redis.Addr != "", "redis.addr is empty")
	check(c.RabbitMQ.URL != "", "rabbitmq.url is empty")
	check(c.RabbitMQ.Exchange != "", "rabbitmq.exchange is empty")

	check(c.Scheduler.TickInterval > 0, "scheduler.tick_interval must be positive")
	check(c.Scheduler.BatchSize > 0, "scheduler.batch_size must be positive")
	check(c.Scheduler.Concurrency > 0, "scheduler.concurrency must be positive")
	check(c.Scheduler.LockTimeout > 0, "scheduler.lock_timeout must be positive")
	check(c.Scheduler.LeaseDuration > c.Scheduler.LockTimeout,
		"scheduler.lease_duration (%s) must exceed scheduler.lock_timeout (%s)",
		c.Scheduler.LeaseDuration, c.Scheduler.LockTimeout)

	check(c.Relay.PollInterval > 0, "relay.poll_interval must be positive")
	check(c.Relay.BatchSize > 0, "relay.batch_size must be positive")
	check(c.Relay.LockLease > 0, "relay.lock_lease must be positive")

	check(c.Gateway.WriteTimeout > 0, "gateway.write_timeout must be positive")
	check(c.Gateway.PingInterval > 0, "gateway.ping_interval must be positive")
	check(c.API.RateLimitPerSecond >= 0, "api.rate_limit_per_second must not be negative")

	return errors.Join(errs...)
}
