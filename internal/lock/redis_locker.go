package lock

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/telemetry"
)

// Префиксы ключей блокировок.
const (
	SchedulePrefix = "lock:schedule:"
	RelayPrefix    = "lock:relay:"
)

// Значения по умолчанию.
const (
	DefaultLease     = 5 * time.Minute
	DefaultOpTimeout = 2 * time.Second
)

// unlockScript удаляет ключ, только если в нём лежит токен вызывающего.
var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// Locker контракт распределённой блокировки.
type Locker interface {
	// TryLock захватывает key на lease. false без ошибки значит, что ключ занят.
	TryLock(ctx context.Context, key string, lease time.Duration) (bool, error)

	// Unlock освобождает key, захваченный этим Locker. Ошибки только логируются.
	Unlock(ctx context.Context, key string)

	// ForceUnlock удаляет key безусловно.
	ForceUnlock(ctx context.Context, key string)
}

// Options настройки RedisLocker.
type Options struct {
	// Prefix добавляется к каждому ключу. По умолчанию SchedulePrefix.
	Prefix string

	// OpTimeout таймаут одного обращения к Redis, не зависящий от lease.
	OpTimeout time.Duration

	// Identity идентификатор экземпляра в токене. По умолчанию hostname:pid.
	Identity string

	Logger *slog.Logger
}

// RedisLocker блокировка с арендой на SET NX PX.
type RedisLocker struct {
	client    redis.UniversalClient
	prefix    string
	opTimeout time.Duration
	identity  string
	logger    *slog.Logger

	// tokens токены текущих захватов этого экземпляра, по полному ключу.
	mu     sync.Mutex
	tokens map[string]string
}

// NewRedisLocker создаёт RedisLocker.
func NewRedisLocker(client redis.UniversalClient, opts Options) *RedisLocker {
	if opts.Prefix == "" {
		opts.Prefix = SchedulePrefix
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = DefaultOpTimeout
	}
	if opts.Identity == "" {
		opts.Identity = defaultIdentity()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &RedisLocker{
		client:    client,
		prefix:    opts.Prefix,
		opTimeout: opts.OpTimeout,
		identity:  opts.Identity,
		logger:    opts.Logger,
		tokens:    make(map[string]string),
	}
}

// Key возвращает полный ключ Redis для key.
func (l *RedisLocker) Key(key string) string {
	return l.prefix + key
}

// TryLock пытается захватить key на lease одной атомарной командой SET NX PX.
//
// Ошибка Redis (включая таймаут операции) возвращается вместе с false:
// вызывающая сторона считает ресурс незахваченным.
func (l *RedisLocker) TryLock(ctx context.Context, key string, lease time.Duration) (bool, error) {
	if lease <= 0 {
		lease = DefaultLease
	}

	fullKey := l.Key(key)
	token := fmt.Sprintf("%s:%s", l.identity, uuid.New().String())

	opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	ok, err := l.client.SetNX(opCtx, fullKey, token, lease).Result()
	if err != nil {
		telemetry.LockAcquisitions.WithLabelValues(telemetry.ResultError).Inc()
		return false, fmt.Errorf("setnx %s: %w", fullKey, err)
	}
	if !ok {
		telemetry.LockAcquisitions.WithLabelValues(telemetry.ResultContended).Inc()
		l.logger.Debug("lock held by another holder", "key", fullKey)
		return false, nil
	}

	l.mu.Lock()
	l.tokens[fullKey] = token
	l.mu.Unlock()

	telemetry.LockAcquisitions.WithLabelValues(telemetry.ResultAcquired).Inc()
	l.logger.Debug("lock acquired", "key", fullKey, "lease", lease)
	return true, nil
}

// Unlock освобождает key, если он всё ещё принадлежит этому захвату.
//
// Если аренда уже истекла и ключ занял кто-то другой, ключ не трогается.
// Любые ошибки только логируются: истечение аренды всё равно освободит ключ.
func (l *RedisLocker) Unlock(ctx context.Context, key string) {
	fullKey := l.Key(key)

	l.mu.Lock()
	token, ok := l.tokens[fullKey]
	delete(l.tokens, fullKey)
	l.mu.Unlock()

	if !ok {
		l.logger.Debug("unlock of a key not held by this instance", "key", fullKey)
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	deleted, err := unlockScript.Run(opCtx, l.client, []string{fullKey}, token).Int()
	if err != nil {
		l.logger.Warn("failed to release lock", "key", fullKey, "error", err)
		return
	}
	if deleted == 0 {
		l.logger.Warn("lock lease expired before release", "key", fullKey)
		return
	}

	l.logger.Debug("lock released", "key", fullKey)
}

// ForceUnlock удаляет key независимо от владельца.
// Предназначен для ручного вмешательства оператора.
func (l *RedisLocker) ForceUnlock(ctx context.Context, key string) {
	fullKey := l.Key(key)

	l.mu.Lock()
	delete(l.tokens, fullKey)
	l.mu.Unlock()

	opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	if err := l.client.Del(opCtx, fullKey).Err(); err != nil {
		l.logger.Error("failed to force unlock", "key", fullKey, "error", err)
		return
	}

	l.logger.Warn("lock force released", "key", fullKey)
}

// defaultIdentity возвращает hostname:pid.
func defaultIdentity() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s:%d", hostname, os.Getpid())
}

var _ Locker = (*RedisLocker)(nil)
