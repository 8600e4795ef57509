package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RateLimitPrefix префикс ключей ограничителя в Redis.
const RateLimitPrefix = "ratelimit:ingest:"

// LimitResult решение ограничителя.
type LimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter ограничивает частоту запросов по ключу.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (LimitResult, error)
}

// RedisRateLimiter ограничитель на GCRA поверх Redis, общий для всех экземпляров API.
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
}

// NewRedisRateLimiter создаёт ограничитель perSecond запросов в секунду с запасом burst.
func NewRedisRateLimiter(client redis.UniversalClient, perSecond, burst int) *RedisRateLimiter {
	if burst < perSecond {
		burst = perSecond
	}
	return &RedisRateLimiter{
		limiter: redis_rate.NewLimiter(client),
		limit: redis_rate.Limit{
			Rate:   perSecond,
			Burst:  burst,
			Period: time.Second,
		},
	}
}

// Allow расходует одну единицу квоты ключа.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (LimitResult, error) {
	res, err := l.limiter.Allow(ctx, RateLimitPrefix+key, l.limit)
	if err != nil {
		return LimitResult{}, err
	}
	return LimitResult{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

// allow проверяет квоту ключа и при отказе отвечает 429.
// Ошибка ограничителя пропускает запрос.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, key string) bool {
	if h.limiter == nil {
		return true
	}

	res, err := h.limiter.Allow(r.Context(), key)
	if err != nil {
		h.log(r).Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
		return true
	}
	if res.Allowed {
		return true
	}

	TooManyRequests(w, res.RetryAfter)
	return false
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

var _ RateLimiter = (*RedisRateLimiter)(nil)
