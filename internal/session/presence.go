package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ключи присутствия в Redis.
const (
	roomSessionsPrefix = "chat:room:sessions:"
	userSessionsPrefix = "chat:user:sessions:"
	sessionInfoPrefix  = "chat:session:info:"

	// PresenceTTL срок жизни ключей, если экземпляр умер, не убрав за собой.
	PresenceTTL = 24 * time.Hour
)

// RedisPresence публикует метаданные сессий всех экземпляров в Redis.
//
// Сами соединения остаются в памяти своего процесса; в Redis лежат только
// id сессий по комнатам и пользователям. Ошибки Redis логируются и не
// мешают работе реестра.
type RedisPresence struct {
	client    redis.UniversalClient
	logger    *slog.Logger
	opTimeout time.Duration
}

// NewRedisPresence создаёт RedisPresence.
func NewRedisPresence(client redis.UniversalClient, logger *slog.Logger) *RedisPresence {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPresence{
		client:    client,
		logger:    logger,
		opTimeout: 2 * time.Second,
	}
}

// SessionRegistered записывает сессию в индексы комнаты и пользователя.
func (p *RedisPresence) SessionRegistered(s Session) {
	ctx, cancel := context.WithTimeout(context.Background(), p.opTimeout)
	defer cancel()

	roomKey := roomSessionsPrefix + s.RoomID()
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionInfoPrefix+s.ID(), s.UserID()+":"+s.RoomID(), PresenceTTL)
		pipe.SAdd(ctx, roomKey, s.ID())
		pipe.Expire(ctx, roomKey, PresenceTTL)
		if s.UserID() != "" {
			userKey := userSessionsPrefix + s.UserID()
			pipe.SAdd(ctx, userKey, s.ID())
			pipe.Expire(ctx, userKey, PresenceTTL)
		}
		return nil
	})
	if err != nil {
		p.logger.Error("failed to register session presence", "session_id", s.ID(), "error", err)
	}
}

// SessionRemoved убирает сессию из индексов.
func (p *RedisPresence) SessionRemoved(s Session) {
	ctx, cancel := context.WithTimeout(context.Background(), p.opTimeout)
	defer cancel()

	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionInfoPrefix+s.ID())
		pipe.SRem(ctx, roomSessionsPrefix+s.RoomID(), s.ID())
		if s.UserID() != "" {
			pipe.SRem(ctx, userSessionsPrefix+s.UserID(), s.ID())
		}
		return nil
	})
	if err != nil {
		p.logger.Error("failed to remove session presence", "session_id", s.ID(), "error", err)
	}
}

// RoomSessionIDs id сессий комнаты на всех экземплярах.
func (p *RedisPresence) RoomSessionIDs(ctx context.Context, roomID string) ([]string, error) {
	return p.client.SMembers(ctx, roomSessionsPrefix+roomID).Result()
}

// UserSessionIDs id сессий пользователя на всех экземплярах.
func (p *RedisPresence) UserSessionIDs(ctx context.Context, userID string) ([]string, error) {
	return p.client.SMembers(ctx, userSessionsPrefix+userID).Result()
}

// RoomSessionCount количество сессий комнаты на всех экземплярах.
func (p *RedisPresence) RoomSessionCount(ctx context.Context, roomID string) (int64, error) {
	return p.client.SCard(ctx, roomSessionsPrefix+roomID).Result()
}

// UserSessionCount количество сессий пользователя на всех экземплярах.
func (p *RedisPresence) UserSessionCount(ctx context.Context, userID string) (int64, error) {
	return p.client.SCard(ctx, userSessionsPrefix+userID).Result()
}

// SessionInfo возвращает пользователя и комнату сессии. ok=false, если сессии нет.
func (p *RedisPresence) SessionInfo(ctx context.Context, sessionID string) (userID, roomID string, ok bool, err error) {
	val, err := p.client.Get(ctx, sessionInfoPrefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("get session info: %w", err)
	}

	userID, roomID, found := strings.Cut(val, ":")
	if !found {
		return "", "", false, fmt.Errorf("malformed session info %q", val)
	}
	return userID, roomID, true, nil
}

var _ Listener = (*RedisPresence)(nil)
