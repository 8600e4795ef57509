package session

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/telemetry"
)

func newTestPresence(t *testing.T) (*RedisPresence, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisPresence(client, telemetry.Discard()), mr
}

func TestRedisPresence_FollowsRegistry(t *testing.T) {
	ctx := context.Background()
	presence, mr := newTestPresence(t)
	r := NewRegistry(telemetry.Discard(), presence)

	require.NoError(t, r.Register(newSession("s1", "u1", "room-1")))
	require.NoError(t, r.Register(newSession("s2", "u2", "room-1")))
	require.NoError(t, r.Register(newSession("s3", "u1", "room-2")))

	n, err := presence.RoomSessionCount(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = presence.UserSessionCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	user, room, ok, err := presence.SessionInfo(ctx, "s3")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "u1", user)
	assert.Equal(t, "room-2", room)

	assert.Equal(t, PresenceTTL, mr.TTL("chat:session:info:s1"))
	assert.Equal(t, PresenceTTL, mr.TTL("chat:room:sessions:room-1"))

	r.Remove("s1")

	members, err := presence.RoomSessionIDs(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, members)

	members, err = presence.UserSessionIDs(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s3"}, members)

	_, _, ok, err = presence.SessionInfo(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisPresence_RedisDownDoesNotBreakRegistry(t *testing.T) {
	presence, mr := newTestPresence(t)
	mr.Close()

	r := NewRegistry(telemetry.Discard(), presence)
	require.NoError(t, r.Register(newSession("s1", "u1", "room-1")))
	assert.Len(t, r.FindActiveByRoom("room-1"), 1)

	_, ok := r.Remove("s1")
	assert.True(t, ok)
}
