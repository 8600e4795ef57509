package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/domain"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/mq"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memOutbox outbox в памяти.
type memOutbox struct {
	mu        sync.Mutex
	events    []domain.OutboxEvent
	markErrs  map[int64]error // ошибка пометки, срабатывает один раз
	purgedBef time.Time
}

func newMemOutbox(t *testing.T, rooms ...string) *memOutbox {
	t.Helper()
	s := &memOutbox{markErrs: map[int64]error{}}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, room := range rooms {
		msg := &domain.Message{
			ID:        uuid.New(),
			RoomID:    room,
			SenderID:  "u1",
			Type:      domain.MessageTypeText,
			Content:   json.RawMessage(`{"text":"hi"}`),
			Status:    domain.MessageStatusSent,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		ev, err := domain.NewMessageCreatedEvent(msg)
		require.NoError(t, err)
		ev.ID = int64(i + 1)
		s.events = append(s.events, *ev)
	}
	return s
}

func (s *memOutbox) ListUnprocessed(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OutboxEvent
	for _, ev := range s.events {
		if !ev.Processed && len(out) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *memOutbox) MarkProcessed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.markErrs[id]; ok {
		delete(s.markErrs, id)
		return err
	}
	for i := range s.events {
		if s.events[i].ID == id {
			s.events[i].Processed = true
			return nil
		}
	}
	return errors.New("not found")
}

func (s *memOutbox) CountUnprocessed(ctx context.Context) (int, error) {
	evs, _ := s.ListUnprocessed(ctx, 1<<30)
	return len(evs), nil
}

func (s *memOutbox) PurgeProcessed(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgedBef = before
	return 0, nil
}

// recordingBus запоминает публикации и падает на заданных сообщениях.
type recordingBus struct {
	mu        sync.Mutex
	published []string // topic/aggregate id
	calls     int
	failIDs   map[string]bool
	failAll   bool
}

func (b *recordingBus) Publish(_ context.Context, topic string, msg *mq.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.failAll || b.failIDs[msg.ID] {
		return errors.New("broker unavailable")
	}
	b.published = append(b.published, topic+"/"+msg.ID)
	return nil
}

func (b *recordingBus) snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.published...)
}

func newTestRelay(store Store, pub Publisher, mod ...func(*Config)) *Relay {
	cfg := Config{
		Store:        store,
		Publisher:    pub,
		Logger:       telemetry.Discard(),
		PollInterval: 10 * time.Millisecond,
	}
	for _, m := range mod {
		m(&cfg)
	}
	return New(cfg)
}

func key(ev domain.OutboxEvent) string {
	payload, _ := ev.MessageEvent()
	return mq.RoomTopic(payload.RoomID) + "/" + ev.AggregateID.String()
}

func TestRunOnce_PublishesInOrderAndMarks(t *testing.T) {
	store := newMemOutbox(t, "r1", "r2", "r1")
	bus := &recordingBus{}
	r := newTestRelay(store, bus)

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Published)
	assert.Equal(t, []string{key(store.events[0]), key(store.events[1]), key(store.events[2])}, bus.snapshot())

	left, _ := store.CountUnprocessed(context.Background())
	assert.Zero(t, left)

	// Повторный проход ничего не публикует
	res, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Published)
	assert.Len(t, bus.snapshot(), 3)
}

func TestRunOnce_PublishFailureStopsPass(t *testing.T) {
	store := newMemOutbox(t, "r1", "r1", "r1")
	second := store.events[1].AggregateID.String()
	bus := &recordingBus{failIDs: map[string]bool{second: true}}
	r := newTestRelay(store, bus)

	res, err := r.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, res.Published)
	assert.Equal(t, []string{key(store.events[0])}, bus.snapshot(), "later events must wait for the failed one")

	left, _ := store.CountUnprocessed(context.Background())
	assert.Equal(t, 2, left)

	bus.mu.Lock()
	bus.failIDs = nil
	bus.mu.Unlock()

	res, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Published)
	assert.Equal(t, []string{key(store.events[0]), key(store.events[1]), key(store.events[2])}, bus.snapshot())
}

func TestRunOnce_MarkFailureRepublishes(t *testing.T) {
	store := newMemOutbox(t, "r1")
	store.markErrs[1] = errors.New("connection reset")
	bus := &recordingBus{}
	r := newTestRelay(store, bus)

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unmarked)

	res, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Published)

	// At-least-once: то же событие ушло дважды
	assert.Equal(t, []string{key(store.events[0]), key(store.events[0])}, bus.snapshot())
}

func TestRunOnce_BreakerOpens(t *testing.T) {
	store := newMemOutbox(t, "r1")
	bus := &recordingBus{failAll: true}
	r := newTestRelay(store, bus, func(c *Config) {
		c.BreakerFailures = 2
		c.BreakerTimeout = time.Minute
	})

	for i := 0; i < 2; i++ {
		_, err := r.RunOnce(context.Background())
		assert.Error(t, err)
	}

	_, err := r.RunOnce(context.Background())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)

	bus.mu.Lock()
	assert.Equal(t, 2, bus.calls, "open circuit must not reach the broker")
	bus.mu.Unlock()
}

func TestRunOnce_DropsUndecodablePayload(t *testing.T) {
	store := newMemOutbox(t, "r1", "r2")
	store.events[0].Payload = json.RawMessage(`"not an object"`)
	bus := &recordingBus{}
	r := newTestRelay(store, bus)

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 1, res.Published)
	assert.Equal(t, []string{key(store.events[1])}, bus.snapshot())
}

type heldLocker struct {
	mu     sync.Mutex
	held   bool
	leases int
}

func (l *heldLocker) TryLock(context.Context, string, time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, nil
	}
	l.leases++
	return true, nil
}

func (l *heldLocker) Unlock(context.Context, string) {}

func TestRunOnce_SkipsWithoutLock(t *testing.T) {
	store := newMemOutbox(t, "r1")
	bus := &recordingBus{}
	locker := &heldLocker{held: true}
	r := newTestRelay(store, bus, func(c *Config) { c.Locker = locker })

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Published)
	assert.Empty(t, bus.snapshot())

	locker.mu.Lock()
	locker.held = false
	locker.mu.Unlock()

	res, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Published)
}

func TestPurge(t *testing.T) {
	store := newMemOutbox(t)
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	r := newTestRelay(store, &recordingBus{}, func(c *Config) {
		c.Retention = 24 * time.Hour
		c.Now = func() time.Time { return now }
	})

	_, err := r.Purge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), store.purgedBef)

	// Без retention очистка выключена
	off := newTestRelay(newMemOutbox(t), &recordingBus{})
	n, err := off.Purge(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRun_DeliversThroughBus(t *testing.T) {
	store := newMemOutbox(t, "r1", "r2")
	bus := mq.NewMemoryBus(telemetry.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	var mu sync.Mutex
	var got []string
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = bus.Subscribe(ctx, mq.RoomPattern, func(_ context.Context, topic string, msg *mq.Message) error {
			ev, err := mq.ParsePayload[domain.MessageEvent](msg)
			if err != nil {
				return err
			}
			mu.Lock()
			got = append(got, topic+"/"+ev.MessageID.String())
			mu.Unlock()
			return nil
		})
	}()
	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, time.Millisecond)

	r := newTestRelay(store, bus)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = r.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	wg.Wait()

	assert.Equal(t, []string{key(store.events[0]), key(store.events[1])}, got)
}

func TestRunOnce_DottedRoomReachesRoomSubscribers(t *testing.T) {
	store := newMemOutbox(t, "team.general")
	bus := mq.NewMemoryBus(telemetry.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var rooms []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Subscribe(ctx, mq.RoomPattern, func(_ context.Context, topic string, _ *mq.Message) error {
			room, _ := mq.RoomFromTopic(topic)
			mu.Lock()
			rooms = append(rooms, room)
			mu.Unlock()
			return nil
		})
	}()
	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, time.Millisecond)

	res, err := newTestRelay(store, bus).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Published)

	mu.Lock()
	assert.Equal(t, []string{"team.general"}, rooms)
	mu.Unlock()

	cancel()
	<-done
}

func TestRunOnce_OpenCircuitIsNotAPublishFailure(t *testing.T) {
	store := newMemOutbox(t, "r1")
	bus := &recordingBus{failAll: true}
	r := newTestRelay(store, bus, func(c *Config) {
		c.BreakerFailures = 2
		c.BreakerTimeout = time.Minute
	})

	before := testutil.ToFloat64(telemetry.OutboxPublishFailures)
	for i := 0; i < 2; i++ {
		_, err := r.RunOnce(context.Background())
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, before+2, testutil.ToFloat64(telemetry.OutboxPublishFailures))

	for i := 0; i < 3; i++ {
		_, err := r.RunOnce(context.Background())
		assert.ErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, before+2, testutil.ToFloat64(telemetry.OutboxPublishFailures))
}

func TestRun_OpenCircuitLogsBelowWarn(t *testing.T) {
	var buf bytes.Buffer
	store := newMemOutbox(t, "r1")
	bus := &recordingBus{failAll: true}
	r := newTestRelay(store, bus, func(c *Config) {
		c.BreakerFailures = 1
		c.BreakerTimeout = time.Minute
		c.Logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	})

	// Первый проход размыкает цепь
	_, err := r.RunOnce(context.Background())
	require.Error(t, err)
	require.Contains(t, buf.String(), "circuit breaker state changed")
	buf.Reset()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	require.NoError(t, r.Run(ctx))

	assert.Empty(t, buf.String())
	bus.mu.Lock()
	assert.Equal(t, 1, bus.calls)
	bus.mu.Unlock()
}
