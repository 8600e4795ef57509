package mq

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/telemetry"
)

// rabbitURL берёт TEST_AMQP_URL или поднимает RabbitMQ в контейнере.
// Без обоих тест пропускается.
func rabbitURL(t *testing.T) string {
	t.Helper()
	if url := os.Getenv("TEST_AMQP_URL"); url != "" {
		return url
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var container testcontainers.Container
	err := func() (err error) {
		// testcontainers паникует без Docker
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%v", r)
			}
		}()
		container, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "rabbitmq:3.13-alpine",
				ExposedPorts: []string{"5672/tcp"},
				Env: map[string]string{
					"RABBITMQ_DEFAULT_USER": "chat",
					"RABBITMQ_DEFAULT_PASS": "chat",
				},
				WaitingFor: wait.ForLog("Server startup complete").WithStartupTimeout(90 * time.Second),
			},
			Started: true,
		})
		return err
	}()
	if err != nil {
		t.Skipf("rabbitmq unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5672/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("amqp://chat:chat@%s:%s/", host, port.Port())
}

func TestAMQPBus_EveryInstanceReceives(t *testing.T) {
	url := rabbitURL(t)
	logger := telemetry.Discard()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Два экземпляра gateway со своими соединениями
	var (
		mu  sync.Mutex
		got = map[string][]string{}
	)
	var wg sync.WaitGroup
	for _, instance := range []string{"a", "b"} {
		conn, err := NewConnection(ctx, ConnectionConfig{URL: url, Logger: logger})
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })

		bus, err := NewAMQPBus(conn, ExchangeRooms, logger)
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = bus.Subscribe(ctx, RoomPattern, func(_ context.Context, topic string, msg *Message) error {
				mu.Lock()
				defer mu.Unlock()
				got[instance] = append(got[instance], topic+"/"+msg.ID)
				return nil
			})
		}()
	}

	pubConn, err := NewConnection(ctx, ConnectionConfig{URL: url, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pubConn.Close() })
	pub, err := NewAMQPBus(pubConn, ExchangeRooms, logger)
	require.NoError(t, err)

	// Подписки объявляются асинхронно, публикуем до первой доставки
	require.Eventually(t, func() bool {
		_ = pub.Publish(ctx, RoomTopic("r1"), &Message{ID: "m1", Type: MessageTypeMessageCreated, Timestamp: time.Now()})
		mu.Lock()
		defer mu.Unlock()
		return len(got["a"]) > 0 && len(got["b"]) > 0
	}, 30*time.Second, 200*time.Millisecond)

	mu.Lock()
	assert.Contains(t, got["a"], "room.r1/m1")
	assert.Contains(t, got["b"], "room.r1/m1")
	mu.Unlock()

	cancel()
	wg.Wait()
}

// Publish возвращает nil только после ack брокера: публикация, которую
// брокер отверг, должна вернуть ошибку, а не пропасть молча.
func TestPublisher_ReturnsErrorWhenBrokerRejects(t *testing.T) {
	url := rabbitURL(t)
	logger := telemetry.Discard()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := NewConnection(ctx, ConnectionConfig{URL: url, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	msg := &Message{ID: "m1", Type: MessageTypeMessageCreated, Timestamp: time.Now()}

	// Обменника нет: брокер закрывает канал, подтверждения не будет
	missing := NewPublisher(conn, "chat.missing-exchange", logger)
	assert.Error(t, missing.Publish(ctx, RoomTopic("r1"), msg))

	// Канал публикации открывается заново, следующая публикация проходит
	ok := NewPublisher(conn, ExchangeRooms, logger)
	require.Eventually(t, func() bool {
		if SetupTopology(conn, ExchangeRooms) != nil {
			return false
		}
		return ok.Publish(ctx, RoomTopic("r1"), msg) == nil
	}, 10*time.Second, 100*time.Millisecond)
}
