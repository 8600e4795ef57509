package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrConnectionClosed соединение закрыто через Close.
var ErrConnectionClosed = errors.New("amqp connection closed")

// Consumer потребляет сообщения одной подписки.
//
// После каждого переподключения очередь подписки объявляется заново:
// эксклюзивная очередь умирает вместе со старым соединением.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	exchange string
	pattern  string
	handler  Handler
	prefetch int
	retry    time.Duration
}

// ConsumerConfig конфигурация consumer.
type ConsumerConfig struct {
	Exchange string

	// Pattern шаблон привязки, например "room.#".
	Pattern string

	Handler Handler

	// Prefetch сообщений без подтверждения (default: 32).
	Prefetch int

	// RetryDelay пауза перед повторной настройкой подписки (default: 1s).
	RetryDelay time.Duration
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 32
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	return &Consumer{
		conn:     conn,
		logger:   logger,
		exchange: cfg.Exchange,
		pattern:  cfg.Pattern,
		handler:  cfg.Handler,
		prefetch: cfg.Prefetch,
		retry:    cfg.RetryDelay,
	}
}

// Start потребляет сообщения до отмены ctx.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		// Берём канал уведомления до настройки, чтобы не пропустить переподключение
		reconnected := c.conn.ReconnectNotify()

		ch, deliveries, queue, err := c.setupConsume()
		if err != nil {
			c.logger.Error("failed to setup subscription", "pattern", c.pattern, "error", err)
		} else {
			c.logger.Info("subscription started", "pattern", c.pattern, "queue", queue)
			c.processDeliveries(ctx, deliveries)
			if !ch.IsClosed() {
				_ = ch.Close()
			}
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("deliveries channel closed, resubscribing", "pattern", c.pattern)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-c.conn.Done():
			return ErrConnectionClosed
		case <-reconnected:
		case <-time.After(c.retry):
		}
	}
}

// setupConsume открывает канал, объявляет очередь подписки и начинает потребление.
func (c *Consumer) setupConsume() (*amqp.Channel, <-chan amqp.Delivery, string, error) {
	ch, err := c.conn.OpenChannel()
	if err != nil {
		return nil, nil, "", err
	}

	fail := func(err error) (*amqp.Channel, <-chan amqp.Delivery, string, error) {
		_ = ch.Close()
		return nil, nil, "", err
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fail(fmt.Errorf("set qos: %w", err))
	}

	queue, err := declareSubscription(ch, c.exchange, c.pattern)
	if err != nil {
		return fail(err)
	}

	deliveries, err := ch.Consume(
		queue, // queue
		"",    // consumer tag (auto-generated)
		false, // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fail(fmt.Errorf("consume: %w", err))
	}

	return ch, deliveries, queue, nil
}

// processDeliveries обрабатывает сообщения, пока канал доставки открыт.
func (c *Consumer) processDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-deliveries:
			if !ok {
				return
			}
			c.handleDelivery(ctx, raw)
		}
	}
}

// handleDelivery обрабатывает одно сообщение.
func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("failed to unmarshal message",
			"routing_key", raw.RoutingKey,
			"error", err,
		)
		_ = raw.Nack(false, false)
		return
	}

	if err := c.handler(ctx, raw.RoutingKey, &msg); err != nil {
		c.logger.Error("handler failed",
			"routing_key", raw.RoutingKey,
			"message_id", msg.ID,
			"redelivered", raw.Redelivered,
			"error", err,
		)
		// Одна повторная доставка, затем сообщение отбрасывается
		_ = raw.Nack(false, !raw.Redelivered)
		return
	}

	_ = raw.Ack(false)
}
