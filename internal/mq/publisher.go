package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNacked брокер не принял публикацию.
var ErrNacked = errors.New("publish not confirmed by broker")

// Publisher публикует сообщения в обменник RabbitMQ.
type Publisher struct {
	conn     *Connection
	exchange string
	logger   *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, exchange string, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:     conn,
		exchange: exchange,
		logger:   logger,
	}
}

// Publish публикует сообщение с routing key равным topic и ждёт
// подтверждения брокера. nil означает, что брокер принял сообщение.
func (p *Publisher) Publish(ctx context.Context, topic string, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(func(ch *amqp.Channel) error {
		confirm, err := ch.PublishWithDeferredConfirmWithContext(
			ctx,
			p.exchange, // exchange
			topic,      // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", p.exchange, topic, err)
		}
		if confirm == nil {
			return fmt.Errorf("publish to %s/%s: channel not in confirm mode", p.exchange, topic)
		}

		// nack приходит и при закрытии канала до подтверждения
		acked, err := confirm.WaitContext(ctx)
		if err != nil {
			return fmt.Errorf("wait confirm %s/%s: %w", p.exchange, topic, err)
		}
		if !acked {
			return fmt.Errorf("publish to %s/%s: %w", p.exchange, topic, ErrNacked)
		}

		p.logger.Debug("published message",
			"exchange", p.exchange,
			"topic", topic,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}
