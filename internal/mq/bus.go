package mq

import (
	"context"
	"log/slog"
)

// AMQPBus Bus поверх topic-обменника RabbitMQ.
type AMQPBus struct {
	conn      *Connection
	exchange  string
	publisher *Publisher
	logger    *slog.Logger
}

// NewAMQPBus объявляет обменник и возвращает шину.
func NewAMQPBus(conn *Connection, exchange string, logger *slog.Logger) (*AMQPBus, error) {
	if exchange == "" {
		exchange = ExchangeRooms
	}
	if err := SetupTopology(conn, exchange); err != nil {
		return nil, err
	}
	logger.Debug("rabbitmq topology ready", "topology", TopologyInfo(exchange))

	return &AMQPBus{
		conn:      conn,
		exchange:  exchange,
		publisher: NewPublisher(conn, exchange, logger),
		logger:    logger,
	}, nil
}

// Publish публикует msg с routing key topic.
func (b *AMQPBus) Publish(ctx context.Context, topic string, msg *Message) error {
	return b.publisher.Publish(ctx, topic, msg)
}

// Subscribe потребляет сообщения по pattern до отмены ctx.
func (b *AMQPBus) Subscribe(ctx context.Context, pattern string, h Handler) error {
	consumer := NewConsumer(b.conn, b.logger, ConsumerConfig{
		Exchange: b.exchange,
		Pattern:  pattern,
		Handler:  h,
	})
	return consumer.Start(ctx)
}

var _ Bus = (*AMQPBus)(nil)
