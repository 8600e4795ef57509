package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeRooms topic-обменник событий комнат.
const ExchangeRooms = "chat.rooms"

// SetupTopology объявляет обменник событий. Повторный вызов безопасен.
func SetupTopology(conn *Connection, exchange string) error {
	return conn.WithChannel(func(ch *amqp.Channel) error {
		return declareExchange(ch, exchange)
	})
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return nil
}

// declareSubscription объявляет очередь одной подписки и привязывает её к pattern.
//
// Очередь эксклюзивная, удаляется вместе с каналом и получает имя от сервера:
// каждый экземпляр получает свою копию каждого события.
func declareSubscription(ch *amqp.Channel, exchange, pattern string) (string, error) {
	if err := declareExchange(ch, exchange); err != nil {
		return "", err
	}

	q, err := ch.QueueDeclare(
		"",    // name (server-generated)
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return "", fmt.Errorf("declare subscription queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, pattern, exchange, false, nil); err != nil {
		return "", fmt.Errorf("bind queue %s to %s with %q: %w", q.Name, exchange, pattern, err)
	}

	return q.Name, nil
}

// TopologyInfo описание топологии для логирования.
func TopologyInfo(exchange string) string {
	return fmt.Sprintf(`
  RabbitMQ topology:

    %s (topic, durable)
    └── <server-named exclusive queue per instance> [binding: room.#]
            Consumer: gateway broadcast dispatcher
`, exchange)
}
