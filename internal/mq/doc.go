// Package mq шина событий комнат поверх RabbitMQ.
//
// Структура:
//   - connection.go: соединение с переподключением (retry-go)
//   - topology.go: topic-обменник chat.rooms и очереди подписок
//   - publisher.go: публикация конвертов Message
//   - consumer.go: потребление одной подписки
//   - bus.go: AMQPBus, реализация Bus
//   - memory.go: MemoryBus для тестов и однопроцессного запуска
//
// Топики: room.<room_id>. Каждый экземпляр gateway подписывается на room.#
// собственной эксклюзивной очередью и получает события всех комнат.
package mq
