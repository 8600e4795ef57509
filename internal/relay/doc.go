// Package relay публикует события outbox в шину.
//
// Relay выбирает необработанные события в порядке создания, публикует
// каждое в топик комнаты room.<room_id> и только потом помечает обработанным.
// Падение между публикацией и пометкой даёт повторную публикацию:
// подписчики должны переносить дубли.
package relay
