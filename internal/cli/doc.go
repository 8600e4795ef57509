// Package cli команды chatctl поверх HTTP API chat-api.
//
// Пакет не импортирует внутренние пакеты сервиса: DTO описаны заново в
// client.go, ответы разбираются из конвертов {data} и {error}.
//
//	chatctl schedule create --room R1 --sender bot --cron "0 9 * * 1-5" --text standup
//	chatctl schedule list --room R1 --json | jq '.[].next_fire_at'
//	chatctl message send --room R1 --sender alice --text hi
//	chatctl presence R1
//
// Фабрики команд (NewScheduleCmd, NewMessageCmd, NewPresenceCmd) получают
// clientFn и outputFn, чтобы Client и Output создавались после разбора
// глобальных флагов --api-url и --json.
package cli
