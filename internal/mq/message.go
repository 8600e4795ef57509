package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MessageType тип сообщения на шине.
type MessageType string

// MessageTypeMessageCreated новое сообщение чата. Payload: domain.MessageEvent.
const MessageTypeMessageCreated MessageType = "message.created"

// Message конверт сообщения на шине.
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handler обрабатывает сообщение, пришедшее по topic.
type Handler func(ctx context.Context, topic string, msg *Message) error

// Bus шина публикации и подписки по topic-шаблонам.
type Bus interface {
	// Publish доставляет msg всем подписчикам, чей шаблон совпал с topic.
	Publish(ctx context.Context, topic string, msg *Message) error

	// Subscribe вызывает h для каждого сообщения, чей topic совпал с pattern.
	// Блокируется до отмены ctx.
	Subscribe(ctx context.Context, pattern string, h Handler) error
}

// Топики комнат.
const (
	roomTopicPrefix = "room."

	// RoomPattern шаблон, под который попадает событие любой комнаты.
	// "#", а не "*": id комнаты может содержать точки, и тогда топик
	// состоит из нескольких слов.
	RoomPattern = "room.#"
)

// RoomTopic возвращает топик комнаты.
func RoomTopic(roomID string) string {
	return roomTopicPrefix + roomID
}

// RoomFromTopic извлекает id комнаты из топика.
func RoomFromTopic(topic string) (string, bool) {
	room, ok := strings.CutPrefix(topic, roomTopicPrefix)
	if !ok || room == "" {
		return "", false
	}
	return room, true
}

// MatchTopic сравнивает topic с шаблоном по правилам AMQP topic exchange:
// слова разделены точками, "*" заменяет ровно одно слово, "#" ноль или больше.
func MatchTopic(pattern, topic string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(topic, "."))
}

func matchWords(pattern, topic []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			rest := pattern[1:]
			for i := 0; i <= len(topic); i++ {
				if matchWords(rest, topic[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(topic) == 0 {
				return false
			}
		default:
			if len(topic) == 0 || pattern[0] != topic[0] {
				return false
			}
		}
		pattern = pattern[1:]
		topic = topic[1:]
	}
	return len(topic) == 0
}

// ParsePayload разбирает payload сообщения в T.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}
	return result, nil
}
