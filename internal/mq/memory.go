package mq

import (
	"context"
	"log/slog"
	"sync"
)

// MemoryBus Bus в памяти процесса с семантикой topic-обменника.
//
// Publish вызывает обработчики подписчиков синхронно. Ошибки обработчиков
// логируются и не возвращаются издателю, как и у брокера.
type MemoryBus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[int]memorySub
}

type memorySub struct {
	pattern string
	handler Handler
}

// NewMemoryBus создаёт пустую шину.
func NewMemoryBus(logger *slog.Logger) *MemoryBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBus{
		logger: logger,
		subs:   make(map[int]memorySub),
	}
}

// Publish доставляет msg всем совпавшим подписчикам.
func (b *MemoryBus) Publish(ctx context.Context, topic string, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	var matched []Handler
	for _, s := range b.subs {
		if MatchTopic(s.pattern, topic) {
			matched = append(matched, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range matched {
		if err := h(ctx, topic, msg); err != nil {
			b.logger.Error("handler failed", "topic", topic, "message_id", msg.ID, "error", err)
		}
	}
	return nil
}

// Subscribe регистрирует подписку и держит её до отмены ctx.
func (b *MemoryBus) Subscribe(ctx context.Context, pattern string, h Handler) error {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = memorySub{pattern: pattern, handler: h}
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
	return nil
}

// Subscribers количество активных подписок.
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

var _ Bus = (*MemoryBus)(nil)
