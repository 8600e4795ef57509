package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/domain"
)

var (
	// ErrUnknownType тип сообщения не зарегистрирован.
	ErrUnknownType = errors.New("unknown message type")

	// ErrInvalidContent содержимое не подходит к типу сообщения.
	ErrInvalidContent = errors.New("invalid message content")
)

// Handler проверяет содержимое сообщений одного типа.
type Handler interface {
	Type() domain.MessageType

	// Validate возвращает ошибку, обёрнутую в ErrInvalidContent,
	// если content не годится для этого типа.
	Validate(content json.RawMessage) error
}

// Registry реестр обработчиков типов сообщений. Потокобезопасен.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.MessageType]Handler
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[domain.MessageType]Handler),
	}
}

// DefaultRegistry создаёт реестр со всеми известными типами.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(requiredFields(domain.MessageTypeText, "text"))
	r.Register(requiredFields(domain.MessageTypeImage, "image_url"))
	r.Register(requiredFields(domain.MessageTypeFile, "file_url"))
	r.Register(locationHandler{})

	for _, t := range domain.MessageTypes() {
		if !r.Has(t) {
			r.Register(objectHandler{typ: t})
		}
	}

	return r
}

// Register регистрирует обработчик. Обработчик того же типа перезаписывается.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Type()] = h
}

// Get возвращает обработчик по типу.
func (r *Registry) Get(t domain.MessageType) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	return h, nil
}

// Has проверяет, зарегистрирован ли тип.
func (r *Registry) Has(t domain.MessageType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[t]
	return ok
}

// Types возвращает зарегистрированные типы по алфавиту.
func (r *Registry) Types() []domain.MessageType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]domain.MessageType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Validate проверяет content через обработчик типа t.
func (r *Registry) Validate(t domain.MessageType, content json.RawMessage) error {
	h, err := r.Get(t)
	if err != nil {
		return err
	}
	return h.Validate(content)
}
