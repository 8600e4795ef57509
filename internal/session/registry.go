package session

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/telemetry"
)

// Listener получает уведомления о регистрации и удалении сессий.
// Вызывается вне блокировки реестра.
type Listener interface {
	SessionRegistered(s Session)
	SessionRemoved(s Session)
}

// Registry реестр живых сессий этого процесса.
//
// Индексы по id, комнате и пользователю меняются только через Register и
// Remove. Поиск возвращает только активные сессии; мёртвые записи
// фильтруются и удаляются при Remove.
type Registry struct {
	logger    *slog.Logger
	listeners []Listener

	mu     sync.RWMutex
	byID   map[string]Session
	byRoom map[string]map[string]Session
	byUser map[string]map[string]Session
}

// NewRegistry создаёт пустой реестр.
func NewRegistry(logger *slog.Logger, listeners ...Listener) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:    logger,
		listeners: listeners,
		byID:      make(map[string]Session),
		byRoom:    make(map[string]map[string]Session),
		byUser:    make(map[string]map[string]Session),
	}
}

// Register добавляет сессию во все индексы.
//
// Сессия с пустым id отклоняется (ErrInvalidSession). Повторная регистрация
// того же id логируется и ничего не меняет (ErrDuplicateSession).
func (r *Registry) Register(s Session) error {
	if s == nil || strings.TrimSpace(s.ID()) == "" {
		return ErrInvalidSession
	}

	r.mu.Lock()
	if _, exists := r.byID[s.ID()]; exists {
		r.mu.Unlock()
		r.logger.Warn("session already registered", "session_id", s.ID())
		return fmt.Errorf("%w: %s", ErrDuplicateSession, s.ID())
	}
	r.byID[s.ID()] = s
	addIndex(r.byRoom, s.RoomID(), s)
	addIndex(r.byUser, s.UserID(), s)
	total := len(r.byID)
	r.mu.Unlock()

	telemetry.SessionsActive.Set(float64(total))
	r.logger.Debug("session registered",
		"session_id", s.ID(),
		"user_id", s.UserID(),
		"room_id", s.RoomID(),
	)

	for _, l := range r.listeners {
		l.SessionRegistered(s)
	}
	return nil
}

// Remove удаляет сессию из всех индексов. Отсутствующий id не ошибка.
func (r *Registry) Remove(id string) (Session, bool) {
	r.mu.Lock()
	s, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	delete(r.byID, id)
	removeIndex(r.byRoom, s.RoomID(), id)
	removeIndex(r.byUser, s.UserID(), id)
	total := len(r.byID)
	r.mu.Unlock()

	telemetry.SessionsActive.Set(float64(total))
	r.logger.Debug("session removed", "session_id", id, "room_id", s.RoomID())

	for _, l := range r.listeners {
		l.SessionRemoved(s)
	}
	return s, true
}

// Get возвращает сессию по id, активную или нет.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// FindActiveByRoom возвращает активные сессии комнаты.
func (r *Registry) FindActiveByRoom(roomID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return activeOf(r.byRoom[roomID])
}

// FindActiveByUser возвращает активные сессии пользователя.
func (r *Registry) FindActiveByUser(userID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return activeOf(r.byUser[userID])
}

// CountActive количество активных сессий.
func (r *Registry) CountActive() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.byID {
		if s.IsActive() {
			n++
		}
	}
	return n
}

// Count количество зарегистрированных сессий, включая мёртвые.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Rooms комнаты, в которых есть хотя бы одна сессия.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]string, 0, len(r.byRoom))
	for room := range r.byRoom {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

func addIndex(index map[string]map[string]Session, key string, s Session) {
	bucket, ok := index[key]
	if !ok {
		bucket = make(map[string]Session)
		index[key] = bucket
	}
	bucket[s.ID()] = s
}

func removeIndex(index map[string]map[string]Session, key, id string) {
	bucket, ok := index[key]
	if !ok {
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(index, key)
	}
}

func activeOf(bucket map[string]Session) []Session {
	if len(bucket) == 0 {
		return nil
	}
	out := make([]Session, 0, len(bucket))
	for _, s := range bucket {
		if s.IsActive() {
			out = append(out, s)
		}
	}
	return out
}
