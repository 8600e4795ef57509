package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/domain"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/message"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/repo"
)

// memStore хранилище правил в памяти с теми же условными обновлениями, что у repo.ScheduleRepo.
type memStore struct {
	mu    sync.Mutex
	rules map[uuid.UUID]domain.ScheduleRule

	// reread получает копию, которую вернул GetForUpdate.
	reread func(*domain.ScheduleRule)
}

func newMemStore(rules ...*domain.ScheduleRule) *memStore {
	s := &memStore{rules: make(map[uuid.UUID]domain.ScheduleRule)}
	for _, r := range rules {
		s.rules[r.ID] = *r
	}
	return s
}

func (s *memStore) get(id uuid.UUID) domain.ScheduleRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rules[id]
}

func (s *memStore) ListDue(_ context.Context, now time.Time, limit int) ([]domain.ScheduleRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []domain.ScheduleRule
	for _, r := range s.rules {
		if r.IsDue(now) {
			due = append(due, r)
		}
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (s *memStore) GetForUpdate(_ context.Context, id uuid.UUID) (*domain.ScheduleRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if s.reread != nil {
		s.reread(&r)
	}
	return &r, nil
}

func (s *memStore) SaveExecution(_ context.Context, rule *domain.ScheduleRule, expected int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rules[rule.ID]
	if !ok || cur.ExecutionCount != expected || !cur.CanExecute() {
		return repo.ErrConflict
	}
	s.rules[rule.ID] = *rule
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok || !r.CanExecute() {
		return repo.ErrInvalidState
	}
	r.Status = domain.ScheduleStatusFailed
	r.LastError = reason
	s.rules[id] = r
	return nil
}

func (s *memStore) RecordError(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rules[id]
	r.LastError = reason
	s.rules[id] = r
	return nil
}

// memWriter пишет сообщения с уникальным ключом идемпотентности.
type memWriter struct {
	mu       sync.Mutex
	messages []message.Request
	keys     map[string]bool
	err      error

	// beforeWrite вызывается один раз перед первой записью.
	beforeWrite func()
}

func newMemWriter() *memWriter {
	return &memWriter{keys: make(map[string]bool)}
}

func (w *memWriter) Write(_ context.Context, req message.Request) (*domain.Message, error) {
	w.mu.Lock()
	hook := w.beforeWrite
	w.beforeWrite = nil
	w.mu.Unlock()
	if hook != nil {
		hook()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return nil, w.err
	}
	if req.IdempotencyKey != "" && w.keys[req.IdempotencyKey] {
		return nil, repo.ErrAlreadyExists
	}
	w.keys[req.IdempotencyKey] = true
	w.messages = append(w.messages, req)
	return &domain.Message{ID: uuid.New(), RoomID: req.RoomID}, nil
}

func (w *memWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.messages)
}

// memLocker блокировка в памяти. С expired=true ведёт себя так,
// будто аренда любого держателя уже истекла.
type memLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	expired  bool
	unlocked int
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]bool)}
}

func (l *memLocker) TryLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] && !l.expired {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *memLocker) Unlock(_ context.Context, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	l.unlocked++
}
