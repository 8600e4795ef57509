package api

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/domain"
	"github.com/kim-sung-sig/chat-platform-sub001/internal/repo"
)

// memSchedules ScheduleStore в памяти с семантикой repo.ScheduleRepo.
type memSchedules struct {
	mu    sync.Mutex
	rules map[uuid.UUID]domain.ScheduleRule
}

func newMemSchedules() *memSchedules {
	return &memSchedules{rules: map[uuid.UUID]domain.ScheduleRule{}}
}

func (s *memSchedules) Create(_ context.Context, rule *domain.ScheduleRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[rule.ID]; ok {
		return repo.ErrAlreadyExists
	}
	s.rules[rule.ID] = *rule
	return nil
}

func (s *memSchedules) GetByID(_ context.Context, id uuid.UUID) (*domain.ScheduleRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &rule, nil
}

func (s *memSchedules) List(_ context.Context, filter repo.ScheduleFilter) ([]domain.ScheduleRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ScheduleRule
	for _, rule := range s.rules {
		if filter.RoomID != "" && rule.RoomID != filter.RoomID {
			continue
		}
		if filter.Status != "" && rule.Status != filter.Status {
			continue
		}
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memSchedules) Cancel(_ context.Context, id uuid.UUID) (*domain.ScheduleRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if rule.Status == domain.ScheduleStatusExecuted || rule.Status == domain.ScheduleStatusCancelled {
		return nil, fmt.Errorf("%w: schedule rule cannot be cancelled", repo.ErrInvalidState)
	}
	rule.Status = domain.ScheduleStatusCancelled
	s.rules[id] = rule
	return &rule, nil
}

// memMessages message.Store и MessageReader в памяти.
type memMessages struct {
	mu       sync.Mutex
	messages []domain.Message
	outbox   []domain.OutboxEvent
	keys     map[string]bool
}

func newMemMessages() *memMessages {
	return &memMessages{keys: map[string]bool{}}
}

func (m *memMessages) CreateWithOutbox(_ context.Context, msg *domain.Message, event *domain.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.IdempotencyKey != "" {
		if m.keys[msg.IdempotencyKey] {
			return fmt.Errorf("insert message: %w", repo.ErrAlreadyExists)
		}
		m.keys[msg.IdempotencyKey] = true
	}
	m.messages = append(m.messages, *msg)
	m.outbox = append(m.outbox, *event)
	return nil
}

func (m *memMessages) ListByRoom(_ context.Context, roomID string, limit int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Message
	for i := len(m.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if m.messages[i].RoomID == roomID {
			out = append(out, m.messages[i])
		}
	}
	return out, nil
}

func (m *memMessages) count() (messages, events int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages), len(m.outbox)
}
