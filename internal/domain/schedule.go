package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidSchedule возвращается конструкторами при некорректных параметрах.
	ErrInvalidSchedule = errors.New("invalid schedule rule")

	// ErrInvalidTransition возвращается при недопустимой смене статуса.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ScheduleRule хранит обещание доставить сообщение в комнату
// один раз или по расписанию.
//
// Правило меняет только Execution Coordinator (после успешного срабатывания)
// и API отмены. Pipeline никогда не удаляет правила, только переводит их
// в терминальный статус.
type ScheduleRule struct {
	// ID уникальный идентификатор правила.
	ID uuid.UUID `json:"id"`

	// RoomID комната, в которую уходит сообщение.
	RoomID string `json:"room_id"`

	// ChannelID опциональный канал внутри комнаты.
	ChannelID string `json:"channel_id,omitempty"`

	// SenderID от чьего имени отправляется сообщение.
	SenderID string `json:"sender_id"`

	// MessageType тип сообщения (text, image, ...).
	MessageType MessageType `json:"message_type"`

	// Payload содержимое сообщения в JSON, передаётся writer'у как есть.
	Payload json.RawMessage `json:"payload"`

	Kind ScheduleKind `json:"kind"`

	// TriggerAt момент срабатывания для ONE_TIME.
	TriggerAt *time.Time `json:"trigger_at,omitempty"`

	// CronExpr выражение повторения для RECURRING.
	// Поддерживается необязательное поле секунд и дескрипторы (@hourly, @every 5m).
	CronExpr string `json:"cron_expr,omitempty"`

	// Timezone часовой пояс для вычисления cron. По умолчанию UTC.
	Timezone string `json:"timezone,omitempty"`

	// MaxExecutions лимит срабатываний. nil означает без ограничения.
	MaxExecutions *int `json:"max_executions,omitempty"`

	// ExecutionCount сколько раз правило успешно сработало.
	// Монотонно растёт и меняется только успешным срабатыванием.
	ExecutionCount int `json:"execution_count"`

	Status ScheduleStatus `json:"status"`

	// NextFireAt ближайший слот срабатывания.
	// Для ONE_TIME совпадает с TriggerAt, для RECURRING это следующее время по cron.
	NextFireAt *time.Time `json:"next_fire_at,omitempty"`

	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`

	// LastError текст последней ошибки выполнения.
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScheduleParams общие параметры нового правила.
type ScheduleParams struct {
	RoomID      string
	ChannelID   string
	SenderID    string
	MessageType MessageType
	Payload     json.RawMessage
}

func (p ScheduleParams) validate() error {
	if p.RoomID == "" {
		return fmt.Errorf("%w: room_id is required", ErrInvalidSchedule)
	}
	if p.SenderID == "" {
		return fmt.Errorf("%w: sender_id is required", ErrInvalidSchedule)
	}
	if !p.MessageType.Valid() {
		return fmt.Errorf("%w: unknown message type %q", ErrInvalidSchedule, p.MessageType)
	}
	return nil
}

// NewOneTimeRule создаёт ONE_TIME правило в статусе PENDING.
// Время срабатывания должно быть строго в будущем относительно now.
func NewOneTimeRule(p ScheduleParams, at, now time.Time) (*ScheduleRule, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if !at.After(now) {
		return nil, fmt.Errorf("%w: trigger time %s is not in the future", ErrInvalidSchedule, at.Format(time.RFC3339))
	}

	at = at.UTC()
	return &ScheduleRule{
		ID:          uuid.New(),
		RoomID:      p.RoomID,
		ChannelID:   p.ChannelID,
		SenderID:    p.SenderID,
		MessageType: p.MessageType,
		Payload:     p.Payload,
		Kind:        ScheduleKindOneTime,
		TriggerAt:   &at,
		Status:      ScheduleStatusPending,
		NextFireAt:  &at,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// NewRecurringRule создаёт RECURRING правило в статусе ACTIVE.
// firstFire вычисляется вызывающей стороной по cron-выражению.
func NewRecurringRule(p ScheduleParams, cronExpr, timezone string, maxExecutions *int, firstFire, now time.Time) (*ScheduleRule, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if cronExpr == "" {
		return nil, fmt.Errorf("%w: cron_expr is required", ErrInvalidSchedule)
	}
	if maxExecutions != nil && *maxExecutions <= 0 {
		return nil, fmt.Errorf("%w: max_executions must be positive", ErrInvalidSchedule)
	}
	if timezone == "" {
		timezone = "UTC"
	}

	firstFire = firstFire.UTC()
	return &ScheduleRule{
		ID:            uuid.New(),
		RoomID:        p.RoomID,
		ChannelID:     p.ChannelID,
		SenderID:      p.SenderID,
		MessageType:   p.MessageType,
		Payload:       p.Payload,
		Kind:          ScheduleKindRecurring,
		CronExpr:      cronExpr,
		Timezone:      timezone,
		MaxExecutions: maxExecutions,
		Status:        ScheduleStatusActive,
		NextFireAt:    &firstFire,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// IsOneTime возвращает true для ONE_TIME правил.
func (r *ScheduleRule) IsOneTime() bool {
	return r.Kind == ScheduleKindOneTime
}

// IsRecurring возвращает true для RECURRING правил.
func (r *ScheduleRule) IsRecurring() bool {
	return r.Kind == ScheduleKindRecurring
}

// CanExecute проверяет статус правила.
func (r *ScheduleRule) CanExecute() bool {
	return r.Status.IsExecutable()
}

// LimitReached возвращает true, если RECURRING правило исчерпало лимит срабатываний.
func (r *ScheduleRule) LimitReached() bool {
	return r.MaxExecutions != nil && r.ExecutionCount >= *r.MaxExecutions
}

// IsDue проверяет, пора ли срабатывать.
func (r *ScheduleRule) IsDue(now time.Time) bool {
	if !r.CanExecute() || r.NextFireAt == nil {
		return false
	}
	if r.IsRecurring() && r.LimitReached() {
		return false
	}
	return !now.Before(*r.NextFireAt)
}

// SlotKey возвращает ключ идемпотентности текущего слота срабатывания:
// "{schedule_id}:{next_fire_at_unix}".
// Два исполнителя одного слота получат одинаковый ключ.
func (r *ScheduleRule) SlotKey() string {
	var ts int64
	if r.NextFireAt != nil {
		ts = r.NextFireAt.Unix()
	}
	return fmt.Sprintf("%s:%d", r.ID, ts)
}

// RecordExecution фиксирует успешное срабатывание.
//
// ONE_TIME переходит в EXECUTED. RECURRING увеличивает счётчик, сдвигает
// NextFireAt на next и переходит в EXECUTED при достижении лимита.
func (r *ScheduleRule) RecordExecution(now, next time.Time) error {
	if !r.CanExecute() {
		return fmt.Errorf("%w: cannot execute rule in status %s", ErrInvalidTransition, r.Status)
	}

	r.ExecutionCount++
	r.LastExecutedAt = &now
	r.LastError = ""
	r.UpdatedAt = now

	if r.IsOneTime() {
		r.Status = ScheduleStatusExecuted
		r.NextFireAt = nil
		return nil
	}

	if r.LimitReached() {
		r.Status = ScheduleStatusExecuted
		r.NextFireAt = nil
		return nil
	}

	next = next.UTC()
	r.Status = ScheduleStatusActive
	r.NextFireAt = &next
	return nil
}

// MarkFailed переводит правило в FAILED.
func (r *ScheduleRule) MarkFailed(reason string, now time.Time) {
	r.Status = ScheduleStatusFailed
	r.LastError = reason
	r.UpdatedAt = now
}

// Cancel отменяет правило. Уже выполненное или отменённое правило отменить нельзя.
func (r *ScheduleRule) Cancel(now time.Time) error {
	if r.Status == ScheduleStatusExecuted || r.Status == ScheduleStatusCancelled {
		return fmt.Errorf("%w: cannot cancel rule in status %s", ErrInvalidTransition, r.Status)
	}
	r.Status = ScheduleStatusCancelled
	r.UpdatedAt = now
	return nil
}
