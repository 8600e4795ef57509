package domain

// ScheduleStatus описывает состояние правила расписания.
//
// Жизненный цикл:
//
//	PENDING → ACTIVE → EXECUTED
//	        ↘        ↘ FAILED
//	          CANCELLED (явная отмена пользователем)
//
// RECURRING правило остаётся в ACTIVE между срабатываниями.
type ScheduleStatus string

const (
	// ScheduleStatusPending означает, что правило создано и ждёт своего времени.
	ScheduleStatusPending ScheduleStatus = "PENDING"

	// ScheduleStatusActive означает, что правило может срабатывать.
	ScheduleStatusActive ScheduleStatus = "ACTIVE"

	// ScheduleStatusExecuted ставится после единственного срабатывания ONE_TIME
	// или после исчерпания лимита RECURRING.
	ScheduleStatusExecuted ScheduleStatus = "EXECUTED"

	// ScheduleStatusCancelled ставится при явной отмене.
	ScheduleStatusCancelled ScheduleStatus = "CANCELLED"

	// ScheduleStatusFailed ставится при неустранимой ошибке выполнения.
	ScheduleStatusFailed ScheduleStatus = "FAILED"
)

// IsTerminal возвращает true, если из статуса больше нет переходов к выполнению.
func (s ScheduleStatus) IsTerminal() bool {
	switch s {
	case ScheduleStatusExecuted, ScheduleStatusCancelled, ScheduleStatusFailed:
		return true
	default:
		return false
	}
}

// IsExecutable возвращает true для статусов, в которых coordinator может запускать правило.
func (s ScheduleStatus) IsExecutable() bool {
	return s == ScheduleStatusPending || s == ScheduleStatusActive
}

// Valid проверяет, что статус известен.
func (s ScheduleStatus) Valid() bool {
	switch s {
	case ScheduleStatusPending, ScheduleStatusActive, ScheduleStatusExecuted,
		ScheduleStatusCancelled, ScheduleStatusFailed:
		return true
	default:
		return false
	}
}

// ScheduleKind определяет тип срабатывания.
type ScheduleKind string

const (
	// ScheduleKindOneTime срабатывает один раз в момент TriggerAt.
	ScheduleKindOneTime ScheduleKind = "ONE_TIME"

	// ScheduleKindRecurring срабатывает по cron-выражению.
	ScheduleKindRecurring ScheduleKind = "RECURRING"
)

// MessageStatus описывает состояние доставки сообщения.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusCancelled MessageStatus = "cancelled"
)
