package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/domain"
)

// ScheduleRepo репозиторий правил расписания.
type ScheduleRepo struct {
	pool *pgxpool.Pool
}

// NewScheduleRepo создаёт новый ScheduleRepo.
func NewScheduleRepo(pool *pgxpool.Pool) *ScheduleRepo {
	return &ScheduleRepo{pool: pool}
}

const scheduleColumns = `
	id, room_id, channel_id, sender_id, message_type, payload, kind,
	trigger_at, cron_expr, timezone, max_executions, execution_count, status,
	next_fire_at, last_executed_at, last_error, created_at, updated_at`

// Create сохраняет новое правило.
func (r *ScheduleRepo) Create(ctx context.Context, rule *domain.ScheduleRule) error {
	query := `
		INSERT INTO schedule_rules (
			id, room_id, channel_id, sender_id, message_type, payload, kind,
			trigger_at, cron_expr, timezone, max_executions, execution_count, status,
			next_fire_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.pool.Exec(ctx, query,
		rule.ID,
		rule.RoomID,
		nullString(rule.ChannelID),
		rule.SenderID,
		rule.MessageType,
		jsonOrEmpty(rule.Payload),
		rule.Kind,
		rule.TriggerAt,
		nullString(rule.CronExpr),
		timezoneOrUTC(rule.Timezone),
		rule.MaxExecutions,
		rule.ExecutionCount,
		rule.Status,
		rule.NextFireAt,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert schedule rule: %w", mapPgError(err))
	}
	return nil
}

// GetByID возвращает правило по ID.
func (r *ScheduleRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduleRule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedule_rules WHERE id = $1`
	return scanRule(r.pool.QueryRow(ctx, query, id))
}

// ScheduleFilter параметры фильтрации правил.
type ScheduleFilter struct {
	RoomID string
	Status domain.ScheduleStatus
	Limit  int
	Offset int
}

// List возвращает правила с фильтрацией, новые первыми.
func (r *ScheduleRepo) List(ctx context.Context, filter ScheduleFilter) ([]domain.ScheduleRule, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	query := `SELECT ` + scheduleColumns + `
		FROM schedule_rules
		WHERE ($1::text IS NULL OR room_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(filter.RoomID),
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list schedule rules: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

// ListDue возвращает правила, готовые к срабатыванию на момент now.
//
// Правило готово, если его статус PENDING или ACTIVE, слот next_fire_at
// наступил и лимит срабатываний (если задан) не исчерпан.
func (r *ScheduleRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduleRule, error) {
	query := `SELECT ` + scheduleColumns + `
		FROM schedule_rules
		WHERE status IN ('PENDING', 'ACTIVE')
		  AND next_fire_at IS NOT NULL
		  AND next_fire_at <= $1
		  AND (max_executions IS NULL OR execution_count < max_executions)
		ORDER BY next_fire_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due schedule rules: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

// GetForUpdate перечитывает правило под блокировкой строки.
//
// Используется coordinator'ом после захвата распределённой блокировки:
// NOWAIT не даёт прочитать строку, которую сейчас меняет другая транзакция
// (отмена через API, запись другого экземпляра). В этом случае
// возвращается ErrLocked.
func (r *ScheduleRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.ScheduleRule, error) {
	var rule *domain.ScheduleRule
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		query := `SELECT ` + scheduleColumns + ` FROM schedule_rules WHERE id = $1 FOR UPDATE NOWAIT`
		var err error
		rule, err = scanRule(tx.QueryRow(ctx, query, id))
		return err
	})
	if err != nil {
		return nil, mapPgError(err)
	}
	return rule, nil
}

// SaveExecution сохраняет результат успешного срабатывания.
//
// Обновление условное: оно проходит только если execution_count в БД всё
// ещё равен expectedCount и правило не перешло в терминальный статус.
// Иначе возвращается ErrConflict, и счётчик не растёт дважды за один слот.
func (r *ScheduleRepo) SaveExecution(ctx context.Context, rule *domain.ScheduleRule, expectedCount int) error {
	query := `
		UPDATE schedule_rules
		SET status = $2, execution_count = $3, next_fire_at = $4,
		    last_executed_at = $5, last_error = NULL, updated_at = $6
		WHERE id = $1
		  AND execution_count = $7
		  AND status IN ('PENDING', 'ACTIVE')
	`
	result, err := r.pool.Exec(ctx, query,
		rule.ID,
		rule.Status,
		rule.ExecutionCount,
		rule.NextFireAt,
		rule.LastExecutedAt,
		rule.UpdatedAt,
		expectedCount,
	)
	if err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// MarkFailed переводит правило в FAILED.
// Правило, уже покинувшее PENDING/ACTIVE, не трогается (ErrInvalidState).
func (r *ScheduleRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE schedule_rules
		SET status = 'FAILED', last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'ACTIVE')
	`, id, reason)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// RecordError сохраняет текст ошибки без смены статуса (для RECURRING).
func (r *ScheduleRepo) RecordError(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE schedule_rules SET last_error = $2, updated_at = NOW() WHERE id = $1
	`, id, reason)
	if err != nil {
		return fmt.Errorf("record error: %w", err)
	}
	return nil
}

// Cancel отменяет правило.
// EXECUTED и CANCELLED правила не отменяются (ErrInvalidState).
func (r *ScheduleRepo) Cancel(ctx context.Context, id uuid.UUID) (*domain.ScheduleRule, error) {
	query := `
		UPDATE schedule_rules
		SET status = 'CANCELLED', updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('EXECUTED', 'CANCELLED')
		RETURNING ` + scheduleColumns

	rule, err := scanRule(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, ErrNotFound) {
		// Либо правила нет, либо статус не позволяет отмену
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: schedule rule cannot be cancelled", ErrInvalidState)
	}
	return rule, err
}

// --- Helpers ---

func collectRules(rows pgx.Rows) ([]domain.ScheduleRule, error) {
	var rules []domain.ScheduleRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

func scanRule(row pgx.Row) (*domain.ScheduleRule, error) {
	var rule domain.ScheduleRule
	var channelID, cronExpr, lastError *string
	var payload []byte

	err := row.Scan(
		&rule.ID,
		&rule.RoomID,
		&channelID,
		&rule.SenderID,
		&rule.MessageType,
		&payload,
		&rule.Kind,
		&rule.TriggerAt,
		&cronExpr,
		&rule.Timezone,
		&rule.MaxExecutions,
		&rule.ExecutionCount,
		&rule.Status,
		&rule.NextFireAt,
		&rule.LastExecutedAt,
		&lastError,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan schedule rule: %w", err)
	}

	if channelID != nil {
		rule.ChannelID = *channelID
	}
	if cronExpr != nil {
		rule.CronExpr = *cronExpr
	}
	if lastError != nil {
		rule.LastError = *lastError
	}
	rule.Payload = payload

	return &rule, nil
}

// nullString возвращает nil для пустой строки.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func timezoneOrUTC(tz string) string {
	if tz == "" {
		return "UTC"
	}
	return tz
}

// jsonOrEmpty подставляет пустой объект вместо nil payload.
func jsonOrEmpty(b []byte) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}
