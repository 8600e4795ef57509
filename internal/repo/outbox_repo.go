package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/domain"
)

// OutboxRepo репозиторий outbox-событий для relay.
type OutboxRepo struct {
	pool *pgxpool.Pool
}

// NewOutboxRepo создаёт новый OutboxRepo.
func NewOutboxRepo(pool *pgxpool.Pool) *OutboxRepo {
	return &OutboxRepo{pool: pool}
}

// ListUnprocessed возвращает необработанные события в порядке создания.
// Обработанные строки в выборку не попадают.
func (r *OutboxRepo) ListUnprocessed(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, aggregate_id, event_type, payload, processed, created_at, processed_at
		FROM outbox_events
		WHERE processed = FALSE
		ORDER BY created_at ASC, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []domain.OutboxEvent
	for rows.Next() {
		var ev domain.OutboxEvent
		var payload []byte
		if err := rows.Scan(
			&ev.ID,
			&ev.AggregateID,
			&ev.EventType,
			&payload,
			&ev.Processed,
			&ev.CreatedAt,
			&ev.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		ev.Payload = payload
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MarkProcessed помечает событие опубликованным.
// Повторная пометка не считается ошибкой.
func (r *OutboxRepo) MarkProcessed(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE outbox_events
		SET processed = TRUE, processed_at = COALESCE(processed_at, NOW())
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUnprocessed возвращает размер очереди неопубликованных событий.
func (r *OutboxRepo) CountUnprocessed(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_events WHERE processed = FALSE`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unprocessed events: %w", err)
	}
	return n, nil
}

// PurgeProcessed удаляет обработанные события старше before.
func (r *OutboxRepo) PurgeProcessed(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM outbox_events WHERE processed = TRUE AND processed_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("purge processed events: %w", err)
	}
	return result.RowsAffected(), nil
}
