package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/domain"
)

// MessageRepo репозиторий сообщений.
//
// Сообщение и его outbox-событие пишутся только вместе, в одной транзакции.
type MessageRepo struct {
	pool *pgxpool.Pool

	// afterMessageInsert вызывается внутри транзакции между вставкой
	// сообщения и вставкой события. Ошибка откатывает обе вставки.
	afterMessageInsert func(ctx context.Context, tx pgx.Tx) error
}

// MessageRepoOption настраивает MessageRepo.
type MessageRepoOption func(*MessageRepo)

// WithAfterMessageInsert задаёт хук между двумя вставками транзакции.
func WithAfterMessageInsert(fn func(ctx context.Context, tx pgx.Tx) error) MessageRepoOption {
	return func(r *MessageRepo) {
		r.afterMessageInsert = fn
	}
}

// NewMessageRepo создаёт новый MessageRepo.
func NewMessageRepo(pool *pgxpool.Pool, opts ...MessageRepoOption) *MessageRepo {
	r := &MessageRepo{pool: pool}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateWithOutbox атомарно сохраняет сообщение и событие о нём.
//
// Если у сообщения задан IdempotencyKey и сообщение с таким ключом уже есть,
// ничего не пишется и возвращается ErrAlreadyExists.
// После успешного коммита event.ID и event.CreatedAt заполнены из БД.
func (r *MessageRepo) CreateWithOutbox(ctx context.Context, msg *domain.Message, event *domain.OutboxEvent) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		// 1. Сообщение
		var insertedID uuid.UUID
		err := tx.QueryRow(ctx, `
			INSERT INTO messages (
				id, room_id, channel_id, sender_id, message_type, content, status,
				schedule_id, idempotency_key, sent_at, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (idempotency_key) DO NOTHING
			RETURNING id
		`,
			msg.ID,
			msg.RoomID,
			nullString(msg.ChannelID),
			msg.SenderID,
			msg.Type,
			jsonOrEmpty(msg.Content),
			msg.Status,
			msg.ScheduleID,
			nullString(msg.IdempotencyKey),
			msg.SentAt,
			msg.CreatedAt,
		).Scan(&insertedID)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: message with idempotency key %q", ErrAlreadyExists, msg.IdempotencyKey)
		}
		if err != nil {
			return fmt.Errorf("insert message: %w", mapPgError(err))
		}

		if r.afterMessageInsert != nil {
			if err := r.afterMessageInsert(ctx, tx); err != nil {
				return err
			}
		}

		// 2. Событие
		err = tx.QueryRow(ctx, `
			INSERT INTO outbox_events (aggregate_id, event_type, payload, processed, created_at)
			VALUES ($1, $2, $3, FALSE, $4)
			RETURNING id, created_at
		`,
			event.AggregateID,
			event.EventType,
			event.Payload,
			event.CreatedAt,
		).Scan(&event.ID, &event.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}

		return nil
	})
}

// GetByID возвращает сообщение по ID.
func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	query := `
		SELECT id, room_id, channel_id, sender_id, message_type, content, status,
		       schedule_id, idempotency_key, sent_at, created_at
		FROM messages
		WHERE id = $1
	`
	return scanMessage(r.pool.QueryRow(ctx, query, id))
}

// ListByRoom возвращает последние сообщения комнаты, новые первыми.
func (r *MessageRepo) ListByRoom(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, room_id, channel_id, sender_id, message_type, content, status,
		       schedule_id, idempotency_key, sent_at, created_at
		FROM messages
		WHERE room_id = $1
		ORDER BY sent_at DESC
		LIMIT $2
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var msg domain.Message
	var channelID, idempKey *string
	var content []byte

	err := row.Scan(
		&msg.ID,
		&msg.RoomID,
		&channelID,
		&msg.SenderID,
		&msg.Type,
		&content,
		&msg.Status,
		&msg.ScheduleID,
		&idempKey,
		&msg.SentAt,
		&msg.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}

	if channelID != nil {
		msg.ChannelID = *channelID
	}
	if idempKey != nil {
		msg.IdempotencyKey = *idempKey
	}
	msg.Content = content

	return &msg, nil
}
