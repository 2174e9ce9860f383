package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const (
	outboxTable      = "outbox_messages"
	defaultPullLimit = 100
)

type outboxRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewOutboxRepository: outbox в таблице outbox_messages. Столбец seq задаёт порядок выдачи,
// поэтому события одного заказа уходят в порядке записи.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{
		db:  store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	now := r.now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	payload := string(msg.Payload)
	if payload == "" {
		payload = "null"
	}

	insert := statements.Insert(outboxTable).SetMap(sq.Eq{
		"id":             msg.ID,
		"aggregate_type": msg.AggregateType,
		"aggregate_id":   msg.AggregateID,
		"event_type":     msg.EventType,
		"payload":        payload,
		"status":         string(domain.OutboxStatusPending),
		"created_at":     msg.CreatedAt,
		"updated_at":     now,
	})
	if _, err := execBuilt(ctx, r.db, insert); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message %s: %w", msg.EventType, err)
	}
	msg.Payload = []byte(payload)
	return msg, nil
}

func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultPullLimit
	}
	query, args, err := statements.
		Select("id", "aggregate_type", "aggregate_id", "event_type", "payload", "created_at").
		From(outboxTable).
		Where(sq.Eq{"status": string(domain.OutboxStatusPending)}).
		OrderBy("seq").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build pull pending: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pull pending outbox messages: %w", err)
	}
	defer rows.Close()

	batch := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		var (
			msg     domain.OutboxMessage
			payload string
		)
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &payload, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		msg.Payload = []byte(payload)
		msg.CreatedAt = msg.CreatedAt.UTC()
		batch = append(batch, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return batch, nil
}

// Stats: размер pending-очереди и время постановки её самого старого сообщения.
func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	query, args, err := statements.Select("COUNT(*)", "MIN(created_at)").
		From(outboxTable).
		Where(sq.Eq{"status": string(domain.OutboxStatusPending)}).
		ToSql()
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("build outbox stats: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("query outbox stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.settle(ctx, id, domain.OutboxStatusSent)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.settle(ctx, id, domain.OutboxStatusFailed)
}

// settle переводит сообщение в конечный статус и засчитывает попытку.
func (r *outboxRepository) settle(ctx context.Context, id string, status domain.OutboxStatus) error {
	update := statements.Update(outboxTable).
		Set("status", string(status)).
		Set("attempt_count", sq.Expr("attempt_count + 1")).
		Set("updated_at", r.now()).
		Where(sq.Eq{"id": id})

	res, err := execBuilt(ctx, r.db, update)
	if err != nil {
		return fmt.Errorf("mark outbox message %s %s: %w", id, status, err)
	}
	return expectOneRow(res, domain.ErrOutboxMessageNotFound)
}

// PurgeSent удаляет до limit отправленных сообщений, закрытых раньше before, в порядке постановки.
func (r *outboxRepository) PurgeSent(ctx context.Context, before time.Time, limit int) (int, error) {
	return batchDelete{
		table: outboxTable,
		key:   "id",
		where: sq.And{
			sq.Eq{"status": string(domain.OutboxStatusSent)},
			sq.Lt{"updated_at": before.UTC()},
		},
		orderBy: "seq",
		limit:   limit,
	}.run(ctx, r.db)
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
