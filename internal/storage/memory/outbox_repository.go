package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const defaultPullLimit = 100

type outboxEntry struct {
	msg       domain.OutboxMessage
	status    domain.OutboxStatus
	attempts  int
	updatedAt time.Time
}

func (e *outboxEntry) pending() bool { return e.status == domain.OutboxStatusPending }

// OutboxRepository хранит outbox в памяти процесса. Сообщения лежат в порядке постановки.
type OutboxRepository struct {
	mu      sync.RWMutex
	entries []*outboxEntry
	byID    map[string]*outboxEntry
	now     func() time.Time
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		byID: make(map[string]*outboxEntry),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue сохраняет сообщение как pending. Пустой ID генерируется; повторный ID
// перезаписывает сообщение, не меняя его места в очереди.
func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.Payload = slices.Clone(msg.Payload)

	if existing, ok := r.byID[msg.ID]; ok {
		*existing = outboxEntry{msg: msg, status: domain.OutboxStatusPending, updatedAt: now}
		return msg, nil
	}
	entry := &outboxEntry{msg: msg, status: domain.OutboxStatusPending, updatedAt: now}
	r.entries = append(r.entries, entry)
	r.byID[msg.ID] = entry
	return msg, nil
}

func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultPullLimit
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pendingLocked(limit), nil
}

func (r *OutboxRepository) pendingLocked(limit int) []domain.OutboxMessage {
	batch := make([]domain.OutboxMessage, 0, min(limit, len(r.entries)))
	for _, entry := range r.entries {
		if len(batch) == limit {
			break
		}
		if entry.pending() {
			batch = append(batch, entry.msg)
		}
	}
	return batch
}

func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, entry := range r.entries {
		if !entry.pending() {
			continue
		}
		if stats.PendingCount == 0 || entry.msg.CreatedAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = entry.msg.CreatedAt
		}
		stats.PendingCount++
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.settle(id, domain.OutboxStatusSent)
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.settle(id, domain.OutboxStatusFailed)
}

// PurgeSent удаляет до limit отправленных сообщений, отмеченных раньше before; limit <= 0 снимает ограничение.
func (r *OutboxRepository) PurgeSent(_ context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	r.entries = slices.DeleteFunc(r.entries, func(entry *outboxEntry) bool {
		if limit > 0 && removed >= limit {
			return false
		}
		if entry.status != domain.OutboxStatusSent || !entry.updatedAt.Before(before) {
			return false
		}
		delete(r.byID, entry.msg.ID)
		removed++
		return true
	})
	return removed, nil
}

// AllPending: все pending-сообщения по порядку, для проверок в тестах.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pendingLocked(len(r.entries))
}

// Attempts: сколько раз сообщение отмечали sent или failed.
func (r *OutboxRepository) Attempts(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.byID[id]; ok {
		return entry.attempts
	}
	return 0
}

func (r *OutboxRepository) settle(id string, status domain.OutboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byID[id]
	if !ok {
		return domain.ErrOutboxMessageNotFound
	}
	entry.status = status
	entry.attempts++
	entry.updatedAt = r.now()
	return nil
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
