package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// IdempotencyRepository: ключи идемпотентности для режима без postgres.
type IdempotencyRepository struct {
	mu   sync.Mutex
	keys map[string]*domain.IdempotencyRecord
	now  func() time.Time
}

func NewIdempotencyRepository() *IdempotencyRepository {
	return &IdempotencyRepository{
		keys: make(map[string]*domain.IdempotencyRecord),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateProcessing занимает ключ. Истёкшая запись перезаписывается, не дожидаясь очистки.
func (r *IdempotencyRepository) CreateProcessing(_ context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	claim, err := domain.NewIdempotencyClaim(key, requestHash, ttlAt, r.now())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if held := r.keys[claim.Key]; held != nil {
		if err := held.Blocks(claim); err != nil {
			return snapshot(held), err
		}
	}
	r.keys[claim.Key] = &claim
	return snapshot(&claim), nil
}

func (r *IdempotencyRepository) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.lookupLocked(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	return snapshot(record), nil
}

func (r *IdempotencyRepository) MarkDone(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.settle(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.settle(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

func (r *IdempotencyRepository) Release(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.lookupLocked(key)
	if err != nil {
		return err
	}
	delete(r.keys, record.Key)
	return nil
}

// DeleteExpired удаляет до limit истёкших к before записей, самые старые первыми.
// limit <= 0 снимает ограничение, нулевой before означает текущий момент.
func (r *IdempotencyRepository) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []*domain.IdempotencyRecord
	for _, record := range r.keys {
		if record.Expired(before) {
			expired = append(expired, record)
		}
	}
	slices.SortFunc(expired, func(a, b *domain.IdempotencyRecord) int { return a.TTLAt.Compare(b.TTLAt) })
	if limit > 0 {
		expired = expired[:min(limit, len(expired))]
	}
	for _, record := range expired {
		delete(r.keys, record.Key)
	}
	return len(expired), nil
}

func (r *IdempotencyRepository) settle(key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.lookupLocked(key)
	if err != nil {
		return err
	}
	record.Settle(status, responseBody, httpStatus, r.now())
	return nil
}

func (r *IdempotencyRepository) lookupLocked(key string) (*domain.IdempotencyRecord, error) {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return nil, err
	}
	record, ok := r.keys[key]
	if !ok {
		return nil, domain.ErrIdempotencyKeyNotFound
	}
	return record, nil
}

func snapshot(record *domain.IdempotencyRecord) domain.IdempotencyRecord {
	out := *record
	out.ResponseBody = slices.Clone(record.ResponseBody)
	return out
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
