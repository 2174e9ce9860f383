package domain

import (
	"slices"
	"strings"
	"time"
)

// DefaultIdempotencyTTL: срок жизни ключа, если клиент его не задал.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyStatus: стадия обработки запроса с Idempotency-Key.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone: заказ создан, ответ сохранён для повторной отдачи.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed: запрос отклонён, ответ с ошибкой тоже отдаётся повторно.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

func (s IdempotencyStatus) Valid() bool {
	return s == IdempotencyStatusProcessing || s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// IdempotencyRecord: занятый ключ, хеш тела первого запроса и, после завершения, его ответ.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	Status       IdempotencyStatus
	ResponseBody []byte
	HTTPStatus   int
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewIdempotencyClaim готовит запись processing. Ключ и хеш обрезаются, нулевой ttlAt
// заменяется на now + DefaultIdempotencyTTL.
func NewIdempotencyClaim(key, requestHash string, ttlAt, now time.Time) (IdempotencyRecord, error) {
	key, err := NormalizeIdempotencyKey(key)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if requestHash = strings.TrimSpace(requestHash); requestHash == "" {
		return IdempotencyRecord{}, ErrIdempotencyRequestHashRequired
	}
	if ttlAt.IsZero() {
		ttlAt = now.Add(DefaultIdempotencyTTL)
	}
	return IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      IdempotencyStatusProcessing,
		TTLAt:       ttlAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func NormalizeIdempotencyKey(key string) (string, error) {
	if key = strings.TrimSpace(key); key == "" {
		return "", ErrIdempotencyKeyRequired
	}
	return key, nil
}

// Completed: ответ сохранён и его можно отдать повторно.
func (r IdempotencyRecord) Completed() bool {
	return r.Status != IdempotencyStatusProcessing && r.HTTPStatus != 0
}

// Expired: TTL наступил к моменту now. Нулевой TTL не истекает.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.IsZero() && !r.TTLAt.After(now)
}

// ConflictWith: ошибка для запроса, который пытается занять уже живой ключ.
func (r IdempotencyRecord) ConflictWith(requestHash string) error {
	if r.RequestHash == requestHash {
		return ErrIdempotencyKeyAlreadyExists
	}
	return ErrIdempotencyHashMismatch
}

// Blocks возвращает nil, если к моменту claim.CreatedAt запись истекла и ключ можно занять заново.
func (r IdempotencyRecord) Blocks(claim IdempotencyRecord) error {
	if r.Expired(claim.CreatedAt) {
		return nil
	}
	return r.ConflictWith(claim.RequestHash)
}

// Settle фиксирует итог обработки. Тело ответа копируется.
func (r *IdempotencyRecord) Settle(status IdempotencyStatus, responseBody []byte, httpStatus int, now time.Time) {
	r.Status = status
	r.ResponseBody = slices.Clone(responseBody)
	r.HTTPStatus = httpStatus
	r.UpdatedAt = now
}
