package domain

import (
	"errors"
	"strings"
)

var (
	// ErrValidation: общий маркер для ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidStatus возвращается для токена статуса вне перечисления.
	ErrInvalidStatus = errors.New("invalid order status")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrTotalOverflow: сумма позиций не помещается в int64 центов.
	ErrTotalOverflow = errors.New("order total overflows minor units")
	// ErrOrderNotPersisted: попытка сохранить или удалить заказ без идентификатора.
	ErrOrderNotPersisted = errors.New("order has no identity yet")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrOutboxMessageNotFound: сообщение outbox не найдено.
	ErrOutboxMessageNotFound = errors.New("outbox message not found")
	// ErrUnknownEvent: событие или сообщение неизвестного типа.
	ErrUnknownEvent = errors.New("unknown event type")
	// ErrIdempotencyKeyRequired: пустой Idempotency-Key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired: пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyHashMismatch: ключ уже использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyAlreadyExists: ключ уже зарегистрирован.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyKeyNotFound: ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// Тексты нарушений, общие для агрегата и валидатора запросов.
const (
	MsgNotBlank         = "This value should not be blank."
	MsgInvalidEmail     = "This value is not a valid email address."
	MsgItemsRequired    = "At least one item is required"
	MsgQuantityPositive = "Quantity must be greater than 0"
	MsgPricePositive    = "Price must be greater than 0"
	MsgTotalPositive    = "Total amount must be greater than 0"
	MsgTotalMismatch    = "Total amount does not match items sum"
	MsgTotalOverflow    = "Total amount exceeds the supported range"
)

// Violation: одно нарушение ограничения поля.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError собирает все нарушения запроса или агрегата.
type ValidationError struct {
	Violations []Violation
}

// NewValidationError возвращает nil, если нарушений нет.
func NewValidationError(violations []Violation) error {
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: append([]Violation(nil), violations...)}
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Is позволяет проверять ошибку через errors.Is(err, ErrValidation).
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// AsValidationError извлекает ValidationError из цепочки ошибок.
func AsValidationError(err error) (*ValidationError, bool) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr, true
	}
	return nil, false
}

// IsNotFound проверяет, что заказ не найден.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict проверяет, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
