package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const (
	contentTypeJSON    = "application/json"
	contentTypeProblem = "application/problem+json"
	problemType        = "https://tools.ietf.org/html/rfc2616#section-10"
)

// Problem: тело ошибки в формате RFC 7807.
type Problem struct {
	Type       string             `json:"type"`
	Title      string             `json:"title"`
	Status     int                `json:"status"`
	Detail     string             `json:"detail,omitempty"`
	Violations []domain.Violation `json:"violations,omitempty"`
}

func newProblem(status int, detail string) Problem {
	return Problem{
		Type:   problemType,
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
}

// problemFromError сопоставляет доменные ошибки HTTP-статусам.
func problemFromError(err error) Problem {
	if vErr, ok := domain.AsValidationError(err); ok {
		p := newProblem(http.StatusUnprocessableEntity, vErr.Error())
		p.Violations = vErr.Violations
		return p
	}

	switch {
	case errors.Is(err, domain.ErrInvalidStatus):
		return newProblem(http.StatusBadRequest, err.Error())
	case domain.IsNotFound(err):
		return newProblem(http.StatusNotFound, "Order not found")
	case domain.IsVersionConflict(err):
		return newProblem(http.StatusConflict, "Order was modified concurrently, retry the request")
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return newProblem(http.StatusConflict, "Idempotency key is already used with a different request payload")
	default:
		return newProblem(http.StatusInternalServerError, "An error occurred")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}

func writeProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", contentTypeProblem)
	w.WriteHeader(p.Status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		log.WithError(err).Warn("failed to encode problem response")
	}
}
