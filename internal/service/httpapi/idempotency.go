package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const (
	// HeaderIdempotencyKey: ключ идемпотентности клиента.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplayed выставляется, если ответ взят из кэша.
	HeaderIdempotentReplayed = "Idempotent-Replayed"

	maxIdempotencyKeyLength = 255
)

// createIdempotent выполняет создание заказа не более одного раза на ключ.
// Повтор с тем же телом получает сохранённый ответ, с другим телом: 409.
// Ответы 5xx не кэшируются: ключ освобождается, и повтор выполняется заново.
func (h *Handler) createIdempotent(w http.ResponseWriter, r *http.Request, key string, body []byte) {
	if len(key) > maxIdempotencyKeyLength {
		writeProblem(w, newProblem(http.StatusBadRequest, "Idempotency-Key must not exceed 255 characters"))
		return
	}

	ctx := r.Context()
	logger := h.logger.WithField("idempotency_key", key)

	record, err := h.idempotency.CreateProcessing(ctx, key, requestHash(r.Method, r.URL.Path, body), h.now().Add(h.idempotencyTTL))
	if err != nil {
		h.replay(w, r, record, err)
		return
	}

	resp := h.create(r, body)
	switch {
	case resp.status == http.StatusCreated:
		err = h.idempotency.MarkDone(ctx, key, resp.body, resp.status)
	case resp.status >= http.StatusInternalServerError:
		err = h.idempotency.Release(ctx, key)
	default:
		err = h.idempotency.MarkFailed(ctx, key, resp.body, resp.status)
	}
	if err != nil {
		logger.WithError(err).Warn("failed to store idempotent response")
	}

	resp.write(w)
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request, record domain.IdempotencyRecord, createErr error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		writeProblem(w, problemFromError(createErr))
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		if !record.Completed() {
			writeProblem(w, newProblem(http.StatusConflict, "A request with the same idempotency key is already being processed"))
			return
		}
		resp := response{status: record.HTTPStatus, body: record.ResponseBody}
		if record.HTTPStatus == http.StatusCreated {
			resp.location = cachedLocation(record.ResponseBody)
		}
		w.Header().Set(HeaderIdempotentReplayed, "true")
		resp.write(w)
	default:
		h.logger.WithError(createErr).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("failed to initialize idempotent request")
		writeProblem(w, newProblem(http.StatusInternalServerError, "An error occurred"))
	}
}

// requestHash связывает ключ с методом, путём и телом запроса.
func requestHash(method, path string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(method + " " + path + ":"))
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}

func cachedLocation(body []byte) string {
	var view struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &view); err != nil || view.ID == 0 {
		return ""
	}
	return orderLocation(view.ID)
}
