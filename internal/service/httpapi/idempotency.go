package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// HeaderIdempotencyKey — ключ идемпотентности запроса на создание заказа.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotentReplay выставляется, когда ответ взят из сохранённого результата.
const HeaderIdempotentReplay = "Idempotent-Replayed"

// withIdempotency выполняет run не более одного раза на ключ и запоминает ответ.
// Один и тот же ключ с другим телом или от другого пользователя даёт 422.
func (h *Handler) withIdempotency(w http.ResponseWriter, r *http.Request, key string, body []byte, run func(context.Context) (int, []byte)) {
	logger := h.logger.WithField("idempotency_key", key)
	reqHash := requestHash(r, body)

	record, err := h.idempotency.CreateProcessing(r.Context(), key, reqHash, h.now().UTC().Add(h.idempotencyTTL))
	if err != nil {
		h.replay(w, r, logger, err, record)
		return
	}

	status, payload := run(r.Context())

	// Сохранение ответа не должно зависеть от отмены клиентского запроса.
	storeCtx := context.WithoutCancel(r.Context())
	if status < http.StatusBadRequest {
		err = h.idempotency.MarkDone(storeCtx, key, payload, status)
	} else {
		err = h.idempotency.MarkFailed(storeCtx, key, payload, status)
	}
	if err != nil {
		logger.WithError(err).Warn("failed to store idempotent response")
	}

	writeRaw(w, status, payload)
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request, logger *log.Entry, createErr error, record domain.IdempotencyRecord) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		h.writeProblem(w, r, http.StatusUnprocessableEntity, CodeIdempotencyKeyReused,
			"idempotency key is already used with a different request")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			if len(record.ResponseBody) == 0 || record.HTTPStatus == 0 {
				logger.Warn("idempotency record has no stored response")
				h.writeProblem(w, r, http.StatusInternalServerError, CodeInternal, internalErrorMessage)
				return
			}
			w.Header().Set(HeaderIdempotentReplay, "true")
			writeRaw(w, record.HTTPStatus, record.ResponseBody)
		case domain.IdempotencyStatusProcessing:
			h.writeProblem(w, r, http.StatusConflict, CodeRequestInProgress,
				"request with the same idempotency key is still processing")
		default:
			logger.WithField("status", record.Status).Warn("unknown idempotency record status")
			h.writeProblem(w, r, http.StatusInternalServerError, CodeInternal, internalErrorMessage)
		}
	default:
		h.writeError(w, r, createErr)
	}
}

// requestHash связывает ключ с пользователем, маршрутом и телом запроса.
func requestHash(r *http.Request, body []byte) string {
	principal, _ := domain.PrincipalFromContext(r.Context())

	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{':'})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{':'})
	h.Write([]byte(principal.UserID))
	h.Write([]byte{':'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
