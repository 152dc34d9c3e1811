package httpapi

import (
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// Коды ошибок в теле ответа.
const (
	CodeOrderNotFound           = "ORDER_NOT_FOUND"
	CodeCancellationFailed      = "ORDER_CANCELLATION_FAILED"
	CodeInvalidOrderStatus      = "INVALID_ORDER_STATUS"
	CodeProductNotAvailable     = "PRODUCT_NOT_AVAILABLE"
	CodeProductValidationFailed = "PRODUCT_VALIDATION_FAILED"
	CodeOrderCreationFailed     = "ORDER_CREATION_FAILED"
	CodeUnauthorizedAccess      = "UNAUTHORIZED_ORDER_ACCESS"
	CodeAccessDenied            = "ACCESS_DENIED"
	CodeAuthenticationFailed    = "AUTHENTICATION_FAILED"
	CodeServiceUnavailable      = "SERVICE_UNAVAILABLE"
	CodeVersionConflict         = "ORDER_VERSION_CONFLICT"
	CodeValidationFailed        = "VALIDATION_FAILED"
	CodeIdempotencyKeyReused    = "IDEMPOTENCY_KEY_REUSED"
	CodeRequestInProgress       = "REQUEST_IN_PROGRESS"
	CodeInternal                = "INTERNAL_SERVER_ERROR"
)

const internalErrorMessage = "an unexpected error occurred"

// ErrorResponse — единый формат ошибки.
type ErrorResponse struct {
	Timestamp        time.Time         `json:"timestamp"`
	Status           int               `json:"status"`
	Error            string            `json:"error"`
	Message          string            `json:"message"`
	Path             string            `json:"path"`
	ValidationErrors map[string]string `json:"validationErrors,omitempty"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// Порядок важен: ErrOrderNotCancellable оборачивает ErrInvalidStatusTransition,
// ErrProductValidationFailed может оборачивать ErrServiceUnavailable.
var errorMappings = []errorMapping{
	{domain.ErrOrderNotFound, http.StatusNotFound, CodeOrderNotFound},
	{domain.ErrOrderNotCancellable, http.StatusBadRequest, CodeCancellationFailed},
	{domain.ErrInvalidStatusTransition, http.StatusBadRequest, CodeInvalidOrderStatus},
	{domain.ErrProductNotAvailable, http.StatusBadRequest, CodeProductNotAvailable},
	{domain.ErrProductValidationFailed, http.StatusBadRequest, CodeProductValidationFailed},
	{domain.ErrOrderCreationFailed, http.StatusBadRequest, CodeOrderCreationFailed},
	{domain.ErrUnauthorized, http.StatusForbidden, CodeUnauthorizedAccess},
	{domain.ErrAccessDenied, http.StatusForbidden, CodeAccessDenied},
	{domain.ErrUnauthenticated, http.StatusUnauthorized, CodeAuthenticationFailed},
	{domain.ErrServiceUnavailable, http.StatusServiceUnavailable, CodeServiceUnavailable},
	{domain.ErrOrderVersionConflict, http.StatusConflict, CodeVersionConflict},
}

// classify возвращает HTTP-статус и код ошибки. Неизвестные ошибки дают 500.
func classify(err error) (int, string) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, CodeValidationFailed
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

func (h *Handler) errorResponse(r *http.Request, err error) (int, ErrorResponse) {
	status, code := classify(err)
	resp := ErrorResponse{
		Timestamp: h.now().UTC(),
		Status:    status,
		Error:     code,
		Message:   err.Error(),
		Path:      r.URL.Path,
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		resp.Message = validationErr.Message
		resp.ValidationErrors = validationErr.Fields
	}

	entry := h.logger.WithFields(log.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"code":   code,
	}).WithError(err)
	switch {
	case status >= http.StatusInternalServerError:
		if status == http.StatusInternalServerError {
			resp.Message = internalErrorMessage
		} else {
			resp.Message = "a required service is temporarily unavailable"
		}
		entry.Error("request failed")
	default:
		entry.Debug("request rejected")
	}
	return status, resp
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := h.errorResponse(r, err)
	writeJSON(w, status, resp)
}

// writeProblem отвечает ошибкой, не относящейся к доменной таксономии.
func (h *Handler) writeProblem(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Timestamp: h.now().UTC(),
		Status:    status,
		Error:     code,
		Message:   message,
		Path:      r.URL.Path,
	})
}
