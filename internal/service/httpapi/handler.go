// Package httpapi — REST-интерфейс сервиса заказов.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

const (
	maxBodyBytes = 1 << 20
	// DefaultIdempotencyTTL — время хранения ответа по Idempotency-Key.
	DefaultIdempotencyTTL = 24 * time.Hour
)

// OrderService — операции оркестратора, доступные через HTTP.
type OrderService interface {
	CreateOrder(ctx context.Context, req orders.CreateOrderRequest) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, update orders.StatusUpdate) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID, reason string) (domain.Order, error)
	ListUserOrders(ctx context.Context, page, size int) (domain.OrderPage, error)
	Statistics(ctx context.Context) (domain.OrderStats, error)
	Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error)
}

// BreakerReporter сообщает имена незакрытых circuit breaker'ов.
type BreakerReporter interface {
	Open() []string
}

// Handler обслуживает /api/v1/orders.
type Handler struct {
	orders         OrderService
	idempotency    domain.IdempotencyRepository
	idempotencyTTL time.Duration
	breakers       BreakerReporter
	retry          orders.RetryConfig
	validate       *validator.Validate
	logger         *log.Entry
	now            func() time.Time
}

// Option настраивает Handler.
type Option func(*Handler)

// WithIdempotency включает обработку Idempotency-Key для создания заказа.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(h *Handler) {
		h.idempotency = repo
		if ttl > 0 {
			h.idempotencyTTL = ttl
		}
	}
}

// WithBreakers подключает состояние circuit breaker'ов к health-эндпоинту.
func WithBreakers(reporter BreakerReporter) Option {
	return func(h *Handler) { h.breakers = reporter }
}

// WithRetry задаёт повторы при конфликте версий.
func WithRetry(cfg orders.RetryConfig) Option {
	return func(h *Handler) { h.retry = cfg }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler создаёт HTTP-обработчик заказов.
func NewHandler(svc OrderService, opts ...Option) *Handler {
	h := &Handler{
		orders:         svc,
		idempotencyTTL: DefaultIdempotencyTTL,
		retry:          orders.DefaultRetryConfig(),
		validate:       newValidator(),
		logger:         log.WithField("component", "http-api"),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.retry.Logger == nil {
		h.retry.Logger = h.logger
	}
	return h
}

// CreateOrder обрабатывает POST /api/v1/orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, r, &ValidationError{Message: "request body is too large or unreadable"})
		return
	}

	var req CreateOrderRequest
	if err := decodeBody(body, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validateStruct(h.validate, req); err != nil {
		h.writeError(w, r, err)
		return
	}

	run := func(ctx context.Context) (int, []byte) {
		order, err := h.orders.CreateOrder(ctx, req.toCommand())
		if err != nil {
			status, resp := h.errorResponse(r, err)
			return status, mustJSON(resp)
		}
		return http.StatusCreated, mustJSON(toOrderResponse(order))
	}

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key == "" || h.idempotency == nil {
		status, payload := run(r.Context())
		writeRaw(w, status, payload)
		return
	}
	h.withIdempotency(w, r, key, body, run)
}

// ListOrders обрабатывает GET /api/v1/orders?page=&size=.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	page, pageErr := queryInt(r, "page", 0)
	size, sizeErr := queryInt(r, "size", domain.DefaultPageSize)
	if fields := joinFieldErrors(pageErr, sizeErr); fields != nil {
		h.writeError(w, r, &ValidationError{Message: "invalid paging parameters", Fields: fields})
		return
	}

	result, err := h.orders.ListUserOrders(r.Context(), page, size)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(result))
}

// Statistics обрабатывает GET /api/v1/orders/statistics.
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orders.Statistics(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsResponse(stats))
}

// GetOrder обрабатывает GET /api/v1/orders/{orderID}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// Timeline обрабатывает GET /api/v1/orders/{orderID}/timeline.
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	events, err := h.orders.Timeline(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimelineResponse(events))
}

// UpdateStatus обрабатывает PUT /api/v1/orders/{orderID}/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusUpdateRequest
	if err := h.readJSON(w, r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validateStruct(h.validate, req); err != nil {
		h.writeError(w, r, err)
		return
	}

	orderID := chi.URLParam(r, "orderID")
	update := orders.StatusUpdate{
		Status:         domain.OrderStatus(req.Status),
		Notes:          req.Notes,
		TrackingNumber: req.TrackingNumber,
	}

	var order domain.Order
	err := orders.RetryOnConflict(r.Context(), h.retry, func(ctx context.Context) error {
		var err error
		order, err = h.orders.UpdateOrderStatus(ctx, orderID, update)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// CancelOrder обрабатывает POST /api/v1/orders/{orderID}/cancel. Тело с причиной необязательно.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := h.readJSON(w, r, &req, true); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validateStruct(h.validate, req); err != nil {
		h.writeError(w, r, err)
		return
	}

	orderID := chi.URLParam(r, "orderID")
	var order domain.Order
	err := orders.RetryOnConflict(r.Context(), h.retry, func(ctx context.Context) error {
		var err error
		order, err = h.orders.CancelOrder(ctx, orderID, req.Reason)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// Health обрабатывает GET /api/v1/orders/health. Открытые breaker'ы переводят сервис в DEGRADED.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	resp := struct {
		Status       string   `json:"status"`
		Service      string   `json:"service"`
		Timestamp    string   `json:"timestamp"`
		OpenBreakers []string `json:"openBreakers,omitempty"`
	}{
		Status:    "UP",
		Service:   "order-service",
		Timestamp: h.now().UTC().Format(time.RFC3339),
	}
	if h.breakers != nil {
		if open := h.breakers.Open(); len(open) > 0 {
			resp.Status = "DEGRADED"
			resp.OpenBreakers = open
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request, dst interface{}, allowEmpty bool) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return &ValidationError{Message: "request body is too large or unreadable"}
	}
	return decodeBody(body, dst, allowEmpty)
}

func decodeBody(body []byte, dst interface{}, allowEmpty bool) error {
	if len(bytes.TrimSpace(body)) == 0 {
		if allowEmpty {
			return nil
		}
		return &ValidationError{Message: "request body is required"}
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &ValidationError{Message: "malformed JSON body: " + err.Error()}
	}
	if dec.More() {
		return &ValidationError{Message: "request body must contain a single JSON object"}
	}
	return nil
}

type fieldError struct {
	field   string
	message string
}

func (e *fieldError) Error() string { return e.field + " " + e.message }

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, &fieldError{field: name, message: "must be a non-negative integer"}
	}
	return v, nil
}

func joinFieldErrors(errs ...error) map[string]string {
	var fields map[string]string
	for _, err := range errs {
		var fe *fieldError
		if errors.As(err, &fe) {
			if fields == nil {
				fields = make(map[string]string)
			}
			fields[fe.field] = fe.message
		}
	}
	return fields
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"error":"` + CodeInternal + `"}`)
	}
	return data
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	writeRaw(w, status, mustJSON(v))
}

func writeRaw(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
