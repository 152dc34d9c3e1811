package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
	"github.com/vladislavdragonenkov/orders/internal/service/breaker"
	"github.com/vladislavdragonenkov/orders/internal/service/catalog"
	"github.com/vladislavdragonenkov/orders/internal/service/gateway"
	"github.com/vladislavdragonenkov/orders/internal/service/httpapi"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
	"github.com/vladislavdragonenkov/orders/internal/service/outbox"
	"github.com/vladislavdragonenkov/orders/internal/service/users"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
)

// OrderLifecycleTestSuite проверяет жизненный цикл заказа через REST API
// на хранилище в памяти.
type OrderLifecycleTestSuite struct {
	suite.Suite

	server   *httptest.Server
	repo     domain.OrderRepository
	outbox   *memory.OutboxRepository
	catalog  *catalog.MockClient
	users    *users.MockClient
	breakers *breaker.Registry
	orders   *orders.Orchestrator
	logger   *log.Entry
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	s.logger = baseLogger.WithField("component", "integration-test")

	s.repo = memory.NewOrderRepository()
	s.outbox = memory.NewOutboxRepository()
	timeline := memory.NewTimelineRepository()

	s.catalog = catalog.NewMockClient()
	s.catalog.Put(domain.Product{
		ID: "P1", Name: "Laptop", SKU: "LP-1", UnitPrice: decimal.RequireFromString("1999.00"), Currency: "USD",
	}, 10)
	s.catalog.Put(domain.Product{
		ID: "P2", Name: "Wireless mouse", SKU: "MS-2", UnitPrice: decimal.RequireFromString("29.99"), Currency: "USD",
	}, 50)
	s.catalog.Put(domain.Product{
		ID: "P3", Name: "Sold out dock", SKU: "DK-3", UnitPrice: decimal.RequireFromString("120.00"), Currency: "USD",
	}, 0)

	s.users = users.NewMockClient()
	s.users.Put(domain.User{ID: "customer-1", Name: "Jane Doe", Email: "jane@example.com", Active: true})
	s.users.Put(domain.User{ID: "customer-2", Name: "John Roe", Email: "john@example.com", Active: true})

	m := metrics.NewOrderMetrics()
	s.breakers = breaker.NewRegistry(breaker.Settings{
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
		OnStateChange:    m.SetBreakerState,
		Logger:           s.logger,
	})

	s.orders = orders.NewOrchestrator(s.repo,
		gateway.NewProducts(s.catalog, s.breakers, gateway.WithLogger(s.logger), gateway.WithFallbackRecorder(m)),
		gateway.NewUsers(s.users, s.breakers, gateway.WithLogger(s.logger), gateway.WithFallbackRecorder(m)),
		orders.WithLogger(s.logger),
		orders.WithMetrics(m),
		orders.WithOutbox(s.outbox),
		orders.WithTimeline(timeline),
	)

	handler := httpapi.NewHandler(s.orders,
		httpapi.WithIdempotency(memory.NewIdempotencyRepository(), time.Hour),
		httpapi.WithBreakers(s.breakers),
		httpapi.WithLogger(s.logger),
	)
	s.server = httptest.NewServer(httpapi.NewRouter(handler, s.logger))
}

func (s *OrderLifecycleTestSuite) TearDownTest() {
	s.server.Close()
}

func (s *OrderLifecycleTestSuite) do(method, path, userID string, body any, headers map[string]string) *http.Response {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		s.Require().NoError(err)
	}

	req, err := http.NewRequest(method, s.server.URL+path, bytes.NewReader(payload))
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(httpapi.HeaderUserID, userID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	return resp
}

func (s *OrderLifecycleTestSuite) decode(resp *http.Response, dst any) {
	defer resp.Body.Close()
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(dst))
}

var staffHeaders = map[string]string{httpapi.HeaderUserRoles: domain.RoleStaff}

func createRequest(items ...httpapi.OrderItemRequest) httpapi.CreateOrderRequest {
	return httpapi.CreateOrderRequest{
		Items: items,
		ShippingAddress: &httpapi.AddressRequest{
			Line1:      "1 Market Street",
			City:       "Springfield",
			State:      "IL",
			PostalCode: "62701",
			Country:    "US",
		},
		ShippingCost: decimal.RequireFromString("15.00"),
		Currency:     "USD",
	}
}

func (s *OrderLifecycleTestSuite) createOrder(userID string, req httpapi.CreateOrderRequest) httpapi.OrderResponse {
	resp := s.do(http.MethodPost, "/api/v1/orders", userID, req, nil)
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	var order httpapi.OrderResponse
	s.decode(resp, &order)
	return order
}

func (s *OrderLifecycleTestSuite) TestSuccessfulOrderLifecycle() {
	order := s.createOrder("customer-1", createRequest(
		httpapi.OrderItemRequest{ProductID: "P1", Quantity: 1},
		httpapi.OrderItemRequest{ProductID: "P2", Quantity: 2},
	))

	s.Equal("CREATED", order.Status)
	s.Equal("customer-1", order.UserID)
	s.Equal("Jane Doe", order.CustomerName)
	// 1999.00 + 2*29.99 = 2058.98; налог 205.90; доставка 15.00.
	s.Equal("2058.98", order.Subtotal)
	s.Equal("205.90", order.TaxAmount)
	s.Equal("2279.88", order.TotalAmount)
	s.Equal(3, order.ItemCount)
	s.True(order.CanBeCancelled)

	resp := s.do(http.MethodPut, "/api/v1/orders/"+order.ID+"/status", "staff-1",
		httpapi.StatusUpdateRequest{Status: "PAID"}, staffHeaders)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var paid httpapi.OrderResponse
	s.decode(resp, &paid)
	s.Equal("PAID", paid.Status)
	s.NotNil(paid.PaidAt)
	s.False(paid.CanBeCancelled)

	resp = s.do(http.MethodPut, "/api/v1/orders/"+order.ID+"/status", "staff-1",
		httpapi.StatusUpdateRequest{Status: "SHIPPED", TrackingNumber: "TRK-1"}, staffHeaders)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var shipped httpapi.OrderResponse
	s.decode(resp, &shipped)
	s.Equal("SHIPPED", shipped.Status)
	s.Equal("TRK-1", shipped.TrackingNumber)
	s.Greater(shipped.Version, order.Version)

	resp = s.do(http.MethodGet, "/api/v1/orders/"+order.ID+"/timeline", "customer-1", nil, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var timeline []httpapi.TimelineEventResponse
	s.decode(resp, &timeline)
	s.Require().Len(timeline, 3)
	s.Equal(domain.EventOrderCreated, timeline[0].Type)
	s.Equal("SHIPPED", timeline[2].Status)
}

func (s *OrderLifecycleTestSuite) TestStatusChangeRequiresStaff() {
	order := s.createOrder("customer-1", createRequest(httpapi.OrderItemRequest{ProductID: "P2", Quantity: 1}))

	resp := s.do(http.MethodPut, "/api/v1/orders/"+order.ID+"/status", "customer-1",
		httpapi.StatusUpdateRequest{Status: "PAID"}, nil)
	s.Equal(http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodPut, "/api/v1/orders/"+order.ID+"/status", "staff-1",
		httpapi.StatusUpdateRequest{Status: "SHIPPED"}, staffHeaders)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	var problem httpapi.ErrorResponse
	s.decode(resp, &problem)
	s.Equal(httpapi.CodeInvalidOrderStatus, problem.Error)
}

func (s *OrderLifecycleTestSuite) TestCancelOnlyFromCreated() {
	order := s.createOrder("customer-1", createRequest(httpapi.OrderItemRequest{ProductID: "P2", Quantity: 1}))

	resp := s.do(http.MethodPost, "/api/v1/orders/"+order.ID+"/cancel", "customer-1",
		httpapi.CancelOrderRequest{Reason: "changed my mind"}, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var cancelled httpapi.OrderResponse
	s.decode(resp, &cancelled)
	s.Equal("CANCELLED", cancelled.Status)
	s.NotNil(cancelled.CancelledAt)

	resp = s.do(http.MethodPut, "/api/v1/orders/"+order.ID+"/status", "staff-1",
		httpapi.StatusUpdateRequest{Status: "PAID"}, staffHeaders)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	paid := s.createOrder("customer-1", createRequest(httpapi.OrderItemRequest{ProductID: "P2", Quantity: 1}))
	resp = s.do(http.MethodPut, "/api/v1/orders/"+paid.ID+"/status", "staff-1",
		httpapi.StatusUpdateRequest{Status: "PAID"}, staffHeaders)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodPost, "/api/v1/orders/"+paid.ID+"/cancel", "customer-1", nil, nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	var problem httpapi.ErrorResponse
	s.decode(resp, &problem)
	s.Equal(httpapi.CodeCancellationFailed, problem.Error)
}

func (s *OrderLifecycleTestSuite) TestOwnershipIsEnforced() {
	order := s.createOrder("customer-1", createRequest(httpapi.OrderItemRequest{ProductID: "P2", Quantity: 1}))

	resp := s.do(http.MethodGet, "/api/v1/orders/"+order.ID, "customer-2", nil, nil)
	s.Equal(http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/api/v1/orders/"+order.ID, "", nil, nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/api/v1/orders?page=0&size=10", "customer-2", nil, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var page httpapi.OrderPageResponse
	s.decode(resp, &page)
	s.Empty(page.Content)
}

func (s *OrderLifecycleTestSuite) TestProductValidation() {
	resp := s.do(http.MethodPost, "/api/v1/orders", "customer-1",
		createRequest(httpapi.OrderItemRequest{ProductID: "P3", Quantity: 1}), nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	var problem httpapi.ErrorResponse
	s.decode(resp, &problem)
	s.Equal(httpapi.CodeProductNotAvailable, problem.Error)

	resp = s.do(http.MethodPost, "/api/v1/orders", "customer-1",
		createRequest(httpapi.OrderItemRequest{ProductID: "missing", Quantity: 1}), nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	invalid := createRequest(httpapi.OrderItemRequest{ProductID: "P1", Quantity: 0})
	invalid.Currency = "usd"
	resp = s.do(http.MethodPost, "/api/v1/orders", "customer-1", invalid, nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.decode(resp, &problem)
	s.NotEmpty(problem.ValidationErrors)

	stats, err := s.outbox.Stats(context.Background())
	s.Require().NoError(err)
	s.Zero(stats.PendingCount, "rejected orders must not produce events")
}

func (s *OrderLifecycleTestSuite) TestIdempotentCreate() {
	req := createRequest(httpapi.OrderItemRequest{ProductID: "P1", Quantity: 1})
	headers := map[string]string{httpapi.HeaderIdempotencyKey: "create-1"}

	first := s.do(http.MethodPost, "/api/v1/orders", "customer-1", req, headers)
	s.Require().Equal(http.StatusCreated, first.StatusCode)
	var created httpapi.OrderResponse
	s.decode(first, &created)

	second := s.do(http.MethodPost, "/api/v1/orders", "customer-1", req, headers)
	s.Require().Equal(http.StatusCreated, second.StatusCode)
	s.Equal("true", second.Header.Get(httpapi.HeaderIdempotentReplay))
	var replayed httpapi.OrderResponse
	s.decode(second, &replayed)
	s.Equal(created.ID, replayed.ID)

	req.Items[0].Quantity = 2
	reused := s.do(http.MethodPost, "/api/v1/orders", "customer-1", req, headers)
	s.Equal(http.StatusUnprocessableEntity, reused.StatusCode)
	var problem httpapi.ErrorResponse
	s.decode(reused, &problem)
	s.Equal(httpapi.CodeIdempotencyKeyReused, problem.Error)

	count, err := s.repo.CountByUser(context.Background(), "customer-1")
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *OrderLifecycleTestSuite) TestOutboxDeliversEventsToKafka() {
	order := s.createOrder("customer-1", createRequest(httpapi.OrderItemRequest{ProductID: "P2", Quantity: 3}))
	resp := s.do(http.MethodPost, "/api/v1/orders/"+order.ID+"/cancel", "customer-1", nil, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	sync := mocks.NewSyncProducer(s.T(), nil)
	var delivered []kafka.Envelope
	for range 2 {
		sync.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
			if msg.Topic != kafka.TopicOrderEvents {
				return errors.New("unexpected topic " + msg.Topic)
			}
			raw, err := msg.Value.Encode()
			if err != nil {
				return err
			}
			var envelope kafka.Envelope
			if err := json.Unmarshal(raw, &envelope); err != nil {
				return err
			}
			delivered = append(delivered, envelope)
			return nil
		})
	}
	producer := kafka.NewProducerFromSync(sync, s.logger)
	defer func() { s.NoError(producer.Close()) }()

	worker := outbox.NewWorker(s.outbox,
		kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents),
		kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue),
		outbox.Config{BatchSize: 10, MaxAttempts: 1},
		s.logger,
	)
	s.Equal(2, worker.ProcessOnce(context.Background()))

	s.Require().Len(delivered, 2)
	s.Equal(domain.EventOrderCreated, delivered[0].EventType)
	s.Equal(domain.EventOrderCancelled, delivered[1].EventType)
	for _, envelope := range delivered {
		s.Equal(order.ID, envelope.AggregateID)
	}

	stats, err := s.outbox.Stats(context.Background())
	s.Require().NoError(err)
	s.Zero(stats.PendingCount)
}

func (s *OrderLifecycleTestSuite) TestPaymentEventMarksOrderPaid() {
	order := s.createOrder("customer-1", createRequest(httpapi.OrderItemRequest{ProductID: "P1", Quantity: 1}))

	handler := kafka.NewPaymentHandler(s.orders, orders.DefaultRetryConfig(), s.logger)
	payload, err := json.Marshal(kafka.PaymentEvent{
		EventType:      kafka.PaymentEventCompleted,
		OrderID:        order.ID,
		PaymentOrderID: "pay-42",
		OccurredAt:     time.Now().UTC(),
	})
	s.Require().NoError(err)

	message := &sarama.ConsumerMessage{Topic: kafka.TopicPaymentEvents, Key: []byte(order.ID), Value: payload}
	s.Require().NoError(handler(context.Background(), message))
	// Повторная доставка того же события ничего не меняет.
	s.Require().NoError(handler(context.Background(), message))

	resp := s.do(http.MethodGet, "/api/v1/orders/"+order.ID, "customer-1", nil, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var paid httpapi.OrderResponse
	s.decode(resp, &paid)
	s.Equal("PAID", paid.Status)
	s.Equal("pay-42", paid.PaymentOrderID)

	unknown, err := json.Marshal(kafka.PaymentEvent{EventType: kafka.PaymentEventCompleted, OrderID: "missing"})
	s.Require().NoError(err)
	err = handler(context.Background(), &sarama.ConsumerMessage{Value: unknown})
	s.ErrorIs(err, kafka.ErrPermanent)
}

func (s *OrderLifecycleTestSuite) TestCatalogOutageOpensBreaker() {
	outage := errors.New("catalog: connection refused")
	s.catalog.SetErrors(outage, outage, outage)

	for range 3 {
		resp := s.do(http.MethodPost, "/api/v1/orders", "customer-1",
			createRequest(httpapi.OrderItemRequest{ProductID: "P1", Quantity: 1}), nil)
		s.GreaterOrEqual(resp.StatusCode, http.StatusBadRequest)
		resp.Body.Close()
	}
	s.NotEmpty(s.breakers.Open())

	resp := s.do(http.MethodGet, "/api/v1/orders/health", "", nil, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var health struct {
		Status       string   `json:"status"`
		OpenBreakers []string `json:"openBreakers"`
	}
	s.decode(resp, &health)
	s.Equal("DEGRADED", health.Status)
	s.NotEmpty(health.OpenBreakers)
}

func (s *OrderLifecycleTestSuite) TestStatistics() {
	s.createOrder("customer-1", createRequest(httpapi.OrderItemRequest{ProductID: "P2", Quantity: 1}))
	second := s.createOrder("customer-1", createRequest(httpapi.OrderItemRequest{ProductID: "P2", Quantity: 2}))
	resp := s.do(http.MethodPut, "/api/v1/orders/"+second.ID+"/status", "staff-1",
		httpapi.StatusUpdateRequest{Status: "PAID"}, staffHeaders)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/api/v1/orders/statistics", "customer-1", nil, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var stats httpapi.OrderStatsResponse
	s.decode(resp, &stats)
	assert.Equal(s.T(), 2, stats.TotalOrders)
	assert.Equal(s.T(), 1, stats.ByStatus["CREATED"])
	assert.Equal(s.T(), 1, stats.ByStatus["PAID"])
}

func TestOrderLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("integration suite skipped in short mode")
	}
	require.NotPanics(t, func() { suite.Run(t, new(OrderLifecycleTestSuite)) })
}
