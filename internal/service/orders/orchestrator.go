// Package orders реализует сценарии жизненного цикла заказа поверх агрегата,
// репозитория и защищённых внешних сервисов.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
)

// ItemRequest — позиция создаваемого заказа.
type ItemRequest struct {
	ProductID string
	Quantity  int
}

// CreateOrderRequest — данные для создания заказа.
type CreateOrderRequest struct {
	CustomerName    string
	CustomerEmail   string
	Items           []ItemRequest
	ShippingAddress *domain.Address
	// BillingAddress по умолчанию совпадает с адресом доставки.
	BillingAddress *domain.Address
	ShippingCost   decimal.Decimal
	Currency       string
	Notes          string
}

// StatusUpdate — запрос на смену статуса. TrackingNumber учитывается только для SHIPPED.
type StatusUpdate struct {
	Status         domain.OrderStatus
	Notes          string
	TrackingNumber string
}

// Orchestrator координирует создание и изменение заказов.
type Orchestrator struct {
	orders     domain.OrderRepository
	outbox     domain.OutboxRepository
	timeline   domain.TimelineRepository
	products   domain.ProductCatalog
	users      domain.UserDirectory
	logger     *log.Entry
	metrics    *metrics.OrderMetrics
	now        func() time.Time
	stockCheck bool
}

// Option настраивает Orchestrator.
type Option func(*Orchestrator)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithOutbox включает запись событий в transactional outbox.
func WithOutbox(repo domain.OutboxRepository) Option {
	return func(o *Orchestrator) { o.outbox = repo }
}

// WithTimeline включает запись истории заказа.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(o *Orchestrator) { o.timeline = repo }
}

// WithStockCheck требует, чтобы остаток товара покрывал заказанное количество.
func WithStockCheck(enabled bool) Option {
	return func(o *Orchestrator) { o.stockCheck = enabled }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator создаёт оркестратор заказов.
func NewOrchestrator(orders domain.OrderRepository, products domain.ProductCatalog, users domain.UserDirectory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		orders:   orders,
		products: products,
		users:    users,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = log.WithField("component", "order-orchestrator")
	}
	return o
}

// CreateOrder собирает заказ из данных каталога и сохраняет его одной записью.
// Ошибки аутентификации, доступа и проверки товаров возвращаются как есть,
// остальные оборачиваются в ErrOrderCreationFailed с сохранением причины.
func (o *Orchestrator) CreateOrder(ctx context.Context, req CreateOrderRequest) (domain.Order, error) {
	started := time.Now()

	order, err := o.createOrder(ctx, req)
	if err != nil {
		o.metrics.RecordCreationFailed(failureReason(err), time.Since(started))
		o.logger.WithError(err).Warn("order creation failed")
		if passThroughCreationError(err) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("%w: %w", domain.ErrOrderCreationFailed, err)
	}

	o.metrics.RecordOrderCreated(time.Since(started))
	o.emit(ctx, order, domain.EventOrderCreated, "")

	o.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"user_id":  order.UserID,
		"items":    len(order.Items),
		"total":    order.TotalAmount.StringFixed(2),
	}).Info("order created")
	return order, nil
}

func (o *Orchestrator) createOrder(ctx context.Context, req CreateOrderRequest) (domain.Order, error) {
	userID, err := o.users.CurrentUserID(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	if !o.users.Validate(ctx, userID) {
		return domain.Order{}, fmt.Errorf("%w: user %s is not active", domain.ErrUnauthorized, userID)
	}

	if err := validateCreateRequest(req); err != nil {
		return domain.Order{}, err
	}

	name, email := o.resolveCustomer(ctx, userID, req.CustomerName, req.CustomerEmail)

	for _, item := range req.Items {
		if !o.products.Exists(ctx, item.ProductID) {
			return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrProductNotAvailable, item.ProductID)
		}
		if o.stockCheck {
			if stock := o.products.Stock(ctx, item.ProductID); stock < item.Quantity {
				return domain.Order{}, fmt.Errorf("%w: %s has %d in stock, %d requested",
					domain.ErrProductNotAvailable, item.ProductID, stock, item.Quantity)
			}
		}
	}

	now := o.now()
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	order := domain.NewOrder(domain.OrderDraft{
		UserID:          userID,
		CustomerName:    name,
		CustomerEmail:   email,
		Currency:        currency,
		ShippingCost:    req.ShippingCost,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Notes:           strings.TrimSpace(req.Notes),
	}, now)

	for _, item := range req.Items {
		product, err := o.products.Fetch(ctx, item.ProductID)
		if err != nil {
			return domain.Order{}, fmt.Errorf("%w: %s: %w", domain.ErrProductValidationFailed, item.ProductID, err)
		}
		if !strings.EqualFold(product.Currency, currency) {
			return domain.Order{}, fmt.Errorf("%w: %s is priced in %s, order currency is %s",
				domain.ErrProductValidationFailed, item.ProductID, product.Currency, currency)
		}
		if err := order.AddItem(domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: product.Name,
			ProductSKU:  product.SKU,
			Currency:    currency,
			Quantity:    item.Quantity,
			UnitPrice:   product.UnitPrice,
		}, now); err != nil {
			return domain.Order{}, fmt.Errorf("%w: %s: %w", domain.ErrProductValidationFailed, item.ProductID, err)
		}
	}

	if err := o.orders.Create(ctx, *order); err != nil {
		return domain.Order{}, fmt.Errorf("persist order %s: %w", order.ID, err)
	}
	return *order, nil
}

// resolveCustomer дополняет пустые имя и email из профиля пользователя.
// Недоступность сервиса пользователей не прерывает создание заказа.
func (o *Orchestrator) resolveCustomer(ctx context.Context, userID, name, email string) (string, string) {
	name, email = strings.TrimSpace(name), strings.TrimSpace(email)
	if name != "" && email != "" {
		return name, email
	}

	user, err := o.users.FetchUser(ctx, userID)
	if err != nil {
		o.logger.WithError(err).WithField("user_id", userID).Warn("customer profile unavailable")
		return name, email
	}
	if name == "" {
		name = user.Name
	}
	if email == "" {
		email = user.Email
	}
	return name, email
}

// GetOrder возвращает заказ текущего пользователя.
func (o *Orchestrator) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return o.loadOwned(ctx, orderID)
}

// UpdateOrderStatus переводит заказ в следующий статус. Доступно сотрудникам и администраторам.
func (o *Orchestrator) UpdateOrderStatus(ctx context.Context, orderID string, update StatusUpdate) (domain.Order, error) {
	principal, ok := domain.PrincipalFromContext(ctx)
	if !ok {
		return domain.Order{}, domain.ErrUnauthenticated
	}
	if !principal.IsStaff() {
		return domain.Order{}, fmt.Errorf("%w: user %s cannot change order status", domain.ErrAccessDenied, principal.UserID)
	}
	if !update.Status.Valid() {
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidStatusTransition, update.Status)
	}

	order, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	now := o.now()
	previous := order.Status
	if err := order.UpdateStatus(update.Status, now); err != nil {
		return domain.Order{}, err
	}
	if update.Status == domain.OrderStatusShipped && strings.TrimSpace(update.TrackingNumber) != "" {
		order.AssignTrackingNumber(update.TrackingNumber, now)
	}

	if err := o.save(ctx, &order); err != nil {
		return domain.Order{}, err
	}

	o.metrics.RecordStatusTransition(string(previous), string(order.Status))
	o.emit(ctx, order, domain.EventOrderStatusChanged, strings.TrimSpace(update.Notes))
	o.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"from":     previous,
		"to":       order.Status,
		"actor":    principal.UserID,
	}).Info("order status updated")
	return order, nil
}

// CancelOrder отменяет неоплаченный заказ текущего пользователя.
func (o *Orchestrator) CancelOrder(ctx context.Context, orderID, reason string) (domain.Order, error) {
	order, err := o.loadOwned(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	previous := order.Status
	if err := order.Cancel(o.now()); err != nil {
		return domain.Order{}, err
	}
	if err := o.save(ctx, &order); err != nil {
		return domain.Order{}, err
	}

	o.metrics.RecordStatusTransition(string(previous), string(order.Status))
	o.emit(ctx, order, domain.EventOrderCancelled, strings.TrimSpace(reason))
	o.logger.WithField("order_id", order.ID).Info("order cancelled")
	return order, nil
}

// MarkPaid фиксирует оплату заказа. Вызывается обработчиком платёжных событий,
// повтор с тем же paymentOrderID ничего не меняет.
func (o *Orchestrator) MarkPaid(ctx context.Context, orderID, paymentOrderID string) (domain.Order, error) {
	paymentOrderID = strings.TrimSpace(paymentOrderID)

	order, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.IsPaid() && order.PaymentOrderID == paymentOrderID {
		return order, nil
	}

	now := o.now()
	previous := order.Status
	if err := order.UpdateStatus(domain.OrderStatusPaid, now); err != nil {
		return domain.Order{}, err
	}
	order.AssignPayment(paymentOrderID, now)

	if err := o.save(ctx, &order); err != nil {
		return domain.Order{}, err
	}

	o.metrics.RecordStatusTransition(string(previous), string(order.Status))
	o.emit(ctx, order, domain.EventOrderStatusChanged, "payment "+paymentOrderID)
	o.logger.WithFields(log.Fields{
		"order_id":         order.ID,
		"payment_order_id": paymentOrderID,
	}).Info("order paid")
	return order, nil
}

// ListUserOrders возвращает страницу заказов текущего пользователя, новые первыми.
func (o *Orchestrator) ListUserOrders(ctx context.Context, page, size int) (domain.OrderPage, error) {
	userID, err := o.users.CurrentUserID(ctx)
	if err != nil {
		return domain.OrderPage{}, err
	}

	req := domain.PageRequest{Page: page, Size: size}.Normalize()
	orders, err := o.orders.ListByUser(ctx, userID, req)
	if err != nil {
		return domain.OrderPage{}, err
	}
	total, err := o.orders.CountByUser(ctx, userID)
	if err != nil {
		return domain.OrderPage{}, err
	}

	result := domain.OrderPage{
		Items:         make([]domain.OrderSummary, 0, len(orders)),
		Page:          req.Page,
		Size:          req.Size,
		TotalElements: total,
		TotalPages:    (total + req.Size - 1) / req.Size,
	}
	for i := range orders {
		result.Items = append(result.Items, orders[i].Summary())
	}
	return result, nil
}

// Statistics считает статистику по всем заказам текущего пользователя.
func (o *Orchestrator) Statistics(ctx context.Context) (domain.OrderStats, error) {
	userID, err := o.users.CurrentUserID(ctx)
	if err != nil {
		return domain.OrderStats{}, err
	}

	var all []domain.Order
	for page := 0; ; page++ {
		batch, err := o.orders.ListByUser(ctx, userID, domain.PageRequest{Page: page, Size: domain.MaxPageSize})
		if err != nil {
			return domain.OrderStats{}, err
		}
		all = append(all, batch...)
		if len(batch) < domain.MaxPageSize {
			break
		}
	}
	return domain.NewOrderStats(all), nil
}

// Timeline возвращает историю заказа текущего пользователя.
func (o *Orchestrator) Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if _, err := o.loadOwned(ctx, orderID); err != nil {
		return nil, err
	}
	if o.timeline == nil {
		return []domain.TimelineEvent{}, nil
	}
	return o.timeline.List(ctx, orderID)
}

// ListByStatus возвращает заказы в статусе status, старые первыми. Служебная операция.
func (o *Orchestrator) ListByStatus(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidStatusTransition, status)
	}
	return o.orders.ListByStatus(ctx, status, limit)
}

func (o *Orchestrator) loadOwned(ctx context.Context, orderID string) (domain.Order, error) {
	userID, err := o.users.CurrentUserID(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.UserID != userID {
		return domain.Order{}, fmt.Errorf("%w: order %s", domain.ErrUnauthorized, orderID)
	}
	return order, nil
}

// save сохраняет заказ; при успехе версия в памяти совпадает с сохранённой.
func (o *Orchestrator) save(ctx context.Context, order *domain.Order) error {
	if err := o.orders.Save(ctx, *order); err != nil {
		if domain.IsVersionConflict(err) {
			o.logger.WithField("order_id", order.ID).Warn("order version conflict")
		}
		return err
	}
	order.Version++
	return nil
}

func validateCreateRequest(req CreateOrderRequest) error {
	if len(req.Items) == 0 {
		return domain.ErrOrderItemsRequired
	}
	if req.ShippingAddress == nil {
		return domain.ErrShippingAddressRequired
	}
	if strings.TrimSpace(req.Currency) == "" {
		return domain.ErrCurrencyRequired
	}
	if req.ShippingCost.IsNegative() {
		return domain.ErrShippingCostNegative
	}
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return fmt.Errorf("%w: product %s", domain.ErrItemQuantityInvalid, item.ProductID)
		}
	}
	return nil
}

func passThroughCreationError(err error) bool {
	return errors.Is(err, domain.ErrUnauthenticated) ||
		errors.Is(err, domain.ErrUnauthorized) ||
		errors.Is(err, domain.ErrProductNotAvailable) ||
		errors.Is(err, domain.ErrProductValidationFailed)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrProductNotAvailable):
		return "product_not_available"
	case errors.Is(err, domain.ErrProductValidationFailed):
		return "product_validation_failed"
	case errors.Is(err, domain.ErrServiceUnavailable):
		return "service_unavailable"
	default:
		return "other"
	}
}
