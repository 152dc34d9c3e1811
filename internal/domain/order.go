package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusCreated — заказ собран и сохранён, оплата ещё не поступила.
	OrderStatusCreated OrderStatus = "CREATED"
	// OrderStatusPaid — оплата подтверждена.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusShipped — заказ передан в доставку (конечный статус).
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusCancelled — заказ отменён клиентом до оплаты (конечный статус).
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// moneyScale — количество знаков после запятой для денежных сумм.
const moneyScale = 2

// TaxRate — фиксированная ставка налога, применяемая к subtotal.
var TaxRate = decimal.RequireFromString("0.10")

// allowedTransitions содержит единственный допустимый путь CREATED → PAID → SHIPPED.
// Отмена идёт отдельным методом Cancel.
var allowedTransitions = map[OrderStatus]OrderStatus{
	OrderStatusCreated: OrderStatusPaid,
	OrderStatusPaid:    OrderStatusShipped,
}

// Valid проверяет, что статус известен.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusPaid, OrderStatusShipped, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo сообщает, разрешён ли переход через UpdateStatus.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	allowed, ok := allowedTransitions[s]
	return ok && allowed == next
}

// Address — адрес доставки или оплаты. Копируется в заказ по значению.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// FullAddress собирает адрес в одну строку.
func (a Address) FullAddress() string {
	parts := make([]string, 0, 5)
	for _, p := range []string{a.Line1, a.Line2, a.City} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	region := strings.TrimSpace(strings.TrimSpace(a.State) + " " + strings.TrimSpace(a.PostalCode))
	if region != "" {
		parts = append(parts, region)
	}
	if c := strings.TrimSpace(a.Country); c != "" {
		parts = append(parts, c)
	}
	return strings.Join(parts, ", ")
}

// OrderItem — снимок товара на момент оформления заказа.
// Последующие изменения каталога на позицию не влияют.
type OrderItem struct {
	ID          string
	ProductID   string
	ProductName string
	ProductSKU  string
	Currency    string
	Quantity    int
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal
	CreatedAt   time.Time
}

// OrderDraft содержит данные, из которых собирается новый заказ.
type OrderDraft struct {
	UserID          string
	CustomerName    string
	CustomerEmail   string
	Currency        string
	ShippingCost    decimal.Decimal
	ShippingAddress *Address
	BillingAddress  *Address
	Notes           string
}

// Order — агрегат заказа. Меняется только через собственные методы,
// которые поддерживают инварианты сумм и статусов.
type Order struct {
	ID             string
	UserID         string
	CustomerName   string
	CustomerEmail  string
	Status         OrderStatus
	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	ShippingCost   decimal.Decimal
	TotalAmount    decimal.Decimal
	Currency       string
	Items          []OrderItem
	ShippingAddr   *Address
	BillingAddr    *Address
	Notes          string
	PaymentOrderID string
	TrackingNumber string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	PaidAt         *time.Time
	ShippedAt      *time.Time
	CancelledAt    *time.Time
}

// NewOrder собирает заказ в статусе CREATED с нулевыми позициями.
// Если адрес оплаты не указан, берётся копия адреса доставки.
func NewOrder(draft OrderDraft, now time.Time) *Order {
	now = now.UTC()
	order := &Order{
		ID:            uuid.NewString(),
		UserID:        draft.UserID,
		CustomerName:  draft.CustomerName,
		CustomerEmail: draft.CustomerEmail,
		Status:        OrderStatusCreated,
		ShippingCost:  draft.ShippingCost.Round(moneyScale),
		Currency:      draft.Currency,
		ShippingAddr:  copyAddress(draft.ShippingAddress),
		BillingAddr:   copyAddress(draft.BillingAddress),
		Notes:         draft.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if order.BillingAddr == nil {
		order.BillingAddr = copyAddress(draft.ShippingAddress)
	}
	order.RecalculateTotals()
	return order
}

// AddItem добавляет позицию и пересчитывает суммы заказа.
func (o *Order) AddItem(item OrderItem, now time.Time) error {
	if item.Quantity < 1 {
		return fmt.Errorf("%w: %d", ErrItemQuantityInvalid, item.Quantity)
	}
	if item.UnitPrice.IsNegative() {
		return ErrItemPriceInvalid
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now.UTC()
	}
	item.UnitPrice = item.UnitPrice.Round(moneyScale)
	item.TotalPrice = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).Round(moneyScale)

	o.Items = append(o.Items, item)
	o.RecalculateTotals()
	o.touch(now)
	return nil
}

// RemoveItem удаляет позицию по идентификатору и пересчитывает суммы.
func (o *Order) RemoveItem(itemID string, now time.Time) error {
	for i := range o.Items {
		if o.Items[i].ID != itemID {
			continue
		}
		o.Items = append(o.Items[:i], o.Items[i+1:]...)
		o.RecalculateTotals()
		o.touch(now)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrOrderItemNotFound, itemID)
}

// RecalculateTotals пересчитывает subtotal, налог и итог с нуля по текущим позициям.
func (o *Order) RecalculateTotals() {
	subtotal := decimal.Zero
	for _, item := range o.Items {
		subtotal = subtotal.Add(item.TotalPrice)
	}
	o.Subtotal = subtotal.Round(moneyScale)
	o.TaxAmount = o.Subtotal.Mul(TaxRate).Round(moneyScale)
	o.TotalAmount = o.Subtotal.Add(o.TaxAmount).Add(o.ShippingCost).Round(moneyScale)
}

// UpdateStatus переводит заказ в следующий статус по таблице переходов.
// Время оплаты и отгрузки фиксируется один раз при входе в соответствующий статус.
func (o *Order) UpdateStatus(next OrderStatus, now time.Time) error {
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStatusTransition, o.Status, next)
	}

	now = now.UTC()
	o.Status = next
	switch next {
	case OrderStatusPaid:
		o.PaidAt = &now
	case OrderStatusShipped:
		o.ShippedAt = &now
	}
	o.touch(now)
	return nil
}

// Cancel отменяет заказ, пока он не оплачен.
func (o *Order) Cancel(now time.Time) error {
	if !o.CanBeCancelled() {
		return fmt.Errorf("%w: order in status %s", ErrOrderNotCancellable, o.Status)
	}
	now = now.UTC()
	o.Status = OrderStatusCancelled
	o.CancelledAt = &now
	o.touch(now)
	return nil
}

// AssignTrackingNumber сохраняет трек-номер отгрузки.
func (o *Order) AssignTrackingNumber(trackingNumber string, now time.Time) {
	o.TrackingNumber = strings.TrimSpace(trackingNumber)
	o.touch(now)
}

// AssignPayment связывает заказ с платежом.
func (o *Order) AssignPayment(paymentOrderID string, now time.Time) {
	o.PaymentOrderID = strings.TrimSpace(paymentOrderID)
	o.touch(now)
}

// CanBeCancelled истинно только для статуса CREATED.
func (o *Order) CanBeCancelled() bool { return o.Status == OrderStatusCreated }

// IsPaid истинно для оплаченных и отгруженных заказов.
func (o *Order) IsPaid() bool {
	return o.Status == OrderStatusPaid || o.Status == OrderStatusShipped
}

// IsShipped истинно только для SHIPPED.
func (o *Order) IsShipped() bool { return o.Status == OrderStatusShipped }

// ItemCount возвращает суммарное количество единиц товара.
func (o *Order) ItemCount() int {
	total := 0
	for _, item := range o.Items {
		total += item.Quantity
	}
	return total
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserIDRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if o.ShippingCost.IsNegative() {
		errs = append(errs, ErrShippingCostNegative)
	}

	subtotal := decimal.Zero
	for _, item := range o.Items {
		if item.Quantity < 1 {
			errs = append(errs, ErrItemQuantityInvalid)
		}
		if !item.TotalPrice.Equal(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))) {
			errs = append(errs, ErrTotalsMismatch)
		}
		subtotal = subtotal.Add(item.TotalPrice)
	}
	if !subtotal.Equal(o.Subtotal) ||
		!o.TaxAmount.Equal(o.Subtotal.Mul(TaxRate).Round(moneyScale)) ||
		!o.TotalAmount.Equal(o.Subtotal.Add(o.TaxAmount).Add(o.ShippingCost)) {
		errs = append(errs, ErrTotalsMismatch)
	}

	return errs
}

// Clone возвращает глубокую копию заказа.
func (o Order) Clone() Order {
	dst := o
	dst.Items = append([]OrderItem(nil), o.Items...)
	dst.ShippingAddr = copyAddress(o.ShippingAddr)
	dst.BillingAddr = copyAddress(o.BillingAddr)
	dst.PaidAt = copyTime(o.PaidAt)
	dst.ShippedAt = copyTime(o.ShippedAt)
	dst.CancelledAt = copyTime(o.CancelledAt)
	return dst
}

func (o *Order) touch(now time.Time) {
	o.UpdatedAt = now.UTC()
}

func copyAddress(src *Address) *Address {
	if src == nil {
		return nil
	}
	dst := *src
	return &dst
}

func copyTime(src *time.Time) *time.Time {
	if src == nil {
		return nil
	}
	dst := *src
	return &dst
}
