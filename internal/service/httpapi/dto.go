package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

// AddressRequest описывает адрес в запросе.
type AddressRequest struct {
	Line1      string `json:"line1" validate:"required,min=5,max=200"`
	Line2      string `json:"line2" validate:"max=200"`
	City       string `json:"city" validate:"required,min=2,max=100"`
	State      string `json:"state" validate:"omitempty,min=2,max=100"`
	PostalCode string `json:"postalCode" validate:"required,min=3,max=20"`
	Country    string `json:"country" validate:"required,len=2,alpha,uppercase"`
}

// OrderItemRequest описывает позицию в запросе на создание заказа.
type OrderItemRequest struct {
	ProductID string `json:"productId" validate:"required,min=1,max=100"`
	Quantity  int    `json:"quantity" validate:"min=1,max=100"`
}

// CreateOrderRequest описывает тело POST /api/v1/orders.
type CreateOrderRequest struct {
	CustomerName    string             `json:"customerName" validate:"omitempty,min=2,max=100"`
	CustomerEmail   string             `json:"customerEmail" validate:"omitempty,email,max=255"`
	Items           []OrderItemRequest `json:"items" validate:"required,min=1,max=50,dive"`
	ShippingAddress *AddressRequest    `json:"shippingAddress" validate:"required"`
	BillingAddress  *AddressRequest    `json:"billingAddress" validate:"omitempty"`
	ShippingCost    decimal.Decimal    `json:"shippingCost" validate:"gte=0"`
	Currency        string             `json:"currency" validate:"required,len=3,alpha,uppercase"`
	Notes           string             `json:"notes" validate:"max=1000"`
}

// StatusUpdateRequest описывает тело PUT /api/v1/orders/{orderID}/status.
type StatusUpdateRequest struct {
	Status         string `json:"status" validate:"required,oneof=CREATED PAID SHIPPED CANCELLED"`
	Notes          string `json:"notes" validate:"max=1000"`
	TrackingNumber string `json:"trackingNumber" validate:"max=100"`
}

// CancelOrderRequest описывает необязательное тело POST /api/v1/orders/{orderID}/cancel.
type CancelOrderRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// AddressResponse описывает адрес в ответе.
type AddressResponse struct {
	Line1       string `json:"line1"`
	Line2       string `json:"line2,omitempty"`
	City        string `json:"city"`
	State       string `json:"state,omitempty"`
	PostalCode  string `json:"postalCode"`
	Country     string `json:"country"`
	FullAddress string `json:"fullAddress"`
}

// OrderItemResponse описывает снимок товара в заказе.
type OrderItemResponse struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"productId"`
	ProductName string    `json:"productName"`
	ProductSKU  string    `json:"productSku,omitempty"`
	Quantity    int       `json:"quantity"`
	UnitPrice   string    `json:"unitPrice"`
	TotalPrice  string    `json:"totalPrice"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"createdAt"`
}

// OrderResponse: полное представление заказа.
type OrderResponse struct {
	ID              string              `json:"id"`
	UserID          string              `json:"userId"`
	CustomerName    string              `json:"customerName,omitempty"`
	CustomerEmail   string              `json:"customerEmail,omitempty"`
	Status          string              `json:"status"`
	Subtotal        string              `json:"subtotal"`
	TaxAmount       string              `json:"taxAmount"`
	ShippingCost    string              `json:"shippingCost"`
	TotalAmount     string              `json:"totalAmount"`
	Currency        string              `json:"currency"`
	Items           []OrderItemResponse `json:"items"`
	ItemCount       int                 `json:"itemCount"`
	CanBeCancelled  bool                `json:"canBeCancelled"`
	ShippingAddress *AddressResponse    `json:"shippingAddress,omitempty"`
	BillingAddress  *AddressResponse    `json:"billingAddress,omitempty"`
	Notes           string              `json:"notes,omitempty"`
	PaymentOrderID  string              `json:"paymentOrderId,omitempty"`
	TrackingNumber  string              `json:"trackingNumber,omitempty"`
	Version         int64               `json:"version"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
	PaidAt          *time.Time          `json:"paidAt,omitempty"`
	ShippedAt       *time.Time          `json:"shippedAt,omitempty"`
	CancelledAt     *time.Time          `json:"cancelledAt,omitempty"`
}

// OrderSummaryResponse описывает элемент списка заказов.
type OrderSummaryResponse struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	TotalAmount    string    `json:"totalAmount"`
	Currency       string    `json:"currency"`
	ItemCount      int       `json:"itemCount"`
	CanBeCancelled bool      `json:"canBeCancelled"`
	CreatedAt      time.Time `json:"createdAt"`
}

// OrderPageResponse описывает страницу заказов.
type OrderPageResponse struct {
	Content       []OrderSummaryResponse `json:"content"`
	Page          int                    `json:"page"`
	Size          int                    `json:"size"`
	TotalElements int                    `json:"totalElements"`
	TotalPages    int                    `json:"totalPages"`
}

// OrderStatsResponse описывает статистику заказов пользователя.
type OrderStatsResponse struct {
	TotalOrders int            `json:"totalOrders"`
	ByStatus    map[string]int `json:"byStatus"`
	TotalSpent  string         `json:"totalSpent"`
}

// TimelineEventResponse описывает событие истории заказа.
type TimelineEventResponse struct {
	Type       string    `json:"type"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (r CreateOrderRequest) toCommand() orders.CreateOrderRequest {
	items := make([]orders.ItemRequest, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, orders.ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return orders.CreateOrderRequest{
		CustomerName:    r.CustomerName,
		CustomerEmail:   r.CustomerEmail,
		Items:           items,
		ShippingAddress: r.ShippingAddress.toDomain(),
		BillingAddress:  r.BillingAddress.toDomain(),
		ShippingCost:    r.ShippingCost,
		Currency:        r.Currency,
		Notes:           r.Notes,
	}
}

func (a *AddressRequest) toDomain() *domain.Address {
	if a == nil {
		return nil
	}
	return &domain.Address{
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func toAddressResponse(a *domain.Address) *AddressResponse {
	if a == nil {
		return nil
	}
	return &AddressResponse{
		Line1:       a.Line1,
		Line2:       a.Line2,
		City:        a.City,
		State:       a.State,
		PostalCode:  a.PostalCode,
		Country:     a.Country,
		FullAddress: a.FullAddress(),
	}
}

func toOrderResponse(o domain.Order) OrderResponse {
	items := make([]OrderItemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItemResponse{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			ProductSKU:  item.ProductSKU,
			Quantity:    item.Quantity,
			UnitPrice:   money(item.UnitPrice),
			TotalPrice:  money(item.TotalPrice),
			Currency:    item.Currency,
			CreatedAt:   item.CreatedAt,
		})
	}
	return OrderResponse{
		ID:              o.ID,
		UserID:          o.UserID,
		CustomerName:    o.CustomerName,
		CustomerEmail:   o.CustomerEmail,
		Status:          string(o.Status),
		Subtotal:        money(o.Subtotal),
		TaxAmount:       money(o.TaxAmount),
		ShippingCost:    money(o.ShippingCost),
		TotalAmount:     money(o.TotalAmount),
		Currency:        o.Currency,
		Items:           items,
		ItemCount:       o.ItemCount(),
		CanBeCancelled:  o.CanBeCancelled(),
		ShippingAddress: toAddressResponse(o.ShippingAddr),
		BillingAddress:  toAddressResponse(o.BillingAddr),
		Notes:           o.Notes,
		PaymentOrderID:  o.PaymentOrderID,
		TrackingNumber:  o.TrackingNumber,
		Version:         o.Version,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		PaidAt:          o.PaidAt,
		ShippedAt:       o.ShippedAt,
		CancelledAt:     o.CancelledAt,
	}
}

func toPageResponse(p domain.OrderPage) OrderPageResponse {
	content := make([]OrderSummaryResponse, 0, len(p.Items))
	for _, s := range p.Items {
		content = append(content, OrderSummaryResponse{
			ID:             s.ID,
			Status:         string(s.Status),
			TotalAmount:    money(s.TotalAmount),
			Currency:       s.Currency,
			ItemCount:      s.ItemCount,
			CanBeCancelled: s.CanBeCancelled,
			CreatedAt:      s.CreatedAt,
		})
	}
	return OrderPageResponse{
		Content:       content,
		Page:          p.Page,
		Size:          p.Size,
		TotalElements: p.TotalElements,
		TotalPages:    p.TotalPages,
	}
}

func toStatsResponse(s domain.OrderStats) OrderStatsResponse {
	byStatus := make(map[string]int, len(s.ByStatus))
	for status, count := range s.ByStatus {
		byStatus[string(status)] = count
	}
	return OrderStatsResponse{
		TotalOrders: s.TotalOrders,
		ByStatus:    byStatus,
		TotalSpent:  money(s.TotalSpent),
	}
}

func toTimelineResponse(events []domain.TimelineEvent) []TimelineEventResponse {
	out := make([]TimelineEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, TimelineEventResponse{
			Type:       e.Type,
			Status:     string(e.Status),
			Reason:     e.Reason,
			OccurredAt: e.Occurred,
		})
	}
	return out
}
