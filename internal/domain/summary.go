package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSummary: сокращённое представление заказа для списков.
type OrderSummary struct {
	ID             string
	Status         OrderStatus
	TotalAmount    decimal.Decimal
	Currency       string
	ItemCount      int
	CanBeCancelled bool
	CreatedAt      time.Time
}

// Summary строит краткое представление заказа.
func (o *Order) Summary() OrderSummary {
	return OrderSummary{
		ID:             o.ID,
		Status:         o.Status,
		TotalAmount:    o.TotalAmount,
		Currency:       o.Currency,
		ItemCount:      o.ItemCount(),
		CanBeCancelled: o.CanBeCancelled(),
		CreatedAt:      o.CreatedAt,
	}
}

// OrderPage: страница заказов пользователя.
type OrderPage struct {
	Items         []OrderSummary
	Page          int
	Size          int
	TotalElements int
	TotalPages    int
}

// OrderStats: агрегированная статистика заказов пользователя.
type OrderStats struct {
	TotalOrders int
	ByStatus    map[OrderStatus]int
	// TotalSpent считается по оплаченным и отгруженным заказам.
	TotalSpent decimal.Decimal
}

// NewOrderStats считает статистику по набору заказов.
func NewOrderStats(orders []Order) OrderStats {
	stats := OrderStats{
		ByStatus: map[OrderStatus]int{
			OrderStatusCreated:   0,
			OrderStatusPaid:      0,
			OrderStatusShipped:   0,
			OrderStatusCancelled: 0,
		},
		TotalSpent: decimal.Zero,
	}
	for i := range orders {
		stats.TotalOrders++
		stats.ByStatus[orders[i].Status]++
		if orders[i].IsPaid() {
			stats.TotalSpent = stats.TotalSpent.Add(orders[i].TotalAmount)
		}
	}
	return stats
}
