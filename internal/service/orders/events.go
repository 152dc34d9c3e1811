package orders

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// AggregateTypeOrder — тип агрегата в outbox.
const AggregateTypeOrder = "order"

// OrderEvent — полезная нагрузка события заказа в outbox и Kafka.
type OrderEvent struct {
	EventType      string    `json:"event_type"`
	OrderID        string    `json:"order_id"`
	UserID         string    `json:"user_id"`
	Status         string    `json:"status"`
	TotalAmount    string    `json:"total_amount"`
	Currency       string    `json:"currency"`
	Reason         string    `json:"reason,omitempty"`
	PaymentOrderID string    `json:"payment_order_id,omitempty"`
	TrackingNumber string    `json:"tracking_number,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func newOrderEvent(order domain.Order, eventType, reason string, at time.Time) OrderEvent {
	return OrderEvent{
		EventType:      eventType,
		OrderID:        order.ID,
		UserID:         order.UserID,
		Status:         string(order.Status),
		TotalAmount:    order.TotalAmount.StringFixed(2),
		Currency:       order.Currency,
		Reason:         reason,
		PaymentOrderID: order.PaymentOrderID,
		TrackingNumber: order.TrackingNumber,
		OccurredAt:     at.UTC(),
	}
}

// emit пишет событие в историю и outbox. Заказ к этому моменту уже сохранён,
// поэтому ошибки только логируются.
func (o *Orchestrator) emit(ctx context.Context, order domain.Order, eventType, reason string) {
	now := o.now()

	if o.timeline != nil {
		err := o.timeline.Append(ctx, domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     eventType,
			Status:   order.Status,
			Reason:   reason,
			Occurred: now.UTC(),
		})
		if err != nil {
			o.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to append timeline event")
		} else {
			o.metrics.RecordTimelineEvent()
		}
	}

	if o.outbox == nil {
		return
	}
	payload, err := json.Marshal(newOrderEvent(order, eventType, reason, now))
	if err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Error("failed to encode order event")
		return
	}
	if _, err := o.outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: AggregateTypeOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		o.logger.WithFields(log.Fields{
			"order_id":   order.ID,
			"event_type": eventType,
		}).WithError(err).Warn("failed to enqueue outbox event")
		return
	}
	o.metrics.RecordOutboxEvent()
}
