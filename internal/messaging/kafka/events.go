package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "orders.order.events"
	TopicPaymentEvents   = "orders.payment.events"
	TopicDeadLetterQueue = "orders.dlq"
)

// Kafka headers
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// Типы платёжных событий.
const (
	PaymentEventCompleted = "PaymentCompleted"
	PaymentEventFailed    = "PaymentFailed"
)

// PaymentEvent — событие платёжного сервиса.
type PaymentEvent struct {
	EventType      string    `json:"event_type"`
	OrderID        string    `json:"order_id"`
	PaymentOrderID string    `json:"payment_order_id"`
	Amount         string    `json:"amount,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Completed сообщает, что платёж прошёл.
func (e PaymentEvent) Completed() bool {
	return strings.EqualFold(e.EventType, PaymentEventCompleted)
}

// ParsePaymentEvent разбирает платёжное событие из сообщения.
func ParsePaymentEvent(message *sarama.ConsumerMessage) (PaymentEvent, error) {
	var event PaymentEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return PaymentEvent{}, fmt.Errorf("failed to unmarshal payment event: %w", err)
	}
	event.OrderID = strings.TrimSpace(event.OrderID)
	if event.OrderID == "" {
		return PaymentEvent{}, fmt.Errorf("payment event without order_id")
	}
	return event, nil
}

func headerValue(message *sarama.ConsumerMessage, key string) string {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}
