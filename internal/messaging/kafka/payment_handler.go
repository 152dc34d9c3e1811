package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

// PaymentMarker отмечает заказ оплаченным.
type PaymentMarker interface {
	MarkPaid(ctx context.Context, orderID, paymentOrderID string) (domain.Order, error)
}

// NewPaymentHandler возвращает обработчик topic платёжных событий.
// Конфликт версий повторяется через RetryOnConflict; неизвестный заказ и
// недопустимый переход отправляются в DLQ без повторов.
func NewPaymentHandler(marker PaymentMarker, retry orders.RetryConfig, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "payment-events")
	}
	if retry.Logger == nil {
		retry.Logger = logger
	}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := ParsePaymentEvent(message)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPermanent, err)
		}

		entry := logger.WithFields(log.Fields{
			"order_id":         event.OrderID,
			"payment_order_id": event.PaymentOrderID,
			"event_type":       event.EventType,
		})
		if !event.Completed() {
			entry.Debug("payment event skipped")
			return nil
		}

		err = orders.RetryOnConflict(ctx, retry, func(ctx context.Context) error {
			_, err := marker.MarkPaid(ctx, event.OrderID, event.PaymentOrderID)
			return err
		})
		switch {
		case err == nil:
			entry.Info("payment applied to order")
			return nil
		case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrInvalidStatusTransition):
			return fmt.Errorf("%w: %w", ErrPermanent, err)
		default:
			return err
		}
	}
}
