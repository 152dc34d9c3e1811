package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

const paymentConsumerMaxRetries = 3

// initKafkaProducer создаёт producer, если заданы брокеры.
// Возвращает nil, nil при пустом списке брокеров.
func initKafkaProducer(cfg Config, logger *log.Entry) (*kafka.Producer, error) {
	if !cfg.KafkaEnabled() {
		return nil, nil
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaClientID)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")
	return producer, nil
}

// outboxPublishers возвращает публикаторы событий заказов и DLQ.
// Без producer оба nil: воркер outbox в этом случае не запускается.
func outboxPublishers(cfg Config, producer *kafka.Producer) (publisher, dlq domain.OutboxPublisher) {
	if producer == nil {
		return nil, nil
	}
	return kafka.NewOutboxPublisher(producer, cfg.KafkaOrderTopic), kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)
}

// initPaymentConsumer подписывается на платёжные события; PaymentCompleted переводит заказ в PAID.
func initPaymentConsumer(cfg Config, marker kafka.PaymentMarker, dlq *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	if !cfg.KafkaEnabled() {
		return nil, nil
	}

	retry := orders.DefaultRetryConfig()
	retry.Logger = logger.WithField("component", "payment-retry")
	handler := kafka.NewPaymentHandler(marker, retry, logger.WithField("component", "payment-handler"))

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:    cfg.KafkaBrokers,
		GroupID:    cfg.KafkaGroupID,
		Topics:     []string{cfg.KafkaPaymentTopic},
		MaxRetries: paymentConsumerMaxRetries,
		DLQTopic:   cfg.KafkaDLQTopic,
	}, handler, dlq)
	if err != nil {
		return nil, err
	}

	logger.WithFields(log.Fields{
		"topic":    cfg.KafkaPaymentTopic,
		"group_id": cfg.KafkaGroupID,
	}).Info("payment consumer initialized")
	return consumer, nil
}

// closeKafka закрывает producer, если он создан.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
