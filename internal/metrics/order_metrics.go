package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/orders/internal/service/breaker"
)

// OrderMetrics содержит метрики жизненного цикла заказа и его зависимостей.
// Все методы допускают nil-получатель.
type OrderMetrics struct {
	// Создание заказов
	ordersCreated    prometheus.Counter
	creationFailed   *prometheus.CounterVec
	creationDuration prometheus.Histogram

	statusTransitions *prometheus.CounterVec

	// Внешние сервисы
	gatewayFallbacks *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
}

// NewOrderMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Total number of orders created",
		}),
		creationFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_creation_failed_total",
			Help: "Total number of failed order creations by reason",
		}, []string{"reason"}),
		creationDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "orders_creation_duration_seconds",
			Help:    "Duration of order creation including external calls",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		statusTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_status_transitions_total",
			Help: "Total number of order status transitions",
		}, []string{"from", "to"}),
		gatewayFallbacks: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_gateway_fallbacks_total",
			Help: "Total number of gateway calls answered by a fallback",
		}, []string{"breaker"}),
		breakerState: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Name: "orders_circuit_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		}, []string{"breaker"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_outbox_events_total",
			Help: "Total number of events enqueued to the outbox",
		}),
	}
}

// RecordOrderCreated учитывает успешно созданный заказ.
func (m *OrderMetrics) RecordOrderCreated(duration time.Duration) {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
	m.creationDuration.Observe(duration.Seconds())
}

// RecordCreationFailed учитывает неудачное создание заказа.
func (m *OrderMetrics) RecordCreationFailed(reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.creationFailed.WithLabelValues(reason).Inc()
	m.creationDuration.Observe(duration.Seconds())
}

// RecordStatusTransition учитывает смену статуса заказа.
func (m *OrderMetrics) RecordStatusTransition(from, to string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(from, to).Inc()
}

// RecordFallback учитывает ответ gateway резервным значением.
func (m *OrderMetrics) RecordFallback(breakerName string) {
	if m == nil {
		return
	}
	m.gatewayFallbacks.WithLabelValues(breakerName).Inc()
}

// SetBreakerState публикует режим breaker. Подходит как Settings.OnStateChange.
func (m *OrderMetrics) SetBreakerState(name string, _, to breaker.State) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(to))
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *OrderMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *OrderMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	return register(registerer, opts.Name, prometheus.NewCounter(opts))
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	return register(registerer, opts.Name, prometheus.NewCounterVec(opts, labels))
}

func registerGaugeVec(registerer prometheus.Registerer, opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	return register(registerer, opts.Name, prometheus.NewGaugeVec(opts, labels))
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	return register(registerer, opts.Name, prometheus.NewHistogram(opts))
}

// register возвращает уже зарегистрированный коллектор того же типа, если он есть.
func register[T prometheus.Collector](registerer prometheus.Registerer, name string, collector T) T {
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", name))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector %q: %v", name, err))
	}
	return collector
}
