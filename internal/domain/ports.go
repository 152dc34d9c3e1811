package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Product — данные товара из каталога, которые копируются в позицию заказа.
type Product struct {
	ID        string
	Name      string
	SKU       string
	UnitPrice decimal.Decimal
	Currency  string
}

// User — запись пользователя из сервиса аутентификации.
type User struct {
	ID     string
	Name   string
	Email  string
	Active bool
	Roles  []string
}

// ProductCatalog — защищённый доступ к каталогу товаров.
// Проверки возвращают консервативное значение при деградации каталога,
// Fetch возвращает ErrServiceUnavailable.
type ProductCatalog interface {
	Exists(ctx context.Context, productID string) bool
	Fetch(ctx context.Context, productID string) (Product, error)
	Stock(ctx context.Context, productID string) int
}

// UserDirectory — защищённый доступ к сервису пользователей.
type UserDirectory interface {
	// CurrentUserID возвращает идентификатор пользователя из контекста или ErrUnauthenticated.
	CurrentUserID(ctx context.Context) (string, error)
	FetchUser(ctx context.Context, userID string) (User, error)
	Validate(ctx context.Context, userID string) bool
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
