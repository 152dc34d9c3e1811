package domain

import "context"

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderVersionConflict, если ID уже занят.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking и увеличивает версию.
	Save(ctx context.Context, order Order) error
	// ListByUser возвращает страницу заказов пользователя, новые первыми.
	ListByUser(ctx context.Context, userID string, page PageRequest) ([]Order, error)
	// CountByUser возвращает общее количество заказов пользователя.
	CountByUser(ctx context.Context, userID string) (int, error)
	// ListByStatus возвращает заказы в указанном статусе, старые первыми.
	ListByStatus(ctx context.Context, status OrderStatus, limit int) ([]Order, error)
}

// PageRequest — параметры постраничной выборки (страницы нумеруются с нуля).
type PageRequest struct {
	Page int
	Size int
}

const (
	// DefaultPageSize используется, если размер страницы не задан.
	DefaultPageSize = 20
	// MaxPageSize ограничивает размер страницы.
	MaxPageSize = 100
)

// Normalize приводит параметры страницы к допустимым значениям.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 0 {
		p.Page = 0
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Offset возвращает смещение первой записи страницы.
func (p PageRequest) Offset() int {
	return p.Page * p.Size
}
