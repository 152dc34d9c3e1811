package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/breaker"
)

// ProductsClient — транспорт каталога товаров.
// Fetch возвращает domain.ErrProductNotFound для отсутствующего товара.
type ProductsClient interface {
	Exists(ctx context.Context, productID string) (bool, error)
	Fetch(ctx context.Context, productID string) (domain.Product, error)
	Stock(ctx context.Context, productID string) (int, error)
}

// Products реализует domain.ProductCatalog поверх ProductsClient.
type Products struct {
	client ProductsClient
	exists *breaker.Breaker
	fetch  *breaker.Breaker
	stock  *breaker.Breaker
	opts   options
}

var _ domain.ProductCatalog = (*Products)(nil)

// NewProducts создаёт gateway каталога. Breaker берутся из общего реестра;
// ответ "товара нет" отказом каталога не считается.
func NewProducts(client ProductsClient, registry *breaker.Registry, opts ...Option) *Products {
	return &Products{
		client: client,
		exists: registry.GetClassified(BreakerProductsExists, IsDependencyFailure),
		fetch:  registry.GetClassified(BreakerProductsFetch, IsDependencyFailure),
		stock:  registry.GetClassified(BreakerProductsStock, IsDependencyFailure),
		opts:   buildOptions("products-gateway", opts),
	}
}

// Exists проверяет наличие товара в каталоге. При деградации отвечает false.
func (p *Products) Exists(ctx context.Context, productID string) bool {
	ok, err := call(ctx, p.exists, p.opts.timeouts.Check, func(ctx context.Context) (bool, error) {
		return p.client.Exists(ctx, productID)
	})
	if err != nil {
		p.opts.fallback(BreakerProductsExists, productID, err)
		return false
	}
	return ok
}

// Fetch загружает данные товара. Отсутствие товара возвращается как ErrProductNotFound,
// любая другая ошибка как ErrServiceUnavailable с сохранением причины.
func (p *Products) Fetch(ctx context.Context, productID string) (domain.Product, error) {
	product, err := call(ctx, p.fetch, p.opts.timeouts.Fetch, func(ctx context.Context) (domain.Product, error) {
		return p.client.Fetch(ctx, productID)
	})
	if err == nil {
		return product, nil
	}
	if errors.Is(err, domain.ErrProductNotFound) {
		return domain.Product{}, err
	}
	p.opts.fallback(BreakerProductsFetch, productID, err)
	return domain.Product{}, fmt.Errorf("%w: product %s: %w", domain.ErrServiceUnavailable, productID, err)
}

// Stock возвращает остаток товара. При деградации отвечает 0.
func (p *Products) Stock(ctx context.Context, productID string) int {
	qty, err := call(ctx, p.stock, p.opts.timeouts.Check, func(ctx context.Context) (int, error) {
		return p.client.Stock(ctx, productID)
	})
	if err != nil {
		p.opts.fallback(BreakerProductsStock, productID, err)
		return 0
	}
	return qty
}
