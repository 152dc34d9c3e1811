// Package catalog содержит транспорт к сервису каталога товаров.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/gateway"
	"github.com/vladislavdragonenkov/orders/internal/service/remote"
)

// productPayload — представление товара в API каталога.
type productPayload struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	SKU      string          `json:"sku"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
}

func (p productPayload) toDomain() domain.Product {
	return domain.Product{
		ID:        p.ID,
		Name:      p.Name,
		SKU:       p.SKU,
		UnitPrice: p.Price,
		Currency:  p.Currency,
	}
}

// HTTPClient обращается к каталогу по JSON API /api/v1/products.
type HTTPClient struct {
	remote *remote.Client
}

var _ gateway.ProductsClient = (*HTTPClient)(nil)

// NewHTTPClient создаёт клиента каталога. httpClient может быть nil.
func NewHTTPClient(baseURL string, httpClient *http.Client, logger *log.Entry) *HTTPClient {
	return &HTTPClient{remote: remote.NewClient(baseURL, "catalog", httpClient, logger)}
}

// Exists вызывает GET /api/v1/products/{id}/exists.
func (c *HTTPClient) Exists(ctx context.Context, productID string) (bool, error) {
	var exists bool
	err := c.remote.GetJSON(ctx, productPath(productID)+"/exists", &exists)
	if errors.Is(err, remote.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return exists, nil
}

// Fetch вызывает GET /api/v1/products/{id}.
func (c *HTTPClient) Fetch(ctx context.Context, productID string) (domain.Product, error) {
	var payload productPayload
	err := c.remote.GetJSON(ctx, productPath(productID), &payload)
	if errors.Is(err, remote.ErrNotFound) {
		return domain.Product{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	if err != nil {
		return domain.Product{}, err
	}
	if payload.ID == "" {
		payload.ID = productID
	}
	return payload.toDomain(), nil
}

// Stock вызывает GET /api/v1/products/{id}/stock.
func (c *HTTPClient) Stock(ctx context.Context, productID string) (int, error) {
	var stock int
	err := c.remote.GetJSON(ctx, productPath(productID)+"/stock", &stock)
	if errors.Is(err, remote.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return stock, nil
}

func productPath(productID string) string {
	return "/api/v1/products/" + remote.PathEscape(productID)
}
