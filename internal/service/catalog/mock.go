package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/gateway"
)

// MockClient — конфигурируемый каталог в памяти для тестов и локального запуска.
type MockClient struct {
	mu       sync.Mutex
	products map[string]domain.Product
	stock    map[string]int

	// Ошибки, которые возвращают соответствующие методы.
	ExistsErr error
	FetchErr  error
	StockErr  error

	ExistsCalls int
	FetchCalls  int
	StockCalls  int
}

var _ gateway.ProductsClient = (*MockClient)(nil)

// NewMockClient возвращает пустой каталог.
func NewMockClient() *MockClient {
	return &MockClient{
		products: make(map[string]domain.Product),
		stock:    make(map[string]int),
	}
}

// Put добавляет или заменяет товар вместе с остатком.
func (m *MockClient) Put(product domain.Product, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[product.ID] = product
	m.stock[product.ID] = stock
}

// SetErrors задаёт ошибки для всех трёх методов.
func (m *MockClient) SetErrors(exists, fetch, stock error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExistsErr, m.FetchErr, m.StockErr = exists, fetch, stock
}

// Calls возвращает число вызовов Exists, Fetch и Stock.
func (m *MockClient) Calls() (exists, fetch, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ExistsCalls, m.FetchCalls, m.StockCalls
}

func (m *MockClient) Exists(_ context.Context, productID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExistsCalls++
	if m.ExistsErr != nil {
		return false, m.ExistsErr
	}
	_, ok := m.products[productID]
	return ok, nil
}

func (m *MockClient) Fetch(_ context.Context, productID string) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FetchCalls++
	if m.FetchErr != nil {
		return domain.Product{}, m.FetchErr
	}
	product, ok := m.products[productID]
	if !ok {
		return domain.Product{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	return product, nil
}

func (m *MockClient) Stock(_ context.Context, productID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StockCalls++
	if m.StockErr != nil {
		return 0, m.StockErr
	}
	return m.stock[productID], nil
}
