package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/gateway"
)

const defaultCacheTTL = 5 * time.Minute

// Store — подмножество команд Redis, нужное кэшу.
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedClient кэширует карточки товаров в Redis (cache-aside).
// Проверки наличия и остатка всегда идут в каталог.
// Ошибки Redis не прерывают запрос: кэш пропускается.
type CachedClient struct {
	next   gateway.ProductsClient
	store  Store
	ttl    time.Duration
	prefix string
	logger *log.Entry
}

var _ gateway.ProductsClient = (*CachedClient)(nil)

// NewCachedClient оборачивает next кэшем.
func NewCachedClient(next gateway.ProductsClient, store Store, ttl time.Duration, logger *log.Entry) *CachedClient {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = log.WithField("component", "catalog-cache")
	}
	return &CachedClient{
		next:   next,
		store:  store,
		ttl:    ttl,
		prefix: "orders:catalog:product",
		logger: logger,
	}
}

// NewRedisStore создаёт клиента Redis по адресу host:port.
func NewRedisStore(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

type cachedProduct struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SKU       string `json:"sku"`
	UnitPrice string `json:"unitPrice"`
	Currency  string `json:"currency"`
}

// Exists не кэшируется.
func (c *CachedClient) Exists(ctx context.Context, productID string) (bool, error) {
	return c.next.Exists(ctx, productID)
}

// Stock не кэшируется.
func (c *CachedClient) Stock(ctx context.Context, productID string) (int, error) {
	return c.next.Stock(ctx, productID)
}

// Fetch читает товар из кэша, при промахе загружает из каталога и сохраняет.
func (c *CachedClient) Fetch(ctx context.Context, productID string) (domain.Product, error) {
	key := c.key(productID)

	if product, ok := c.lookup(ctx, key); ok {
		return product, nil
	}

	product, err := c.next.Fetch(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}

	c.remember(ctx, key, product)
	return product, nil
}

func (c *CachedClient) lookup(ctx context.Context, key string) (domain.Product, bool) {
	raw, err := c.store.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Product{}, false
	}
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("cache read failed")
		return domain.Product{}, false
	}

	product, err := decodeProduct(raw)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("cache entry is corrupted")
		return domain.Product{}, false
	}
	return product, true
}

func (c *CachedClient) remember(ctx context.Context, key string, product domain.Product) {
	raw, err := json.Marshal(cachedProduct{
		ID:        product.ID,
		Name:      product.Name,
		SKU:       product.SKU,
		UnitPrice: product.UnitPrice.String(),
		Currency:  product.Currency,
	})
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("cache write failed")
	}
}

func (c *CachedClient) key(productID string) string {
	return fmt.Sprintf("%s:%s", c.prefix, productID)
}

func decodeProduct(raw string) (domain.Product, error) {
	var cached cachedProduct
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return domain.Product{}, err
	}
	price, err := decimal.NewFromString(cached.UnitPrice)
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ID:        cached.ID,
		Name:      cached.Name,
		SKU:       cached.SKU,
		UnitPrice: price,
		Currency:  cached.Currency,
	}, nil
}
