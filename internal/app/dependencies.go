package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orders/internal/health"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
	"github.com/vladislavdragonenkov/orders/internal/service/breaker"
	"github.com/vladislavdragonenkov/orders/internal/service/catalog"
	"github.com/vladislavdragonenkov/orders/internal/service/gateway"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
	"github.com/vladislavdragonenkov/orders/internal/service/users"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
	"github.com/vladislavdragonenkov/orders/internal/storage/postgres"
)

// runtimeDependencies содержит всё, что собирается до запуска серверов и воркеров.
type runtimeDependencies struct {
	repo            domain.OrderRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository

	store *postgres.Store
	redis *redis.Client

	metrics      *metrics.OrderMetrics
	breakers     *breaker.Registry
	products     *gateway.Products
	users        *gateway.Users
	orchestrator *orders.Orchestrator

	checkers map[string]healthcheck.Checker
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &runtimeDependencies{
		metrics:  metrics.NewOrderMetrics(),
		checkers: make(map[string]healthcheck.Checker),
	}
	if err := deps.initStorage(ctx, cfg, logger); err != nil {
		return nil, err
	}

	deps.breakers = breaker.NewRegistry(breaker.Settings{
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenTimeout:      cfg.BreakerOpenTimeout,
		IsFailure:        gateway.IsDependencyFailure,
		OnStateChange:    deps.metrics.SetBreakerState,
		Logger:           logger.WithField("component", "circuit-breaker"),
	})
	deps.checkers["breakers"] = healthcheck.NewBreakerChecker(deps.breakers)

	gatewayOpts := func(component string) []gateway.Option {
		return []gateway.Option{
			gateway.WithLogger(logger.WithField("component", component)),
			gateway.WithFallbackRecorder(deps.metrics),
			gateway.WithTimeouts(gateway.Timeouts{Check: cfg.GatewayCheckTimeout, Fetch: cfg.GatewayFetchTimeout}),
		}
	}
	deps.products = gateway.NewProducts(deps.productsClient(cfg, logger), deps.breakers, gatewayOpts("products-gateway")...)
	deps.users = gateway.NewUsers(usersClient(cfg, logger), deps.breakers, gatewayOpts("users-gateway")...)

	orchestratorOpts := []orders.Option{
		orders.WithLogger(logger.WithField("component", "order-orchestrator")),
		orders.WithMetrics(deps.metrics),
		orders.WithTimeline(deps.timelineRepo),
		orders.WithStockCheck(cfg.StockCheck),
	}
	// В памяти без Kafka события некому доставлять.
	if cfg.KafkaEnabled() || deps.store != nil {
		orchestratorOpts = append(orchestratorOpts, orders.WithOutbox(deps.outboxRepo))
	}
	deps.orchestrator = orders.NewOrchestrator(deps.repo, deps.products, deps.users, orchestratorOpts...)
	return deps, nil
}

func (d *runtimeDependencies) initStorage(ctx context.Context, cfg Config, logger *log.Entry) error {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		d.repo = memory.NewOrderRepository()
		d.outboxRepo = memory.NewOutboxRepository()
		d.timelineRepo = memory.NewTimelineRepository()
		d.idempotencyRepo = memory.NewIdempotencyRepository()
		logger.Info("using in-memory storage")
		return nil
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return errors.New("postgres storage requires dsn")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return fmt.Errorf("migrate postgres: %w", err)
			}
		}
		d.store = store
		d.repo = postgres.NewOrderRepository(store)
		d.outboxRepo = postgres.NewOutboxRepository(store)
		d.timelineRepo = postgres.NewTimelineRepository(store)
		d.idempotencyRepo = postgres.NewIdempotencyRepository(store)
		d.checkers["postgres"] = healthcheck.NewSimpleChecker("postgres", store.Ping)
		logger.WithField("auto_migrate", cfg.PostgresAutoMigrate).Info("using postgres storage")
		return nil
	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func (d *runtimeDependencies) productsClient(cfg Config, logger *log.Entry) gateway.ProductsClient {
	var client gateway.ProductsClient
	if cfg.ProductsURL != "" {
		client = catalog.NewHTTPClient(cfg.ProductsURL, nil, logger.WithField("component", "catalog-client"))
	} else {
		logger.Warn("ORDERS_PRODUCTS_URL is not set, using in-memory demo catalog")
		client = demoCatalog()
	}

	if cfg.RedisAddr == "" {
		return client
	}
	d.redis = catalog.NewRedisStore(cfg.RedisAddr)
	rdb := d.redis
	d.checkers["redis"] = healthcheck.NewSimpleChecker("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	return catalog.NewCachedClient(client, rdb, cfg.CatalogCacheTTL, logger.WithField("component", "catalog-cache"))
}

func usersClient(cfg Config, logger *log.Entry) gateway.UsersClient {
	if cfg.UsersURL != "" {
		return users.NewHTTPClient(cfg.UsersURL, nil, logger.WithField("component", "users-client"))
	}
	logger.Warn("ORDERS_USERS_URL is not set, any authenticated user is treated as active")
	directory := users.NewMockClient()
	directory.AllowUnknown = true
	return directory
}

// demoCatalog — небольшой каталог для локального запуска.
func demoCatalog() *catalog.MockClient {
	c := catalog.NewMockClient()
	c.Put(domain.Product{ID: "P1", Name: "Mechanical keyboard", SKU: "KB-001", UnitPrice: decimal.RequireFromString("10.00"), Currency: "USD"}, 100)
	c.Put(domain.Product{ID: "P2", Name: "USB-C cable", SKU: "CB-002", UnitPrice: decimal.RequireFromString("3.33"), Currency: "USD"}, 250)
	c.Put(domain.Product{ID: "P3", Name: "Monitor stand", SKU: "MS-003", UnitPrice: decimal.RequireFromString("45.90"), Currency: "USD"}, 0)
	return c
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			logger.WithError(err).Warn("failed to close redis client")
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}
