package postgres

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
	container     *tcpostgres.PostgresContainer
)

func TestMain(m *testing.M) {
	code := m.Run()
	if container != nil {
		_ = testcontainers.TerminateContainer(container)
	}
	os.Exit(code)
}

func openPostgresStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()

	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	truncateAllTablesForIntegrationTest(t, store)

	return store
}

// openRawPostgresStoreForIntegrationTest подключается к базе из ORDERS_POSTGRES_TEST_DSN,
// иначе поднимает контейнер; без Docker тест пропускается.
func openRawPostgresStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration tests are skipped in -short mode")
	}

	dsn := strings.TrimSpace(os.Getenv("ORDERS_POSTGRES_TEST_DSN"))
	if dsn == "" {
		dsn = containerPostgresDSN(t)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is not available for integration tests: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func containerPostgresDSN(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	containerOnce.Do(func() {
		ctx := context.Background()
		container, containerErr = tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("orders"),
			tcpostgres.WithUsername("orders"),
			tcpostgres.WithPassword("orders"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if containerErr != nil {
			return
		}
		containerDSN, containerErr = container.ConnectionString(ctx, "sslmode=disable")
	})

	if containerErr != nil {
		t.Skipf("postgres container is not available: %v", containerErr)
	}
	return containerDSN
}

func truncateAllTablesForIntegrationTest(t *testing.T, store *Store) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := store.DB().ExecContext(ctx, `
		TRUNCATE TABLE
			idempotency_keys,
			outbox_messages,
			timeline_events,
			order_items,
			orders
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("truncate integration tables: %v", err)
	}
}

func sampleOrder(t *testing.T, userID string, createdAt time.Time) domain.Order {
	t.Helper()

	order := domain.NewOrder(domain.OrderDraft{
		UserID:        userID,
		CustomerName:  "Jane Doe",
		CustomerEmail: "jane@example.com",
		Currency:      "USD",
		ShippingCost:  decimal.RequireFromString("5.00"),
		ShippingAddress: &domain.Address{
			Line1:      "1 Main Street",
			City:       "Springfield",
			State:      "IL",
			PostalCode: "62701",
			Country:    "US",
		},
		Notes: "leave at the door",
	}, createdAt)

	for i, price := range []string{"10.00", "3.33"} {
		err := order.AddItem(domain.OrderItem{
			ProductID:   fmt.Sprintf("P%d", i+1),
			ProductName: fmt.Sprintf("Product %d", i+1),
			ProductSKU:  fmt.Sprintf("SKU-%d", i+1),
			Currency:    "USD",
			Quantity:    i + 1,
			UnitPrice:   decimal.RequireFromString(price),
		}, createdAt)
		if err != nil {
			t.Fatalf("add item: %v", err)
		}
	}
	return *order
}
