package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string
	MetricsAddr string
	GRPCAddr    string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// Пустой список брокеров отключает Kafka.
	KafkaBrokers      []string
	KafkaClientID     string
	KafkaOrderTopic   string
	KafkaPaymentTopic string
	KafkaDLQTopic     string
	KafkaGroupID      string

	// Пустой URL означает каталог/справочник в памяти.
	ProductsURL string
	UsersURL    string

	// Пустой адрес отключает кэш каталога.
	RedisAddr       string
	CatalogCacheTTL time.Duration

	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration
	GatewayCheckTimeout     time.Duration
	GatewayFetchTimeout     time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	StockCheck      bool
	LogLevel        string
	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",
		GRPCAddr:    ":50051",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		KafkaClientID:     "order-service",
		KafkaOrderTopic:   kafka.TopicOrderEvents,
		KafkaPaymentTopic: kafka.TopicPaymentEvents,
		KafkaDLQTopic:     kafka.TopicDeadLetterQueue,
		KafkaGroupID:      "order-service",

		CatalogCacheTTL: 5 * time.Minute,

		BreakerFailureThreshold: 5,
		BreakerOpenTimeout:      30 * time.Second,
		GatewayCheckTimeout:     3 * time.Second,
		GatewayFetchTimeout:     5 * time.Second,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		StockCheck:      true,
		LogLevel:        "info",
		ShutdownTimeout: 5 * time.Second,
	}
}

// LoadConfig читает .env (если он есть) и переменные окружения ORDERS_*.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return configFromEnv(os.LookupEnv)
}

func configFromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()
	env := envReader{lookup: lookup}

	env.str("ORDERS_HTTP_ADDR", &cfg.HTTPAddr)
	env.str("ORDERS_METRICS_ADDR", &cfg.MetricsAddr)
	env.str("ORDERS_GRPC_ADDR", &cfg.GRPCAddr)

	env.str("ORDERS_STORAGE_DRIVER", &cfg.StorageDriver)
	env.str("ORDERS_POSTGRES_DSN", &cfg.PostgresDSN)
	env.boolean("ORDERS_POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)

	env.list("ORDERS_KAFKA_BROKERS", &cfg.KafkaBrokers)
	env.str("ORDERS_KAFKA_CLIENT_ID", &cfg.KafkaClientID)
	env.str("ORDERS_KAFKA_ORDER_TOPIC", &cfg.KafkaOrderTopic)
	env.str("ORDERS_KAFKA_PAYMENT_TOPIC", &cfg.KafkaPaymentTopic)
	env.str("ORDERS_KAFKA_DLQ_TOPIC", &cfg.KafkaDLQTopic)
	env.str("ORDERS_KAFKA_GROUP_ID", &cfg.KafkaGroupID)

	env.str("ORDERS_PRODUCTS_URL", &cfg.ProductsURL)
	env.str("ORDERS_USERS_URL", &cfg.UsersURL)

	env.str("ORDERS_REDIS_ADDR", &cfg.RedisAddr)
	env.duration("ORDERS_CATALOG_CACHE_TTL", &cfg.CatalogCacheTTL)

	env.integer("ORDERS_BREAKER_FAILURE_THRESHOLD", &cfg.BreakerFailureThreshold)
	env.duration("ORDERS_BREAKER_OPEN_TIMEOUT", &cfg.BreakerOpenTimeout)
	env.duration("ORDERS_GATEWAY_CHECK_TIMEOUT", &cfg.GatewayCheckTimeout)
	env.duration("ORDERS_GATEWAY_FETCH_TIMEOUT", &cfg.GatewayFetchTimeout)

	env.duration("ORDERS_OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	env.integer("ORDERS_OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	env.integer("ORDERS_OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	env.duration("ORDERS_OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)

	env.duration("ORDERS_IDEMPOTENCY_TTL", &cfg.IdempotencyTTL)
	env.duration("ORDERS_IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.IdempotencyCleanupInterval)
	env.integer("ORDERS_IDEMPOTENCY_CLEANUP_BATCH_SIZE", &cfg.IdempotencyCleanupBatchSize)

	env.boolean("ORDERS_STOCK_CHECK", &cfg.StockCheck)
	env.str("ORDERS_LOG_LEVEL", &cfg.LogLevel)
	env.duration("ORDERS_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)

	if err := errors.Join(env.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("ORDERS_POSTGRES_DSN is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address must not be empty"))
	}
	if c.BreakerFailureThreshold <= 0 {
		errs = append(errs, errors.New("breaker failure threshold must be positive"))
	}
	if c.BreakerOpenTimeout <= 0 {
		errs = append(errs, errors.New("breaker open timeout must be positive"))
	}
	if c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox batch size and max attempts must be positive"))
	}
	if c.OutboxRetryDelay < 0 {
		errs = append(errs, errors.New("outbox retry delay must not be negative"))
	}
	if c.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("idempotency ttl must be positive"))
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaGroupID == "" {
		errs = append(errs, errors.New("kafka group id is required when brokers are set"))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	return errors.Join(errs...)
}

// KafkaEnabled сообщает, заданы ли брокеры Kafka.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) value(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.value(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.value(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.value(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid bool %q", key, v))
		return
	}
	*dst = parsed
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.value(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return
	}
	*dst = parsed
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.value(key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return
	}
	*dst = parsed
}
