// Package testing provides test utilities including testcontainers setup.
package testing

import (
	"context"
	"errors"
	"fmt"
	stdtesting "testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jamibilling/rdn-billing/internal/storage"
	"github.com/jamibilling/rdn-billing/pkg/logger"
)

// ContainerConfig holds configuration for test containers.
type ContainerConfig struct {
	PostgresImage   string
	PostgresDB      string
	PostgresUser    string
	PostgresPass    string
	RedisImage      string
	StartupTimeout  time.Duration
	CleanupOnFinish bool
}

// DefaultContainerConfig returns a default container configuration.
func DefaultContainerConfig() ContainerConfig {
	return ContainerConfig{
		PostgresImage:   "postgres:16-alpine",
		PostgresDB:      "rdn_billing_test",
		PostgresUser:    "testuser",
		PostgresPass:    "testpass",
		RedisImage:      "redis:7-alpine",
		StartupTimeout:  60 * time.Second,
		CleanupOnFinish: true,
	}
}

// TestContainers holds running test containers.
type TestContainers struct {
	PostgresContainer *postgres.PostgresContainer
	RedisContainer    *redis.RedisContainer
	PostgresConnStr   string
	RedisAddr         string
	config            ContainerConfig
	logger            *logger.Logger
}

// NewTestContainers creates a container set. Nothing runs until a Start
// method is called.
func NewTestContainers(config ContainerConfig, log *logger.Logger) *TestContainers {
	if log == nil {
		log = logger.Nop()
	}
	return &TestContainers{
		config: config,
		logger: log.WithComponent("testcontainers"),
	}
}

// Start starts the requested containers for one test and terminates them
// when it ends. The test is skipped when no container runtime is available.
func Start(t *stdtesting.T, withPostgres, withRedis bool) *TestContainers {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	tc := NewTestContainers(DefaultContainerConfig(), nil)
	t.Cleanup(func() {
		if err := tc.Cleanup(context.Background()); err != nil {
			t.Logf("container cleanup: %v", err)
		}
	})

	if withPostgres {
		if err := tc.StartPostgres(ctx); err != nil {
			t.Fatalf("start postgres: %v", err)
		}
	}
	if withRedis {
		if err := tc.StartRedis(ctx); err != nil {
			t.Fatalf("start redis: %v", err)
		}
	}
	return tc
}

// StartPostgres starts a PostgreSQL container.
func (tc *TestContainers) StartPostgres(ctx context.Context) error {
	tc.logger.Info("starting PostgreSQL container", "image", tc.config.PostgresImage)

	container, err := postgres.Run(ctx,
		tc.config.PostgresImage,
		postgres.WithDatabase(tc.config.PostgresDB),
		postgres.WithUsername(tc.config.PostgresUser),
		postgres.WithPassword(tc.config.PostgresPass),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(tc.config.StartupTimeout),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to start postgres container: %w", err)
	}
	tc.PostgresContainer = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return fmt.Errorf("failed to get postgres connection string: %w", err)
	}
	tc.PostgresConnStr = connStr

	tc.logger.Info("PostgreSQL container started")
	return nil
}

// StartRedis starts a Redis container.
func (tc *TestContainers) StartRedis(ctx context.Context) error {
	tc.logger.Info("starting Redis container", "image", tc.config.RedisImage)

	container, err := redis.Run(ctx,
		tc.config.RedisImage,
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(tc.config.StartupTimeout),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to start redis container: %w", err)
	}
	tc.RedisContainer = container

	host, err := container.Host(ctx)
	if err != nil {
		return fmt.Errorf("failed to get redis host: %w", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		return fmt.Errorf("failed to get redis port: %w", err)
	}
	tc.RedisAddr = fmt.Sprintf("%s:%s", host, port.Port())

	tc.logger.Info("Redis container started", "addr", tc.RedisAddr)
	return nil
}

// StartAll starts both PostgreSQL and Redis containers.
func (tc *TestContainers) StartAll(ctx context.Context) error {
	if err := tc.StartPostgres(ctx); err != nil {
		return err
	}
	return tc.StartRedis(ctx)
}

// Cleanup terminates all running containers.
func (tc *TestContainers) Cleanup(ctx context.Context) error {
	if !tc.config.CleanupOnFinish {
		return nil
	}
	tc.logger.Info("cleaning up test containers")

	var errs []error
	if tc.PostgresContainer != nil {
		if err := tc.PostgresContainer.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to terminate postgres: %w", err))
		}
	}
	if tc.RedisContainer != nil {
		if err := tc.RedisContainer.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to terminate redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Postgres opens the fee database in the container and applies the schema.
func (tc *TestContainers) Postgres(ctx context.Context) (*storage.PostgresDB, error) {
	if tc.PostgresConnStr == "" {
		return nil, errors.New("postgres container not started")
	}

	db, err := storage.NewPostgres(ctx, storage.PostgresConfig{
		DSN:          tc.PostgresConnStr,
		MaxOpenConns: 4,
		MaxIdleConns: 1,
	})
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Redis connects to the Redis container.
func (tc *TestContainers) Redis(ctx context.Context) (*storage.RedisClientWrapper, error) {
	if tc.RedisAddr == "" {
		return nil, errors.New("redis container not started")
	}
	return storage.NewRedisClient(ctx, storage.RedisConfig{Addr: tc.RedisAddr})
}

// PostgresTestHelper provides helper methods for PostgreSQL testing.
type PostgresTestHelper struct {
	db   *storage.PostgresDB
	repo *storage.FeeRepository
}

// NewPostgresTestHelper creates a new PostgreSQL test helper.
func NewPostgresTestHelper(db *storage.PostgresDB) *PostgresTestHelper {
	return &PostgresTestHelper{db: db, repo: storage.NewFeeRepository(db)}
}

// TruncateAll truncates all tables for a clean test state.
func (h *PostgresTestHelper) TruncateAll(ctx context.Context) error {
	tables := []string{"fee_details", "fee_type", "lienholder", "rdn_client"}
	for _, table := range tables {
		if _, err := h.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}
	return nil
}

// TestRate is one contracted rate to seed.
type TestRate struct {
	Client     string
	Lienholder string
	FeeType    string
	Amount     string
}

// SeedRates inserts rates and returns the stored rows in order.
func (h *PostgresTestHelper) SeedRates(ctx context.Context, rates ...TestRate) ([]storage.FeeDetail, error) {
	out := make([]storage.FeeDetail, 0, len(rates))
	for _, r := range rates {
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil {
			return nil, fmt.Errorf("bad amount %q: %w", r.Amount, err)
		}
		fd, err := h.repo.UpsertFeeDetail(ctx, r.Client, r.Lienholder, r.FeeType, amount)
		if err != nil {
			return nil, err
		}
		out = append(out, fd)
	}
	return out, nil
}
