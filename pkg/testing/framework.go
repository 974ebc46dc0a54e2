// Package testing provides a testcontainers-backed integration suite for
// exercising the credential store and execution server against real
// Postgres and Redis instances instead of mocks.
package testing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/crossspread/execution-gateway/internal/config"
	"github.com/crossspread/execution-gateway/pkg/observability"
)

// IntegrationSuite boots a disposable Postgres and Redis instance per test
// run via testcontainers and tears them down afterward. Embed it in a
// package's test suite to get a live DB/Redis pair without touching shared
// infrastructure.
type IntegrationSuite struct {
	suite.Suite

	DB       *sql.DB
	Redis    *redis.Client
	PostgresDSN string

	postgresContainer testcontainers.Container
	redisContainer    testcontainers.Container

	Logger *observability.Logger

	Ctx        context.Context
	CancelFunc context.CancelFunc
}

// SetupSuite starts the containers and establishes connections.
func (s *IntegrationSuite) SetupSuite() {
	s.Ctx, s.CancelFunc = context.WithCancel(context.Background())

	s.Logger = observability.NewLogger(config.ObservabilityConfig{
		ServiceName: "execution-gateway-test",
		LogLevel:    "debug",
		LogFormat:   "json",
	})

	s.startPostgres()
	s.startRedis()
}

// TearDownSuite stops the containers and closes connections.
func (s *IntegrationSuite) TearDownSuite() {
	if s.DB != nil {
		s.DB.Close()
	}
	if s.Redis != nil {
		s.Redis.Close()
	}
	if s.postgresContainer != nil {
		s.postgresContainer.Terminate(s.Ctx)
	}
	if s.redisContainer != nil {
		s.redisContainer.Terminate(s.Ctx)
	}
	if s.CancelFunc != nil {
		s.CancelFunc()
	}
}

// SetupTest truncates state between tests so they remain independent.
func (s *IntegrationSuite) SetupTest() {
	s.cleanDatabase()
	require.NoError(s.T(), s.Redis.FlushDB(s.Ctx).Err())
}

func (s *IntegrationSuite) startPostgres() {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "execution_gateway_test",
			"POSTGRES_USER":     "execution_gateway",
			"POSTGRES_PASSWORD": "test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}

	container, err := testcontainers.GenericContainer(s.Ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T(), err)
	s.postgresContainer = container

	host, err := container.Host(s.Ctx)
	require.NoError(s.T(), err)
	port, err := container.MappedPort(s.Ctx, "5432")
	require.NoError(s.T(), err)

	dsn := fmt.Sprintf("postgres://execution_gateway:test@%s:%s/execution_gateway_test?sslmode=disable", host, port.Port())
	s.PostgresDSN = dsn
	s.DB, err = sql.Open("postgres", dsn)
	require.NoError(s.T(), err)

	require.Eventually(s.T(), func() bool {
		return s.DB.PingContext(s.Ctx) == nil
	}, 30*time.Second, 500*time.Millisecond)

	_, err = s.DB.ExecContext(s.Ctx, createCredentialsTableSQL)
	require.NoError(s.T(), err)
}

func (s *IntegrationSuite) startRedis() {
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	}

	container, err := testcontainers.GenericContainer(s.Ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T(), err)
	s.redisContainer = container

	host, err := container.Host(s.Ctx)
	require.NoError(s.T(), err)
	port, err := container.MappedPort(s.Ctx, "6379")
	require.NoError(s.T(), err)

	s.Redis = redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})

	require.Eventually(s.T(), func() bool {
		return s.Redis.Ping(s.Ctx).Err() == nil
	}, 30*time.Second, 500*time.Millisecond)
}

func (s *IntegrationSuite) cleanDatabase() {
	if s.DB == nil {
		return
	}
	_, err := s.DB.ExecContext(s.Ctx, "TRUNCATE TABLE api_credentials")
	require.NoError(s.T(), err)
}

// AssertDatabaseRowCount asserts the row count of a table matches expected.
func (s *IntegrationSuite) AssertDatabaseRowCount(table string, expected int) {
	var count int
	err := s.DB.QueryRowContext(s.Ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
	require.NoError(s.T(), err)
	s.Equal(expected, count)
}

const createCredentialsTableSQL = `
CREATE TABLE IF NOT EXISTS api_credentials (
	api_key_id uuid PRIMARY KEY,
	user_id uuid NOT NULL,
	exchange_id text NOT NULL,
	api_key_encrypted bytea NOT NULL,
	api_secret_encrypted bytea NOT NULL,
	passphrase_encrypted bytea,
	created_at timestamptz NOT NULL DEFAULT now()
)`
