package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the execution gateway.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Exchanges     map[string]ExchangeConfig
	Slicer        SlicerConfig
	Crypto        CryptoConfig
	Observability ObservabilityConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	URL                 string
	MaxOpenConns        int
	MaxIdleConns        int
	ConnMaxLifetime     time.Duration
	ConnMaxIdleTime     time.Duration
	QueryTimeout        time.Duration
	HealthCheckInterval time.Duration
}

type RedisConfig struct {
	URL                string
	Password           string
	DB                 int
	PoolSize           int
	MinIdleConns       int
	PoolTimeout        time.Duration
	MaxRetries         int
	MinRetryBackoff    time.Duration
	MaxRetryBackoff    time.Duration
	RequestsStream     string
	ResultsStream      string
	ConsumerGroup      string
	ConsumerName       string
	BlockTimeout       time.Duration
	CredentialCacheTTL time.Duration
}

// ExchangeConfig mirrors internal/exchange.Config but is populated from
// per-venue environment overrides before being handed to the registry.
type ExchangeConfig struct {
	ID      string
	RestURL string
	WSURL   string
	Testnet bool
}

type SlicerConfig struct {
	DefaultSlicePercent  string
	DefaultSliceInterval time.Duration
	MaxParallelSlices    int
	PriceToleranceBps    int
	SliceTimeout         time.Duration
	DustThreshold        string
	CompletionTolerance  string
	EmergencyExitBps     int
}

type CryptoConfig struct {
	EncryptionKeyBase64 string
}

type ObservabilityConfig struct {
	JaegerEndpoint string
	ServiceName    string
	LogLevel       string
	LogFormat      string
	MetricsPort    int
}

// defaultExchangeIDs lists every venue the adapter registry wires by
// default. Each entry picks up EXEC_EXCHANGE_<ID>_REST_URL/_WS_URL/_TESTNET
// overrides from the environment if present.
var defaultExchangeIDs = []string{
	"binance", "bybit", "okx", "bitget", "kucoin",
	"gateio", "mexc", "bingx", "coinex", "lbank", "htx",
}

var defaultRestURLs = map[string]string{
	"binance": "https://fapi.binance.com",
	"bybit":   "https://api.bybit.com",
	"okx":     "https://www.okx.com",
	"bitget":  "https://api.bitget.com",
	"kucoin":  "https://api-futures.kucoin.com",
	"gateio":  "https://api.gateio.ws",
	"mexc":    "https://contract.mexc.com",
	"bingx":   "https://open-api.bingx.com",
	"coinex":  "https://api.coinex.com",
	"lbank":   "https://lbkperp.lbank.com",
	"htx":     "https://api.htx.com",
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("EXEC_SERVICE_PORT", "9000"),
			Host:         getEnv("EXEC_SERVICE_HOST", "0.0.0.0"),
			ReadTimeout:  getDurationEnv("EXEC_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDurationEnv("EXEC_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDurationEnv("EXEC_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			URL:                 getEnv("DATABASE_URL", ""),
			MaxOpenConns:        getIntEnv("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:        getIntEnv("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime:     getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime:     getDurationEnv("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			QueryTimeout:        getDurationEnv("DB_QUERY_TIMEOUT", 5*time.Second),
			HealthCheckInterval: getDurationEnv("DB_HEALTH_CHECK_INTERVAL", 30*time.Second),
		},
		Redis: RedisConfig{
			URL:                getEnv("REDIS_URL", "redis://localhost:6379"),
			Password:           getEnv("REDIS_PASSWORD", ""),
			DB:                 getIntEnv("REDIS_DB", 0),
			PoolSize:           getIntEnv("REDIS_POOL_SIZE", 20),
			MinIdleConns:       getIntEnv("REDIS_MIN_IDLE_CONNS", 5),
			PoolTimeout:        getDurationEnv("REDIS_POOL_TIMEOUT", 4*time.Second),
			MaxRetries:         getIntEnv("REDIS_MAX_RETRIES", 3),
			MinRetryBackoff:    getDurationEnv("REDIS_MIN_RETRY_BACKOFF", 8*time.Millisecond),
			MaxRetryBackoff:    getDurationEnv("REDIS_MAX_RETRY_BACKOFF", 512*time.Millisecond),
			RequestsStream:     getEnv("EXEC_REQUESTS_STREAM", "execution:requests"),
			ResultsStream:      getEnv("EXEC_RESULTS_STREAM", "execution:results"),
			ConsumerGroup:      getEnv("EXEC_CONSUMER_GROUP", "execution-gateway"),
			ConsumerName:       getEnv("EXEC_CONSUMER_NAME", hostnameOrDefault("execution-gateway-1")),
			BlockTimeout:       getDurationEnv("EXEC_STREAM_BLOCK_TIMEOUT", 5*time.Second),
			CredentialCacheTTL: getDurationEnv("EXEC_CREDENTIAL_CACHE_TTL", 5*time.Minute),
		},
		Exchanges: loadExchangeConfigs(),
		Slicer: SlicerConfig{
			DefaultSlicePercent:  getEnv("EXEC_DEFAULT_SLICE_PERCENT", "0.05"),
			DefaultSliceInterval: getDurationEnv("EXEC_DEFAULT_SLICE_INTERVAL", 100*time.Millisecond),
			MaxParallelSlices:    getIntEnv("EXEC_MAX_PARALLEL_SLICES", 1),
			PriceToleranceBps:    getIntEnv("EXEC_PRICE_TOLERANCE_BPS", 5),
			SliceTimeout:         getDurationEnv("EXEC_SLICE_TIMEOUT", 30*time.Second),
			DustThreshold:        getEnv("EXEC_DUST_THRESHOLD", "0.001"),
			CompletionTolerance:  getEnv("EXEC_COMPLETION_TOLERANCE", "0.99"),
			EmergencyExitBps:     getIntEnv("EXEC_EMERGENCY_EXIT_BPS", 50),
		},
		Crypto: CryptoConfig{
			EncryptionKeyBase64: getEnv("ENCRYPTION_KEY_BASE64", ""),
		},
		Observability: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "execution-gateway"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsPort:    getIntEnv("EXEC_METRICS_PORT", 9091),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func loadExchangeConfigs() map[string]ExchangeConfig {
	out := make(map[string]ExchangeConfig, len(defaultExchangeIDs))
	for _, id := range defaultExchangeIDs {
		upper := strings.ToUpper(id)
		out[id] = ExchangeConfig{
			ID:      id,
			RestURL: getEnv(fmt.Sprintf("EXEC_EXCHANGE_%s_REST_URL", upper), defaultRestURLs[id]),
			WSURL:   getEnv(fmt.Sprintf("EXEC_EXCHANGE_%s_WS_URL", upper), ""),
			Testnet: getBoolEnv(fmt.Sprintf("EXEC_EXCHANGE_%s_TESTNET", upper), false),
		}
	}
	return out
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Crypto.EncryptionKeyBase64 == "" {
		return fmt.Errorf("ENCRYPTION_KEY_BASE64 is required")
	}
	return nil
}

func hostnameOrDefault(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}

// Helper functions for environment variable parsing.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

