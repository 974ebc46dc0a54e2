package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/crossspread/execution-gateway/internal/config"
	"github.com/crossspread/execution-gateway/internal/crypto"
	"github.com/crossspread/execution-gateway/internal/exchange"
	"github.com/crossspread/execution-gateway/internal/server"
	"github.com/crossspread/execution-gateway/internal/slicer"
	"github.com/crossspread/execution-gateway/internal/store"
	"github.com/crossspread/execution-gateway/pkg/database"
	"github.com/crossspread/execution-gateway/pkg/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability)
	ctx := context.Background()

	tracing, err := observability.NewTracingProvider(cfg.Observability)
	if err != nil {
		logger.Error(ctx, "failed to initialize tracing", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Error(ctx, "tracing provider shutdown failed", err)
		}
	}()

	masterKey, err := crypto.NewMasterKeyFromBase64(cfg.Crypto.EncryptionKeyBase64)
	if err != nil {
		logger.Error(ctx, "invalid encryption key", err)
		os.Exit(1)
	}

	metrics, err := observability.NewMetricsProvider(observability.MetricsConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: "1.0.0",
		Namespace:      "execution_gateway",
		Port:           cfg.Observability.MetricsPort,
		Enabled:        true,
	})
	if err != nil {
		logger.Error(ctx, "failed to initialize metrics", err)
		os.Exit(1)
	}

	db, err := database.NewPostgresDB(cfg.Database, logger)
	if err != nil {
		logger.Error(ctx, "failed to connect to postgres", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(cfg.Redis, logger)
	if err != nil {
		logger.Error(ctx, "failed to connect to redis", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	registry, err := buildRegistry(cfg.Exchanges)
	if err != nil {
		logger.Error(ctx, "failed to build exchange registry", err)
		os.Exit(1)
	}
	logger.Info(ctx, "exchange registry ready", map[string]interface{}{"adapters": registry.Len()})

	slicerCfg, err := slicer.NewConfig(cfg.Slicer)
	if err != nil {
		logger.Error(ctx, "invalid slicer configuration", err)
		os.Exit(1)
	}

	credStore := store.NewCredentialStore(db)
	credCache := server.NewCredentialCache(credStore, masterKey, cfg.Redis.CredentialCacheTTL, metrics)

	execServer := server.New(
		cfg.Redis,
		registry,
		slicer.New(slicerCfg, observability.NewExecutionLogger(logger)),
		redisClient,
		credCache,
		logger,
		metrics,
	)

	resourceMonitor := observability.NewResourceMonitor(logger)
	defer resourceMonitor.Stop()

	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- execServer.Run(serverCtx)
	}()

	go func() {
		if err := metrics.StartMetricsServer(cfg.Observability.MetricsPort); err != nil {
			logger.Error(ctx, "metrics server exited", err)
		}
	}()

	httpServer := newHealthServer(cfg, logger, db, redisClient)
	go func() {
		logger.Info(ctx, "health server listening", map[string]interface{}{"addr": httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "health server exited", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info(ctx, "shutdown signal received")
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			logger.Error(ctx, "execution server stopped unexpectedly", err)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "health server forced shutdown", err)
	}
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "metrics provider shutdown failed", err)
	}

	logger.Info(ctx, "execution gateway stopped")
}

// buildRegistry instantiates one adapter per configured venue, failing fast
// if any venue's own constructor rejects its configuration.
func buildRegistry(exchanges map[string]config.ExchangeConfig) (*exchange.Registry, error) {
	registry := exchange.NewRegistry()

	constructors := map[string]func(exchange.Config) (exchange.Adapter, error){
		"binance": func(c exchange.Config) (exchange.Adapter, error) { return exchange.NewBinanceAdapter(c) },
		"bybit":   func(c exchange.Config) (exchange.Adapter, error) { return exchange.NewBybitAdapter(c) },
		"okx":     func(c exchange.Config) (exchange.Adapter, error) { return exchange.NewOkxAdapter(c) },
		"bitget":  func(c exchange.Config) (exchange.Adapter, error) { return exchange.NewBitgetAdapter(c) },
		"kucoin":  func(c exchange.Config) (exchange.Adapter, error) { return exchange.NewKucoinAdapter(c) },
		"gateio":  func(c exchange.Config) (exchange.Adapter, error) { return exchange.NewGateioAdapter(c) },
		"mexc":    func(c exchange.Config) (exchange.Adapter, error) { return exchange.NewMexcAdapter(c) },
		"bingx":   func(c exchange.Config) (exchange.Adapter, error) { return exchange.NewBingxAdapter(c) },
		"coinex":  func(c exchange.Config) (exchange.Adapter, error) { return exchange.NewCoinexAdapter(c) },
		"lbank":   func(c exchange.Config) (exchange.Adapter, error) { return exchange.NewLbankAdapter(c) },
		"htx":     func(c exchange.Config) (exchange.Adapter, error) { return exchange.NewHtxAdapter(c) },
	}

	for id, venueCfg := range exchanges {
		newAdapter, ok := constructors[id]
		if !ok {
			return nil, fmt.Errorf("no adapter constructor registered for venue %q", id)
		}
		adapter, err := newAdapter(exchange.Config{
			ID:      venueCfg.ID,
			RestURL: venueCfg.RestURL,
			WSURL:   venueCfg.WSURL,
			Testnet: venueCfg.Testnet,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize %s adapter: %w", id, err)
		}
		registry.Register(adapter)
	}

	return registry, nil
}

func newHealthServer(cfg *config.Config, logger *observability.Logger, db *database.DB, redisClient *database.RedisClient) *http.Server {
	checker := observability.NewHealthChecker(logger)
	checker.RegisterCheck("database", observability.DatabaseHealthCheck(db.Health))
	checker.RegisterCheck("redis", observability.RedisHealthCheck(redisClient.Health))

	healthServer := observability.NewHealthServer(checker, observability.ServiceInfo{
		Name:        cfg.Observability.ServiceName,
		Version:     "1.0.0",
		Environment: "production",
	}, logger)

	router := mux.NewRouter()
	router.Use(observability.RequestLoggingMiddleware(logger))
	healthServer.RegisterRoutes(router)

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
