package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/crossspread/execution-gateway/internal/config"
	"github.com/crossspread/execution-gateway/pkg/observability"
	_ "github.com/lib/pq"
)

// DB wraps sql.DB with query metrics and background health monitoring.
type DB struct {
	*sql.DB
	logger              *observability.Logger
	metrics             *DatabaseMetrics
	healthCheckInterval time.Duration
}

// DatabaseMetrics tracks database performance metrics
type DatabaseMetrics struct {
	QueryCount      int64
	SlowQueryCount  int64
	ActiveConns     int64
	IdleConns       int64
	AvgQueryTime    time.Duration
	mu              sync.RWMutex
}

// NewPostgresDB creates a new PostgreSQL database connection.
func NewPostgresDB(cfg config.DatabaseConfig, logger *observability.Logger) (*DB, error) {
	sqlDB, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{
		DB:                  sqlDB,
		logger:              logger,
		metrics:             &DatabaseMetrics{},
		healthCheckInterval: cfg.HealthCheckInterval,
	}

	go db.startHealthMonitoring()

	logger.Info(context.Background(), "Database connection established", map[string]interface{}{
		"max_open_conns": cfg.MaxOpenConns,
		"max_idle_conns": cfg.MaxIdleConns,
	})

	return db, nil
}

// QueryRowWithMetrics runs QueryRowContext while tracking latency.
func (db *DB) QueryRowWithMetrics(ctx context.Context, query string, args ...interface{}) *sql.Row {
	start := time.Now()
	row := db.QueryRowContext(ctx, query, args...)
	db.updateMetrics(ctx, time.Since(start), query)
	return row
}

// ExecWithMetrics executes a query with performance tracking.
func (db *DB) ExecWithMetrics(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	result, err := db.ExecContext(ctx, query, args...)
	db.updateMetrics(ctx, time.Since(start), query)
	return result, err
}

func (db *DB) updateMetrics(ctx context.Context, duration time.Duration, query string) {
	db.metrics.mu.Lock()
	defer db.metrics.mu.Unlock()

	db.metrics.QueryCount++
	if db.metrics.AvgQueryTime == 0 {
		db.metrics.AvgQueryTime = duration
	} else {
		alpha := 0.1
		db.metrics.AvgQueryTime = time.Duration(float64(db.metrics.AvgQueryTime)*(1-alpha) + float64(duration)*alpha)
	}

	if duration > 100*time.Millisecond {
		db.metrics.SlowQueryCount++
		db.logger.Warn(ctx, "Slow query detected", map[string]interface{}{
			"query":    query,
			"duration": duration,
		})
	}
}

func (db *DB) startHealthMonitoring() {
	if db.healthCheckInterval <= 0 {
		return
	}
	ticker := time.NewTicker(db.healthCheckInterval)
	defer ticker.Stop()

	for range ticker.C {
		db.performHealthCheck()
	}
}

func (db *DB) performHealthCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.DB.PingContext(ctx); err != nil {
		db.logger.Error(ctx, "Database health check failed", err)
		return
	}

	stats := db.DB.Stats()
	db.metrics.mu.Lock()
	db.metrics.ActiveConns = int64(stats.OpenConnections)
	db.metrics.IdleConns = int64(stats.Idle)
	db.metrics.mu.Unlock()
}

// GetMetrics returns current database metrics.
func (db *DB) GetMetrics() map[string]interface{} {
	db.metrics.mu.RLock()
	defer db.metrics.mu.RUnlock()

	return map[string]interface{}{
		"query_count":      db.metrics.QueryCount,
		"slow_query_count": db.metrics.SlowQueryCount,
		"active_conns":     db.metrics.ActiveConns,
		"idle_conns":       db.metrics.IdleConns,
		"avg_query_time":   db.metrics.AvgQueryTime,
	}
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.logger.Info(context.Background(), "Closing database connection")
	return db.DB.Close()
}

// Health checks the database health.
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Transaction executes a function within a database transaction.
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	err = fn(tx)
	return err
}
