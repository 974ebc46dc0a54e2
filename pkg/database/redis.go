package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crossspread/execution-gateway/internal/config"
	"github.com/crossspread/execution-gateway/pkg/observability"
	"github.com/redis/go-redis/v9"
)

// RedisClient wraps redis.Client with the Streams operations and latency
// metrics the execution gateway needs: request/result streams for the
// gateway's queue, plus a plain KV surface (SetWithExpiry).
type RedisClient struct {
	*redis.Client
	logger  *observability.Logger
	metrics *RedisMetrics
}

// RedisMetrics tracks Redis performance metrics
type RedisMetrics struct {
	HitCount    int64
	MissCount   int64
	SetCount    int64
	DeleteCount int64
	AvgLatency  time.Duration
	mu          sync.RWMutex
}

// NewRedisClient creates a new Redis client.
func NewRedisClient(cfg config.RedisConfig, logger *observability.Logger) (*RedisClient, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	opt.DB = cfg.DB
	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = cfg.MinIdleConns
	opt.PoolTimeout = cfg.PoolTimeout
	opt.MaxRetries = cfg.MaxRetries
	opt.MinRetryBackoff = cfg.MinRetryBackoff
	opt.MaxRetryBackoff = cfg.MaxRetryBackoff

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	redisClient := &RedisClient{
		Client:  client,
		logger:  logger,
		metrics: &RedisMetrics{},
	}

	logger.Info(ctx, "Redis client initialized", map[string]interface{}{
		"pool_size":      opt.PoolSize,
		"min_idle_conns": opt.MinIdleConns,
	})

	return redisClient, nil
}

// EnsureConsumerGroup creates the consumer group for a stream if it does not
// already exist, starting from the beginning of the stream.
func (r *RedisClient) EnsureConsumerGroup(ctx context.Context, stream, group string) error {
	err := r.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", group, stream, err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// XAddJSON appends a single JSON-serialized payload to a stream under the
// "data" field, which is the convention the execution gateway uses for both
// the requests and results streams.
func (r *RedisClient) XAddJSON(ctx context.Context, stream string, payload []byte) (string, error) {
	start := time.Now()
	id, err := r.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"data": payload},
	}).Result()
	r.updateMetrics("xadd", time.Since(start), err == nil)
	return id, err
}

// StreamMessage is a single entry read back from a consumer group.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// XReadGroupJSON blocks for up to blockTimeout waiting for new entries on
// stream for the given consumer group/name, returning any entries found.
func (r *RedisClient) XReadGroupJSON(ctx context.Context, stream, group, consumer string, count int64, blockTimeout time.Duration) ([]StreamMessage, error) {
	start := time.Now()
	res, err := r.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    blockTimeout,
	}).Result()
	r.updateMetrics("xreadgroup", time.Since(start), err == nil || err == redis.Nil)

	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []StreamMessage
	for _, streamRes := range res {
		for _, msg := range streamRes.Messages {
			raw, ok := msg.Values["data"]
			if !ok {
				continue
			}
			switch v := raw.(type) {
			case string:
				out = append(out, StreamMessage{ID: msg.ID, Payload: []byte(v)})
			case []byte:
				out = append(out, StreamMessage{ID: msg.ID, Payload: v})
			}
		}
	}
	return out, nil
}

// XAck acknowledges a processed message so it is removed from the
// consumer group's pending-entries list.
func (r *RedisClient) XAck(ctx context.Context, stream, group string, ids ...string) error {
	return r.Client.XAck(ctx, stream, group, ids...).Err()
}

// updateMetrics updates Redis operation metrics
func (r *RedisClient) updateMetrics(operation string, duration time.Duration, success bool) {
	r.metrics.mu.Lock()
	defer r.metrics.mu.Unlock()

	if r.metrics.AvgLatency == 0 {
		r.metrics.AvgLatency = duration
	} else {
		alpha := 0.1
		r.metrics.AvgLatency = time.Duration(float64(r.metrics.AvgLatency)*(1-alpha) + float64(duration)*alpha)
	}

	if !success {
		return
	}
	switch operation {
	case "xadd":
		r.metrics.SetCount++
	case "xreadgroup":
		r.metrics.HitCount++
	}
}

// Close closes the Redis connection.
func (r *RedisClient) Close() error {
	r.logger.Info(context.Background(), "Closing Redis connection")
	return r.Client.Close()
}

// Health checks Redis connectivity.
func (r *RedisClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := r.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	latency := time.Since(start)
	if latency > 100*time.Millisecond {
		r.logger.Warn(ctx, "High Redis latency detected", map[string]interface{}{
			"latency": latency,
		})
	}
	return nil
}

// SetWithExpiry sets a key-value pair with expiration. Nothing in the
// gateway calls it; the credential cache is an in-memory map.
func (r *RedisClient) SetWithExpiry(ctx context.Context, key string, value interface{}, expiry time.Duration) error {
	start := time.Now()
	err := r.Set(ctx, key, value, expiry).Err()
	r.updateMetrics("set", time.Since(start), err == nil)
	if err == nil {
		r.metrics.mu.Lock()
		r.metrics.SetCount++
		r.metrics.mu.Unlock()
	}
	return err
}

// GetMetrics returns current Redis metrics.
func (r *RedisClient) GetMetrics() map[string]interface{} {
	r.metrics.mu.RLock()
	defer r.metrics.mu.RUnlock()

	hitRate := float64(0)
	totalRequests := r.metrics.HitCount + r.metrics.MissCount
	if totalRequests > 0 {
		hitRate = float64(r.metrics.HitCount) / float64(totalRequests) * 100
	}

	return map[string]interface{}{
		"hit_count":      r.metrics.HitCount,
		"miss_count":     r.metrics.MissCount,
		"set_count":      r.metrics.SetCount,
		"delete_count":   r.metrics.DeleteCount,
		"avg_latency":    r.metrics.AvgLatency,
		"hit_rate":       hitRate,
		"total_requests": totalRequests,
	}
}
