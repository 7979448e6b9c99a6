package stats

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/raaihank/sentinel-mask/internal/config"
	"github.com/raaihank/sentinel-mask/internal/logger"
	"go.uber.org/zap"
)

const (
	fieldOpPrefix    = "op:"
	fieldClassPrefix = "class:"
	fieldUnresolved  = "unresolved"
	dayLayout        = "2006-01-02"
)

// Recorder keeps per-day detection counters in Redis hashes
type Recorder struct {
	client *redis.Client
	config config.StatsConfig
	logger *logger.Logger
}

// NewRecorder connects to Redis and verifies the connection
func NewRecorder(cfg config.StatsConfig, log *logger.Logger) (*Recorder, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns

	r := NewWithClient(redis.NewClient(opts), cfg, log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		r.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	r.logger.Info("Detection stats initialized",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Duration("retention", cfg.Retention))

	return r, nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *redis.Client, cfg config.StatsConfig, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "sentinel-mask"
	}
	return &Recorder{
		client: client,
		config: cfg,
		logger: log.WithComponent("stats"),
	}
}

// Record adds an event to the counters of its day. An empty operation adds
// counts without counting an operation.
func (r *Recorder) Record(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	key := r.dayKey(ev.At)

	pipe := r.client.TxPipeline()
	if ev.Operation != "" {
		pipe.HIncrBy(ctx, key, fieldOpPrefix+ev.Operation, 1)
	}
	for class, n := range ev.Counts {
		if n > 0 {
			pipe.HIncrBy(ctx, key, fieldClassPrefix+class, int64(n))
		}
	}
	if ev.Unresolved > 0 {
		pipe.HIncrBy(ctx, key, fieldUnresolved, int64(ev.Unresolved))
	}
	if r.config.Retention > 0 {
		pipe.Expire(ctx, key, r.config.Retention)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("Failed to record detection stats", zap.Error(err))
		return fmt.Errorf("failed to record stats: %w", err)
	}
	return nil
}

// Get returns the counters for the UTC day containing day
func (r *Recorder) Get(ctx context.Context, day time.Time) (*DailyStats, error) {
	fields, err := r.client.HGetAll(ctx, r.dayKey(day)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}

	stats := &DailyStats{
		Date:       day.UTC().Format(dayLayout),
		Operations: make(map[string]int64),
		Classes:    make(map[string]int64),
	}

	for field, raw := range fields {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			r.logger.Warn("Skipping malformed stats field", zap.String("field", field))
			continue
		}
		switch {
		case field == fieldUnresolved:
			stats.Unresolved = n
		case strings.HasPrefix(field, fieldOpPrefix):
			stats.Operations[strings.TrimPrefix(field, fieldOpPrefix)] = n
		case strings.HasPrefix(field, fieldClassPrefix):
			stats.Classes[strings.TrimPrefix(field, fieldClassPrefix)] = n
		}
	}

	return stats, nil
}

// Recent returns the counters of the last days days, newest first
func (r *Recorder) Recent(ctx context.Context, now time.Time, days int) ([]*DailyStats, error) {
	out := make([]*DailyStats, 0, days)
	for i := 0; i < days; i++ {
		stats, err := r.Get(ctx, now.AddDate(0, 0, -i))
		if err != nil {
			return nil, err
		}
		out = append(out, stats)
	}
	return out, nil
}

// Clear removes all counters under the key prefix
func (r *Recorder) Clear(ctx context.Context) error {
	pattern := r.config.KeyPrefix + ":stats:*"

	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan stats keys: %w", err)
	}

	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := r.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete stats keys: %w", err)
		}
	}

	r.logger.Info("Detection stats cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Ping checks the Redis connection
func (r *Recorder) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *Recorder) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *Recorder) dayKey(t time.Time) string {
	return fmt.Sprintf("%s:stats:%s", r.config.KeyPrefix, t.UTC().Format(dayLayout))
}

// maskRedisURL hides the password of a Redis URL for logging
func maskRedisURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[unparseable]"
	}
	return u.Redacted()
}
