package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/conceptviz/narration-gateway/internal/narration"
)

// NarrationCache stores generated narrations in Redis so repeated requests
// for the same topic and script skip synthesis. Every failure degrades to a
// miss; the cache never surfaces errors to callers.
type NarrationCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New connects to Redis at addr. Entries expire after ttl; a zero ttl keeps
// them forever.
func New(addr string, ttl time.Duration, logger *zap.Logger) *NarrationCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NarrationCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
		logger: logger,
	}
}

// NewWithClient wraps an existing client, for tests.
func NewWithClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *NarrationCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NarrationCache{client: client, ttl: ttl, logger: logger}
}

func key(topic, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "narration:" + topic + ":" + hex.EncodeToString(sum[:8])
}

// Get returns the cached narration for the topic and script, if present.
func (c *NarrationCache) Get(ctx context.Context, topic, text string) (*narration.Result, bool) {
	raw, err := c.client.Get(ctx, key(topic, text)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("cache get failed", zap.String("topic", topic), zap.Error(err))
		return nil, false
	}

	var res narration.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		c.logger.Warn("cache entry corrupt", zap.String("topic", topic), zap.Error(err))
		return nil, false
	}
	return &res, true
}

// Set stores the narration. Failures are logged and dropped.
func (c *NarrationCache) Set(ctx context.Context, res *narration.Result) {
	raw, err := json.Marshal(res)
	if err != nil {
		c.logger.Warn("cache marshal failed", zap.String("topic", res.Topic), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key(res.Topic, res.Text), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.String("topic", res.Topic), zap.Error(err))
	}
}

// Close releases the underlying connection pool.
func (c *NarrationCache) Close() error {
	return c.client.Close()
}
