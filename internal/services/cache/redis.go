package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/finsight/insight-agent/internal/insight"
)

const keyPrefix = "insight:"

// Redis stores responses in a shared Redis, letting replicas of the
// agent share one cache. Redis failures degrade to cache misses; the
// cache must never fail a request.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedis(url string, cfg Config, log *zap.Logger) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultConfig().TTL
	}
	return &Redis{client: client, ttl: ttl, log: log}, nil
}

func (r *Redis) Get(ctx context.Context, fingerprint string) (*insight.ModelResult, bool) {
	data, err := r.client.Get(ctx, keyPrefix+fingerprint).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		r.log.Warn("cache read failed, treating as miss", zap.Error(err))
		return nil, false
	}
	var result insight.ModelResult
	if err := json.Unmarshal(data, &result); err != nil {
		r.log.Warn("cache entry corrupt, treating as miss", zap.Error(err))
		return nil, false
	}
	return &result, true
}

func (r *Redis) Set(ctx context.Context, fingerprint string, result *insight.ModelResult) {
	data, err := json.Marshal(result)
	if err != nil {
		r.log.Warn("cache entry not serializable", zap.Error(err))
		return
	}
	if err := r.client.Set(ctx, keyPrefix+fingerprint, data, r.ttl).Err(); err != nil {
		r.log.Warn("cache write failed", zap.Error(err))
	}
}

func (r *Redis) Close() error { return r.client.Close() }
