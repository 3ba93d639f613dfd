package suggest

import (
	"context"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-client/internal/models"
)

// Cache stores candidate lists by normalized query. Any failure is a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]models.LocationCandidate, bool)
	Set(ctx context.Context, key string, v []models.LocationCandidate)
}

type MemoryCache struct {
	c *gocache.Cache
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{c: gocache.New(ttl, 2*ttl)}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]models.LocationCandidate, bool) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false
	}
	out, ok := v.([]models.LocationCandidate)
	return out, ok
}

func (m *MemoryCache) Set(_ context.Context, key string, v []models.LocationCandidate) {
	m.c.SetDefault(key, v)
}

// RedisCache shares lookups between client instances.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(addr, password string, ttl time.Duration) *RedisCache {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisCache{client: c, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]models.LocationCandidate, bool) {
	b, err := r.client.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		return nil, false
	}
	var out []models.LocationCandidate
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, false
	}
	return out, true
}

func (r *RedisCache) Set(ctx context.Context, key string, v []models.LocationCandidate) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = r.client.Set(ctx, redisKey(key), b, r.ttl).Err()
}

func (r *RedisCache) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisCache) Close() error { return r.client.Close() }

func redisKey(q string) string { return "suggest:" + q }
