package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamibilling/rdn-billing/internal/models"
)

// mockRedis is an in-memory RedisClient.
type mockRedis struct {
	data    map[string]string
	pingErr error
	setErr  error
}

func newMockRedis() *mockRedis { return &mockRedis{data: map[string]string{}} }

func (m *mockRedis) Get(ctx context.Context, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", ErrCacheMiss
	}
	return v, nil
}

func (m *mockRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	if m.setErr != nil {
		return m.setErr
	}
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	default:
		b, _ := json.Marshal(v)
		m.data[key] = string(b)
	}
	return nil
}

func (m *mockRedis) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *mockRedis) Keys(ctx context.Context, pattern string) ([]string, error) {
	prefix := pattern[:len(pattern)-1]
	var out []string
	for k := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *mockRedis) Incr(ctx context.Context, key string) (int64, error) { return 0, nil }
func (m *mockRedis) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return nil
}
func (m *mockRedis) Ping(ctx context.Context) error { return m.pingErr }
func (m *mockRedis) Close() error                   { return nil }

func TestLookupCache_RoundTripAndNormalizedKey(t *testing.T) {
	redis := newMockRedis()
	cache := NewLookupCache(redis, DefaultLookupCacheConfig(), nil)
	require.True(t, cache.IsHealthy())

	ctx := context.Background()
	res := models.FeeLookupResult{FeeID: "12", ClientName: "Acme", Amount: decimal.RequireFromString("375.00")}
	cache.Set(ctx, "Acme", "First National", "Involuntary Repo", res)

	got, ok := cache.Get(ctx, " acme ", "FIRST NATIONAL", "involuntary repo")
	require.True(t, ok)
	assert.Equal(t, "12", got.FeeID)
	assert.True(t, got.Amount.Equal(res.Amount))

	_, ok = cache.Get(ctx, "Other", "First National", "Involuntary Repo")
	assert.False(t, ok)

	m := cache.Metrics()
	assert.Equal(t, uint64(1), m.Hits)
	assert.Equal(t, uint64(1), m.Misses)
	assert.Equal(t, uint64(0), m.Errors)
}

func TestLookupCache_SkipsPlaceholders(t *testing.T) {
	redis := newMockRedis()
	cache := NewLookupCache(redis, DefaultLookupCacheConfig(), nil)

	cache.Set(context.Background(), "a", "b", "c", models.FeeLookupResult{Placeholder: true})
	assert.Empty(t, redis.data)
}

func TestLookupCache_DegradesWhenUnavailable(t *testing.T) {
	redis := newMockRedis()
	redis.pingErr = errors.New("connection refused")
	cache := NewLookupCache(redis, DefaultLookupCacheConfig(), nil)
	assert.False(t, cache.IsHealthy())

	cache.Set(context.Background(), "a", "b", "c", models.FeeLookupResult{FeeID: "1"})
	_, ok := cache.Get(context.Background(), "a", "b", "c")
	assert.False(t, ok)

	assert.False(t, NewLookupCache(nil, DefaultLookupCacheConfig(), nil).IsHealthy())
}

func TestLookupCache_InvalidateAll(t *testing.T) {
	redis := newMockRedis()
	redis.data["session:abc"] = "{}"
	cache := NewLookupCache(redis, DefaultLookupCacheConfig(), nil)

	ctx := context.Background()
	cache.Set(ctx, "a", "b", "c", models.FeeLookupResult{FeeID: "1"})
	cache.Set(ctx, "d", "e", "f", models.FeeLookupResult{FeeID: "2"})

	n, err := cache.InvalidateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, redis.data, 1)
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "artifacts/12345/updates_12345_page2.html", ArtifactPath("12345", "updates_12345_page2.html"))
	assert.Equal(t, "artifacts/12345/", ArtifactPrefix("12345"))
	assert.Equal(t, "exports/__etc/report.csv", ExportPath("../etc", "report.csv"))
	assert.Equal(t, "exports/_/x.csv", ExportPath("", "x.csv"))
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "image/png", detectContentType("a/b.PNG"))
	assert.Equal(t, "text/csv; charset=utf-8", detectContentType("x.csv"))
	assert.Equal(t, "", detectContentType("noext"))
}
