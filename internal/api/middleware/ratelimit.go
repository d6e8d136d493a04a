package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/jamibilling/rdn-billing/pkg/logger"
)

// Limit types used by the router.
const (
	LimitLogin   = "login"
	LimitExtract = "extract"
	LimitLookup  = "lookup"
	LimitExport  = "export"
)

// Limit allows Requests per Window for one caller.
type Limit struct {
	Requests int
	Window   time.Duration
}

// RateLimitConfig holds the per-route budgets.
type RateLimitConfig struct {
	Login   Limit
	Extract Limit
	Lookup  Limit
	Export  Limit
	Default Limit
	// GracefulDegradation lets requests through when the store fails.
	GracefulDegradation bool
}

// DefaultRateLimitConfig returns the stock budgets. Extraction drives a
// real browser against the portal and gets the smallest one.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Login:               Limit{Requests: 10, Window: time.Minute},
		Extract:             Limit{Requests: 6, Window: time.Minute},
		Lookup:              Limit{Requests: 120, Window: time.Minute},
		Export:              Limit{Requests: 30, Window: time.Minute},
		Default:             Limit{Requests: 100, Window: time.Minute},
		GracefulDegradation: true,
	}
}

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimitStore keeps per-key budgets.
type RateLimitStore interface {
	Take(ctx context.Context, key string, limit Limit) (Decision, error)
	IsHealthy() bool
}

// MemoryRateLimitStore keeps a token bucket per key for a single instance.
// Idle buckets are evicted after idleTTL.
type MemoryRateLimitStore struct {
	mu      sync.Mutex
	buckets *expirable.LRU[string, *rate.Limiter]
	now     func() time.Time
}

const (
	maxBuckets = 10000
	idleTTL    = 30 * time.Minute
)

// NewMemoryRateLimitStore creates an in-memory store.
func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	return &MemoryRateLimitStore{
		buckets: expirable.NewLRU[string, *rate.Limiter](maxBuckets, nil, idleTTL),
		now:     time.Now,
	}
}

// Take spends one token of key's bucket.
func (s *MemoryRateLimitStore) Take(_ context.Context, key string, limit Limit) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	lim, ok := s.buckets.Get(key)
	if !ok {
		lim = rate.NewLimiter(rate.Every(limit.Window/time.Duration(max(limit.Requests, 1))), limit.Requests)
	}
	// Re-adding refreshes the idle TTL.
	s.buckets.Add(key, lim)

	if lim.AllowN(now, 1) {
		return Decision{Allowed: true, Remaining: int(math.Floor(lim.TokensAt(now)))}, nil
	}

	r := lim.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	if !r.OK() {
		wait = limit.Window
	}
	return Decision{RetryAfter: wait}, nil
}

// IsHealthy always reports true.
func (s *MemoryRateLimitStore) IsHealthy() bool { return true }

// Close drops every bucket.
func (s *MemoryRateLimitStore) Close() error {
	s.buckets.Purge()
	return nil
}

// RedisClient is the subset of Redis used for shared counters.
// storage.RedisClientWrapper satisfies it.
type RedisClient interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
	Ping(ctx context.Context) error
}

// RedisRateLimitStore counts requests per fixed window in Redis so that
// every server instance shares one budget.
type RedisRateLimitStore struct {
	client  RedisClient
	prefix  string
	healthy bool
	log     *logger.Logger
}

// NewRedisRateLimitStore creates a Redis-backed store. The store reports
// unhealthy when the client is nil or does not answer a ping.
func NewRedisRateLimitStore(client RedisClient, prefix string, log *logger.Logger) *RedisRateLimitStore {
	if log == nil {
		log = logger.Nop()
	}
	s := &RedisRateLimitStore{client: client, prefix: prefix, log: log.WithComponent("rate_limit_store")}
	if client == nil {
		return s
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		s.log.WithError(err).Warn("Redis unavailable, rate limiting store disabled")
		return s
	}
	s.healthy = true
	return s
}

// Take counts one request against key's current window.
func (s *RedisRateLimitStore) Take(ctx context.Context, key string, limit Limit) (Decision, error) {
	if !s.IsHealthy() {
		return Decision{}, errors.New("redis not available")
	}

	full := s.prefix + ":" + key
	count, err := s.client.Incr(ctx, full)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to count request: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, full, limit.Window); err != nil {
			s.log.WithError(err).Warn("failed to set rate limit window", "key", full)
		}
	}

	if count > int64(limit.Requests) {
		return Decision{RetryAfter: limit.Window}, nil
	}
	return Decision{Allowed: true, Remaining: limit.Requests - int(count)}, nil
}

// IsHealthy reports whether the store can count requests.
func (s *RedisRateLimitStore) IsHealthy() bool {
	return s.healthy && s.client != nil
}

// RateLimiter applies per-route budgets keyed by caller.
type RateLimiter struct {
	store    RateLimitStore
	config   RateLimitConfig
	log      *logger.Logger
	counters sync.Map // "<type>_allowed" / "<type>_rejected" -> *atomic.Uint64
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter(store RateLimitStore, config RateLimitConfig, log *logger.Logger) *RateLimiter {
	if log == nil {
		log = logger.Nop()
	}
	return &RateLimiter{store: store, config: config, log: log.WithComponent("rate_limiter")}
}

// Middleware limits the routes it wraps with the budget of limitType.
func (rl *RateLimiter) Middleware(limitType string) func(next http.Handler) http.Handler {
	limit := rl.limitFor(limitType)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := limitType + ":" + clientKey(r)

			var (
				d   Decision
				err error
			)
			if rl.store.IsHealthy() {
				d, err = rl.store.Take(ctx, key, limit)
			} else {
				err = errors.New("rate limit store unhealthy")
			}
			if err != nil {
				rl.log.WithContext(ctx).WithError(err).Warn("rate limit check failed", "key", key)
				if rl.config.GracefulDegradation {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

			if !d.Allowed {
				rl.count(limitType, "rejected")
				retry := seconds(d.RetryAfter)
				rl.log.WithContext(ctx).Warn("rate limit exceeded", "key", key, "limit", limit.Requests, "retry_after_s", retry)

				w.Header().Set("X-RateLimit-Reset", strconv.Itoa(retry))
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				return
			}

			rl.count(limitType, "allowed")
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(seconds(limit.Window)))
			next.ServeHTTP(w, r)
		})
	}
}

// Stats returns the allowed and rejected counts per limit type.
func (rl *RateLimiter) Stats() map[string]uint64 {
	out := map[string]uint64{}
	rl.counters.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Uint64).Load()
		return true
	})
	return out
}

func (rl *RateLimiter) count(limitType, outcome string) {
	v, _ := rl.counters.LoadOrStore(limitType+"_"+outcome, new(atomic.Uint64))
	v.(*atomic.Uint64).Add(1)
}

func (rl *RateLimiter) limitFor(limitType string) Limit {
	switch limitType {
	case LimitLogin:
		return rl.config.Login
	case LimitExtract:
		return rl.config.Extract
	case LimitLookup:
		return rl.config.Lookup
	case LimitExport:
		return rl.config.Export
	default:
		return rl.config.Default
	}
}

// clientKey identifies the caller: the portal session when one is given,
// otherwise the client address. Proxy headers are resolved into RemoteAddr
// by chi's RealIP middleware ahead of the limiter.
func clientKey(r *http.Request) string {
	if sid := strings.TrimSpace(r.Header.Get("X-Session-ID")); sid != "" {
		return "session:" + sid
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// seconds rounds d up to whole seconds, at least one.
func seconds(d time.Duration) int {
	return max(int(math.Ceil(d.Seconds())), 1)
}
