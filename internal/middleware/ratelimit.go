package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"deepseek-chat/internal/observability/metrics"
	"deepseek-chat/pkg/logging"
)

const rateLimitedMessage = "请求过于频繁，请稍后重试"

// RateStore counts hits per key inside a fixed window.
type RateStore interface {
	// Hit records one request for key and returns the count in the current window.
	Hit(ctx context.Context, key string) (int64, error)
}

type visitor struct {
	count    int64
	lastSeen time.Time
}

// MemoryStore keeps windows in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	window   time.Duration
	now      func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewMemoryStore(window time.Duration) *MemoryStore {
	s := &MemoryStore{
		visitors: make(map[string]*visitor),
		window:   window,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	// Cleanup goroutine
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(window)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stop:
				return
			}
		}
	}()

	return s
}

// Close stops the cleanup goroutine and waits for it to exit. Safe to call
// more than once.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

func (s *MemoryStore) Hit(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	v, exists := s.visitors[key]
	if !exists || now.Sub(v.lastSeen) > s.window {
		s.visitors[key] = &visitor{count: 1, lastSeen: now}
		return 1, nil
	}

	v.count++
	v.lastSeen = now
	return v.count, nil
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, v := range s.visitors {
		if now.Sub(v.lastSeen) > s.window {
			delete(s.visitors, key)
		}
	}
}

// RedisStore shares windows between replicas with INCR + EXPIRE.
type RedisStore struct {
	client *redis.Client
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, window time.Duration) *RedisStore {
	return &RedisStore{client: client, window: window, prefix: "ratelimit:chat:", now: time.Now}
}

func (s *RedisStore) Hit(ctx context.Context, key string) (int64, error) {
	bucket := s.now().UnixNano() / int64(s.window)
	redisKey := fmt.Sprintf("%s%s:%d", s.prefix, key, bucket)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rate limit incr: %w", err)
	}
	return incr.Val(), nil
}

// RateLimiter rejects clients that exceed limit requests per window.
type RateLimiter struct {
	store   RateStore
	limit   int64
	logger  *logging.Logger
	metrics *metrics.ChatMetrics
}

func NewRateLimiter(store RateStore, limit int, logger *logging.Logger, m *metrics.ChatMetrics) *RateLimiter {
	if logger == nil {
		logger = logging.Default()
	}
	return &RateLimiter{store: store, limit: int64(limit), logger: logger, metrics: m}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl == nil || rl.limit <= 0 || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		count, err := rl.store.Hit(r.Context(), clientKey(r))
		if err != nil {
			// Fail open on store errors.
			rl.logger.Warn("rate limiter unavailable", "error", err, "request_id", GetRequestID(r.Context()))
			next.ServeHTTP(w, r)
			return
		}

		if count > rl.limit {
			rl.metrics.ObserveRateLimited()
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, rateLimitedMessage)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
