package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepseek-chat/pkg/logging"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func assertCORS(t *testing.T, h http.Header) {
	t.Helper()
	assert.Equal(t, "*", h.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Content-Type,Authorization", h.Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "GET,PUT,POST,DELETE,OPTIONS", h.Get("Access-Control-Allow-Methods"))
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body["error"]
}

func TestCORS_SetsHeadersOnEveryResponse(t *testing.T) {
	handlers := map[string]http.Handler{
		"ok": okHandler,
		"error": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusBadGateway, "boom")
		}),
	}
	for name, h := range handlers {
		t.Run(name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			CORS(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
			assertCORS(t, rr.Header())
		})
	}
}

func TestRequestID_GeneratesAndEchoes(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rr.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rr.Header().Get("X-Request-ID"))
}

func TestRequestLogger_RecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter("info", &buf)
	h := RequestID(RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/chat", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "request completed", entry["msg"])
	assert.Equal(t, "/chat", entry["path"])
	assert.EqualValues(t, http.StatusTeapot, entry["status"])
}

func TestRecovery_WritesJSONEnvelope(t *testing.T) {
	h := Recovery(logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("nil map write")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/chat", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "服务器错误: nil map write", decodeError(t, rr))
}

func newMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMemoryStore_WindowResets(t *testing.T) {
	store := newMemoryStore(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	for i := int64(1); i <= 3; i++ {
		n, err := store.Hit(context.Background(), "1.2.3.4")
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	now = now.Add(2 * time.Minute)
	n, err := store.Hit(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	now = now.Add(2 * time.Minute)
	store.sweep()
	assert.Empty(t, store.visitors)
}

func TestMemoryStore_CloseStopsSweeper(t *testing.T) {
	store := NewMemoryStore(10 * time.Millisecond)

	require.NoError(t, store.Close())
	select {
	case <-store.done:
	case <-time.After(time.Second):
		t.Fatal("sweeper still running after Close")
	}
	require.NoError(t, store.Close())

	n, err := store.Hit(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestRedisStore_CountsAndExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, time.Minute)
	store.now = func() time.Time { return time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC) }

	for i := int64(1); i <= 3; i++ {
		n, err := store.Hit(context.Background(), "10.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, time.Minute, mr.TTL(keys[0]))
}

func TestRateLimiter_RejectsOverLimit(t *testing.T) {
	limiter := NewRateLimiter(newMemoryStore(t), 2, logging.Discard(), nil)
	h := limiter.Middleware(okHandler)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/chat", nil)
		req.RemoteAddr = "192.0.2.1:5555"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
		if rr.Code == http.StatusTooManyRequests {
			assert.Equal(t, "请求过于频繁，请稍后重试", decodeError(t, rr))
		}
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	// A different client has its own window.
	req := httptest.NewRequest(http.MethodPost, "/chat", nil)
	req.RemoteAddr = "192.0.2.2:5555"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimiter_DisabledAndPreflight(t *testing.T) {
	disabled := NewRateLimiter(newMemoryStore(t), 0, logging.Discard(), nil).Middleware(okHandler)
	limited := NewRateLimiter(newMemoryStore(t), 1, logging.Discard(), nil).Middleware(okHandler)

	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		disabled.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/chat", nil))
		assert.Equal(t, http.StatusOK, rr.Code)

		rr = httptest.NewRecorder()
		limited.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/chat", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	}
}

func TestRateLimiter_FailsOpenWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	mr.Close()

	h := NewRateLimiter(NewRedisStore(client, time.Minute), 1, logging.Discard(), nil).Middleware(okHandler)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/chat", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	}
}
