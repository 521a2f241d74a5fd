package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/torii/pkg/auth"
	"github.com/kadirpekel/torii/pkg/config"
)

func newLimiter(t *testing.T, rules ...config.RateLimitRule) (*Limiter, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	limiter, err := New(config.RateLimitConfig{Enabled: true, Rules: rules}, store)
	require.NoError(t, err)
	require.NotNil(t, limiter)
	return limiter, store
}

func TestNewDisabledReturnsNil(t *testing.T) {
	limiter, err := New(config.RateLimitConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, limiter)
}

func TestNewRejectsBadRules(t *testing.T) {
	_, err := New(config.RateLimitConfig{
		Enabled: true,
		Rules:   []config.RateLimitRule{{Window: "fortnight", Limit: 10}},
	}, nil)
	require.Error(t, err)

	_, err = New(config.RateLimitConfig{
		Enabled: true,
		Rules:   []config.RateLimitRule{{Window: "minute", Limit: 0}},
	}, nil)
	require.Error(t, err)
}

func TestAllowUpToLimit(t *testing.T) {
	limiter, _ := newLimiter(t, config.RateLimitRule{Window: "minute", Limit: 3})

	for i := 0; i < 3; i++ {
		decision, err := limiter.Allow(context.Background(), "caller-1")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}

	decision, err := limiter.Allow(context.Background(), "caller-1")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "minute")
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
}

func TestDeniedRequestConsumesNoBudget(t *testing.T) {
	limiter, store := newLimiter(t, config.RateLimitRule{Window: "minute", Limit: 1})

	_, err := limiter.Allow(context.Background(), "caller-1")
	require.NoError(t, err)
	_, err = limiter.Allow(context.Background(), "caller-1")
	require.NoError(t, err)

	count, _, err := store.Get(context.Background(), "caller-1", WindowMinute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCallersAreIndependent(t *testing.T) {
	limiter, _ := newLimiter(t, config.RateLimitRule{Window: "minute", Limit: 1})

	first, err := limiter.Allow(context.Background(), "caller-1")
	require.NoError(t, err)
	assert.True(t, first.Allowed)

	second, err := limiter.Allow(context.Background(), "caller-2")
	require.NoError(t, err)
	assert.True(t, second.Allowed)
}

func TestWindowRollover(t *testing.T) {
	limiter, store := newLimiter(t, config.RateLimitRule{Window: "minute", Limit: 1})

	now := time.Now()
	store.now = func() time.Time { return now }

	decision, err := limiter.Allow(context.Background(), "caller-1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	decision, err = limiter.Allow(context.Background(), "caller-1")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	store.now = func() time.Time { return now.Add(61 * time.Second) }
	decision, err = limiter.Allow(context.Background(), "caller-1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestTightestRuleWins(t *testing.T) {
	limiter, _ := newLimiter(t,
		config.RateLimitRule{Window: "minute", Limit: 1},
		config.RateLimitRule{Window: "hour", Limit: 100},
	)

	_, err := limiter.Allow(context.Background(), "caller-1")
	require.NoError(t, err)

	decision, err := limiter.Allow(context.Background(), "caller-1")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.LessOrEqual(t, decision.RetryAfter, time.Minute)
}

func TestSweepDropsExpired(t *testing.T) {
	limiter, store := newLimiter(t, config.RateLimitRule{Window: "minute", Limit: 10})

	_, err := limiter.Allow(context.Background(), "caller-1")
	require.NoError(t, err)

	require.NoError(t, store.Sweep(context.Background(), time.Now().Add(2*time.Minute)))
	count, _, err := store.Get(context.Background(), "caller-1", WindowMinute)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestMiddlewareRejectsWith429(t *testing.T) {
	limiter, _ := newLimiter(t, config.RateLimitRule{Window: "minute", Limit: 1})
	handler := Middleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	var body struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body.Error.Code)
	assert.Contains(t, body.Error.Details, "retry_after_seconds")
}

func TestMiddlewareUsesSubjectWhenAuthenticated(t *testing.T) {
	limiter, _ := newLimiter(t, config.RateLimitRule{Window: "minute", Limit: 1})
	handler := Middleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(subject string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(auth.ContextWithClaims(req.Context(), &auth.Claims{Subject: subject}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("alice"))
	assert.Equal(t, http.StatusTooManyRequests, send("alice"))
	assert.Equal(t, http.StatusOK, send("bob"))
}

func TestMiddlewareNilLimiterPassesThrough(t *testing.T) {
	handler := Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
