package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequestID(t *testing.T) {
	t.Parallel()

	var seen string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = ReqID(r)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "caller-id")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "caller-id", seen)
}

func TestReqID_Missing(t *testing.T) {
	t.Parallel()
	assert.Empty(t, ReqID(httptest.NewRequest(http.MethodGet, "/", nil)))
}

func TestAdminAuth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		token      string
		header     string
		wantStatus int
	}{
		{name: "valid token", token: "s3cret", header: "Bearer s3cret", wantStatus: http.StatusOK},
		{name: "wrong token", token: "s3cret", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "missing header", token: "s3cret", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", token: "s3cret", header: "Basic s3cret", wantStatus: http.StatusUnauthorized},
		{name: "unconfigured token", token: "", header: "Bearer ", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/admin/newsletters", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			AdminAuth(tt.token)(okHandler).ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)

			if tt.wantStatus == http.StatusUnauthorized {
				var body map[string]string
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, "UNAUTHORIZED", body["code"])
			}
		})
	}
}

func TestIPRateLimiter(t *testing.T) {
	t.Parallel()

	rl := NewIPRateLimiter(t.Context(), RateLimitConfig{Rate: 0.001, Burst: 2, MaxAge: time.Minute, CleanupInterval: time.Hour})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"), "burst exhausted")
	assert.True(t, rl.Allow("10.0.0.2"), "other clients have their own bucket")
	assert.Equal(t, 2, rl.Len())

	now = now.Add(2 * time.Minute)
	assert.True(t, rl.Allow("10.0.0.3"))
	assert.Equal(t, 3, rl.Len(), "requests do not sweep")

	rl.cleanupStaleEntries()
	assert.Equal(t, 1, rl.Len(), "idle entries swept")
}

func TestIPRateLimiter_CleanupStopsWithContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	rl := NewIPRateLimiter(ctx, RateLimitConfig{Rate: 1, Burst: 1, MaxAge: time.Nanosecond, CleanupInterval: 5 * time.Millisecond})
	rl.Allow("10.0.0.1")
	assert.Eventually(t, func() bool { return rl.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	rl.Allow("10.0.0.1")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rl.Len(), "no sweeps after cancel")
}

func TestIPRateLimiter_Middleware(t *testing.T) {
	t.Parallel()

	rl := NewIPRateLimiter(t.Context(), RateLimitConfig{Rate: 0.001, Burst: 1})
	h := rl.Middleware("test")(okHandler)

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/subscriptions", nil)
		req.RemoteAddr = "192.0.2.7:51234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
}

func TestIPRateLimiter_IgnoresForwardedForFromUntrustedPeers(t *testing.T) {
	t.Parallel()

	rl := NewIPRateLimiter(t.Context(), RateLimitConfig{Rate: 0.001, Burst: 1})
	h := rl.Middleware("test")(okHandler)

	accepted := 0
	for i := range 50 {
		req := httptest.NewRequest(http.MethodPost, "/subscriptions", nil)
		req.RemoteAddr = "192.0.2.7:51234"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, rl.Len())
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	proxies := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{name: "no header", remoteAddr: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "untrusted peer ignores header", remoteAddr: "192.0.2.1:1234", forwarded: "203.0.113.5", want: "192.0.2.1"},
		{name: "trusted peer uses header", remoteAddr: "10.0.0.2:1234", forwarded: "203.0.113.5", want: "203.0.113.5"},
		{name: "skips trusted hops from the right", remoteAddr: "10.0.0.2:1234", forwarded: "198.51.100.9, 203.0.113.5, 10.0.0.7", want: "203.0.113.5"},
		{name: "garbage hop stops the walk", remoteAddr: "10.0.0.2:1234", forwarded: "203.0.113.5, not-an-ip", want: "10.0.0.2"},
		{name: "trusted peer without header", remoteAddr: "10.0.0.2:1234", want: "10.0.0.2"},
	}

	rl := NewIPRateLimiter(t.Context(), RateLimitConfig{Rate: 1, Burst: 1, TrustedProxies: proxies})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, rl.clientIP(req))
		})
	}
}
