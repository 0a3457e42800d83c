// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sigil-dev/steward/internal/server"
	stewarderr "github.com/sigil-dev/steward/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     server.RateLimitConfig
		wantErr bool
	}{
		{"disabled", server.RateLimitConfig{}, false},
		{"valid", server.RateLimitConfig{RequestsPerSecond: 5, Burst: 10}, false},
		{"rate without burst", server.RateLimitConfig{RequestsPerSecond: 5}, true},
		{"negative rate", server.RateLimitConfig{RequestsPerSecond: -1, Burst: 1}, true},
		{"negative visitors", server.RateLimitConfig{MaxVisitors: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, stewarderr.HasCode(err, stewarderr.CodeServerConfigInvalid))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 10000, tt.cfg.MaxVisitors)
		})
	}
}

func TestLimiter_TokenBucket(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	l := server.NewLimiterAt(server.RateLimitConfig{RequestsPerSecond: 1, Burst: 2, MaxVisitors: 10},
		func() time.Time { return now })

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"), "burst exhausted")
	assert.True(t, l.Allow("10.0.0.2"), "buckets are per ip")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("10.0.0.1"), "one token refilled")
	assert.False(t, l.Allow("10.0.0.1"))
}

func TestLimiter_CleanupEvictsStaleAndCapsVisitors(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	l := server.NewLimiterAt(server.RateLimitConfig{RequestsPerSecond: 1, Burst: 1, MaxVisitors: 2},
		func() time.Time { return now })

	l.Allow("stale")
	now = now.Add(11 * time.Minute)
	for i := range 3 {
		l.Allow(fmt.Sprintf("10.0.0.%d", i))
		now = now.Add(time.Second)
	}
	require.Equal(t, 4, l.Visitors())

	l.Cleanup()
	assert.Equal(t, 2, l.Visitors())
}

func TestServer_RateLimitMiddleware(t *testing.T) {
	srv, err := server.New(server.Config{
		ListenAddr: "127.0.0.1:0",
		RateLimit:  server.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "192.0.2.1:5555"
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do().Code)
	w := do()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}
