package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalLimiterBoundary(t *testing.T) {
	l := NewLocalLimiter()
	now := time.Now()
	l.now = func() time.Time { return now }

	rule := Rule{Name: "test", Capacity: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		allowed, _ := l.Allow(context.Background(), rule, "alice")
		require.True(t, allowed, "request %d within capacity should be allowed", i+1)
	}

	allowed, retryAfter := l.Allow(context.Background(), rule, "alice")
	require.False(t, allowed, "request beyond capacity must be rejected")
	require.Greater(t, retryAfter, time.Duration(0))

	now = now.Add(time.Minute)
	l.now = func() time.Time { return now }
	allowed, _ = l.Allow(context.Background(), rule, "alice")
	require.True(t, allowed, "first request of the next window should succeed")
}

func TestLocalLimiterPerPrincipalIsolation(t *testing.T) {
	l := NewLocalLimiter()
	rule := Rule{Name: "test", Capacity: 1, Window: time.Minute}

	allowed, _ := l.Allow(context.Background(), rule, "alice")
	require.True(t, allowed)

	allowed, _ = l.Allow(context.Background(), rule, "bob")
	require.True(t, allowed, "a different principal has its own bucket")

	allowed, _ = l.Allow(context.Background(), rule, "alice")
	require.False(t, allowed)
}
