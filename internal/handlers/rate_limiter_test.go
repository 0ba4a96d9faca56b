package handlers

import (
	"testing"
	"time"
)

func TestSimpleRateLimiterWindow(t *testing.T) {
	now := time.Date(2026, time.March, 15, 9, 0, 0, 0, time.UTC)
	limiter := newSimpleRateLimiter(2, time.Minute, func() time.Time { return now })

	if !limiter.Allow("203.0.113.7") || !limiter.Allow("203.0.113.7") {
		t.Fatalf("expected first two requests to pass")
	}
	if limiter.Allow("203.0.113.7") {
		t.Fatalf("expected third request in window to be blocked")
	}
	if !limiter.Allow("198.51.100.2") {
		t.Fatalf("expected other client to be unaffected")
	}

	now = now.Add(61 * time.Second)
	if !limiter.Allow("203.0.113.7") {
		t.Fatalf("expected window to reset after expiry")
	}
}

func TestSimpleRateLimiterBlankKey(t *testing.T) {
	now := time.Date(2026, time.March, 15, 9, 0, 0, 0, time.UTC)
	limiter := newSimpleRateLimiter(1, time.Minute, func() time.Time { return now })

	if !limiter.Allow("") {
		t.Fatalf("expected first anonymous request to pass")
	}
	if limiter.Allow("  ") {
		t.Fatalf("expected blank keys to share the anonymous bucket")
	}
}

func TestSimpleRateLimiterDisabled(t *testing.T) {
	if limiter := newSimpleRateLimiter(0, time.Minute, nil); limiter != nil {
		t.Fatalf("expected nil limiter for zero limit")
	}
	if limiter := newSimpleRateLimiter(5, 0, nil); limiter != nil {
		t.Fatalf("expected nil limiter for zero window")
	}
}
