package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientKeyPrefersFirstForwardedHop(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	req.Header.Set("X-Real-IP", "10.0.0.2")
	if got := ClientKey(req); got != "203.0.113.5" {
		t.Fatalf("expected first forwarded hop, got %q", got)
	}
}

func TestClientKeyFallsBackToRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-IP", "10.0.0.2")
	if got := ClientKey(req); got != "10.0.0.2" {
		t.Fatalf("expected X-Real-IP, got %q", got)
	}
}

func TestClientKeyFallsBackToUnknownBucket(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := ClientKey(req); got != "unknown" {
		t.Fatalf("expected unknown bucket, got %q", got)
	}
}

func TestZeroPerMinuteDisablesLimiting(t *testing.T) {
	l := New(0, nil)
	res := l.Check(context.Background(), "any")
	if !res.Allowed {
		t.Fatal("a cap of 0 should disable rate limiting")
	}
}

func TestLocalLimiterBlocksOverCap(t *testing.T) {
	l := New(2, nil)
	ctx := context.Background()
	if r := l.Check(ctx, "k"); !r.Allowed {
		t.Fatal("first request should be allowed")
	}
	if r := l.Check(ctx, "k"); !r.Allowed {
		t.Fatal("second request should be allowed")
	}
	if r := l.Check(ctx, "k"); r.Allowed {
		t.Fatal("third request should be blocked")
	}
}

func TestLocalLimiterKeysAreIndependent(t *testing.T) {
	l := New(1, nil)
	ctx := context.Background()
	if r := l.Check(ctx, "a"); !r.Allowed {
		t.Fatal("first request for key a should be allowed")
	}
	if r := l.Check(ctx, "b"); !r.Allowed {
		t.Fatal("first request for key b should be allowed independently of key a")
	}
}
