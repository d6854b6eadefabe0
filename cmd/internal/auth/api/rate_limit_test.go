package api

import (
	"net"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIPLimiter_BurstThenBlock(t *testing.T) {
	l := newIPLimiter(10*time.Second, 2)
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if ok, _ := l.allow("1.2.3.4", now); !ok {
			t.Fatalf("request %d should pass", i)
		}
	}

	ok, retry := l.allow("1.2.3.4", now)
	if ok {
		t.Fatalf("expected third request to be blocked")
	}
	if retry != 10*time.Second {
		t.Fatalf("expected retry=10s, got %v", retry)
	}

	// Other clients are independent.
	if ok, _ := l.allow("5.6.7.8", now); !ok {
		t.Fatalf("other ip must not be limited")
	}

	// A blocked attempt does not consume a token.
	if ok, _ := l.allow("1.2.3.4", now.Add(10*time.Second)); !ok {
		t.Fatalf("expected refill after one interval")
	}
}

func TestIPLimiter_Disabled(t *testing.T) {
	var l *ipLimiter = newIPLimiter(0, 5)
	if l != nil {
		t.Fatalf("expected nil limiter when disabled")
	}
	if ok, _ := l.allow("x", time.Now()); !ok {
		t.Fatalf("nil limiter must allow")
	}
}

func TestIPLimiter_Sweep(t *testing.T) {
	l := newIPLimiter(time.Second, 1)
	now := time.Now()

	l.allow("a", now)
	l.allow("b", now.Add(9*time.Minute))

	if n := l.sweep(now.Add(11 * time.Minute)); n != 1 {
		t.Fatalf("expected one idle bucket swept, got %d", n)
	}
}

func TestWriteRateLimited_RoundsUp(t *testing.T) {
	rr := httptest.NewRecorder()
	writeRateLimited(rr, 1500*time.Millisecond)

	if rr.Code != 429 {
		t.Fatalf("status: %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After: %q", got)
	}
}

func TestLimiterKey(t *testing.T) {
	if limiterKey(nil) != "unknown" {
		t.Fatalf("nil ip key")
	}
	if limiterKey(net.ParseIP("10.0.0.1")) != "10.0.0.1" {
		t.Fatalf("ip key")
	}
}
