package circuitbreaker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	gateway "github.com/bifrost-ai/bifrost/internal"
)

func TestWindowRecordAndRate(t *testing.T) {
	t.Parallel()

	w := newErrorWindow(60)
	now := time.Now()
	for range 7 {
		w.record(0, now)
	}
	for range 3 {
		w.record(1.0, now)
	}

	rate, samples := w.errorRate(now)
	if samples != 10 {
		t.Fatalf("samples = %d, want 10", samples)
	}
	if rate < 0.29 || rate > 0.31 {
		t.Fatalf("rate = %f, want ~0.30", rate)
	}
}

func TestWindowExpiry(t *testing.T) {
	t.Parallel()

	w := newErrorWindow(5)
	base := time.Now()
	w.record(1.0, base)

	if _, samples := w.errorRate(base.Add(6 * time.Second)); samples != 0 {
		t.Fatalf("samples = %d, want 0 after window expiry", samples)
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MinSamples = 10
	b := NewBreaker(cfg)

	for range 7 {
		b.RecordSuccess()
	}
	for range 2 {
		b.RecordError(1.0)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed below threshold", b.State())
	}

	b.RecordError(1.0) // 3/10 = 30%
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open at threshold", b.State())
	}
	if b.Allow() {
		t.Fatal("open breaker must reject")
	}
}

func TestBreakerStaysClosedUnderMinSamples(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MinSamples = 10
	b := NewBreaker(cfg)

	for range 5 {
		b.RecordError(1.0)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed with too few samples", b.State())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MinSamples = 1
	cfg.OpenTimeout = 10 * time.Millisecond
	b := NewBreaker(cfg)

	b.RecordError(1.0)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	time.Sleep(cfg.OpenTimeout + 5*time.Millisecond)
	if !b.Allow() {
		t.Fatal("expected a probe allowance after open timeout")
	}
	if b.Allow() {
		t.Fatal("second probe must be rejected while one is in flight")
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("state after probe success = %v, want closed", b.State())
	}
	if !b.Allow() {
		t.Fatal("closed breaker must allow")
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MinSamples = 1
	cfg.OpenTimeout = 10 * time.Millisecond
	b := NewBreaker(cfg)

	b.RecordError(1.0)
	time.Sleep(cfg.OpenTimeout + 5*time.Millisecond)
	if !b.Allow() {
		t.Fatal("expected probe")
	}
	b.RecordError(1.0)
	if b.State() != StateOpen {
		t.Fatalf("state after failed probe = %v, want open", b.State())
	}
}

func TestRegistryForRouteAndEviction(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultConfig())
	a := r.ForRoute("openai-primary")
	if r.ForRoute("openai-primary") != a {
		t.Fatal("ForRoute must return the same breaker per route")
	}
	if r.ForRoute("vllm-local") == a {
		t.Fatal("distinct routes must get distinct breakers")
	}

	if n := r.EvictStale(time.Now().Add(time.Minute)); n != 2 {
		t.Fatalf("evicted = %d, want 2", n)
	}
	if r.ForRoute("openai-primary") == a {
		t.Fatal("evicted breaker must be recreated")
	}
}

func TestWeight(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want float64
	}{
		{"nil", nil, 0},
		{"deadline", context.DeadlineExceeded, 1.5},
		{"upstream 503", gateway.NewError(http.StatusServiceUnavailable, gateway.CodeProviderRouteFailed, "down"), 1.0},
		{"upstream 429", gateway.NewError(http.StatusTooManyRequests, gateway.CodeQueueWait, "busy"), 0.5},
		{"client 400", gateway.NewError(http.StatusBadRequest, gateway.CodeUnsupportedRequest, "bad"), 0},
		{"net op", &net.OpError{Op: "dial", Err: errors.New("refused")}, 1.0},
		{"unknown", errors.New("boom"), 1.0},
	}
	for _, tt := range tests {
		if got := Weight(tt.err); got != tt.want {
			t.Fatalf("Weight(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
