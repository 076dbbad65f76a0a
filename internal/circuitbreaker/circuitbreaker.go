// Package circuitbreaker short-circuits generation against provider routes
// that are currently failing, using a sliding-window weighted error rate per
// route. An open breaker turns a slow upstream failure into an immediate
// local rejection.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is the breaker state.
type State int

const (
	StateClosed   State = iota // all requests pass
	StateOpen                  // all requests rejected
	StateHalfOpen              // a single probe request passes
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Config holds breaker parameters.
type Config struct {
	ErrorThreshold float64       `yaml:"error_threshold"` // weighted error rate that trips the breaker
	MinSamples     int           `yaml:"min_samples"`     // requests required before it may trip
	WindowSeconds  int           `yaml:"window_seconds"`  // sliding window length
	OpenTimeout    time.Duration `yaml:"open_timeout"`    // open -> half-open delay
}

// DefaultConfig returns the built-in breaker parameters.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold: 0.30,
		MinSamples:     10,
		WindowSeconds:  60,
		OpenTimeout:    30 * time.Second,
	}
}

// errorWindow is a ring of 1-second buckets holding weighted error sums.
type errorWindow struct {
	buckets  [60]struct {
		errors float64
		total  int
	}
	size     int
	head     int
	headTime int64 // unix seconds of the head bucket
}

func newErrorWindow(seconds int) errorWindow {
	if seconds <= 0 || seconds > 60 {
		seconds = 60
	}
	return errorWindow{size: seconds}
}

// advance rotates the head to the current second, zeroing expired buckets.
func (w *errorWindow) advance(nowSec int64) {
	if w.headTime == 0 {
		w.headTime = nowSec
		return
	}
	gap := nowSec - w.headTime
	if gap <= 0 {
		return
	}
	for i := range min(int(gap), w.size) {
		idx := (w.head + 1 + i) % w.size
		w.buckets[idx].errors = 0
		w.buckets[idx].total = 0
	}
	w.head = (w.head + int(gap)) % w.size
	w.headTime = nowSec
}

func (w *errorWindow) record(weight float64, now time.Time) {
	w.advance(now.Unix())
	w.buckets[w.head].total++
	w.buckets[w.head].errors += weight
}

func (w *errorWindow) errorRate(now time.Time) (rate float64, samples int) {
	w.advance(now.Unix())
	var errs float64
	var total int
	for i := range w.size {
		errs += w.buckets[i].errors
		total += w.buckets[i].total
	}
	if total == 0 {
		return 0, 0
	}
	return errs / float64(total), total
}

func (w *errorWindow) reset() {
	for i := range w.size {
		w.buckets[i].errors = 0
		w.buckets[i].total = 0
	}
	w.head = 0
	w.headTime = 0
}

// Breaker is the per-route state machine.
type Breaker struct {
	mu          sync.Mutex
	state       State
	window      errorWindow
	openedAt    time.Time
	lastUsed    time.Time
	probing     bool // a half-open probe is in flight
	threshold   float64
	minSamples  int
	openTimeout time.Duration
}

// NewBreaker creates a closed breaker with the given config.
func NewBreaker(cfg Config) *Breaker {
	return &Breaker{
		state:       StateClosed,
		window:      newErrorWindow(cfg.WindowSeconds),
		threshold:   cfg.ErrorThreshold,
		minSamples:  cfg.MinSamples,
		openTimeout: cfg.OpenTimeout,
		lastUsed:    time.Now(),
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a request may proceed. While half-open, exactly one
// probe is admitted at a time.
func (b *Breaker) Allow() bool {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.openedAt) >= b.openTimeout {
			b.state = StateHalfOpen
			b.probing = true
			return true
		}
		return false
	case StateHalfOpen:
		if !b.probing {
			b.probing = true
			return true
		}
		return false
	}
	return false
}

// RecordSuccess notes a successful outcome. A successful half-open probe
// closes the breaker and clears its history.
func (b *Breaker) RecordSuccess() {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now
	b.window.record(0, now)

	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.probing = false
		b.window.reset()
	}
}

// RecordError notes a failed outcome with the given weight. A failed
// half-open probe reopens immediately.
func (b *Breaker) RecordError(weight float64) {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now
	b.window.record(weight, now)

	switch b.state {
	case StateClosed:
		rate, samples := b.window.errorRate(now)
		if samples >= b.minSamples && rate >= b.threshold {
			b.state = StateOpen
			b.openedAt = now
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = now
		b.probing = false
	}
}

// LastUsed returns the time of last activity, for stale eviction.
func (b *Breaker) LastUsed() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUsed
}

// Registry holds one breaker per provider route key.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewRegistry creates a Registry stamping cfg onto new breakers.
func NewRegistry(cfg Config) *Registry {
	return &Registry{breakers: make(map[string]*Breaker), config: cfg}
}

// ForRoute returns the breaker for routeKey, creating one on first use.
func (r *Registry) ForRoute(routeKey string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[routeKey]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[routeKey]; ok {
		return b
	}
	b = NewBreaker(r.config)
	r.breakers[routeKey] = b
	return b
}

// EvictStale drops breakers idle since before cutoff and reports how many.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for k, b := range r.breakers {
		if b.LastUsed().Before(cutoff) {
			delete(r.breakers, k)
			evicted++
		}
	}
	return evicted
}
