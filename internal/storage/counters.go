package storage

import (
	"sync"
	"time"
)

// DefaultQueueDecay is how long a queued-attempt mark lingers before its
// fire-and-forget decrement. A heuristic approximation of transient queue
// depth; a tunable, not a contract.
const DefaultQueueDecay = 3 * time.Second

// Counters is the in-memory CounterStore shared by store implementations.
// A single mutex covers both scopes so org and user counters always move
// together.
type Counters struct {
	mu       sync.Mutex
	inflight map[string]int
	queued   map[string]int
	decay    time.Duration
}

// NewCounters creates a Counters with the given queued-attempt decay.
// A non-positive decay falls back to DefaultQueueDecay.
func NewCounters(decay time.Duration) *Counters {
	if decay <= 0 {
		decay = DefaultQueueDecay
	}
	return &Counters{
		inflight: make(map[string]int),
		queued:   make(map[string]int),
		decay:    decay,
	}
}

func orgKey(orgID string) string          { return "org\x00" + orgID }
func userKey(orgID, userID string) string { return "user\x00" + orgID + "\x00" + userID }

// AcquireInFlight increments org and user in-flight counts atomically.
func (c *Counters) AcquireInFlight(orgID, userID string) {
	c.mu.Lock()
	c.inflight[orgKey(orgID)]++
	c.inflight[userKey(orgID, userID)]++
	c.mu.Unlock()
}

// TryAcquireInFlight checks both ceilings and acquires in one critical
// section, so concurrent callers cannot race past a ceiling between the read
// and the increment. A zero or negative max disables that ceiling. Returns
// false without acquiring when either scope is at its ceiling.
func (c *Counters) TryAcquireInFlight(orgID, userID string, orgMax, userMax int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if orgMax > 0 && c.inflight[orgKey(orgID)] >= orgMax {
		return false
	}
	if userMax > 0 && c.inflight[userKey(orgID, userID)] >= userMax {
		return false
	}
	c.inflight[orgKey(orgID)]++
	c.inflight[userKey(orgID, userID)]++
	return true
}

// ReleaseInFlight decrements org and user in-flight counts, removing
// zeroed entries so counts can never go negative.
func (c *Counters) ReleaseInFlight(orgID, userID string) {
	c.mu.Lock()
	decrement(c.inflight, orgKey(orgID))
	decrement(c.inflight, userKey(orgID, userID))
	c.mu.Unlock()
}

// NoteQueuedAttempt bumps the queued counters and schedules their decay.
func (c *Counters) NoteQueuedAttempt(orgID, userID string) {
	c.mu.Lock()
	c.queued[orgKey(orgID)]++
	c.queued[userKey(orgID, userID)]++
	c.mu.Unlock()

	time.AfterFunc(c.decay, func() {
		c.mu.Lock()
		decrement(c.queued, orgKey(orgID))
		decrement(c.queued, userKey(orgID, userID))
		c.mu.Unlock()
	})
}

// CurrentInFlight returns the org and user in-flight counts.
func (c *Counters) CurrentInFlight(orgID, userID string) (org, user int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[orgKey(orgID)], c.inflight[userKey(orgID, userID)]
}

// CurrentQueued returns the org and user queued-attempt counts.
func (c *Counters) CurrentQueued(orgID, userID string) (org, user int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queued[orgKey(orgID)], c.queued[userKey(orgID, userID)]
}

func decrement(m map[string]int, k string) {
	if n, ok := m[k]; ok {
		if n <= 1 {
			delete(m, k)
		} else {
			m[k] = n - 1
		}
	}
}
