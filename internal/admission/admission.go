// Package admission decides whether a request may proceed, enforcing daily
// token/request quotas and per-tenant concurrency ceilings. Admission is
// non-blocking: a denied request gets a retry hint, never a parked goroutine.
package admission

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	gateway "github.com/bifrost-ai/bifrost/internal"
	"github.com/bifrost-ai/bifrost/internal/storage"
)

// Retry hints, in seconds, for concurrency denials.
const (
	queueWaitRetrySec = 3
	queueFullRetrySec = 5
)

// Limits holds the admission ceilings. A zero or negative value disables the
// corresponding check.
type Limits struct {
	UserDailyRequests     int `yaml:"user_daily_requests"`
	UserDailyInputTokens  int `yaml:"user_daily_input_tokens"`
	UserDailyOutputTokens int `yaml:"user_daily_output_tokens"`

	OrgDailyRequests     int `yaml:"org_daily_requests"`
	OrgDailyInputTokens  int `yaml:"org_daily_input_tokens"`
	OrgDailyOutputTokens int `yaml:"org_daily_output_tokens"`

	UserDailyHeavyRequests int `yaml:"user_daily_heavy_requests"`
	OrgDailyHeavyRequests  int `yaml:"org_daily_heavy_requests"`

	UserMaxInFlight int `yaml:"user_max_in_flight"`
	OrgMaxInFlight  int `yaml:"org_max_in_flight"`
	UserMaxQueued   int `yaml:"user_max_queued"`
	OrgMaxQueued    int `yaml:"org_max_queued"`
}

// DefaultLimits returns the built-in admission ceilings.
func DefaultLimits() Limits {
	return Limits{
		UserDailyRequests:      2_000,
		UserDailyInputTokens:   2_000_000,
		UserDailyOutputTokens:  500_000,
		OrgDailyRequests:       20_000,
		OrgDailyInputTokens:    20_000_000,
		OrgDailyOutputTokens:   5_000_000,
		UserDailyHeavyRequests: 200,
		OrgDailyHeavyRequests:  2_000,
		UserMaxInFlight:        8,
		OrgMaxInFlight:         64,
		UserMaxQueued:          16,
		OrgMaxQueued:           128,
	}
}

// Store is the slice of storage the controller needs: today's usage events
// for quota aggregation and the live concurrency counters.
type Store interface {
	UsageEventsForDay(ctx context.Context, orgID, day string) ([]gateway.UsageEvent, error)
	storage.CounterStore
}

// Request describes one admission attempt.
type Request struct {
	Actor        *gateway.Actor
	Model        string
	PromptTokens int // estimated input tokens
	OutputBudget int // clamped max output tokens
	Heavy        bool
}

// Decision is a successful admission: a one-shot release ticket plus the
// org's remaining daily quota after this request.
type Decision struct {
	Ticket    *Ticket
	Remaining gateway.QuotaRemaining
}

// Ticket releases the in-flight slots acquired at admission. Release is
// idempotent; only the first call decrements the counters.
type Ticket struct {
	released atomic.Bool
	release  func()
}

// Release frees the admitted slots. Safe to call more than once.
func (t *Ticket) Release() {
	if t.released.CompareAndSwap(false, true) {
		t.release()
	}
}

// Released reports whether Release has been called.
func (t *Ticket) Released() bool { return t.released.Load() }

// Controller evaluates admission requests against the configured limits.
type Controller struct {
	store  Store
	limits Limits
	now    func() time.Time
}

// NewController returns a Controller reading usage from store.
func NewController(store Store, limits Limits) *Controller {
	return &Controller{store: store, limits: limits, now: time.Now}
}

// dayTotals is the usage aggregated from today's event log at evaluation
// time. Daily counters reset implicitly at the UTC date boundary; there is no
// reset job to drift from the log.
type dayTotals struct {
	requests, inputTokens, outputTokens, heavy int
}

func (d *dayTotals) add(e gateway.UsageEvent) {
	d.requests++
	d.inputTokens += e.PromptTokens
	d.outputTokens += e.CompletionTokens
	if e.Heavy {
		d.heavy++
	}
}

// Admit runs the quota and concurrency checks in order; the first failing
// check wins. On success one in-flight slot is acquired for both the user and
// the org as a single atomic step and the returned ticket releases it.
// Denials are *gateway.GatewayError values carrying the code and retry hint.
func (c *Controller) Admit(ctx context.Context, req *Request) (*Decision, error) {
	now := c.now()
	events, err := c.store.UsageEventsForDay(ctx, req.Actor.OrgID, gateway.DayKey(now))
	if err != nil {
		return nil, err
	}

	var user, org dayTotals
	for _, e := range events {
		org.add(e)
		if e.UserID == req.Actor.UserID {
			user.add(e)
		}
	}

	retry := secondsToNextUTCDay(now)
	checks := []struct {
		code  string
		used  int
		delta int
		limit int
	}{
		{gateway.CodeUserRequestQuota, user.requests, 1, c.limits.UserDailyRequests},
		{gateway.CodeUserInputTokens, user.inputTokens, req.PromptTokens, c.limits.UserDailyInputTokens},
		{gateway.CodeUserOutputTokens, user.outputTokens, req.OutputBudget, c.limits.UserDailyOutputTokens},
		{gateway.CodeOrgRequestQuota, org.requests, 1, c.limits.OrgDailyRequests},
		{gateway.CodeOrgInputTokens, org.inputTokens, req.PromptTokens, c.limits.OrgDailyInputTokens},
		{gateway.CodeOrgOutputTokens, org.outputTokens, req.OutputBudget, c.limits.OrgDailyOutputTokens},
	}
	for _, ck := range checks {
		if ck.limit > 0 && ck.used+ck.delta > ck.limit {
			return nil, quotaErr(ck.code, retry)
		}
	}
	if req.Heavy {
		if l := c.limits.UserDailyHeavyRequests; l > 0 && user.heavy+1 > l {
			return nil, quotaErr(gateway.CodeUserHeavyQuota, retry)
		}
		if l := c.limits.OrgDailyHeavyRequests; l > 0 && org.heavy+1 > l {
			return nil, quotaErr(gateway.CodeOrgHeavyQuota, retry)
		}
	}

	// Ceiling check and acquire are one critical section inside the store;
	// a separate read-then-acquire would let concurrent admissions race past
	// the ceiling.
	orgID, userID := req.Actor.OrgID, req.Actor.UserID
	if !c.store.TryAcquireInFlight(orgID, userID, c.limits.OrgMaxInFlight, c.limits.UserMaxInFlight) {
		qOrg, qUser := c.store.CurrentQueued(orgID, userID)
		if atCeiling(qUser, c.limits.UserMaxQueued) || atCeiling(qOrg, c.limits.OrgMaxQueued) {
			return nil, gateway.NewError(http.StatusTooManyRequests, gateway.CodeQueueFull,
				"too many concurrent requests and the queue is full").
				WithRetryAfter(queueFullRetrySec)
		}
		c.store.NoteQueuedAttempt(orgID, userID)
		return nil, gateway.NewError(http.StatusTooManyRequests, gateway.CodeQueueWait,
			"concurrency ceiling reached, retry shortly").
			WithRetryAfter(queueWaitRetrySec)
	}

	ticket := &Ticket{release: func() { c.store.ReleaseInFlight(orgID, userID) }}

	return &Decision{
		Ticket: ticket,
		Remaining: gateway.QuotaRemaining{
			Requests:     remaining(c.limits.OrgDailyRequests, org.requests+1),
			InputTokens:  remaining(c.limits.OrgDailyInputTokens, org.inputTokens+req.PromptTokens),
			OutputTokens: remaining(c.limits.OrgDailyOutputTokens, org.outputTokens+req.OutputBudget),
		},
	}, nil
}

func atCeiling(current, limit int) bool {
	return limit > 0 && current >= limit
}

// remaining floors at zero: the admission estimate may run slightly ahead of
// recorded usage, and the report is a courtesy, not a guarantee.
func remaining(limit, used int) int {
	if limit <= 0 {
		return 0
	}
	if used >= limit {
		return 0
	}
	return limit - used
}

func quotaErr(code string, retrySec int) error {
	return gateway.NewError(http.StatusTooManyRequests, code, "daily quota exceeded").
		WithRetryAfter(retrySec)
}

func secondsToNextUTCDay(now time.Time) int {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return int(midnight.Sub(now).Seconds()) + 1
}
