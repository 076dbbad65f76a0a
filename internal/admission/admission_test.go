package admission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gateway "github.com/bifrost-ai/bifrost/internal"
	"github.com/bifrost-ai/bifrost/internal/testutil"
)

func testActor() *gateway.Actor {
	return &gateway.Actor{OrgID: "org-1", UserID: "alice", Role: gateway.RoleMember}
}

func testRequest() *Request {
	return &Request{Actor: testActor(), Model: "m", PromptTokens: 100, OutputBudget: 100}
}

func record(t *testing.T, store *testutil.FakeStore, userID string, prompt, completion int, heavy bool) {
	t.Helper()
	err := store.InsertUsage(t.Context(), []gateway.UsageEvent{{
		ID:               "e",
		OrgID:            "org-1",
		UserID:           userID,
		Model:            "m",
		PromptTokens:     prompt,
		CompletionTokens: completion,
		Heavy:            heavy,
		CreatedAt:        time.Now().UTC(),
	}})
	if err != nil {
		t.Fatal(err)
	}
}

func wantDenial(t *testing.T, err error, code string) *gateway.GatewayError {
	t.Helper()
	var ge *gateway.GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("err = %v, want *gateway.GatewayError %s", err, code)
	}
	if ge.Code != code {
		t.Fatalf("code = %q, want %q", ge.Code, code)
	}
	if ge.Status != 429 {
		t.Fatalf("status = %d, want 429", ge.Status)
	}
	if ge.RetryAfterSec <= 0 {
		t.Fatalf("denial %s carries no retry hint", code)
	}
	return ge
}

func TestAdmitSuccessAcquiresBothScopes(t *testing.T) {
	t.Parallel()

	store := testutil.NewFakeStore()
	c := NewController(store, DefaultLimits())

	d, err := c.Admit(t.Context(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if org, user := store.CurrentInFlight("org-1", "alice"); org != 1 || user != 1 {
		t.Fatalf("in-flight = org %d user %d, want 1/1", org, user)
	}

	d.Ticket.Release()
	if org, user := store.CurrentInFlight("org-1", "alice"); org != 0 || user != 0 {
		t.Fatalf("in-flight after release = org %d user %d, want 0/0", org, user)
	}
}

func TestTicketReleaseIsOneShot(t *testing.T) {
	t.Parallel()

	store := testutil.NewFakeStore()
	c := NewController(store, DefaultLimits())

	d1, err := c.Admit(t.Context(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Admit(t.Context(), testRequest()); err != nil {
		t.Fatal(err)
	}

	d1.Ticket.Release()
	d1.Ticket.Release()
	d1.Ticket.Release()
	if !d1.Ticket.Released() {
		t.Fatal("ticket not marked released")
	}
	if org, _ := store.CurrentInFlight("org-1", "alice"); org != 1 {
		t.Fatalf("org in-flight = %d, want 1 (double release must not double-decrement)", org)
	}
}

func TestAdmitDailyQuotaOrder(t *testing.T) {
	t.Parallel()

	// Each case trips exactly one check; earlier checks must win when the
	// seeded usage would trip several.
	tests := []struct {
		name string
		seed func(t *testing.T, store *testutil.FakeStore)
		req  func() *Request
		want string
	}{
		{
			name: "user requests",
			seed: func(t *testing.T, s *testutil.FakeStore) {
				for range 3 {
					record(t, s, "alice", 1, 1, false)
				}
			},
			req:  testRequest,
			want: gateway.CodeUserRequestQuota,
		},
		{
			name: "user input tokens",
			seed: func(t *testing.T, s *testutil.FakeStore) { record(t, s, "alice", 950, 0, false) },
			req:  testRequest,
			want: gateway.CodeUserInputTokens,
		},
		{
			name: "user output tokens",
			seed: func(t *testing.T, s *testutil.FakeStore) { record(t, s, "alice", 0, 950, false) },
			req:  testRequest,
			want: gateway.CodeUserOutputTokens,
		},
		{
			name: "org requests from another user",
			seed: func(t *testing.T, s *testutil.FakeStore) {
				for range 5 {
					record(t, s, "bob", 1, 1, false)
				}
			},
			req:  testRequest,
			want: gateway.CodeOrgRequestQuota,
		},
		{
			name: "org input tokens",
			seed: func(t *testing.T, s *testutil.FakeStore) { record(t, s, "bob", 1950, 0, false) },
			req:  testRequest,
			want: gateway.CodeOrgInputTokens,
		},
		{
			name: "org output tokens",
			seed: func(t *testing.T, s *testutil.FakeStore) { record(t, s, "bob", 0, 1950, false) },
			req:  testRequest,
			want: gateway.CodeOrgOutputTokens,
		},
		{
			name: "user heavy",
			seed: func(t *testing.T, s *testutil.FakeStore) { record(t, s, "alice", 1, 1, true) },
			req: func() *Request {
				r := testRequest()
				r.Heavy = true
				return r
			},
			want: gateway.CodeUserHeavyQuota,
		},
		{
			name: "org heavy",
			seed: func(t *testing.T, s *testutil.FakeStore) {
				record(t, s, "bob", 1, 1, true)
				record(t, s, "carol", 1, 1, true)
			},
			req: func() *Request {
				r := testRequest()
				r.Heavy = true
				return r
			},
			want: gateway.CodeOrgHeavyQuota,
		},
	}

	limits := Limits{
		UserDailyRequests: 3, UserDailyInputTokens: 1000, UserDailyOutputTokens: 1000,
		OrgDailyRequests: 5, OrgDailyInputTokens: 2000, OrgDailyOutputTokens: 2000,
		UserDailyHeavyRequests: 1, OrgDailyHeavyRequests: 2,
		UserMaxInFlight: 10, OrgMaxInFlight: 10,
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := testutil.NewFakeStore()
			tt.seed(t, store)
			c := NewController(store, limits)
			_, err := c.Admit(t.Context(), tt.req())
			wantDenial(t, err, tt.want)
		})
	}
}

func TestAdmitYesterdayDoesNotCount(t *testing.T) {
	t.Parallel()

	store := testutil.NewFakeStore()
	err := store.InsertUsage(t.Context(), []gateway.UsageEvent{{
		ID: "old", OrgID: "org-1", UserID: "alice",
		PromptTokens: 10_000, CompletionTokens: 10_000,
		CreatedAt: time.Now().UTC().Add(-25 * time.Hour),
	}})
	if err != nil {
		t.Fatal(err)
	}

	limits := DefaultLimits()
	limits.UserDailyInputTokens = 500
	c := NewController(store, limits)
	if _, err := c.Admit(t.Context(), testRequest()); err != nil {
		t.Fatalf("yesterday's usage counted against today: %v", err)
	}
}

func TestAdmitConcurrencyCeilingAndQueue(t *testing.T) {
	t.Parallel()

	limits := DefaultLimits()
	limits.UserMaxInFlight = 2
	limits.UserMaxQueued = 1

	store := testutil.NewFakeStore()
	c := NewController(store, limits)

	var tickets []*Ticket
	for range 2 {
		d, err := c.Admit(t.Context(), testRequest())
		if err != nil {
			t.Fatal(err)
		}
		tickets = append(tickets, d.Ticket)
	}

	// At the ceiling: a queued attempt is noted and the caller is told to
	// retry shortly.
	_, err := c.Admit(t.Context(), testRequest())
	ge := wantDenial(t, err, gateway.CodeQueueWait)
	if ge.RetryAfterSec != queueWaitRetrySec {
		t.Fatalf("retry hint = %d, want %d", ge.RetryAfterSec, queueWaitRetrySec)
	}

	// Queue is now full too.
	_, err = c.Admit(t.Context(), testRequest())
	ge = wantDenial(t, err, gateway.CodeQueueFull)
	if ge.RetryAfterSec != queueFullRetrySec {
		t.Fatalf("retry hint = %d, want %d", ge.RetryAfterSec, queueFullRetrySec)
	}

	// Releasing a slot admits the next request even while the queued
	// counter has not decayed yet.
	tickets[0].Release()
	if _, err := c.Admit(t.Context(), testRequest()); err != nil {
		t.Fatalf("admit after release: %v", err)
	}
}

func TestAdmitConcurrentCeilingIsAtomic(t *testing.T) {
	t.Parallel()

	limits := DefaultLimits()
	limits.UserMaxInFlight = 1
	limits.UserMaxQueued = 1000

	store := testutil.NewFakeStore()
	c := NewController(store, limits)

	// All admissions start together; the ceiling check and the acquire must
	// be one atomic step or several of them can slip past the ceiling.
	const callers = 32
	var (
		start    sync.WaitGroup
		done     sync.WaitGroup
		admitted atomic.Int64
	)
	start.Add(1)
	done.Add(callers)
	for range callers {
		go func() {
			defer done.Done()
			start.Wait()
			if _, err := c.Admit(context.Background(), testRequest()); err == nil {
				admitted.Add(1)
			}
		}()
	}
	start.Done()
	done.Wait()

	if got := admitted.Load(); got != 1 {
		t.Fatalf("admitted = %d concurrent requests, want 1 (ceiling)", got)
	}
	if _, user := store.CurrentInFlight("org-1", "alice"); user != 1 {
		t.Fatalf("user in-flight = %d, want 1", user)
	}
}

func TestAdmitRemainingQuotaFloorsAtZero(t *testing.T) {
	t.Parallel()

	store := testutil.NewFakeStore()
	record(t, store, "alice", 1800, 0, false)

	limits := DefaultLimits()
	limits.OrgDailyInputTokens = 2000
	limits.OrgDailyRequests = 10
	c := NewController(store, limits)

	req := testRequest()
	req.PromptTokens = 200
	d, err := c.Admit(t.Context(), req)
	if err != nil {
		t.Fatal(err)
	}
	if d.Remaining.InputTokens != 0 {
		t.Fatalf("remaining input tokens = %d, want 0 (floored)", d.Remaining.InputTokens)
	}
	if d.Remaining.Requests != 8 {
		t.Fatalf("remaining requests = %d, want 8", d.Remaining.Requests)
	}
}

func TestAdmitDailyDenialHintsAtNextUTCDay(t *testing.T) {
	t.Parallel()

	store := testutil.NewFakeStore()
	record(t, store, "alice", 1, 1, false)

	limits := DefaultLimits()
	limits.UserDailyRequests = 1
	c := NewController(store, limits)

	_, err := c.Admit(t.Context(), testRequest())
	ge := wantDenial(t, err, gateway.CodeUserRequestQuota)
	if ge.RetryAfterSec > 24*60*60+1 {
		t.Fatalf("retry hint %d exceeds a day", ge.RetryAfterSec)
	}
}
