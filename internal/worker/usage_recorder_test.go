package worker

import (
	"context"
	"testing"
	"time"

	gateway "github.com/bifrost-ai/bifrost/internal"
	"github.com/bifrost-ai/bifrost/internal/testutil"
)

func TestUsageRecorderFlushesBatch(t *testing.T) {
	t.Parallel()

	store := testutil.NewFakeStore()
	rec := NewUsageRecorder(store)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		rec.Run(ctx) //nolint:errcheck
	}()

	for range usageBatchSize {
		rec.RecordUsage(gateway.UsageEvent{ID: "e", OrgID: "org-1", CreatedAt: time.Now().UTC()})
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.UsageCount() < usageBatchSize {
		if time.Now().After(deadline) {
			t.Fatalf("usage count = %d, want %d before deadline", store.UsageCount(), usageBatchSize)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done
}

func TestUsageRecorderDrainsOnShutdown(t *testing.T) {
	t.Parallel()

	store := testutil.NewFakeStore()
	rec := NewUsageRecorder(store)

	// Fewer than a batch, so nothing flushes until shutdown drains.
	for range 7 {
		rec.RecordUsage(gateway.UsageEvent{ID: "e", OrgID: "org-1", CreatedAt: time.Now().UTC()})
	}
	rec.RecordError(gateway.RequestError{ID: "r", OrgID: "org-1", Code: "queue_full", CreatedAt: time.Now().UTC()})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		rec.Run(ctx) //nolint:errcheck
	}()
	cancel()
	<-done

	if got := store.UsageCount(); got != 7 {
		t.Fatalf("usage after drain = %d, want 7", got)
	}
	if got := store.ErrorCount(); got != 1 {
		t.Fatalf("errors after drain = %d, want 1", got)
	}
}

func TestUsageRecorderNeverBlocks(t *testing.T) {
	t.Parallel()

	// No Run loop consuming: the channel fills and further records drop
	// instead of blocking the caller.
	rec := NewUsageRecorder(testutil.NewFakeStore())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range usageChanSize + 100 {
			rec.RecordUsage(gateway.UsageEvent{})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RecordUsage blocked on a full channel")
	}
}
