package worker

import (
	"context"
	"log/slog"
	"time"

	gateway "github.com/bifrost-ai/bifrost/internal"
)

const (
	usageChanSize   = 1000
	errorChanSize   = 500
	usageBatchSize  = 100
	usageFlushEvery = 5 * time.Second
	usageDrainTime  = 30 * time.Second
)

// UsageStore is the persistence interface consumed by UsageRecorder.
type UsageStore interface {
	InsertUsage(ctx context.Context, events []gateway.UsageEvent) error
	InsertRequestError(ctx context.Context, e gateway.RequestError) error
}

// UsageRecorder buffers usage events and request errors off the request
// path and batch-flushes them to the store. It implements the engine's
// telemetry sink: both record calls never block, dropping on a full channel
// (back-pressure on a slow store must not stall completions).
type UsageRecorder struct {
	usage  chan gateway.UsageEvent
	errors chan gateway.RequestError
	store  UsageStore
}

// NewUsageRecorder creates a UsageRecorder backed by store.
func NewUsageRecorder(store UsageStore) *UsageRecorder {
	return &UsageRecorder{
		usage:  make(chan gateway.UsageEvent, usageChanSize),
		errors: make(chan gateway.RequestError, errorChanSize),
		store:  store,
	}
}

// RecordUsage enqueues a usage event. Never blocks.
func (u *UsageRecorder) RecordUsage(e gateway.UsageEvent) {
	select {
	case u.usage <- e:
	default:
		slog.Warn("usage event dropped, channel full")
	}
}

// RecordError enqueues a request error. Never blocks.
func (u *UsageRecorder) RecordError(e gateway.RequestError) {
	select {
	case u.errors <- e:
	default:
		slog.Warn("request error dropped, channel full")
	}
}

// Run processes records until ctx is cancelled, then drains what is queued.
func (u *UsageRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(usageFlushEvery)
	defer ticker.Stop()

	buf := make([]gateway.UsageEvent, 0, usageBatchSize)

	for {
		select {
		case e := <-u.usage:
			buf = append(buf, e)
			if len(buf) >= usageBatchSize {
				u.flush(ctx, buf)
				buf = buf[:0]
			}

		case e := <-u.errors:
			u.insertError(ctx, e)

		case <-ticker.C:
			if len(buf) > 0 {
				u.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			u.drain(buf)
			return nil
		}
	}
}

// drain empties both channels with a fresh timeout so shutdown does not lose
// recently finished requests.
func (u *UsageRecorder) drain(buf []gateway.UsageEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), usageDrainTime)
	defer cancel()

	for {
		select {
		case e := <-u.usage:
			buf = append(buf, e)
			if len(buf) >= usageBatchSize {
				u.flush(ctx, buf)
				buf = buf[:0]
			}
		case e := <-u.errors:
			u.insertError(ctx, e)
		default:
			if len(buf) > 0 {
				u.flush(ctx, buf)
			}
			return
		}
	}
}

func (u *UsageRecorder) flush(ctx context.Context, buf []gateway.UsageEvent) {
	// Copy to avoid aliasing the reused buffer.
	batch := make([]gateway.UsageEvent, len(buf))
	copy(batch, buf)

	if err := u.store.InsertUsage(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "usage flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
}

func (u *UsageRecorder) insertError(ctx context.Context, e gateway.RequestError) {
	if err := u.store.InsertRequestError(ctx, e); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "request error insert failed",
			slog.String("error", err.Error()),
		)
	}
}
