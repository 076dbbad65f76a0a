package testutil

import (
	"context"
	"time"

	"github.com/bifrost-ai/bifrost/internal/provider"
)

// FakeAdapter is a configurable provider.Adapter for testing.
type FakeAdapter struct {
	AdapterName string
	GenerateFn  func(ctx context.Context, req *provider.GenerateRequest) (*provider.GenerateResult, error)

	// Calls counts Generate invocations. Not safe for concurrent mutation
	// checks while a request is in flight; read it after the call returns.
	Calls int
}

// Name returns the configured adapter name, defaulting to "fake".
func (f *FakeAdapter) Name() string {
	if f.AdapterName == "" {
		return "fake"
	}
	return f.AdapterName
}

// Generate delegates to GenerateFn or returns a canned completion.
func (f *FakeAdapter) Generate(ctx context.Context, req *provider.GenerateRequest) (*provider.GenerateResult, error) {
	f.Calls++
	if f.GenerateFn != nil {
		return f.GenerateFn(ctx, req)
	}
	return &provider.GenerateResult{
		Text:         "fake completion",
		FinishReason: provider.FinishStop,
		Latency:      time.Millisecond,
	}, nil
}
