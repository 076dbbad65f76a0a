// Package provider defines the adapter boundary between the completion engine
// and token-generation backends, plus a registry of configured adapters.
package provider

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/rs/dnscache"
)

// Finish reasons reported by adapters.
const (
	FinishStop   = "stop"
	FinishLength = "length"
)

// GenerateRequest carries everything an adapter needs for one generation.
type GenerateRequest struct {
	Model       string
	Route       string // selected provider-route key, informational
	Prompt      string
	MaxTokens   int
	Temperature float64
	TopP        float64
	Stop        []string
}

// GenerateResult is the adapter's output: generated text, a finish reason
// (stop or length), and the upstream latency measurement.
type GenerateResult struct {
	Text         string
	FinishReason string
	Latency      time.Duration
}

// Adapter is the pluggable token-generation backend. A real deployment
// substitutes model-serving infrastructure behind this interface.
type Adapter interface {
	Name() string
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)
}

// Registry maps route classes to Adapters. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under the given route class, overwriting any
// previous registration.
func (r *Registry) Register(class string, a Adapter) {
	r.mu.Lock()
	r.adapters[class] = a
	r.mu.Unlock()
}

// Get returns the adapter registered for class, or an error if not found.
func (r *Registry) Get(class string) (Adapter, error) {
	r.mu.RLock()
	a, ok := r.adapters[class]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("adapter for route class %q not registered", class)
	}
	return a, nil
}

// List returns a sorted slice of all registered route classes.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// NewTransport returns a tuned *http.Transport with connection pooling and
// optional DNS caching for remote adapter traffic.
func NewTransport(resolver *dnscache.Resolver) *http.Transport {
	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}
	return t
}
