// Package catalog is the read-only model registry. Runtime metadata is
// supplied by deployment configuration; the gateway never mutates it.
package catalog

import (
	"fmt"
	"slices"
	"strings"

	gateway "github.com/bifrost-ai/bifrost/internal"
)

// Entry is one model declaration as it appears in configuration.
type Entry struct {
	ID              string   `yaml:"id"`
	Family          string   `yaml:"family"`
	Provider        string   `yaml:"provider"`
	ContextLength   int      `yaml:"context_length"`
	MaxOutputTokens int      `yaml:"max_output_tokens"`
	Capabilities    []string `yaml:"capabilities"`
	PromptPrice     float64  `yaml:"prompt_price_per_1k"`
	CompletionPrice float64  `yaml:"completion_price_per_1k"`
	Heavy           bool     `yaml:"heavy"`
	State           string   `yaml:"state"`
}

// Catalog resolves model IDs to their runtime metadata.
type Catalog struct {
	models map[string]*gateway.Model
	order  []string
}

// New builds a Catalog from config entries. Unknown capability or state
// names are rejected so a typo fails startup instead of silently dropping a
// capability.
func New(entries []Entry) (*Catalog, error) {
	c := &Catalog{models: make(map[string]*gateway.Model, len(entries))}
	for _, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("model entry without id")
		}
		if _, ok := c.models[e.ID]; ok {
			return nil, fmt.Errorf("duplicate model %q", e.ID)
		}
		caps, err := parseCapabilities(e.Capabilities)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", e.ID, err)
		}
		state, err := parseState(e.State)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", e.ID, err)
		}
		maxOut := e.MaxOutputTokens
		if maxOut <= 0 {
			maxOut = 4096
		}
		c.models[e.ID] = &gateway.Model{
			ID:              e.ID,
			Family:          e.Family,
			Provider:        e.Provider,
			ContextLength:   e.ContextLength,
			MaxOutputTokens: maxOut,
			Caps:            caps,
			PromptPrice:     e.PromptPrice,
			CompletionPrice: e.CompletionPrice,
			Heavy:           e.Heavy,
			State:           state,
		}
		c.order = append(c.order, e.ID)
	}
	return c, nil
}

// Default returns a small built-in catalog so a bare deployment can serve
// traffic without a models section in its config.
func Default() *Catalog {
	c, err := New([]Entry{
		{
			ID: "gpt-4o-mini", Family: "gpt", Provider: "openai",
			ContextLength: 128_000, MaxOutputTokens: 16_384,
			Capabilities: []string{"tools", "vision", "json_mode", "streaming", "completion"},
			PromptPrice:  0.15, CompletionPrice: 0.6, State: "warm",
		},
		{
			ID: "llama-3.1-8b", Family: "llama", Provider: "self-hosted",
			ContextLength: 32_768, MaxOutputTokens: 8_192,
			Capabilities: []string{"json_mode", "streaming", "completion"},
			PromptPrice:  0.02, CompletionPrice: 0.03, State: "cold",
		},
	})
	if err != nil {
		panic(err) // built-in entries are static
	}
	return c
}

// Get returns the model for id.
func (c *Catalog) Get(id string) (*gateway.Model, bool) {
	m, ok := c.models[id]
	return m, ok
}

// List returns all models in declaration order.
func (c *Catalog) List() []*gateway.Model {
	out := make([]*gateway.Model, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.models[id])
	}
	return out
}

func parseCapabilities(names []string) (gateway.Capability, error) {
	var caps gateway.Capability
	for _, n := range names {
		switch strings.ToLower(n) {
		case "tools":
			caps |= gateway.CapTools
		case "vision":
			caps |= gateway.CapVision
		case "json_mode":
			caps |= gateway.CapJSONMode
		case "streaming":
			caps |= gateway.CapStreaming
		case "completion":
			caps |= gateway.CapCompletion
		default:
			return 0, fmt.Errorf("unknown capability %q", n)
		}
	}
	return caps, nil
}

func parseState(name string) (gateway.RuntimeState, error) {
	switch strings.ToLower(name) {
	case "", "warm":
		return gateway.StateWarm, nil
	case "loading":
		return gateway.StateLoading, nil
	case "cold":
		return gateway.StateCold, nil
	}
	return "", fmt.Errorf("unknown runtime state %q", name)
}

// Families returns the distinct model families in the catalog, sorted.
func (c *Catalog) Families() []string {
	var out []string
	for _, id := range c.order {
		f := c.models[id].Family
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	slices.Sort(out)
	return out
}
