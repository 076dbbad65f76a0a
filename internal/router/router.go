// Package router selects an upstream provider route for a request from a
// static routing table, scored by declared priority, capability fit, and the
// model's runtime state.
package router

import (
	"fmt"
	"slices"

	gateway "github.com/bifrost-ai/bifrost/internal"
)

// Class distinguishes externally hosted routes from self-hosted ones.
type Class string

const (
	ClassExternal   Class = "external"
	ClassSelfHosted Class = "self_hosted"
)

// Route is a named upstream provider target.
type Route struct {
	Key       string `yaml:"key"`
	Class     Class  `yaml:"class"`
	Priority  int    `yaml:"priority"`
	Streaming bool   `yaml:"streaming"`
	Vision    bool   `yaml:"vision"`
	Tools     bool   `yaml:"tools"`
}

// Selection is the routing outcome: the winning route plus the ranked
// alternatives, exposed so a caller could implement cross-route failover.
type Selection struct {
	Route        Route
	Alternatives []Route
}

// Table holds the static routing configuration.
type Table struct {
	routes   map[string]Route
	order    map[string]int // declaration order for tie-breaking
	families map[string][]string
	generic  []string
}

// NewTable builds a Table from route declarations, per-family candidate
// lists, and a generic fallback list for unrecognized families.
func NewTable(routes []Route, families map[string][]string, generic []string) *Table {
	t := &Table{
		routes:   make(map[string]Route, len(routes)),
		order:    make(map[string]int, len(routes)),
		families: families,
		generic:  generic,
	}
	for i, r := range routes {
		t.routes[r.Key] = r
		t.order[r.Key] = i
	}
	return t
}

// Default returns the built-in routing table.
func Default() *Table {
	routes := []Route{
		{Key: "openai-primary", Class: ClassExternal, Priority: 3, Streaming: true, Vision: true, Tools: true},
		{Key: "openai-secondary", Class: ClassExternal, Priority: 2, Streaming: true, Tools: true},
		{Key: "anthropic-primary", Class: ClassExternal, Priority: 3, Streaming: true, Vision: true, Tools: true},
		{Key: "vllm-local", Class: ClassSelfHosted, Priority: 2, Streaming: true},
		{Key: "tgi-local", Class: ClassSelfHosted, Priority: 1, Streaming: true},
	}
	families := map[string][]string{
		"gpt":    {"openai-primary", "openai-secondary", "vllm-local"},
		"claude": {"anthropic-primary", "vllm-local"},
		"llama":  {"vllm-local", "tgi-local", "openai-secondary"},
	}
	generic := []string{"openai-primary", "vllm-local", "tgi-local"}
	return NewTable(routes, families, generic)
}

// Choose picks the best route for the model given the capabilities the
// request needs. Candidates come from the model's family list (generic
// fallback for unknown families); routes that cannot serve a vision-capable
// model are filtered out; the rest are scored and ranked. Ties keep
// declaration order.
func (t *Table) Choose(m *gateway.Model, need gateway.Capability) (Selection, error) {
	keys, ok := t.families[m.Family]
	if !ok {
		keys = t.generic
	}

	type scored struct {
		route Route
		score int
	}
	var candidates []scored
	for _, k := range keys {
		r, ok := t.routes[k]
		if !ok {
			continue
		}
		if m.Caps.Vision() && !r.Vision {
			continue
		}
		candidates = append(candidates, scored{route: r, score: t.score(r, m, need)})
	}
	if len(candidates) == 0 {
		return Selection{}, fmt.Errorf("no route can serve model %q (family %q)", m.ID, m.Family)
	}

	slices.SortStableFunc(candidates, func(a, b scored) int {
		if a.score != b.score {
			return b.score - a.score
		}
		return t.order[a.route.Key] - t.order[b.route.Key]
	})

	alts := make([]Route, 0, len(candidates)-1)
	for _, c := range candidates[1:] {
		alts = append(alts, c.route)
	}
	return Selection{Route: candidates[0].route, Alternatives: alts}, nil
}

// score implements the external-first routing policy with capability and
// warmth bonuses and a self-hosted cold-start penalty.
func (t *Table) score(r Route, m *gateway.Model, need gateway.Capability) int {
	s := r.Priority * 10
	if r.Class == ClassExternal {
		s += 20
	}
	if need.Streaming() && r.Streaming {
		s += 8
	}
	if need.Tools() && r.Tools {
		s += 8
	}
	if need.Vision() && r.Vision {
		s += 10
	}
	if m.State == gateway.StateWarm {
		s += 6
	}
	if m.State == gateway.StateCold && r.Class == ClassSelfHosted {
		s -= 7
	}
	return s
}
