package router

import (
	"testing"

	gateway "github.com/bifrost-ai/bifrost/internal"
)

func warmModel(family string, caps gateway.Capability) *gateway.Model {
	return &gateway.Model{
		ID:     family + "-test",
		Family: family,
		Caps:   caps,
		State:  gateway.StateWarm,
	}
}

func TestChoosePrefersExternalHighPriority(t *testing.T) {
	t.Parallel()

	sel, err := Default().Choose(warmModel("gpt", gateway.CapStreaming), 0)
	if err != nil {
		t.Fatal(err)
	}
	if sel.Route.Key != "openai-primary" {
		t.Fatalf("route = %q, want openai-primary", sel.Route.Key)
	}
	if len(sel.Alternatives) != 2 {
		t.Fatalf("alternatives = %d, want 2", len(sel.Alternatives))
	}
}

func TestChooseUnknownFamilyFallsBack(t *testing.T) {
	t.Parallel()

	sel, err := Default().Choose(warmModel("mistral", gateway.CapStreaming), 0)
	if err != nil {
		t.Fatal(err)
	}
	if sel.Route.Key != "openai-primary" {
		t.Fatalf("route = %q, want generic fallback winner openai-primary", sel.Route.Key)
	}
}

func TestChooseVisionModelNeverGetsVisionlessRoute(t *testing.T) {
	t.Parallel()

	tab := Default()
	m := warmModel("gpt", gateway.CapVision|gateway.CapStreaming|gateway.CapTools)
	for _, need := range []gateway.Capability{0, gateway.CapVision, gateway.CapStreaming | gateway.CapVision} {
		sel, err := tab.Choose(m, need)
		if err != nil {
			t.Fatal(err)
		}
		if !sel.Route.Vision {
			t.Fatalf("need=%v selected vision-incapable route %q", need, sel.Route.Key)
		}
		for _, alt := range sel.Alternatives {
			if !alt.Vision {
				t.Fatalf("need=%v kept vision-incapable alternative %q", need, alt.Key)
			}
		}
	}
}

func TestChooseVisionlessModelMayUseVisionlessRoute(t *testing.T) {
	t.Parallel()

	sel, err := Default().Choose(warmModel("llama", gateway.CapStreaming), gateway.CapStreaming)
	if err != nil {
		t.Fatal(err)
	}
	if sel.Route.Key != "vllm-local" {
		t.Fatalf("route = %q, want vllm-local", sel.Route.Key)
	}
}

func TestChooseColdSelfHostedPenalty(t *testing.T) {
	t.Parallel()

	// With only self-hosted candidates, a cold model still routes but the
	// penalty is visible in the ordering against an external alternative.
	m := warmModel("llama", gateway.CapStreaming)
	m.State = gateway.StateCold

	sel, err := Default().Choose(m, gateway.CapStreaming|gateway.CapTools)
	if err != nil {
		t.Fatal(err)
	}
	// openai-secondary: 2*10+20+8+8 = 56; vllm-local: 2*10+8-7 = 21.
	if sel.Route.Key != "openai-secondary" {
		t.Fatalf("route = %q, want openai-secondary for cold model", sel.Route.Key)
	}
}

func TestChooseTieKeepsDeclarationOrder(t *testing.T) {
	t.Parallel()

	routes := []Route{
		{Key: "a", Class: ClassExternal, Priority: 1, Streaming: true},
		{Key: "b", Class: ClassExternal, Priority: 1, Streaming: true},
	}
	tab := NewTable(routes, nil, []string{"b", "a"})
	sel, err := tab.Choose(warmModel("anything", 0), 0)
	if err != nil {
		t.Fatal(err)
	}
	if sel.Route.Key != "a" {
		t.Fatalf("route = %q, want declaration-order winner a", sel.Route.Key)
	}
}

func TestChooseNoCandidates(t *testing.T) {
	t.Parallel()

	tab := NewTable([]Route{{Key: "plain", Class: ClassSelfHosted, Priority: 1}}, nil, []string{"plain"})
	m := warmModel("anything", gateway.CapVision)
	if _, err := tab.Choose(m, 0); err == nil {
		t.Fatal("expected error when every candidate is filtered out")
	}
}
