package catalog

import (
	"testing"

	gateway "github.com/bifrost-ai/bifrost/internal"
)

func TestNewParsesCapabilitiesAndState(t *testing.T) {
	t.Parallel()

	c, err := New([]Entry{{
		ID: "m1", Family: "gpt",
		Capabilities: []string{"tools", "streaming"},
		State:        "loading",
	}})
	if err != nil {
		t.Fatal(err)
	}
	m, ok := c.Get("m1")
	if !ok {
		t.Fatal("model m1 not found")
	}
	if !m.Caps.Tools() || !m.Caps.Streaming() || m.Caps.Vision() {
		t.Fatalf("caps = %b, want tools+streaming only", m.Caps)
	}
	if m.State != gateway.StateLoading {
		t.Fatalf("state = %q, want loading", m.State)
	}
	if m.MaxOutputTokens != 4096 {
		t.Fatalf("max output default = %d, want 4096", m.MaxOutputTokens)
	}
}

func TestNewRejectsBadEntries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entries []Entry
	}{
		{"missing id", []Entry{{Family: "gpt"}}},
		{"duplicate id", []Entry{{ID: "m"}, {ID: "m"}}},
		{"unknown capability", []Entry{{ID: "m", Capabilities: []string{"telepathy"}}}},
		{"unknown state", []Entry{{ID: "m", State: "tepid"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tt.entries); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestListKeepsDeclarationOrder(t *testing.T) {
	t.Parallel()

	c, err := New([]Entry{{ID: "b"}, {ID: "a"}, {ID: "c"}})
	if err != nil {
		t.Fatal(err)
	}
	got := c.List()
	want := []string{"b", "a", "c"}
	for i, m := range got {
		if m.ID != want[i] {
			t.Fatalf("List()[%d] = %q, want %q", i, m.ID, want[i])
		}
	}
}

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	c := Default()
	if m, ok := c.Get("gpt-4o-mini"); !ok || !m.Caps.Vision() {
		t.Fatal("default catalog missing vision-capable gpt-4o-mini")
	}
	fams := c.Families()
	if len(fams) != 2 {
		t.Fatalf("families = %v, want two", fams)
	}
}
