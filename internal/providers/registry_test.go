package providers

import (
	"context"
	"testing"

	"github.com/janekbaraniewski/apiusage/internal/core"
)

func TestDefault_CoversEveryKind(t *testing.T) {
	r := Default()
	for _, kind := range core.AllServiceKinds() {
		a, ok := r.Adapter(kind)
		if !ok {
			t.Fatalf("no adapter for %s", kind)
		}
		if a.Describe().Auth != kind.Auth() {
			t.Errorf("%s: adapter auth %q, kind auth %q", kind, a.Describe().Auth, kind.Auth())
		}
	}
	if got := len(r.Kinds()); got != len(core.AllServiceKinds()) {
		t.Errorf("kinds = %d", got)
	}
}

func TestDefault_ClaudeKindsShareAdapter(t *testing.T) {
	r := Default()
	work, _ := r.Adapter(core.ServiceClaudeWork)
	private, _ := r.Adapter(core.ServiceClaudePrivate)
	if work != private {
		t.Error("claude_work and claude_private should share one adapter")
	}
}

type stubAdapter struct{ kinds []core.ServiceKind }

func (s stubAdapter) Kinds() []core.ServiceKind { return s.kinds }
func (s stubAdapter) Describe() core.AdapterInfo { return core.AdapterInfo{Name: "stub"} }
func (s stubAdapter) Fetch(context.Context, core.FetchRequest) (core.UsageSnapshot, error) {
	return core.UsageSnapshot{}, nil
}

func TestNewRegistry_LaterOverrides(t *testing.T) {
	r := NewRegistry(AllAdapters()[1], stubAdapter{kinds: []core.ServiceKind{core.ServiceFirecrawl}})
	a, ok := r.Adapter(core.ServiceFirecrawl)
	if !ok || a.Describe().Name != "stub" {
		t.Errorf("adapter = %v", a)
	}
	if _, ok := r.Adapter(core.ServiceSerpAPI); ok {
		t.Error("serpapi should not be registered")
	}
}
