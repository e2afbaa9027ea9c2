package providers

import (
	"github.com/janekbaraniewski/apiusage/internal/core"
	"github.com/janekbaraniewski/apiusage/internal/providers/claude"
	"github.com/janekbaraniewski/apiusage/internal/providers/firecrawl"
	"github.com/janekbaraniewski/apiusage/internal/providers/serpapi"
)

// AllAdapters returns one instance of every built-in adapter.
func AllAdapters() []core.Adapter {
	return []core.Adapter{
		claude.New(),
		firecrawl.New(),
		serpapi.New(),
	}
}

// Registry maps each service kind to the adapter that serves it.
type Registry struct {
	byKind map[core.ServiceKind]core.Adapter
}

// NewRegistry indexes adapters by the kinds they declare. A later adapter
// overrides an earlier one for the same kind.
func NewRegistry(adapters ...core.Adapter) *Registry {
	r := &Registry{byKind: make(map[core.ServiceKind]core.Adapter)}
	for _, a := range adapters {
		for _, kind := range a.Kinds() {
			r.byKind[kind] = a
		}
	}
	return r
}

func Default() *Registry {
	return NewRegistry(AllAdapters()...)
}

func (r *Registry) Adapter(kind core.ServiceKind) (core.Adapter, bool) {
	a, ok := r.byKind[kind]
	return a, ok
}

// Kinds lists registered kinds in declaration order.
func (r *Registry) Kinds() []core.ServiceKind {
	var out []core.ServiceKind
	for _, kind := range core.AllServiceKinds() {
		if _, ok := r.byKind[kind]; ok {
			out = append(out, kind)
		}
	}
	return out
}
