package provider

import (
	"fmt"
	"log/slog"
	"sort"
)

type route struct {
	provider Provider
	info     ModelInfo
}

// Registry maps public model IDs to the adapter that serves them. The
// mapping is built once at startup from an explicit adapter list; there is
// no dynamic registration.
type Registry struct {
	routes map[string]route
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{routes: make(map[string]route)}
	for _, p := range providers {
		for _, info := range p.Models() {
			if existing, ok := r.routes[info.ID]; ok {
				slog.Warn("duplicate model id, keeping first registration",
					"model", info.ID,
					"kept", existing.provider.Name(),
					"skipped", p.Name(),
				)
				continue
			}
			info.Provider = p.Name()
			r.routes[info.ID] = route{provider: p, info: info}
		}
	}
	return r
}

// Lookup resolves a public model ID to its adapter and catalog entry.
func (r *Registry) Lookup(modelID string) (Provider, ModelInfo, error) {
	rt, ok := r.routes[modelID]
	if !ok {
		return nil, ModelInfo{}, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	return rt.provider, rt.info, nil
}

// Models returns the full catalog, sorted by ID for stable API output.
func (r *Registry) Models() []ModelInfo {
	out := make([]ModelInfo, 0, len(r.routes))
	for _, rt := range r.routes {
		out = append(out, rt.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
