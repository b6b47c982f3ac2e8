// Package agent holds the static registry of backend agent services and the
// table of endpoints the dashboard calls on them.
package agent

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/user/storedash/internal/types"
)

// DefaultBaseURLs are the local development addresses of the agents.
var DefaultBaseURLs = map[types.AgentName]string{
	types.AgentCollector:   "http://localhost:8100",
	types.AgentCoordinator: "http://localhost:8110",
	types.AgentAnalyzer:    "http://localhost:8101",
	types.AgentKPI:         "http://localhost:8102",
	types.AgentReport:      "http://localhost:8103",
}

// Descriptor is the immutable address of one agent.
type Descriptor struct {
	Name    types.AgentName `json:"name"`
	BaseURL string          `json:"base_url"`
}

// Registry maps agent names to descriptors. It is built once and never
// mutated afterwards.
type Registry struct {
	order  []types.AgentName
	byName map[types.AgentName]Descriptor
}

// NewRegistry builds a registry from base URLs. Every known agent must have a
// valid absolute URL; unknown names are rejected.
func NewRegistry(baseURLs map[types.AgentName]string) (*Registry, error) {
	r := &Registry{byName: make(map[types.AgentName]Descriptor, len(baseURLs))}
	for name := range baseURLs {
		if !name.Valid() {
			return nil, fmt.Errorf("unknown agent %q", name)
		}
	}
	for _, name := range types.AgentNames() {
		raw, ok := baseURLs[name]
		if !ok || strings.TrimSpace(raw) == "" {
			return nil, fmt.Errorf("missing base URL for agent %s", name)
		}
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("parse base URL for agent %s: %w", name, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("base URL for agent %s must be absolute: %q", name, raw)
		}
		r.order = append(r.order, name)
		r.byName[name] = Descriptor{Name: name, BaseURL: strings.TrimRight(u.String(), "/")}
	}
	return r, nil
}

// Default returns a registry pointing at the local development ports.
func Default() *Registry {
	r, err := NewRegistry(DefaultBaseURLs)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name types.AgentName) (Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// All returns every descriptor in registration order.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// URL resolves path against the base URL of the named agent.
func (r *Registry) URL(name types.AgentName, path string) (string, error) {
	d, ok := r.byName[name]
	if !ok {
		return "", fmt.Errorf("unknown agent %q", name)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return d.BaseURL + path, nil
}
