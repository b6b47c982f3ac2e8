package agent

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/user/storedash/internal/types"
)

// AuthMode states whether an endpoint expects the session bearer token.
type AuthMode int

const (
	// AuthBearer endpoints receive the session token when one exists.
	AuthBearer AuthMode = iota
	// AuthPublic endpoints never receive the session token.
	AuthPublic
)

func (m AuthMode) String() string {
	switch m {
	case AuthBearer:
		return "bearer"
	case AuthPublic:
		return "public"
	default:
		return "unknown"
	}
}

// Endpoint describes one call on one agent. Path may contain %s verbs which
// are filled, path-escaped, by With.
type Endpoint struct {
	Agent  types.AgentName
	Method string
	Path   string
	Auth   AuthMode
}

// With returns a copy of e with the path arguments substituted.
func (e Endpoint) With(args ...string) Endpoint {
	if len(args) == 0 {
		return e
	}
	escaped := make([]any, len(args))
	for i, a := range args {
		escaped[i] = url.PathEscape(a)
	}
	e.Path = fmt.Sprintf(e.Path, escaped...)
	return e
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s %s %s", e.Agent, e.Method, e.Path)
}

// The chat and report-summary endpoints are served without authentication by
// the analyzer and report agents, so they are marked public rather than
// inheriting the bearer default.
var (
	Login         = Endpoint{Agent: types.AgentCollector, Method: http.MethodPost, Path: "/login", Auth: AuthPublic}
	Events        = Endpoint{Agent: types.AgentCollector, Method: http.MethodGet, Path: "/events", Auth: AuthBearer}
	Orchestrate   = Endpoint{Agent: types.AgentCoordinator, Method: http.MethodPost, Path: "/orchestrate", Auth: AuthBearer}
	Audits        = Endpoint{Agent: types.AgentCoordinator, Method: http.MethodGet, Path: "/audits", Auth: AuthBearer}
	Audit         = Endpoint{Agent: types.AgentCoordinator, Method: http.MethodGet, Path: "/audit/%s", Auth: AuthBearer}
	Analyze       = Endpoint{Agent: types.AgentAnalyzer, Method: http.MethodPost, Path: "/analyze", Auth: AuthBearer}
	Search        = Endpoint{Agent: types.AgentAnalyzer, Method: http.MethodPost, Path: "/semantic-search", Auth: AuthBearer}
	Chat          = Endpoint{Agent: types.AgentAnalyzer, Method: http.MethodPost, Path: "/chat/query", Auth: AuthPublic}
	KPIs          = Endpoint{Agent: types.AgentKPI, Method: http.MethodGet, Path: "/kpis", Auth: AuthBearer}
	StoreKPI      = Endpoint{Agent: types.AgentKPI, Method: http.MethodGet, Path: "/kpis/%s", Auth: AuthBearer}
	Report        = Endpoint{Agent: types.AgentReport, Method: http.MethodGet, Path: "/report/%s", Auth: AuthBearer}
	ReportSummary = Endpoint{Agent: types.AgentReport, Method: http.MethodGet, Path: "/report/json/%s", Auth: AuthPublic}
)

// Health returns the health-check endpoint of the named agent.
func Health(name types.AgentName) Endpoint {
	return Endpoint{Agent: name, Method: http.MethodGet, Path: "/health", Auth: AuthBearer}
}
