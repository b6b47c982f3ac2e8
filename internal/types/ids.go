// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

// AgentName identifies one of the backend agent services.
type AgentName string

const (
	AgentCollector   AgentName = "collector"
	AgentCoordinator AgentName = "coordinator"
	AgentAnalyzer    AgentName = "analyzer"
	AgentKPI         AgentName = "kpi"
	AgentReport      AgentName = "report"
)

// AgentNames returns every known agent in display order.
func AgentNames() []AgentName {
	return []AgentName{AgentCollector, AgentCoordinator, AgentAnalyzer, AgentKPI, AgentReport}
}

// Valid reports whether n is one of the known agents.
func (n AgentName) Valid() bool {
	for _, known := range AgentNames() {
		if n == known {
			return true
		}
	}
	return false
}

type RequestID string

func NewRequestID() RequestID {
	return RequestID(uuid.New().String())
}
