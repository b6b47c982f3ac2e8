package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/storedash/internal/types"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()
	all := r.All()
	require.Len(t, all, 5)

	ports := map[types.AgentName]string{
		types.AgentCollector:   "http://localhost:8100",
		types.AgentCoordinator: "http://localhost:8110",
		types.AgentAnalyzer:    "http://localhost:8101",
		types.AgentKPI:         "http://localhost:8102",
		types.AgentReport:      "http://localhost:8103",
	}
	for _, d := range all {
		assert.Equal(t, ports[d.Name], d.BaseURL, d.Name)
	}
	assert.Equal(t, types.AgentCollector, all[0].Name)
}

func TestNewRegistryValidation(t *testing.T) {
	urls := map[types.AgentName]string{}
	for k, v := range DefaultBaseURLs {
		urls[k] = v
	}

	delete(urls, types.AgentKPI)
	_, err := NewRegistry(urls)
	assert.ErrorContains(t, err, "missing base URL for agent kpi")

	urls[types.AgentKPI] = "localhost:8102"
	_, err = NewRegistry(urls)
	assert.ErrorContains(t, err, "must be absolute")

	urls[types.AgentKPI] = "http://kpi.internal:9000/"
	urls["billing"] = "http://billing"
	_, err = NewRegistry(urls)
	assert.ErrorContains(t, err, "unknown agent")

	delete(urls, "billing")
	r, err := NewRegistry(urls)
	require.NoError(t, err)
	d, ok := r.Lookup(types.AgentKPI)
	require.True(t, ok)
	assert.Equal(t, "http://kpi.internal:9000", d.BaseURL)
}

func TestRegistryURL(t *testing.T) {
	r := Default()

	u, err := r.URL(types.AgentReport, "/report/S1")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8103/report/S1", u)

	u, err = r.URL(types.AgentKPI, "kpis")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8102/kpis", u)

	_, err = r.URL("billing", "/x")
	assert.Error(t, err)
}

func TestEndpointWith(t *testing.T) {
	ep := Report.With("New York")
	assert.Equal(t, "/report/New%20York", ep.Path)
	assert.Equal(t, "/report/%s", Report.Path, "original endpoint must not change")

	assert.Equal(t, AuthPublic, ReportSummary.Auth)
	assert.Equal(t, AuthPublic, Chat.Auth)
	assert.Equal(t, AuthBearer, Events.Auth)
	assert.Equal(t, "/health", Health(types.AgentAnalyzer).Path)
	assert.Equal(t, types.AgentAnalyzer, Health(types.AgentAnalyzer).Agent)
}
