package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/storedash/internal/agent"
	"github.com/user/storedash/internal/gateway"
	"github.com/user/storedash/internal/health"
	"github.com/user/storedash/internal/httpclient"
	"github.com/user/storedash/internal/scheduler"
	"github.com/user/storedash/internal/session"
	"github.com/user/storedash/internal/types"
)

// backend fakes all five agents on one server, routing on the first path
// segment. Overrides are keyed by "<agent> <path>".
type backend struct {
	mu        sync.Mutex
	overrides map[string]http.HandlerFunc
	hits      map[string]int
	requestID map[string]string
	srv       *httptest.Server
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{
		overrides: make(map[string]http.HandlerFunc),
		hits:      make(map[string]int),
		requestID: make(map[string]string),
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) override(key string, h http.HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.overrides[key] = h
}

func (b *backend) hitCount(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[key]
}

func (b *backend) lastRequestID(key string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requestID[key]
}

func (b *backend) registry(t *testing.T) *agent.Registry {
	t.Helper()
	urls := make(map[types.AgentName]string)
	for _, name := range types.AgentNames() {
		urls[name] = b.srv.URL + "/" + string(name)
	}
	reg, err := agent.NewRegistry(urls)
	require.NoError(t, err)
	return reg
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (b *backend) serve(w http.ResponseWriter, r *http.Request) {
	name, rest, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	key := name + " /" + rest

	b.mu.Lock()
	b.hits[key]++
	b.requestID[key] = r.Header.Get("X-Request-ID")
	h, ok := b.overrides[key]
	b.mu.Unlock()
	if ok {
		h(w, r)
		return
	}

	switch key {
	case "collector /login":
		var creds struct{ Username, Password string }
		json.NewDecoder(r.Body).Decode(&creds)
		if creds.Username != "admin" || creds.Password != "admin123" {
			reply(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid credentials"})
			return
		}
		reply(w, http.StatusOK, map[string]string{"token": "tok-admin", "user": "admin", "role": "admin"})
	case "report /health":
		reply(w, http.StatusServiceUnavailable, map[string]string{"status": "down"})
	case "collector /health", "coordinator /health", "analyzer /health", "kpi /health":
		reply(w, http.StatusOK, map[string]string{"status": "ok"})
	case "collector /events":
		reply(w, http.StatusOK, []map[string]any{
			{"event_id": "e1", "store_id": "S1", "ts": "2024-01-05T10:00:00", "event_type": "sale",
				"payload": map[string]any{"amount": 100.4, "items": []string{"Toaster"}, "season": "Winter", "customer_category": "Regular"}},
			{"event_id": "e2", "store_id": "S2", "ts": "2024-02-05T10:00:00", "event_type": "sale",
				"payload": map[string]any{"amount": 50, "items": "Blender"}},
			{"event_id": "e3", "store_id": "S1", "ts": "2024-02-06T10:00:00", "event_type": "return",
				"payload": map[string]any{"amount": 20.2, "items": "toaster oven"}},
		})
	case "coordinator /orchestrate":
		reply(w, http.StatusOK, map[string]any{"batch_id": "b1", "status": "completed", "insights_count": 2})
	case "coordinator /audits":
		reply(w, http.StatusOK, []map[string]any{{"batch_id": "b1", "status": "completed", "events_count": 3}})
	case "coordinator /audit/b1":
		reply(w, http.StatusOK, map[string]any{"batch_id": "b1", "status": "completed"})
	case "coordinator /audit/missing":
		reply(w, http.StatusOK, map[string]any{})
	case "analyzer /analyze":
		reply(w, http.StatusOK, map[string]any{"status": "ok", "insights": 1, "insights_list": []map[string]any{{"insight_id": "i1", "text": "sales up"}}})
	case "analyzer /semantic-search":
		reply(w, http.StatusOK, map[string]any{"query": r.URL.Query().Get("query"), "results": []map[string]any{{"similarity_score": 0.9, "document_preview": "toaster"}}, "total_matches": 1})
	case "analyzer /chat/query":
		reply(w, http.StatusOK, map[string]any{"response": "Sales are fine", "timestamp": "2024-01-01T00:00:00"})
	case "kpi /kpis":
		reply(w, http.StatusOK, []map[string]any{{"store_id": "S1", "metrics": map[string]any{"sales_count": 2, "total_sales": 120.6}}})
	case "kpi /kpis/S1":
		reply(w, http.StatusOK, map[string]any{"store_id": "S1", "metrics": map[string]any{"sales_count": 2}})
	case "report /report/S1":
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<h1>Store S1</h1>")
	case "report /report/json/S1":
		reply(w, http.StatusOK, map[string]any{"store_id": "S1", "ai_summary": "Healthy store"})
	default:
		http.NotFound(w, r)
	}
}

type harness struct {
	backend  *backend
	sessions *session.Store
	poller   *health.Poller
	hub      *Hub
	server   *Server
	api      *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	b := newBackend(t)
	reg := b.registry(t)

	base := httpclient.New(reg, nil, httpclient.WithTimeout(2*time.Second))
	sessions := session.New(session.NewMemoryKV(), base)
	client := base.WithTokens(sessions)
	agg := health.NewAggregator(client, reg)

	sched := scheduler.New()
	sched.Start()
	t.Cleanup(sched.Stop)

	hub := NewHub()
	var srv *Server
	poller := health.NewPoller(agg, sched,
		health.WithInterval(time.Hour),
		health.OnSnapshot(hub.Publish),
		health.OnAuthLost(func() { srv.SessionLost() }),
		health.WhileAuthenticated(sessions.IsAuthenticated),
	)
	srv = New(Deps{
		Gateway:  gateway.New(client, gateway.DefaultOptions()),
		Sessions: sessions,
		Poller:   poller,
		Hub:      hub,
	})

	ctx, cancel := context.WithCancel(context.Background())
	srv.Start(ctx)
	api := httptest.NewServer(srv)
	t.Cleanup(func() {
		api.Close()
		srv.Stop()
		cancel()
	})

	return &harness{backend: b, sessions: sessions, poller: poller, hub: hub, server: srv, api: api}
}

func (h *harness) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.api.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out), "%s %s", method, path)
	return resp.StatusCode, out
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	status, body := h.do(t, http.MethodPost, "/api/login", map[string]string{"username": "admin", "password": "admin123"})
	require.Equal(t, http.StatusOK, status, body)
}

func TestLoginLogoutFlow(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodGet, "/api/me", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["authenticated"])

	status, body = h.do(t, http.MethodGet, "/api/agents", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "auth_required", body["kind"])

	status, body = h.do(t, http.MethodPost, "/api/login", map[string]string{"username": "admin", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, body["error"], "Invalid credentials")
	assert.False(t, h.sessions.IsAuthenticated())

	status, _ = h.do(t, http.MethodPost, "/api/login", map[string]string{"username": "", "password": "x"})
	assert.Equal(t, http.StatusBadRequest, status)

	h.login(t)
	status, body = h.do(t, http.MethodGet, "/api/me", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, "admin", body["user"].(map[string]any)["username"])

	status, body = h.do(t, http.MethodPost, "/api/logout", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.False(t, h.sessions.IsAuthenticated())

	status, _ = h.do(t, http.MethodGet, "/api/events", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = h.do(t, http.MethodPost, "/api/logout", nil)
	assert.Equal(t, http.StatusOK, status, "logout without a session is a no-op")
}

func TestAgentsStatus(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	status, body := h.do(t, http.MethodPost, "/api/agents/refresh", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 5, body["total"])
	assert.EqualValues(t, 4, body["online"])

	agents := body["agents"].([]any)
	require.Len(t, agents, 5)
	assert.Equal(t, "collector", agents[0].(map[string]any)["name"])
	assert.Equal(t, "offline", agents[4].(map[string]any)["status"])

	status, body = h.do(t, http.MethodGet, "/api/agents", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 5, body["total"])
}

func TestEventsAreCachedAndDerived(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	status, body := h.do(t, http.MethodGet, "/api/events", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["events"], 3)
	assert.Equal(t, true, body["from_primary_source"])

	status, body = h.do(t, http.MethodGet, "/api/events/summary", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 3, body["event_count"])
	assert.EqualValues(t, 2, body["unique_stores"])
	assert.EqualValues(t, 2, body["unique_event_types"])
	assert.Equal(t, 1, h.backend.hitCount("collector /events"), "summary reuses the loaded batch")

	status, body = h.do(t, http.MethodGet, "/api/products", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{"Blender", "Toaster", "toaster oven"}, body["products"])

	status, body = h.do(t, http.MethodGet, "/api/products?query=TOASTER", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["matches"], 2)
	assert.Equal(t, []any{"S1"}, body["stores"])
	charts := body["charts"].(map[string]any)
	assert.Len(t, charts["sales_trend"], 2)

	h.do(t, http.MethodGet, "/api/events?refresh=true", nil)
	assert.Equal(t, 2, h.backend.hitCount("collector /events"))
}

func TestEventsFallBackToSampleData(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.backend.override("collector /events", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusInternalServerError, map[string]string{"detail": "boom"})
	})

	status, body := h.do(t, http.MethodGet, "/api/events", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["from_primary_source"])
	assert.Len(t, body["events"], 100)
}

func TestInitLoadsConcurrently(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	require.NoError(t, h.server.Init(context.Background()))
	assert.GreaterOrEqual(t, h.backend.hitCount("kpi /health"), 1)
	before := h.backend.hitCount("collector /events")
	assert.GreaterOrEqual(t, before, 1)

	status, _ := h.do(t, http.MethodGet, "/api/events", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, before, h.backend.hitCount("collector /events"))
}

func TestGatewayRoutes(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	status, body := h.do(t, http.MethodPost, "/api/process", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "b1", body["data"].(map[string]any)["batch_id"])

	_, body = h.do(t, http.MethodPost, "/api/analyze", nil)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 1, body["data"].(map[string]any)["insights"])

	_, body = h.do(t, http.MethodGet, "/api/kpis", nil)
	assert.Len(t, body["data"], 1)

	_, body = h.do(t, http.MethodGet, "/api/kpis/S1", nil)
	assert.Equal(t, "S1", body["data"].(map[string]any)["store_id"])

	status, body = h.do(t, http.MethodGet, "/api/kpis/S9", nil)
	assert.Equal(t, http.StatusOK, status, "inline failure")
	assert.Equal(t, false, body["success"])

	_, body = h.do(t, http.MethodGet, "/api/reports/S1", nil)
	report := body["report"].(map[string]any)
	summary := body["summary"].(map[string]any)
	assert.Equal(t, "<h1>Store S1</h1>", report["data"].(map[string]any)["html"])
	assert.Equal(t, "Healthy store", summary["data"].(map[string]any)["ai_summary"])

	_, body = h.do(t, http.MethodPost, "/api/search", map[string]string{"query": "toaster"})
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 1, body["data"].(map[string]any)["total_matches"])

	_, body = h.do(t, http.MethodPost, "/api/search", map[string]string{"query": "  "})
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "validation", body["kind"])

	_, body = h.do(t, http.MethodPost, "/api/chat", map[string]any{
		"question": "How are sales?",
		"history":  []map[string]any{{"text": "hi", "isUser": true}},
	})
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Sales are fine", body["response"])

	status, _ = h.do(t, http.MethodPost, "/api/chat", map[string]any{"question": ""})
	assert.Equal(t, http.StatusBadRequest, status)

	_, body = h.do(t, http.MethodGet, "/api/audits", nil)
	assert.Len(t, body["data"], 1)

	_, body = h.do(t, http.MethodGet, "/api/audits/b1", nil)
	assert.Equal(t, true, body["success"])

	_, body = h.do(t, http.MethodGet, "/api/audits/missing", nil)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "not_found", body["kind"])
}

func TestExpiredSessionMapsTo401(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.backend.override("kpi /kpis", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
	})

	status, body := h.do(t, http.MethodGet, "/api/kpis", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "auth_required", body["kind"])
	assert.Equal(t, "Authentication failed. Please login again.", body["error"])
	assert.False(t, h.sessions.IsAuthenticated())

	_, body = h.do(t, http.MethodGet, "/api/me", nil)
	assert.Equal(t, false, body["authenticated"])
}

func TestAgentRejectionStopsPolling(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	require.Eventually(t, h.poller.Running, time.Second, 10*time.Millisecond)

	url := "ws" + strings.TrimPrefix(h.api.URL, "http") + "/api/agents/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	h.do(t, http.MethodGet, "/api/events", nil)
	h.backend.override("kpi /kpis", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
	})

	status, _ := h.do(t, http.MethodGet, "/api/kpis", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, h.sessions.IsAuthenticated())
	assert.False(t, h.poller.Running())
	readMessage(t, conn, MessageAuthLost)

	h.server.mu.Lock()
	assert.Nil(t, h.server.batch)
	h.server.mu.Unlock()
}

func TestRequestIDPropagates(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	req, err := http.NewRequest(http.MethodGet, h.api.URL+"/api/kpis", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "req-123", h.backend.lastRequestID("kpi /kpis"))
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	h.login(t)
	h.do(t, http.MethodGet, "/api/kpis", nil)

	resp, err := http.Get(h.api.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "storedash_agent_requests_total")
}

func readMessage(t *testing.T, conn *websocket.Conn, want string) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == want {
			return msg
		}
	}
}

func TestStatusStream(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	url := "ws" + strings.TrimPrefix(h.api.URL, "http") + "/api/agents/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	h.do(t, http.MethodPost, "/api/agents/refresh", nil)
	msg := readMessage(t, conn, MessageSnapshot)
	require.NotNil(t, msg.Status)
	assert.Equal(t, 5, msg.Status.Total)
	assert.Equal(t, 4, msg.Status.Online)

	h.server.SessionLost()
	readMessage(t, conn, MessageAuthLost)
}

func TestStatusStreamRequiresSession(t *testing.T) {
	h := newHarness(t)

	url := "ws" + strings.TrimPrefix(h.api.URL, "http") + "/api/agents/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNewStatusView(t *testing.T) {
	now := time.Now()
	snap := types.Snapshot{
		types.AgentReport:    {Name: types.AgentReport, Status: types.StatusOnline, LastChecked: now},
		types.AgentCollector: {Name: types.AgentCollector, Status: types.StatusOffline, LastChecked: now},
	}
	v := NewStatusView(snap)
	require.Len(t, v.Agents, 2)
	assert.Equal(t, types.AgentCollector, v.Agents[0].Name)
	assert.Equal(t, types.AgentReport, v.Agents[1].Name)
	assert.Equal(t, 1, v.Online)
	assert.Equal(t, 2, v.Total)

	empty := NewStatusView(nil)
	assert.NotNil(t, empty.Agents)
	assert.Zero(t, empty.Total)
}

func TestHubPublishNeverBlocks(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBuffer*2; i++ {
			hub.Publish(types.Snapshot{})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked without a running hub")
	}
	assert.Zero(t, hub.ClientCount())
}
