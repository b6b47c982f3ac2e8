// Package gateway is the dashboard's data access layer. Every operation goes
// through the HTTP client and comes back as a Result envelope, so callers
// never handle transport errors directly.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/user/storedash/internal/agent"
	"github.com/user/storedash/internal/httpclient"
	"github.com/user/storedash/internal/logger"
	"github.com/user/storedash/internal/metrics"
	"github.com/user/storedash/internal/types"
)

// Doer sends one request to an agent. *httpclient.Client implements it.
type Doer interface {
	Do(ctx context.Context, req httpclient.Request, out any) error
}

// Options holds the tunables of a Gateway.
type Options struct {
	// CoordinatorAPIKey is sent as X-API-KEY on orchestration calls.
	CoordinatorAPIKey string
	// OrchestrateCap and AnalyzeCap bound how many events are forwarded.
	OrchestrateCap int
	AnalyzeCap     int
	// FallbackCount events are synthesized over the trailing FallbackDays
	// when the collector is unreachable.
	FallbackCount int
	FallbackDays  int
	// ChatHistoryLimit is the number of most recent turns sent with a chat
	// question. Zero sends none.
	ChatHistoryLimit int
}

func DefaultOptions() Options {
	return Options{
		CoordinatorAPIKey: "demo-key",
		OrchestrateCap:    20,
		AnalyzeCap:        10,
		FallbackCount:     100,
		FallbackDays:      100,
		ChatHistoryLimit:  20,
	}
}

// Gateway performs the dashboard's data operations against the agents.
type Gateway struct {
	client Doer
	opts   Options
	now    func() time.Time

	randMu sync.Mutex
	rand   *rand.Rand
}

// Option configures a Gateway beyond its Options.
type Option func(*Gateway)

// WithRand sets the random source used for sample data.
func WithRand(r *rand.Rand) Option {
	return func(g *Gateway) { g.rand = r }
}

// WithClock overrides the time source used for sample data.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

func New(client Doer, opts Options, extra ...Option) *Gateway {
	g := &Gateway{
		client: client,
		opts:   opts,
		now:    time.Now,
		rand:   rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())),
	}
	for _, o := range extra {
		o(g)
	}
	return g
}

// LoadEvents fetches the collector's events. If the collector cannot be
// reached the batch is synthesized locally and marked as such. A lost
// session, or a collector that answered with a body that is not an event
// list, is returned as an error and never masked by sample data.
func (g *Gateway) LoadEvents(ctx context.Context) (types.EventBatch, error) {
	events, err := g.fetchEvents(ctx)
	if err == nil {
		return types.EventBatch{Events: events, FromPrimarySource: true}, nil
	}
	if errors.Is(err, httpclient.ErrAuthRequired) || httpclient.IsDecode(err) {
		return types.EventBatch{}, err
	}
	if ctx.Err() != nil {
		return types.EventBatch{}, ctx.Err()
	}

	logger.FromContext(ctx).Warn("collector unavailable, using sample data", "error", err)
	metrics.FallbackBatches.Inc()
	return types.EventBatch{Events: g.synthesize(), FromPrimarySource: false}, nil
}

// TriggerProcessing sends the first events to the coordinator. A "rejected"
// status is still a successful call.
func (g *Gateway) TriggerProcessing(ctx context.Context) Result[OrchestrationResult] {
	events, err := g.fetchEvents(ctx)
	if err != nil {
		return Fail[OrchestrationResult](err)
	}

	var out OrchestrationResult
	req := httpclient.Request{
		Endpoint: agent.Orchestrate,
		Header:   http.Header{"X-API-KEY": {g.opts.CoordinatorAPIKey}},
	}
	wrap := func(sub []types.Event) any { return orchestrateRequest{Events: sub} }
	if err := g.forwardSubset(ctx, events, g.opts.OrchestrateCap, req, wrap, &out); err != nil {
		return Fail[OrchestrationResult](fmt.Errorf("orchestrate: %w", err))
	}
	if out.Rejected() {
		logger.FromContext(ctx).Info("coordinator rejected batch", "message", out.Message)
	}
	return OK(out)
}

// RunAnalysis sends the first events, as a bare array, to the analyzer.
func (g *Gateway) RunAnalysis(ctx context.Context) Result[AnalysisReport] {
	events, err := g.fetchEvents(ctx)
	if err != nil {
		return Fail[AnalysisReport](err)
	}

	var out AnalysisReport
	wrap := func(sub []types.Event) any { return sub }
	if err := g.forwardSubset(ctx, events, g.opts.AnalyzeCap, httpclient.Request{Endpoint: agent.Analyze}, wrap, &out); err != nil {
		return Fail[AnalysisReport](fmt.Errorf("analyze: %w", err))
	}
	if out.Status == "error" {
		return Fail[AnalysisReport](fmt.Errorf("%w: %s", ErrInvalidInput, out.Message))
	}
	if out.InsightsList == nil {
		out.InsightsList = []Insight{}
	}
	return OK(out)
}

// GetKPIs returns the KPI of every store.
func (g *Gateway) GetKPIs(ctx context.Context) Result[[]KPI] {
	var out []KPI
	if err := g.client.Do(ctx, httpclient.Request{Endpoint: agent.KPIs}, &out); err != nil {
		return Fail[[]KPI](fmt.Errorf("get kpis: %w", err))
	}
	if out == nil {
		out = []KPI{}
	}
	return OK(out)
}

// GetStoreKPI returns the KPI of one store. The kpi agent reports a missing
// store as a 200 whose body is the pair [{"error": ...}, 404].
func (g *Gateway) GetStoreKPI(ctx context.Context, storeID string) Result[KPI] {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return Fail[KPI](fmt.Errorf("%w: store ID is required", ErrInvalidInput))
	}

	var raw httpclient.RawResponse
	if err := g.client.Do(ctx, httpclient.Request{Endpoint: agent.StoreKPI.With(storeID)}, &raw); err != nil {
		return Fail[KPI](fmt.Errorf("get kpi for %s: %w", storeID, err))
	}
	kpi, err := decodeStoreKPI(raw.Body)
	if err != nil {
		return Fail[KPI](fmt.Errorf("get kpi for %s: %w", storeID, err))
	}
	return OK(kpi)
}

func decodeStoreKPI(body []byte) (KPI, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var pair []json.RawMessage
		if err := json.Unmarshal(body, &pair); err != nil {
			return KPI{}, fmt.Errorf("decode kpi response: %w", err)
		}
		var status int
		if len(pair) > 1 {
			json.Unmarshal(pair[1], &status)
		}
		var e struct {
			Error string `json:"error"`
		}
		if len(pair) > 0 {
			json.Unmarshal(pair[0], &e)
		}
		if status == http.StatusNotFound {
			return KPI{}, fmt.Errorf("%w: %s", ErrNotFound, e.Error)
		}
		return KPI{}, &httpclient.NetworkError{Agent: types.AgentKPI, Kind: httpclient.KindStatus, Status: status, Message: e.Error}
	}

	var probe struct {
		KPI
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return KPI{}, fmt.Errorf("decode kpi response: %w", err)
	}
	if probe.Error != "" {
		return KPI{}, fmt.Errorf("%w: %s", ErrNotFound, probe.Error)
	}
	return probe.KPI, nil
}

// GenerateReport fetches the HTML report of a store. confirm asks the report
// agent to regenerate rather than serve a cached report.
func (g *Gateway) GenerateReport(ctx context.Context, storeID string, confirm bool) Result[ReportPayload] {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return Fail[ReportPayload](fmt.Errorf("%w: store ID is required", ErrInvalidInput))
	}
	req := httpclient.Request{Endpoint: agent.Report.With(storeID)}
	if confirm {
		req.Query = url.Values{"confirm": {strconv.FormatBool(confirm)}}
	}

	var raw httpclient.RawResponse
	if err := g.client.Do(ctx, req, &raw); err != nil {
		return Fail[ReportPayload](fmt.Errorf("generate report for %s: %w", storeID, err))
	}
	return OK(ReportPayload{
		StoreID:     storeID,
		ContentType: raw.ContentType,
		HTML:        string(raw.Body),
	})
}

// FetchReportSummary fetches the KPI-plus-AI summary of a store.
func (g *Gateway) FetchReportSummary(ctx context.Context, storeID string) Result[ReportSummary] {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return Fail[ReportSummary](fmt.Errorf("%w: store ID is required", ErrInvalidInput))
	}
	var out ReportSummary
	if err := g.client.Do(ctx, httpclient.Request{Endpoint: agent.ReportSummary.With(storeID)}, &out); err != nil {
		return Fail[ReportSummary](fmt.Errorf("fetch report summary for %s: %w", storeID, err))
	}
	if out.StoreID == "" {
		out.StoreID = storeID
	}
	return OK(out)
}

// SemanticSearch queries the analyzer's vector index. Data.Results is an
// empty slice, never nil, on every path.
func (g *Gateway) SemanticSearch(ctx context.Context, query string) Result[SearchResponse] {
	empty := SearchResponse{Query: query, Results: []SearchMatch{}}
	if strings.TrimSpace(query) == "" {
		r := Fail[SearchResponse](fmt.Errorf("%w: Query cannot be empty", ErrInvalidInput))
		r.Data = empty
		return r
	}

	var out struct {
		SearchResponse
		Error string `json:"error"`
	}
	req := httpclient.Request{Endpoint: agent.Search, Query: url.Values{"query": {query}}}
	if err := g.client.Do(ctx, req, &out); err != nil {
		r := Fail[SearchResponse](fmt.Errorf("semantic search: %w", err))
		r.Data = empty
		return r
	}
	if out.Error != "" {
		r := Fail[SearchResponse](fmt.Errorf("%w: %s", ErrInvalidInput, out.Error))
		r.Data = empty
		return r
	}

	resp := out.SearchResponse
	if resp.Query == "" {
		resp.Query = query
	}
	if resp.Results == nil {
		resp.Results = []SearchMatch{}
	}
	return OK(resp)
}

// ListAudits returns the coordinator's batch records, newest first.
func (g *Gateway) ListAudits(ctx context.Context) Result[[]Audit] {
	var out []Audit
	if err := g.client.Do(ctx, httpclient.Request{Endpoint: agent.Audits}, &out); err != nil {
		return Fail[[]Audit](fmt.Errorf("list audits: %w", err))
	}
	if out == nil {
		out = []Audit{}
	}
	return OK(out)
}

// GetAudit returns one batch record. The coordinator answers an unknown batch
// with an empty object.
func (g *Gateway) GetAudit(ctx context.Context, batchID string) Result[Audit] {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return Fail[Audit](fmt.Errorf("%w: batch ID is required", ErrInvalidInput))
	}
	var out Audit
	if err := g.client.Do(ctx, httpclient.Request{Endpoint: agent.Audit.With(batchID)}, &out); err != nil {
		return Fail[Audit](fmt.Errorf("get audit %s: %w", batchID, err))
	}
	if out.BatchID == "" {
		return Fail[Audit](fmt.Errorf("%w: audit %s", ErrNotFound, batchID))
	}
	return OK(out)
}

func (g *Gateway) fetchEvents(ctx context.Context) ([]types.Event, error) {
	var events []types.Event
	if err := g.client.Do(ctx, httpclient.Request{Endpoint: agent.Events}, &events); err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	if events == nil {
		events = []types.Event{}
	}
	return events, nil
}

// forwardSubset posts at most limit events, in collector order, to the
// endpoint in req. wrap shapes the body the target expects.
func (g *Gateway) forwardSubset(ctx context.Context, events []types.Event, limit int, req httpclient.Request, wrap func([]types.Event) any, out any) error {
	sub := capEvents(events, limit)
	slog.Debug("forwarding events", "endpoint", req.Endpoint.String(), "count", len(sub), "available", len(events))
	req.Body = wrap(sub)
	return g.client.Do(ctx, req, out)
}

// capEvents returns the first n events. A non-positive n disables the cap.
func capEvents(events []types.Event, n int) []types.Event {
	if n > 0 && len(events) > n {
		return events[:n]
	}
	return events
}
