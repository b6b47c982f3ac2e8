package gateway

import "encoding/json"

// OrchestrationResult is the coordinator's answer to a processing request.
type OrchestrationResult struct {
	BatchID       string   `json:"batch_id"`
	Status        string   `json:"status"`
	Message       string   `json:"message,omitempty"`
	InsightsCount int      `json:"insights_count,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// Rejected reports a business-level refusal. The call itself succeeded.
func (o OrchestrationResult) Rejected() bool {
	return o.Status == "rejected"
}

type Insight struct {
	InsightID   string   `json:"insight_id"`
	StoreID     string   `json:"store_id"`
	Ts          string   `json:"ts"`
	Text        string   `json:"text"`
	Explanation string   `json:"explanation"`
	Tags        []string `json:"tags"`
	Confidence  float64  `json:"confidence"`
	LLMUsed     bool     `json:"llm_used"`
}

// AnalysisReport is returned by the analyzer. AdvancedAnalysis and LLMTraces
// are passed through untouched.
type AnalysisReport struct {
	Status           string          `json:"status"`
	Insights         int             `json:"insights"`
	InsightsList     []Insight       `json:"insights_list"`
	AdvancedAnalysis json.RawMessage `json:"advanced_analysis,omitempty"`
	LLMTraces        json.RawMessage `json:"llm_traces,omitempty"`
	Mode             string          `json:"mode,omitempty"`
	LLMInsightsCount int             `json:"llm_insights_count"`
	Message          string          `json:"message,omitempty"`
}

type KPIMetrics struct {
	SalesCount        int     `json:"sales_count"`
	TotalSales        float64 `json:"total_sales"`
	AverageOrderValue float64 `json:"average_order_value"`
	TotalItemsSold    int     `json:"total_items_sold"`
}

// KPI is the per-store aggregate computed by the kpi agent. The breakdowns
// map a category to the sales amount attributed to it.
type KPI struct {
	StoreID            string             `json:"store_id"`
	Ts                 string             `json:"ts"`
	Metrics            KPIMetrics         `json:"metrics"`
	ByCustomerCategory map[string]float64 `json:"by_customer_category,omitempty"`
	ByPaymentMethod    map[string]float64 `json:"by_payment_method,omitempty"`
	ByPromotion        map[string]float64 `json:"by_promotion,omitempty"`
}

// ReportPayload is a rendered store report as served by the report agent.
type ReportPayload struct {
	StoreID     string `json:"store_id"`
	ContentType string `json:"content_type"`
	HTML        string `json:"html"`
}

// ReportSummary pairs a store's KPI with an AI-written summary. The report
// agent sets Error when it had to fall back to a canned summary.
type ReportSummary struct {
	StoreID     string          `json:"store_id"`
	KPI         json.RawMessage `json:"kpi,omitempty"`
	AISummary   string          `json:"ai_summary"`
	MetricsUsed map[string]any  `json:"metrics_used,omitempty"`
	Error       string          `json:"error,omitempty"`
}

type SearchMatch struct {
	SimilarityScore float64        `json:"similarity_score"`
	Metadata        map[string]any `json:"metadata"`
	DocumentPreview string         `json:"document_preview"`
}

// SearchResponse is the analyzer's semantic search answer. Results is never
// nil once returned from the gateway.
type SearchResponse struct {
	Query        string        `json:"query"`
	Results      []SearchMatch `json:"results"`
	TotalMatches int           `json:"total_matches"`
	Message      string        `json:"message,omitempty"`
}

// Audit is one coordinator batch record. Fields the coordinator adds as the
// batch progresses (analyzer, kpi_results, report) stay in Raw.
type Audit struct {
	BatchID      string   `json:"batch_id"`
	Ts           string   `json:"ts"`
	Status       string   `json:"status"`
	EventsCount  int      `json:"events_count"`
	BatchesCount int      `json:"batches_count"`
	BatchSize    int      `json:"batch_size"`
	Errors       []string `json:"errors"`

	Raw json.RawMessage `json:"-"`
}

type auditFields Audit

func (a *Audit) UnmarshalJSON(data []byte) error {
	var f auditFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*a = Audit(f)
	a.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (a Audit) MarshalJSON() ([]byte, error) {
	if len(a.Raw) > 0 {
		return a.Raw, nil
	}
	return json.Marshal(auditFields(a))
}

// ChatTurn is one line of conversation history.
type ChatTurn struct {
	Text   string `json:"text"`
	IsUser bool   `json:"isUser"`
}

// ChatReply is what ChatWithAI always returns. On failure Response holds a
// user-facing apology and Error the cause.
type ChatReply struct {
	Success   bool            `json:"success"`
	Response  string          `json:"response"`
	Intent    json.RawMessage `json:"intent,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// chatRequest is the analyzer's chat body.
type chatRequest struct {
	Question string     `json:"question"`
	History  []ChatTurn `json:"history"`
}

type chatResponse struct {
	Response  string          `json:"response"`
	Intent    json.RawMessage `json:"intent"`
	Timestamp string          `json:"timestamp"`
	Error     string          `json:"error"`
}

type orchestrateRequest struct {
	Events any `json:"events"`
}
