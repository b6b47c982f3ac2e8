package dashboard

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/user/storedash/internal/derive"
	"github.com/user/storedash/internal/gateway"
	"github.com/user/storedash/internal/logger"
	"github.com/user/storedash/internal/metrics"
	"github.com/user/storedash/internal/session"
	"github.com/user/storedash/internal/types"
)

const (
	maxRequestBody = 1 << 20
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type errorBody struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Kind    gateway.ErrorKind `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, kind gateway.ErrorKind, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}

// writeResult sends a gateway result. A lost session is a 401 so the front
// end returns to login; any other failure is shown inline with a 200.
func writeResult[T any](w http.ResponseWriter, res gateway.Result[T]) {
	status := http.StatusOK
	if res.AuthRequired() {
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, res)
}

// writeFailure maps an error from a non-Result call.
func writeFailure(w http.ResponseWriter, err error) {
	kind := gateway.KindOf(err)
	if kind == gateway.KindAuthRequired {
		writeError(w, http.StatusUnauthorized, kind, "Authentication failed. Please login again.")
		return
	}
	writeError(w, http.StatusBadGateway, kind, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, gateway.KindValidation, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success bool       `json:"success"`
	User    types.User `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, gateway.KindValidation, "username and password are required")
		return
	}

	sess, err := s.sessions.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrAuth) {
			writeError(w, http.StatusUnauthorized, gateway.KindAuthRequired, err.Error())
			return
		}
		logger.FromContext(r.Context()).Error("login failed", "error", err)
		writeError(w, http.StatusBadGateway, gateway.KindNetwork, err.Error())
		return
	}

	s.clearEvents()
	s.startPoller()
	writeJSON(w, http.StatusOK, loginResponse{Success: true, User: sess.User})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	had := s.sessions.IsAuthenticated()
	if err := s.sessions.Logout(); err != nil {
		logger.FromContext(r.Context()).Error("logout failed", "error", err)
		writeError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	if had {
		metrics.SessionTeardowns.WithLabelValues("logout").Inc()
	}
	s.poller.Stop()
	s.clearEvents()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type meResponse struct {
	Authenticated bool        `json:"authenticated"`
	User          *types.User `json:"user,omitempty"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u := s.sessions.CurrentUser()
	writeJSON(w, http.StatusOK, meResponse{Authenticated: u != nil, User: u})
}

// StatusView is the agent status panel: every checked agent in registry
// order plus the online count.
type StatusView struct {
	Agents []types.AgentHealth `json:"agents"`
	Online int                 `json:"online"`
	Total  int                 `json:"total"`
}

func NewStatusView(snap types.Snapshot) StatusView {
	v := StatusView{Agents: []types.AgentHealth{}}
	for _, name := range types.AgentNames() {
		if h, ok := snap[name]; ok {
			v.Agents = append(v.Agents, h)
		}
	}
	v.Online = snap.Online()
	v.Total = len(v.Agents)
	return v
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	snap := s.poller.Latest()
	if snap == nil {
		var err error
		snap, err = s.poller.Refresh(r.Context())
		if err != nil {
			writeFailure(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, NewStatusView(snap))
}

func (s *Server) handleAgentsRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.poller.Refresh(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewStatusView(snap))
}

func (s *Server) handleAgentsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.FromContext(r.Context()).Warn("status stream upgrade failed", "error", err)
		return
	}
	if !s.hub.Register(conn) {
		conn.Close()
		return
	}
	defer s.hub.Unregister(conn)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.FromContext(r.Context()).Debug("status stream closed", "error", err)
			}
			return
		}
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	batch, err := s.events(r.Context(), refresh)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleEventsSummary(w http.ResponseWriter, r *http.Request) {
	batch, err := s.events(r.Context(), false)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, derive.Summarize(batch))
}

// handleProducts lists the catalogue, or with ?query= runs a product search
// with its charts.
func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	batch, err := s.events(r.Context(), false)
	if err != nil {
		writeFailure(w, err)
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeJSON(w, http.StatusOK, derive.NewCatalogue(batch))
		return
	}
	writeJSON(w, http.StatusOK, derive.Search(batch, query))
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.gw.TriggerProcessing(r.Context()))
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.gw.RunAnalysis(r.Context()))
}

func (s *Server) handleKPIs(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.gw.GetKPIs(r.Context()))
}

func (s *Server) handleStoreKPI(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.gw.GetStoreKPI(r.Context(), chi.URLParam(r, "storeID")))
}

type reportResponse struct {
	Report  gateway.Result[gateway.ReportPayload] `json:"report"`
	Summary gateway.Result[gateway.ReportSummary] `json:"summary"`
}

// handleReport fetches the HTML report and the AI summary of a store in
// parallel.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	confirm, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))

	var resp reportResponse
	var g errgroup.Group
	g.Go(func() error {
		resp.Report = s.gw.GenerateReport(r.Context(), storeID, confirm)
		return nil
	})
	g.Go(func() error {
		resp.Summary = s.gw.FetchReportSummary(r.Context(), storeID)
		return nil
	})
	g.Wait()

	status := http.StatusOK
	if resp.Report.AuthRequired() || resp.Summary.AuthRequired() {
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, resp)
}

type searchRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeResult(w, s.gw.SemanticSearch(r.Context(), req.Query))
}

type chatRequest struct {
	Question string             `json:"question"`
	History  []gateway.ChatTurn `json:"history"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, gateway.KindValidation, "question is required")
		return
	}
	writeJSON(w, http.StatusOK, s.gw.ChatWithAI(r.Context(), req.Question, req.History))
}

func (s *Server) handleAudits(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.gw.ListAudits(r.Context()))
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.gw.GetAudit(r.Context(), chi.URLParam(r, "batchID")))
}
