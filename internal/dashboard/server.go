// Package dashboard serves the storedash JSON API and the live agent status
// stream consumed by the dashboard front end.
package dashboard

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/user/storedash/internal/gateway"
	"github.com/user/storedash/internal/health"
	"github.com/user/storedash/internal/logger"
	"github.com/user/storedash/internal/session"
	"github.com/user/storedash/internal/types"
)

// Deps are the collaborators a Server routes requests to.
type Deps struct {
	Gateway  *gateway.Gateway
	Sessions *session.Store
	Poller   *health.Poller
	Hub      *Hub
}

// Server is the dashboard HTTP handler.
type Server struct {
	gw       *gateway.Gateway
	sessions *session.Store
	poller   *health.Poller
	hub      *Hub
	router   chi.Router

	mu    sync.Mutex
	ctx   context.Context
	batch *types.EventBatch
}

func New(d Deps) *Server {
	s := &Server{
		gw:       d.Gateway,
		sessions: d.Sessions,
		poller:   d.Poller,
		hub:      d.Hub,
		ctx:      context.Background(),
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP delegates to the chi router, satisfying http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(propagateRequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Get("/me", s.handleMe)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)

			r.Get("/agents", s.handleAgents)
			r.Post("/agents/refresh", s.handleAgentsRefresh)
			r.Get("/agents/stream", s.handleAgentsStream)

			r.Get("/events", s.handleEvents)
			r.Get("/events/summary", s.handleEventsSummary)
			r.Get("/products", s.handleProducts)

			r.Post("/process", s.handleProcess)
			r.Post("/analyze", s.handleAnalyze)

			r.Get("/kpis", s.handleKPIs)
			r.Get("/kpis/{storeID}", s.handleStoreKPI)
			r.Get("/reports/{storeID}", s.handleReport)

			r.Post("/search", s.handleSearch)
			r.Post("/chat", s.handleChat)

			r.Get("/audits", s.handleAudits)
			r.Get("/audits/{batchID}", s.handleAudit)
		})
	})

	return r
}

// propagateRequestID copies chi's request ID into the context key the HTTP
// client reads, so agent calls carry the same X-Request-ID.
func propagateRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(logger.WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// requireSession rejects requests without a session. A handler whose agent
// call was answered 401 has already cleared the session; the poller is then
// stopped and stream clients are told.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.sessions.IsAuthenticated() {
			writeError(w, http.StatusUnauthorized, gateway.KindAuthRequired, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
		if !s.sessions.IsAuthenticated() {
			logger.FromContext(r.Context()).Warn("session rejected by agent, stopping health poller")
			s.poller.Stop()
			s.SessionLost()
		}
	})
}

// Start runs the status hub and, when a session already exists, loads the
// initial data and starts the health poller. The hub stops when ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	go s.hub.Run(ctx)

	if !s.sessions.IsAuthenticated() {
		slog.Info("no session, waiting for login")
		return
	}
	if err := s.Init(ctx); err != nil {
		slog.Warn("initial load failed", "error", err)
	}
	s.startPoller()
}

// Stop halts the health poller and waits for an in-flight check.
func (s *Server) Stop() {
	s.poller.Stop()
}

// Init checks every agent and loads the event batch concurrently, returning
// once both are done.
func (s *Server) Init(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error {
		_, err := s.poller.Refresh(ctx)
		return err
	})
	g.Go(func() error {
		_, err := s.events(ctx, true)
		return err
	})
	return g.Wait()
}

func (s *Server) startPoller() {
	if s.poller.Running() {
		return
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if err := s.poller.Start(ctx); err != nil {
		slog.Debug("health poller not started", "error", err)
	}
}

// events returns the cached batch, loading it when absent or when refresh is
// set.
func (s *Server) events(ctx context.Context, refresh bool) (types.EventBatch, error) {
	s.mu.Lock()
	cached := s.batch
	s.mu.Unlock()
	if cached != nil && !refresh {
		return *cached, nil
	}

	batch, err := s.gw.LoadEvents(ctx)
	if err != nil {
		return types.EventBatch{}, err
	}
	s.mu.Lock()
	s.batch = &batch
	s.mu.Unlock()
	return batch, nil
}

func (s *Server) clearEvents() {
	s.mu.Lock()
	s.batch = nil
	s.mu.Unlock()
}

// SessionLost is called when an agent rejected the session during a
// background poll.
func (s *Server) SessionLost() {
	s.clearEvents()
	s.hub.SessionLost()
}
