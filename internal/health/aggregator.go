// Package health checks the liveness of the backend agents, once on demand or
// periodically through a Poller.
package health

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/user/storedash/internal/agent"
	"github.com/user/storedash/internal/httpclient"
	"github.com/user/storedash/internal/metrics"
	"github.com/user/storedash/internal/types"
)

// Doer sends one request to an agent. *httpclient.Client implements it.
type Doer interface {
	Do(ctx context.Context, req httpclient.Request, out any) error
}

// Aggregator runs health checks. It keeps no state between calls.
type Aggregator struct {
	client        Doer
	registry      *agent.Registry
	maxConcurrent int64
	now           func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithMaxConcurrent bounds how many checks run at once. Non-positive values
// mean one slot per agent.
func WithMaxConcurrent(n int64) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxConcurrent = n
		}
	}
}

// WithClock overrides the time source used for LastChecked.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func NewAggregator(client Doer, registry *agent.Registry, opts ...Option) *Aggregator {
	a := &Aggregator{
		client:        client,
		registry:      registry,
		maxConcurrent: int64(len(registry.All())),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CheckAgent calls the agent's /health endpoint. Any failure other than a
// lost session marks the agent offline without an error.
func (a *Aggregator) CheckAgent(ctx context.Context, name types.AgentName) (types.AgentHealth, error) {
	err := a.client.Do(ctx, httpclient.Request{Endpoint: agent.Health(name)}, nil)
	h := types.AgentHealth{
		Name:        name,
		Status:      types.StatusOffline,
		LastChecked: a.now(),
	}
	switch {
	case err == nil:
		h.Status = types.StatusOnline
	case errors.Is(err, httpclient.ErrAuthRequired):
		metrics.AgentUp.WithLabelValues(string(name)).Set(0)
		return h, err
	default:
		slog.Debug("agent health check failed", "agent", name, "error", err)
	}

	up := 0.0
	if h.Status == types.StatusOnline {
		up = 1
	}
	metrics.AgentUp.WithLabelValues(string(name)).Set(up)
	return h, nil
}

// CheckAll checks every registered agent concurrently and waits for all of
// them. The snapshot always has one entry per agent. If any check lost the
// session, ErrAuthRequired is returned alongside the snapshot.
func (a *Aggregator) CheckAll(ctx context.Context) (types.Snapshot, error) {
	all := a.registry.All()
	results := make([]types.AgentHealth, len(all))
	sem := semaphore.NewWeighted(a.maxConcurrent)

	var g errgroup.Group
	for i, d := range all {
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = types.AgentHealth{Name: d.Name, Status: types.StatusOffline, LastChecked: a.now()}
				return nil
			}
			defer sem.Release(1)

			h, err := a.CheckAgent(ctx, d.Name)
			results[i] = h
			return err
		})
	}
	err := g.Wait()

	snap := make(types.Snapshot, len(results))
	for _, h := range results {
		snap[h.Name] = h
	}
	metrics.AgentsOnline.Set(float64(snap.Online()))
	return snap, err
}
