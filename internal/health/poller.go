package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/storedash/internal/httpclient"
	"github.com/user/storedash/internal/scheduler"
	"github.com/user/storedash/internal/types"
)

// DefaultInterval is the time between two polls.
const DefaultInterval = 30 * time.Second

const jobName = "agent-health"

// Checker produces a full snapshot. *Aggregator implements it.
type Checker interface {
	CheckAll(ctx context.Context) (types.Snapshot, error)
}

// Poller periodically refreshes the agent snapshot until stopped or until a
// check reports that the session is gone.
type Poller struct {
	checker    Checker
	sched      *scheduler.Scheduler
	interval   time.Duration
	onSnapshot func(types.Snapshot)
	onAuthLost func()
	hasSession func() bool

	mu      sync.Mutex
	latest  types.Snapshot
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// OnSnapshot registers fn to receive every published snapshot.
func OnSnapshot(fn func(types.Snapshot)) PollerOption {
	return func(p *Poller) { p.onSnapshot = fn }
}

// OnAuthLost registers fn to run once the poller stops itself because the
// session was rejected.
func OnAuthLost(fn func()) PollerOption {
	return func(p *Poller) { p.onAuthLost = fn }
}

// WhileAuthenticated makes every poll first ask fn whether a session is
// still held. When it is not, the poller stops as if a check had been
// rejected.
func WhileAuthenticated(fn func() bool) PollerOption {
	return func(p *Poller) { p.hasSession = fn }
}

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func NewPoller(checker Checker, sched *scheduler.Scheduler, opts ...PollerOption) *Poller {
	p := &Poller{
		checker:  checker,
		sched:    sched,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start kicks off an immediate poll and registers the periodic job. The
// scheduler must be started separately.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("health poller already running")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	p.mu.Unlock()

	if err := p.sched.Every(jobName, p.interval, p.poll); err != nil {
		p.halt()
		return fmt.Errorf("schedule health poll: %w", err)
	}
	slog.Info("health poller started", "interval", p.interval)
	go p.poll()
	return nil
}

// Stop cancels the poller and waits for an in-flight poll to return. It is
// safe to call more than once.
func (p *Poller) Stop() {
	p.halt()
	p.wg.Wait()
}

// Running reports whether the poller is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Latest returns a copy of the most recent snapshot, or nil before the first
// poll completes.
func (p *Poller) Latest() types.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return nil
	}
	out := make(types.Snapshot, len(p.latest))
	for k, v := range p.latest {
		out[k] = v
	}
	return out
}

// Refresh runs a check immediately, outside the schedule, and publishes the
// result. It works whether or not the poller is running.
func (p *Poller) Refresh(ctx context.Context) (types.Snapshot, error) {
	snap, err := p.checker.CheckAll(ctx)
	p.publish(snap)
	return snap, err
}

func (p *Poller) poll() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	ctx := p.ctx
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	if p.hasSession != nil && !p.hasSession() {
		p.sessionLost()
		return
	}

	snap, err := p.checker.CheckAll(ctx)
	if ctx.Err() != nil {
		return
	}
	p.publish(snap)

	if errors.Is(err, httpclient.ErrAuthRequired) {
		p.sessionLost()
	}
}

func (p *Poller) sessionLost() {
	slog.Warn("session lost, stopping health poller")
	p.halt()
	if p.onAuthLost != nil {
		p.onAuthLost()
	}
}

func (p *Poller) publish(snap types.Snapshot) {
	p.mu.Lock()
	p.latest = snap
	p.mu.Unlock()
	if p.onSnapshot != nil {
		p.onSnapshot(snap)
	}
}

// halt cancels the poller without waiting. It runs from inside the job on
// auth loss, where waiting would deadlock.
func (p *Poller) halt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	p.cancel()
	p.sched.Remove(jobName)
	slog.Info("health poller stopped")
}
