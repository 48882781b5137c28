package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/solatis/relaykit/internal/tenant"
	"github.com/solatis/relaykit/internal/types"
)

// Requirement is a device capability a component needs.
type Requirement int

const (
	RequirementInternet Requirement = iota
	RequirementNotifications
)

func (r Requirement) String() string {
	switch r {
	case RequirementInternet:
		return "internet"
	case RequirementNotifications:
		return "notifications"
	default:
		return fmt.Sprintf("requirement(%d)", int(r))
	}
}

// DeviceMonitor answers capability queries.
type DeviceMonitor interface {
	Available(ctx context.Context, req Requirement) bool
}

// Component is one startable SDK part.
type Component interface {
	Name() types.Component
	// Enabled is a pure check of the configuration flags.
	Enabled(cfg *tenant.Configuration) bool
	Requirements() []Requirement
	// Configure performs setup. A returned error marks the component Failed.
	Configure(ctx context.Context, cfg *tenant.Configuration) error
}

// pass is one in-flight bootstrap run that late callers wait on.
type pass struct {
	done   chan struct{}
	result RunResult
}

// Bootstrapper runs component setup. Concurrent calls share one pass; after
// a pass in which anything started, later calls return that result without
// running again. A pass where nothing started may be retried.
type Bootstrapper struct {
	components []Component
	monitor    DeviceMonitor
	state      *RunState
	logger     *slog.Logger

	mu        sync.Mutex
	inflight  *pass
	completed *RunResult
	listeners []func(RunResult)
}

// New creates a Bootstrapper. A nil logger discards output.
func New(components []Component, monitor DeviceMonitor, state *RunState, logger *slog.Logger) *Bootstrapper {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bootstrapper{
		components: components,
		monitor:    monitor,
		state:      state,
		logger:     logger.With("component", "bootstrap"),
	}
}

// State returns the run state this bootstrapper writes.
func (b *Bootstrapper) State() *RunState { return b.state }

// OnRunning registers fn to be called once the SDK is running. If it
// already is, fn runs immediately on the caller's goroutine.
func (b *Bootstrapper) OnRunning(fn func(RunResult)) {
	b.mu.Lock()
	if b.completed != nil {
		res := *b.completed
		b.mu.Unlock()
		fn(res)
		return
	}
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// Bootstrap runs a setup pass for cfg, or joins the one in flight.
func (b *Bootstrapper) Bootstrap(ctx context.Context, cfg *tenant.Configuration) RunResult {
	b.mu.Lock()
	if b.completed != nil {
		res := *b.completed
		b.mu.Unlock()
		b.logger.Debug("already running, bootstrap skipped")
		return res
	}
	if p := b.inflight; p != nil {
		b.mu.Unlock()
		b.logger.Debug("bootstrap in progress, waiting")
		select {
		case <-p.done:
			return p.result
		case <-ctx.Done():
			return b.state.Snapshot()
		}
	}
	p := &pass{done: make(chan struct{})}
	b.inflight = p
	b.mu.Unlock()

	p.result = b.run(ctx, cfg)
	b.state.replace(p.result.States)

	b.mu.Lock()
	b.inflight = nil
	var listeners []func(RunResult)
	if p.result.OverallRunning {
		res := p.result
		b.completed = &res
		listeners = b.listeners
		b.listeners = nil
	}
	b.mu.Unlock()
	close(p.done)

	for _, fn := range listeners {
		fn(p.result)
	}
	return p.result
}

func (b *Bootstrapper) run(ctx context.Context, cfg *tenant.Configuration) RunResult {
	start := time.Now()

	states := make(map[types.Component]State, len(types.Components))
	for _, c := range types.Components {
		states[c] = NotAttempted
	}

	type outcome struct {
		name  types.Component
		state State
	}
	var enabled []Component
	for _, c := range b.components {
		if c.Enabled(cfg) {
			enabled = append(enabled, c)
		}
	}
	outcomes := make([]outcome, len(enabled))

	var wg conc.WaitGroup
	for i, c := range enabled {
		i, c := i, c
		wg.Go(func() {
			outcomes[i] = outcome{name: c.Name(), state: b.setup(ctx, c, cfg)}
		})
	}
	wg.Wait()

	for _, o := range outcomes {
		states[o.name] = o.state
	}
	res := RunResult{States: states, OverallRunning: Overall(states), Config: cfg}

	attrs := []any{"overall_running", res.OverallRunning, "duration_ms", time.Since(start).Milliseconds()}
	for _, c := range types.Components {
		attrs = append(attrs, string(c), states[c].String())
	}
	b.logger.Info("bootstrap pass complete", attrs...)
	return res
}

// setup checks requirements and runs Configure, converting a panic into
// Failed.
func (b *Bootstrapper) setup(ctx context.Context, c Component, cfg *tenant.Configuration) State {
	log := b.logger.With("target", string(c.Name()))

	for _, req := range c.Requirements() {
		if !b.monitor.Available(ctx, req) {
			log.Warn("component requirement unavailable", "requirement", req.String(), "error", types.ErrRequirementUnavailable)
			return Failed
		}
	}

	var err error
	var catcher panics.Catcher
	catcher.Try(func() { err = c.Configure(ctx, cfg) })
	if r := catcher.Recovered(); r != nil {
		log.Error("component setup panicked", "panic", r.String())
		return Failed
	}
	if err != nil {
		log.Warn("component setup failed", "error", err)
		return Failed
	}
	log.Debug("component running")
	return Running
}
