// Package delivery routes prepared events to the tracking and realtime
// backends and keeps identity events durable across transport failures.
//
// Identity events (SetUserId, SetEmail) that fail to reach the realtime
// backend leave a retry flag behind. Every later delivery first replays the
// flagged identity events, rebuilt from current identity state, in the
// order SetUserId, SetEmail, then the triggering event.
package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/solatis/relaykit/internal/events"
	"github.com/solatis/relaykit/internal/tenant"
	"github.com/solatis/relaykit/internal/types"
)

// Backend sends one prepared event to a remote endpoint.
type Backend interface {
	Name() types.Component
	// Ready reports whether cfg carries the metadata Send needs.
	Ready(cfg *tenant.Configuration) bool
	Send(ctx context.Context, cfg *tenant.Configuration, def tenant.EventDefinition, ev events.Event) error
}

// Gate reports whether a component may receive events.
type Gate interface {
	IsRunning(c types.Component) bool
}

// GateFunc adapts a function to Gate.
type GateFunc func(types.Component) bool

func (f GateFunc) IsRunning(c types.Component) bool { return f(c) }

// RetryFlagStore persists one failure flag per identity kind.
type RetryFlagStore interface {
	Get(kind types.IdentityKind) (bool, error)
	Set(kind types.IdentityKind, failed bool) error
}

// Status is the result of routing an event to one backend.
type Status int

const (
	StatusSkipped Status = iota
	StatusDelivered
	StatusFailed
	StatusMalformed
)

func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusFailed:
		return "failed"
	case StatusMalformed:
		return "malformed"
	default:
		return "skipped"
	}
}

// Outcome describes what happened to one delivery.
type Outcome struct {
	Event    string
	Known    bool
	Err      error // validation or encoding failure, nil otherwise
	Backends map[types.Component]Status
	Replayed []types.IdentityKind
}

// Delivered reports whether any backend accepted the event.
func (o Outcome) Delivered() bool {
	for _, s := range o.Backends {
		if s == StatusDelivered {
			return true
		}
	}
	return false
}

// Options configures a Pipeline.
type Options struct {
	Tracking  Backend
	Realtime  Backend
	Gate      Gate
	Flags     RetryFlagStore
	Identity  IdentitySource
	Workers   int
	QueueSize int
	Logger    *slog.Logger
}

type job struct {
	cfg *tenant.Configuration
	ev  events.Event
}

// Pipeline prepares events and delivers them synchronously (DeliverNow)
// or through a bounded worker queue (Deliver).
type Pipeline struct {
	tracking Backend
	realtime Backend
	gate     Gate
	flags    RetryFlagStore
	ids      IdentitySource
	logger   *slog.Logger

	// locks serialize flag read, send and flag write per identity kind.
	locks map[types.IdentityKind]*sync.Mutex

	workers int
	queue   chan job
	mu      sync.RWMutex
	started bool
	closed  bool
	wg      conc.WaitGroup
}

// New creates a pipeline. Start must be called before queued deliveries
// are processed.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}

	locks := make(map[types.IdentityKind]*sync.Mutex, len(types.IdentityKinds))
	for _, k := range types.IdentityKinds {
		locks[k] = &sync.Mutex{}
	}

	return &Pipeline{
		tracking: opts.Tracking,
		realtime: opts.Realtime,
		gate:     opts.Gate,
		flags:    opts.Flags,
		ids:      opts.Identity,
		logger:   logger.With("component", "delivery"),
		locks:    locks,
		workers:  opts.Workers,
		queue:    make(chan job, opts.QueueSize),
	}
}

// prepare runs the pure stages: lookup, validation, normalization.
func (p *Pipeline) prepare(cfg *tenant.Configuration, ev events.Event) (tenant.EventDefinition, events.Event, error) {
	def, ok := cfg.Event(ev.Name())
	if !ok {
		return tenant.EventDefinition{}, events.Event{}, types.ErrUnknownEvent
	}
	if err := events.Validate(ev, def); err != nil {
		return def, events.Event{}, err
	}
	norm, err := events.Normalize(ev, def)
	if err != nil {
		return def, events.Event{}, err
	}
	return def, norm, nil
}

// DeliverNow prepares and sends ev using the pipeline's gate.
func (p *Pipeline) DeliverNow(ctx context.Context, cfg *tenant.Configuration, ev events.Event) Outcome {
	return p.DeliverNowGated(ctx, p.gate, cfg, ev)
}

// DeliverNowGated is DeliverNow with an explicit gate, for paths that run
// before the bootstrapper has published component states.
func (p *Pipeline) DeliverNowGated(ctx context.Context, gate Gate, cfg *tenant.Configuration, ev events.Event) Outcome {
	out := Outcome{Event: ev.Name(), Backends: map[types.Component]Status{}}

	def, norm, err := p.prepare(cfg, ev)
	if errors.Is(err, types.ErrUnknownEvent) {
		p.logger.Debug("unknown event dropped", "event", ev.Name())
		return out
	}
	out.Known = true
	if err != nil {
		p.logger.Warn("malformed event dropped", "event", ev.Name(), "error", err)
		out.Err = err
		return out
	}

	out.Replayed = p.replay(ctx, cfg, ev.Kind())

	if kind := norm.Kind(); kind != types.IdentityNone {
		mu := p.locks[kind]
		mu.Lock()
		defer mu.Unlock()
		p.route(ctx, gate, cfg, def, norm, &out)
		p.recordIdentity(kind, out.Backends[types.ComponentRealtime])
		return out
	}

	p.route(ctx, gate, cfg, def, norm, &out)
	return out
}

// precedes lists the identity kinds replayed before an event of kind.
func precedes(kind types.IdentityKind) []types.IdentityKind {
	switch kind {
	case types.IdentitySetUserID:
		return nil
	case types.IdentitySetEmail:
		return []types.IdentityKind{types.IdentitySetUserID}
	default:
		return []types.IdentityKind{types.IdentitySetUserID, types.IdentitySetEmail}
	}
}

func (p *Pipeline) replay(ctx context.Context, cfg *tenant.Configuration, kind types.IdentityKind) []types.IdentityKind {
	if p.flags == nil || p.ids == nil {
		return nil
	}
	var replayed []types.IdentityKind
	for _, k := range precedes(kind) {
		if p.replayKind(ctx, cfg, k) {
			replayed = append(replayed, k)
		}
	}
	return replayed
}

func (p *Pipeline) replayKind(ctx context.Context, cfg *tenant.Configuration, kind types.IdentityKind) bool {
	mu := p.locks[kind]
	mu.Lock()
	defer mu.Unlock()

	failed, err := p.flags.Get(kind)
	if err != nil {
		p.logger.Warn("retry flag unreadable", "kind", kind, "error", err)
		return false
	}
	if !failed {
		return false
	}

	ev, ok := p.ids.ReplayEvent(kind)
	if !ok {
		p.logger.Debug("identity replay skipped, no state", "kind", kind)
		return false
	}
	def, norm, err := p.prepare(cfg, ev)
	if err != nil {
		p.logger.Warn("identity replay not deliverable", "kind", kind, "error", err)
		return false
	}

	status := p.send(ctx, p.realtime, cfg, def, norm)
	p.recordIdentity(kind, status)
	return status == StatusDelivered
}

// route sends norm to every backend the definition and gate allow.
// Identity events reach realtime even when its gate is closed.
func (p *Pipeline) route(ctx context.Context, gate Gate, cfg *tenant.Configuration, def tenant.EventDefinition, norm events.Event, out *Outcome) {
	open := func(c types.Component) bool { return gate != nil && gate.IsRunning(c) }

	if def.SupportedOnTracking && open(types.ComponentTracking) {
		out.Backends[types.ComponentTracking] = p.send(ctx, p.tracking, cfg, def, norm)
	}
	if def.SupportedOnRealtime && (open(types.ComponentRealtime) || norm.Kind() != types.IdentityNone) {
		out.Backends[types.ComponentRealtime] = p.send(ctx, p.realtime, cfg, def, norm)
	}
	for c, s := range out.Backends {
		if s == StatusMalformed && out.Err == nil {
			out.Err = types.ErrMalformedEvent
			p.logger.Warn("event encoding failed", "event", norm.Name(), "backend", c)
		}
	}
}

func (p *Pipeline) send(ctx context.Context, b Backend, cfg *tenant.Configuration, def tenant.EventDefinition, ev events.Event) Status {
	if b == nil || !b.Ready(cfg) {
		return StatusSkipped
	}
	err := b.Send(ctx, cfg, def, ev)
	switch {
	case err == nil:
		p.logger.Debug("event delivered", "event", ev.Name(), "backend", b.Name())
		return StatusDelivered
	case IsTransport(err):
		p.logger.Warn("event delivery failed", "event", ev.Name(), "backend", b.Name(), "error", err)
		return StatusFailed
	default:
		p.logger.Warn("event dropped", "event", ev.Name(), "backend", b.Name(), "error", err)
		return StatusMalformed
	}
}

// recordIdentity updates the retry flag for kind from the realtime status.
// Skipped and malformed deliveries leave the flag untouched.
func (p *Pipeline) recordIdentity(kind types.IdentityKind, status Status) {
	if p.flags == nil {
		return
	}
	var failed bool
	switch status {
	case StatusDelivered:
		failed = false
	case StatusFailed:
		failed = true
	default:
		return
	}
	if err := p.flags.Set(kind, failed); err != nil {
		p.logger.Error("retry flag not persisted", "kind", kind, "failed", failed, "error", err)
	}
}
