package notification

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/solatis/relaykit/internal/clock"
	"github.com/solatis/relaykit/internal/core/delivery"
	"github.com/solatis/relaykit/internal/deeplink"
	"github.com/solatis/relaykit/internal/events"
	"github.com/solatis/relaykit/internal/tenant"
	"github.com/solatis/relaykit/internal/types"
)

// ConfigSource loads the tenant configuration for notification paths.
type ConfigSource interface {
	Load(ctx context.Context) (*tenant.Configuration, bool)
}

// ConfigSourceFunc adapts a function to ConfigSource.
type ConfigSourceFunc func(ctx context.Context) (*tenant.Configuration, bool)

func (f ConfigSourceFunc) Load(ctx context.Context) (*tenant.Configuration, bool) { return f(ctx) }

// Reporter delivers events synchronously with an explicit gate.
type Reporter interface {
	DeliverNowGated(ctx context.Context, gate delivery.Gate, cfg *tenant.Configuration, ev events.Event) delivery.Outcome
}

// State is the progress of one augmentation.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateAugmenting
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateAugmenting:
		return "augmenting"
	case StateCompleted:
		return "completed"
	default:
		return "idle"
	}
}

// trackingGate opens tracking only, and only when the tenant enables it.
func trackingGate(cfg *tenant.Configuration) delivery.Gate {
	return delivery.GateFunc(func(c types.Component) bool {
		return c == types.ComponentTracking && cfg.EnableTracking
	})
}

// AugmentorOptions configures an Augmentor.
type AugmentorOptions struct {
	Configs  ConfigSource
	Resolver deeplink.Resolver
	Reporter Reporter
	Clock    clock.Clock
	Platform string
	AppID    string
	// BranchTimeout bounds work that outlives the deadline.
	BranchTimeout time.Duration
	Logger        *slog.Logger
}

// Augmentor enriches displayed notifications with a resolved deep link and
// reports their delivery, completing exactly once by a deadline.
type Augmentor struct {
	opts   AugmentorOptions
	logger *slog.Logger
	last   atomic.Pointer[Task]
	wg     sync.WaitGroup
}

// NewAugmentor creates an augmentor.
func NewAugmentor(opts AugmentorOptions) *Augmentor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.BranchTimeout <= 0 {
		opts.BranchTimeout = 30 * time.Second
	}
	return &Augmentor{opts: opts, logger: logger.With("component", "notification")}
}

// Task tracks one notification being augmented.
type Task struct {
	state      atomic.Int32
	fired      atomic.Bool
	completion func(Content)
	done       chan struct{}

	mu      sync.Mutex
	content Content
	timer   *clock.Timer
}

// State returns the task's progress.
func (t *Task) State() State { return State(t.state.Load()) }

// Done is closed once the completion has been invoked.
func (t *Task) Done() <-chan struct{} { return t.done }

func (t *Task) advance(s State) {
	for {
		cur := t.state.Load()
		if State(cur) >= s {
			return
		}
		if t.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// setDynamicLink attaches link unless the task already completed.
func (t *Task) setDynamicLink(link string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired.Load() {
		return false
	}
	t.content.UserInfo[KeyDynamicLink] = link
	return true
}

// complete invokes the completion with a snapshot of the content. Only the
// first call has an effect.
func (t *Task) complete() bool {
	if !t.fired.CompareAndSwap(false, true) {
		return false
	}
	t.mu.Lock()
	snapshot := t.content.clone()
	timer := t.timer
	t.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	t.advance(StateCompleted)
	t.completion(snapshot)
	close(t.done)
	return true
}

// State returns the progress of the most recent notification.
func (a *Augmentor) State() State {
	if t := a.last.Load(); t != nil {
		return t.State()
	}
	return StateIdle
}

// Handle starts augmenting raw and returns true, or returns false without
// calling completion when raw is not ours.
func (a *Augmentor) Handle(raw map[string]any, deadline time.Duration, completion func(Content)) bool {
	_, ok := a.Start(raw, deadline, completion)
	return ok
}

// Start is Handle returning the task for observation.
func (a *Augmentor) Start(raw map[string]any, deadline time.Duration, completion func(Content)) (*Task, bool) {
	if !IsOurs(raw) {
		return nil, false
	}
	t := &Task{
		completion: completion,
		done:       make(chan struct{}),
		content:    MinimalContent(raw),
	}
	a.last.Store(t)

	timer := a.opts.Clock.AfterFunc(deadline, func() {
		if t.complete() {
			a.logger.Info("notification deadline reached", "state", t.State())
		}
	})
	t.mu.Lock()
	t.timer = timer
	t.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.run(t, raw)
	}()
	return t, true
}

// Wait blocks until every started task has finished its branches, including
// those that completed by deadline.
func (a *Augmentor) Wait() {
	a.wg.Wait()
}

func (a *Augmentor) run(t *Task, raw map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.BranchTimeout)
	defer cancel()

	t.advance(StateFetching)
	cfg, ok := a.opts.Configs.Load(ctx)
	if !ok {
		a.logger.Warn("configuration unavailable, notification not augmented")
		t.complete()
		return
	}

	t.advance(StateAugmenting)
	var wg conc.WaitGroup
	wg.Go(func() { a.augmentLink(ctx, t, raw) })
	wg.Go(func() { a.reportDelivered(ctx, cfg, raw) })
	if r := wg.WaitAndRecover(); r != nil {
		a.logger.Error("augmentation branch panicked", "panic", r.Value)
	}
	t.complete()
}

func (a *Augmentor) augmentLink(ctx context.Context, t *Task, raw map[string]any) {
	link, err := deeplink.Extract(raw[KeyDynamicLinks], a.opts.Platform, a.opts.AppID)
	if err != nil {
		a.logger.Debug("no deep link", "error", err)
		return
	}
	if a.opts.Resolver != nil {
		resolved, err := a.opts.Resolver.Resolve(ctx, link)
		if err != nil {
			a.logger.Warn("deep link not resolved", "error", err)
			return
		}
		link = resolved
	}
	link = deeplink.Personalize(link, deeplink.ParsePersonalization(raw[KeyPersonalization]))
	if !t.setDynamicLink(link) {
		a.logger.Debug("deep link resolved after completion, discarded")
	}
}

func (a *Augmentor) reportDelivered(ctx context.Context, cfg *tenant.Configuration, raw map[string]any) {
	campaign, err := CampaignFrom(raw)
	if err != nil {
		a.logger.Debug("delivery not reported", "error", err)
		return
	}
	if a.opts.Reporter == nil {
		return
	}
	ev := events.NotificationDelivered(a.opts.Clock.Now(), a.opts.AppID, campaign)
	out := a.opts.Reporter.DeliverNowGated(ctx, trackingGate(cfg), cfg, ev)
	a.logger.Debug("delivery reported", "delivered", out.Delivered())
}
