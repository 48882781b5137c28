// Package runtime assembles the SDK: configuration loading, component
// bootstrap, event delivery, identity, and notification handling over a
// durable local store.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/solatis/relaykit/internal/clock"
	"github.com/solatis/relaykit/internal/core/bootstrap"
	"github.com/solatis/relaykit/internal/core/config"
	"github.com/solatis/relaykit/internal/core/db"
	"github.com/solatis/relaykit/internal/core/delivery"
	"github.com/solatis/relaykit/internal/core/identity"
	"github.com/solatis/relaykit/internal/core/loader"
	"github.com/solatis/relaykit/internal/core/notification"
	"github.com/solatis/relaykit/internal/deeplink"
	"github.com/solatis/relaykit/internal/events"
	"github.com/solatis/relaykit/internal/tenant"
	"github.com/solatis/relaykit/internal/types"
)

// Options overrides collaborators. Zero values select the production
// implementation.
type Options struct {
	// DB is used as is and not closed by the runtime. When nil the runtime
	// opens and migrates cfg.DatabaseURL() and owns the handle.
	DB        *sqlx.DB
	Monitor   bootstrap.DeviceMonitor
	Resolver  deeplink.Resolver
	Registrar bootstrap.PushRegistrar
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Runtime is the SDK facade.
type Runtime struct {
	cfg    *config.RuntimeConfig
	clock  clock.Clock
	logger *slog.Logger

	db     *sqlx.DB
	ownsDB bool
	flags  *db.RetryFlags

	loader    *loader.Loader
	ids       *identity.Manager
	state     *bootstrap.RunState
	boot      *bootstrap.Bootstrapper
	push      *bootstrap.PushComponent
	pipeline  *delivery.Pipeline
	links     *deeplink.Broadcaster
	augmentor *notification.Augmentor
	commands  *notification.CommandHandler
	responses *notification.ResponseHandler

	current atomic.Pointer[tenant.Configuration]
	cancel  context.CancelFunc
	closed  atomic.Bool
}

// New builds a runtime and starts its delivery workers. Start must be called
// to load the tenant configuration and bring components up.
func New(cfg *config.RuntimeConfig, opts Options) (*Runtime, error) {
	if err := cfg.RequireTenant(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}

	r := &Runtime{cfg: cfg, clock: clk, logger: logger.With("component", "runtime")}

	r.db = opts.DB
	if r.db == nil {
		database, err := db.OpenAndMigrate(cfg.DatabaseURL())
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		r.db = database
		r.ownsDB = true
	}
	queries, err := db.LoadQueries(r.db)
	if err != nil {
		r.closeDB()
		return nil, fmt.Errorf("failed to load queries: %w", err)
	}
	r.flags = db.NewRetryFlags(queries)

	r.ids = identity.NewManager(db.NewSettings(queries), logger)
	visitor, err := r.ids.EnsureVisitor()
	if err != nil {
		r.closeDB()
		return nil, fmt.Errorf("failed to initialize visitor: %w", err)
	}

	client := &http.Client{Timeout: cfg.RequestTimeout}

	r.loader = loader.New(
		loader.NewHTTPFetcher(cfg.ConfigEndpoint, cfg.RequestTimeout, cfg.MaxConfigSize),
		loader.NewFileCache(cfg.ConfigCacheDir()),
		cfg.TenantToken, cfg.ConfigVersion, logger,
	)

	monitor := opts.Monitor
	if monitor == nil {
		probe, err := bootstrap.NewProbeMonitor(cfg.ConfigEndpoint, cfg.RequestTimeout, true)
		if err != nil {
			r.closeDB()
			return nil, fmt.Errorf("failed to create device monitor: %w", err)
		}
		monitor = probe
	}
	registrar := opts.Registrar
	if registrar == nil {
		registrar = bootstrap.NewHTTPRegistrar(r.ids, cfg.Platform, cfg.RequestTimeout)
	}

	r.state = bootstrap.NewRunState()
	r.push = bootstrap.NewPushComponent(r.ids, registrar, logger)
	r.boot = bootstrap.New([]bootstrap.Component{
		bootstrap.TrackingComponent{},
		bootstrap.NewRealtimeComponent(r.ids, clk),
		r.push,
	}, monitor, r.state, logger)

	r.pipeline = delivery.New(delivery.Options{
		Tracking: delivery.NewTrackingBackend(client, r.ids, delivery.DeviceInfo{
			Locale:    cfg.Locale,
			UserAgent: cfg.UserAgent,
		}, clk),
		Realtime:  delivery.NewRealtimeBackend(client, r.ids),
		Gate:      r.state,
		Flags:     r.flags,
		Identity:  r.ids,
		Workers:   cfg.DeliveryWorkers,
		QueueSize: cfg.DeliveryQueueSize,
		Logger:    logger,
	})

	resolver := opts.Resolver
	if resolver == nil {
		resolver = deeplink.NewHTTPResolver(cfg.RequestTimeout)
	}
	urgent := notification.ConfigSourceFunc(r.Urgent)

	r.links = deeplink.NewBroadcaster()
	r.augmentor = notification.NewAugmentor(notification.AugmentorOptions{
		Configs:       r.loader,
		Resolver:      resolver,
		Reporter:      r.pipeline,
		Clock:         clk,
		Platform:      cfg.Platform,
		AppID:         cfg.AppID,
		BranchTimeout: cfg.RequestTimeout,
		Logger:        logger,
	})
	r.commands = notification.NewCommandHandler(notification.CommandOptions{
		Configs:   urgent,
		Reporter:  r.pipeline,
		Registrar: r.push,
		Visitors:  r.ids,
		Clock:     clk,
		Platform:  cfg.Platform,
		AppID:     cfg.AppID,
		Logger:    logger,
	})
	r.responses = notification.NewResponseHandler(urgent, r.pipeline, r.links, clk, cfg.AppID, logger)

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.pipeline.Start(ctx)

	r.logger.Info("runtime created", "visitor_id", visitor, "app_id", cfg.AppID)
	return r, nil
}

// Start loads the tenant configuration, remote first then cached, and
// bootstraps the enabled components. Returns whether the SDK is running.
// Concurrent calls share one bootstrap pass; once running, later calls
// return true without fetching the configuration again.
func (r *Runtime) Start(ctx context.Context) bool {
	if r.state.OverallRunning() && r.current.Load() != nil {
		r.logger.Debug("already running, configuration not reloaded")
		return true
	}

	cfg, src := r.loader.LoadWithSource(ctx)
	if cfg == nil {
		r.logger.Warn("no tenant configuration available, runtime not started")
		return false
	}
	r.current.CompareAndSwap(nil, cfg)

	res := r.boot.Bootstrap(ctx, cfg)
	// Events route with the configuration the components were set up with.
	if res.Config != nil {
		r.current.Store(res.Config)
	}
	states := make([]any, 0, 2*len(res.States))
	for _, c := range types.Components {
		states = append(states, string(c), res.States[c].String())
	}
	r.logger.Info("runtime bootstrap finished",
		append([]any{"source", src.String(), "running", res.OverallRunning}, states...)...)
	return res.OverallRunning
}

// Urgent returns the active configuration, or the cached one without
// touching the network. Used on notification paths that cannot wait.
func (r *Runtime) Urgent(ctx context.Context) (*tenant.Configuration, bool) {
	if cfg := r.current.Load(); cfg != nil {
		return cfg, true
	}
	cfg, ok := r.loader.LoadLocal(ctx)
	if ok {
		r.current.CompareAndSwap(nil, cfg)
	}
	return cfg, ok
}

// ReportEvent queues a custom event. Returns false before a configuration
// is loaded.
func (r *Runtime) ReportEvent(name string, params map[string]any) bool {
	return r.report(events.Custom(name, params))
}

func (r *Runtime) report(ev events.Event) bool {
	cfg := r.current.Load()
	if cfg == nil {
		r.logger.Warn("event reported before start, dropped", "event", ev.Name())
		return false
	}
	r.pipeline.Deliver(cfg, ev)
	return true
}

// reportIdentity delivers an identity event, or marks it for replay when no
// configuration is loaded yet.
func (r *Runtime) reportIdentity(ev events.Event) {
	if r.current.Load() == nil {
		if err := r.flags.Set(ev.Kind(), true); err != nil {
			r.logger.Error("retry flag not persisted", "kind", ev.Kind(), "error", err)
		}
		return
	}
	r.report(ev)
}

// SetUserID links the visitor to a customer id. Returns false for rejected
// ids; an unchanged id is accepted without reporting.
func (r *Runtime) SetUserID(userID string) bool {
	ev, err := r.ids.SetUserID(userID)
	if errors.Is(err, types.ErrUnchanged) {
		return true
	}
	if err != nil {
		r.logger.Warn("user id rejected", "error", err)
		return false
	}
	r.reportIdentity(ev)
	return true
}

// SetUserEmail records the user's email.
func (r *Runtime) SetUserEmail(email string) bool {
	ev, err := r.ids.SetEmail(email)
	if errors.Is(err, types.ErrUnchanged) {
		return true
	}
	if err != nil {
		r.logger.Warn("email rejected", "error", err)
		return false
	}
	r.reportIdentity(ev)
	return true
}

// RegisterUser sets both the customer id and the email.
func (r *Runtime) RegisterUser(userID, email string) bool {
	okUser := r.SetUserID(userID)
	okEmail := r.SetUserEmail(email)
	return okUser && okEmail
}

// SetScreenVisit reports a screen view. Title and path are required.
func (r *Runtime) SetScreenVisit(title, path, category string) bool {
	customURL, ok := ScreenURL(r.cfg.AppID, title, path)
	if !ok {
		r.logger.Warn("screen visit needs a title and a path")
		return false
	}
	return r.report(events.PageVisit(customURL, normalizeTitle(title), category))
}

// SetPushToken registers token when push is running, otherwise parks it
// until push starts.
func (r *Runtime) SetPushToken(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	cfg := r.current.Load()
	if cfg != nil && r.state.IsRunning(types.ComponentPush) {
		err := r.push.RegisterToken(ctx, cfg, token)
		if err == nil {
			return true
		}
		r.logger.Warn("push token registration failed, parked", "error", err)
	}
	if err := r.ids.SetPendingPushToken(token); err != nil {
		r.logger.Error("failed to park push token", "error", err)
		return false
	}
	return true
}

// OnRunning registers fn to run once the SDK is running.
func (r *Runtime) OnRunning(fn func(bootstrap.RunResult)) {
	r.boot.OnRunning(fn)
}

// RegisterDeepLinkResponder registers fn for deep links from opened
// notifications. The latest link is replayed to late responders.
func (r *Runtime) RegisterDeepLinkResponder(fn deeplink.Responder) {
	r.links.Register(fn)
}

// HandleNotification augments a push payload within the configured deadline.
func (r *Runtime) HandleNotification(raw map[string]any, completion func(notification.Content)) bool {
	return r.augmentor.Handle(raw, r.cfg.NotificationDeadline, completion)
}

// HandleCommand answers a silent backend command within budget.
func (r *Runtime) HandleCommand(raw map[string]any, budget time.Duration, done func()) bool {
	return r.commands.Handle(raw, budget, done)
}

// HandleResponse reports the user's response to a notification.
func (r *Runtime) HandleResponse(ctx context.Context, userInfo map[string]any, action notification.Action) bool {
	return r.responses.Handle(ctx, userInfo, action)
}

// RunState exposes component states.
func (r *Runtime) RunState() *bootstrap.RunState { return r.state }

// Identity returns the stored identity.
func (r *Runtime) Identity() (identity.State, error) { return r.ids.State() }

// RetryFlags returns the pending identity replays.
func (r *Runtime) RetryFlags() (map[types.IdentityKind]bool, error) { return r.flags.All() }

// Close drains queued deliveries, waits for notification work and releases
// the store.
func (r *Runtime) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.pipeline.Close()
	r.augmentor.Wait()
	r.cancel()
	return r.closeDB()
}

func (r *Runtime) closeDB() error {
	if r.ownsDB && r.db != nil {
		return r.db.Close()
	}
	return nil
}
