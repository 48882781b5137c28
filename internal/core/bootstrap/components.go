package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/solatis/relaykit/internal/clock"
	"github.com/solatis/relaykit/internal/core/identity"
	"github.com/solatis/relaykit/internal/tenant"
	"github.com/solatis/relaykit/internal/types"
)

// TrackingComponent is the analytics backend client.
type TrackingComponent struct{}

func (TrackingComponent) Name() types.Component { return types.ComponentTracking }

func (TrackingComponent) Enabled(cfg *tenant.Configuration) bool {
	return cfg != nil && cfg.EnableTracking
}

func (TrackingComponent) Requirements() []Requirement {
	return []Requirement{RequirementInternet}
}

// Configure checks the tracking metadata is complete enough to build requests.
func (TrackingComponent) Configure(_ context.Context, cfg *tenant.Configuration) error {
	m := cfg.Tracking
	if m == nil || m.Endpoint == "" {
		return fmt.Errorf("%w: tracking endpoint", types.ErrComponentMetadata)
	}
	if m.EventCategoryName == "" {
		return fmt.Errorf("%w: tracking event category", types.ErrComponentMetadata)
	}
	if m.EventIDDimension <= 0 || m.EventNameDimension <= 0 {
		return fmt.Errorf("%w: tracking event dimensions", types.ErrComponentMetadata)
	}
	return nil
}

// RealtimeComponent is the realtime backend client.
type RealtimeComponent struct {
	identity *identity.Manager
	clock    clock.Clock
}

// NewRealtimeComponent creates the realtime component.
func NewRealtimeComponent(ids *identity.Manager, clk clock.Clock) *RealtimeComponent {
	return &RealtimeComponent{identity: ids, clock: clk}
}

func (*RealtimeComponent) Name() types.Component { return types.ComponentRealtime }

func (*RealtimeComponent) Enabled(cfg *tenant.Configuration) bool {
	return cfg != nil && cfg.EnableRealtime
}

func (*RealtimeComponent) Requirements() []Requirement {
	return []Requirement{RequirementInternet}
}

// Configure checks gateway and token, then records the first visit time.
func (c *RealtimeComponent) Configure(_ context.Context, cfg *tenant.Configuration) error {
	m := cfg.Realtime
	if m == nil || m.Gateway == "" || m.Token == "" {
		return fmt.Errorf("%w: realtime gateway/token", types.ErrComponentMetadata)
	}
	if err := c.identity.MarkFirstVisit(c.clock.Now()); err != nil {
		return fmt.Errorf("record first visit: %w", err)
	}
	return nil
}

// PushRegistrar registers a device push token with the push backend.
type PushRegistrar interface {
	Register(ctx context.Context, meta tenant.PushMetadata, token string) error
}

// PushComponent manages push token registration.
type PushComponent struct {
	identity  *identity.Manager
	registrar PushRegistrar
	logger    *slog.Logger
}

// NewPushComponent creates the push component. A nil logger discards output.
func NewPushComponent(ids *identity.Manager, registrar PushRegistrar, logger *slog.Logger) *PushComponent {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &PushComponent{identity: ids, registrar: registrar, logger: logger.With("component", "push")}
}

func (*PushComponent) Name() types.Component { return types.ComponentPush }

func (*PushComponent) Enabled(cfg *tenant.Configuration) bool {
	return cfg != nil && cfg.EnablePush
}

func (*PushComponent) Requirements() []Requirement {
	return []Requirement{RequirementNotifications, RequirementInternet}
}

// Configure checks push metadata and flushes a token that arrived before
// push was running. A failed flush re-parks the token for the next start
// and does not fail the component.
func (c *PushComponent) Configure(ctx context.Context, cfg *tenant.Configuration) error {
	m := cfg.Push
	if m == nil || m.RegistrationEndpoint == "" || m.AppID == "" {
		return fmt.Errorf("%w: push registration endpoint/app id", types.ErrComponentMetadata)
	}

	token, ok, err := c.identity.TakePendingPushToken()
	if err != nil {
		return fmt.Errorf("read pending push token: %w", err)
	}
	if !ok {
		return nil
	}
	if err := c.register(ctx, *m, token); err != nil {
		c.logger.Warn("pending push token registration failed", "error", err)
		if perr := c.identity.SetPendingPushToken(token); perr != nil {
			c.logger.Error("failed to re-park push token", "error", perr)
		}
	}
	return nil
}

// Reregister sends the last registered token again, used when the backend
// asks the device to re-register.
func (c *PushComponent) Reregister(ctx context.Context, cfg *tenant.Configuration) error {
	if cfg == nil || cfg.Push == nil {
		return fmt.Errorf("%w: push", types.ErrComponentMetadata)
	}
	token, ok, err := c.identity.PushToken()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no push token recorded")
	}
	return c.register(ctx, *cfg.Push, token)
}

// RegisterToken registers a freshly issued token.
func (c *PushComponent) RegisterToken(ctx context.Context, cfg *tenant.Configuration, token string) error {
	if cfg == nil || cfg.Push == nil {
		return fmt.Errorf("%w: push", types.ErrComponentMetadata)
	}
	return c.register(ctx, *cfg.Push, token)
}

func (c *PushComponent) register(ctx context.Context, meta tenant.PushMetadata, token string) error {
	if err := c.registrar.Register(ctx, meta, token); err != nil {
		return err
	}
	if err := c.identity.RecordPushToken(token); err != nil {
		return fmt.Errorf("record push token: %w", err)
	}
	c.logger.Info("push token registered")
	return nil
}
