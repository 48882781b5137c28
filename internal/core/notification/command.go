package notification

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/solatis/relaykit/internal/clock"
	"github.com/solatis/relaykit/internal/core/delivery"
	"github.com/solatis/relaykit/internal/core/identity"
	"github.com/solatis/relaykit/internal/events"
	"github.com/solatis/relaykit/internal/tenant"
	"github.com/solatis/relaykit/internal/types"
)

// Command is a silent backend instruction carried in a push payload.
type Command string

const (
	CommandPing       Command = "ping"
	CommandReregister Command = "reregister"
)

// Windows granted to each command before done fires.
const (
	PingWindow       = 3 * time.Second
	ReregisterWindow = 2 * time.Second
)

// Reregisterer re-runs push registration.
type Reregisterer interface {
	Reregister(ctx context.Context, cfg *tenant.Configuration) error
}

// VisitorSource supplies the device's identity.
type VisitorSource interface {
	State() (identity.State, error)
}

// CommandOptions configures a CommandHandler.
type CommandOptions struct {
	Configs   ConfigSource
	Reporter  Reporter
	Registrar Reregisterer
	Visitors  VisitorSource
	Clock     clock.Clock
	Platform  string
	AppID     string
	Logger    *slog.Logger
}

// CommandHandler answers is_optimove_sdk_command payloads.
type CommandHandler struct {
	opts   CommandOptions
	logger *slog.Logger
}

// NewCommandHandler creates a command handler.
func NewCommandHandler(opts CommandOptions) *CommandHandler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &CommandHandler{opts: opts, logger: logger.With("component", "command")}
}

// Handle runs the command in raw and calls done once, after
// min(budget, command window). Returns false when raw is not a command.
func (h *CommandHandler) Handle(raw map[string]any, budget time.Duration, done func()) bool {
	if !IsCommand(raw) {
		return false
	}

	cmd := Command(stringValue(raw, KeyCommand))
	var window time.Duration
	switch cmd {
	case CommandPing:
		window = PingWindow
	case CommandReregister:
		window = ReregisterWindow
	default:
		h.logger.Warn("unknown command", "command", cmd)
		done()
		return true
	}

	h.opts.Clock.AfterFunc(min(budget, window), done)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), window)
		defer cancel()
		if err := h.run(ctx, cmd); err != nil {
			h.logger.Warn("command failed", "command", cmd, "error", err)
		}
	}()
	return true
}

func (h *CommandHandler) run(ctx context.Context, cmd Command) error {
	cfg, ok := h.opts.Configs.Load(ctx)
	if !ok {
		return types.ErrConfigNotAvailable
	}

	switch cmd {
	case CommandPing:
		deviceID := ""
		if h.opts.Visitors != nil {
			s, err := h.opts.Visitors.State()
			if err != nil {
				return err
			}
			deviceID = s.VisitorID
		}
		ev := events.Ping(h.opts.Clock.Now(), h.opts.Platform, h.opts.AppID, deviceID)
		out := h.opts.Reporter.DeliverNowGated(ctx, configGate(cfg), cfg, ev)
		h.logger.Info("ping answered", "delivered", out.Delivered())
	case CommandReregister:
		if err := h.opts.Registrar.Reregister(ctx, cfg); err != nil {
			return err
		}
		h.logger.Info("push registration renewed")
	}
	return nil
}

// configGate opens each component the tenant enables.
func configGate(cfg *tenant.Configuration) delivery.Gate {
	return delivery.GateFunc(func(c types.Component) bool {
		switch c {
		case types.ComponentTracking:
			return cfg.EnableTracking
		case types.ComponentRealtime:
			return cfg.EnableRealtime
		default:
			return false
		}
	})
}
