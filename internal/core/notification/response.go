package notification

import (
	"context"
	"io"
	"log/slog"

	"github.com/solatis/relaykit/internal/clock"
	"github.com/solatis/relaykit/internal/deeplink"
	"github.com/solatis/relaykit/internal/events"
)

// Action is the user's reaction to a displayed notification.
type Action string

const (
	ActionOpened    Action = "opened"
	ActionDismissed Action = "dismissed"
)

// ResponseHandler reports user responses and delegates opened deep links.
type ResponseHandler struct {
	configs     ConfigSource
	reporter    Reporter
	broadcaster *deeplink.Broadcaster
	clock       clock.Clock
	appID       string
	logger      *slog.Logger
}

// NewResponseHandler creates a response handler.
func NewResponseHandler(configs ConfigSource, reporter Reporter, broadcaster *deeplink.Broadcaster, clk clock.Clock, appID string, logger *slog.Logger) *ResponseHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &ResponseHandler{
		configs:     configs,
		reporter:    reporter,
		broadcaster: broadcaster,
		clock:       clk,
		appID:       appID,
		logger:      logger.With("component", "response"),
	}
}

// Handle reports action for the notification carrying userInfo. Returns
// false when the notification has no campaign or the action is unknown.
func (h *ResponseHandler) Handle(ctx context.Context, userInfo map[string]any, action Action) bool {
	campaign, err := CampaignFrom(userInfo)
	if err != nil {
		h.logger.Debug("response not reported", "error", err)
		return false
	}

	var ev events.Event
	switch action {
	case ActionOpened:
		ev = events.NotificationOpened(h.clock.Now(), h.appID, campaign)
	case ActionDismissed:
		ev = events.NotificationDismissed(h.clock.Now(), h.appID, campaign)
	default:
		h.logger.Debug("unhandled action", "action", action)
		return false
	}

	if cfg, ok := h.configs.Load(ctx); ok {
		out := h.reporter.DeliverNowGated(ctx, configGate(cfg), cfg, ev)
		h.logger.Info("notification response reported", "action", action, "delivered", out.Delivered())
	} else {
		h.logger.Warn("configuration unavailable, response not reported", "action", action)
	}

	if action == ActionOpened {
		h.delegateDeepLink(userInfo)
	}
	return true
}

func (h *ResponseHandler) delegateDeepLink(userInfo map[string]any) {
	link, ok := userInfo[KeyDynamicLink].(string)
	if !ok || link == "" || h.broadcaster == nil {
		return
	}
	c, err := deeplink.Parse(link)
	if err != nil {
		h.logger.Warn("deep link not parsed", "error", err)
		return
	}
	h.broadcaster.Publish(c)
}
