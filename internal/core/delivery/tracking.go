package delivery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/solatis/relaykit/internal/clock"
	"github.com/solatis/relaykit/internal/core/identity"
	"github.com/solatis/relaykit/internal/events"
	"github.com/solatis/relaykit/internal/tenant"
	"github.com/solatis/relaykit/internal/types"
)

// pluginFlagNames are filled from the initial visitor id, one hex byte each.
var pluginFlagNames = []string{"fla", "java", "dir", "qt", "realp", "pdf", "wma", "gears"}

// PluginFlags derives the tracking plugin flags from a visitor id: the id
// is split into 2-char hex groups and each group's value is halved.
func PluginFlags(visitorID string) (map[string]string, error) {
	if len(visitorID) < 2*len(pluginFlagNames) {
		return nil, fmt.Errorf("%w: %q", types.ErrMalformedVisitorID, visitorID)
	}
	flags := make(map[string]string, len(pluginFlagNames))
	for i, name := range pluginFlagNames {
		n, err := strconv.ParseUint(visitorID[2*i:2*i+2], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", types.ErrMalformedVisitorID, visitorID)
		}
		flags[name] = strconv.FormatUint(n/2, 10)
	}
	return flags, nil
}

// DeviceInfo is the session context sent with tracking requests.
type DeviceInfo struct {
	Locale     string
	UserAgent  string
	Resolution string // "WxH", omitted when empty
}

// IdentitySource supplies the identity values deliveries carry.
type IdentitySource interface {
	State() (identity.State, error)
	ReplayEvent(kind types.IdentityKind) (events.Event, bool)
}

// TrackingBackend sends events as tracking GET requests.
type TrackingBackend struct {
	client *http.Client
	ids    IdentitySource
	device DeviceInfo
	clock  clock.Clock
}

// NewTrackingBackend creates a tracking backend.
func NewTrackingBackend(client *http.Client, ids IdentitySource, device DeviceInfo, clk clock.Clock) *TrackingBackend {
	return &TrackingBackend{client: client, ids: ids, device: device, clock: clk}
}

// Name implements Backend.
func (*TrackingBackend) Name() types.Component { return types.ComponentTracking }

// Ready implements Backend.
func (*TrackingBackend) Ready(cfg *tenant.Configuration) bool {
	return cfg != nil && cfg.Tracking != nil && cfg.Tracking.Endpoint != ""
}

// Send implements Backend.
func (b *TrackingBackend) Send(ctx context.Context, cfg *tenant.Configuration, def tenant.EventDefinition, ev events.Event) error {
	target, err := b.BuildURL(cfg, def, ev)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return malformed("build tracking request: %v", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return &TransportError{Backend: types.ComponentTracking, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TransportError{Backend: types.ComponentTracking, StatusCode: resp.StatusCode}
	}
	return nil
}

// BuildURL renders the tracking request for ev.
func (b *TrackingBackend) BuildURL(cfg *tenant.Configuration, def tenant.EventDefinition, ev events.Event) (string, error) {
	meta := cfg.Tracking
	if meta == nil || meta.Endpoint == "" {
		return "", fmt.Errorf("%w: tracking", types.ErrComponentMetadata)
	}
	state, err := b.ids.State()
	if err != nil {
		return "", identityUnavailable(types.ComponentTracking, err)
	}
	flags, err := PluginFlags(state.InitialVisitorID)
	if err != nil {
		return "", malformed("plugin flags: %v", err)
	}

	u, err := url.Parse(meta.Endpoint)
	if err != nil {
		return "", malformed("tracking endpoint: %v", err)
	}

	now := b.clock.Now()
	q := u.Query()
	q.Set("idsite", strconv.Itoa(meta.SiteID))
	q.Set("rec", "1")
	q.Set("api", "1")
	q.Set("_id", state.VisitorID)
	if state.CustomerID != "" {
		q.Set("uid", state.CustomerID)
	}
	q.Set("lang", b.device.Locale)
	q.Set("ua", b.device.UserAgent)
	q.Set("h", strconv.Itoa(now.Hour()))
	q.Set("m", strconv.Itoa(now.Minute()))
	q.Set("s", strconv.Itoa(now.Second()))
	if b.device.Resolution != "" {
		q.Set("res", b.device.Resolution)
	}
	q.Set("e_c", meta.EventCategoryName)
	q.Set("e_a", ev.Name())
	q.Set(dimension(meta.EventIDDimension), strconv.Itoa(def.ID))
	q.Set(dimension(meta.EventNameDimension), ev.Name())

	names := make([]string, 0, len(def.Parameters))
	for name := range def.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dim := def.Parameters[name].DimensionID
		v, ok := ev.Param(name)
		if !ok || dim <= 0 {
			continue
		}
		s, err := events.Coerce(v, tenant.ParameterString)
		if err != nil {
			return "", malformed("parameter %s: %v", name, err)
		}
		str, _ := s.Value.(string)
		q.Set(dimension(dim), str)
	}
	for name, v := range flags {
		q.Set(name, v)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func dimension(id int) string {
	return "dimension" + strconv.Itoa(id)
}
