package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/solatis/relaykit/internal/events"
	"github.com/solatis/relaykit/internal/tenant"
	"github.com/solatis/relaykit/internal/types"
)

// RealtimeBackend posts events to {gateway}reportEvent.
type RealtimeBackend struct {
	client *http.Client
	ids    IdentitySource
}

// NewRealtimeBackend creates a realtime backend.
func NewRealtimeBackend(client *http.Client, ids IdentitySource) *RealtimeBackend {
	return &RealtimeBackend{client: client, ids: ids}
}

// realtimeEvent is the reportEvent request body.
type realtimeEvent struct {
	TID       string            `json:"tid"`
	CID       *string           `json:"cid,omitempty"`
	VisitorID string            `json:"visitorId"`
	EID       string            `json:"eid"`
	Context   map[string]string `json:"context"`
}

// Name implements Backend.
func (*RealtimeBackend) Name() types.Component { return types.ComponentRealtime }

// Ready implements Backend.
func (*RealtimeBackend) Ready(cfg *tenant.Configuration) bool {
	return cfg != nil && cfg.Realtime != nil && cfg.Realtime.Gateway != "" && cfg.Realtime.Token != ""
}

// Encode builds the request body. SetUserId events are attributed to the
// initial visitor id so the backend can merge the anonymous history.
func (b *RealtimeBackend) Encode(cfg *tenant.Configuration, def tenant.EventDefinition, ev events.Event) ([]byte, error) {
	if !b.Ready(cfg) {
		return nil, fmt.Errorf("%w: realtime", types.ErrComponentMetadata)
	}
	state, err := b.ids.State()
	if err != nil {
		return nil, identityUnavailable(types.ComponentRealtime, err)
	}

	body := realtimeEvent{
		TID:       cfg.Realtime.Token,
		VisitorID: state.VisitorID,
		EID:       strconv.Itoa(def.ID),
		Context:   make(map[string]string, ev.Len()),
	}
	if state.CustomerID != "" {
		cid := state.CustomerID
		body.CID = &cid
	}
	if ev.Kind() == types.IdentitySetUserID {
		body.VisitorID = state.InitialVisitorID
	}
	for name, v := range ev.Parameters() {
		s, err := events.Coerce(v, tenant.ParameterString)
		if err != nil {
			return nil, malformed("parameter %s: %v", name, err)
		}
		str, _ := s.Value.(string)
		body.Context[name] = strings.TrimSpace(str)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, malformed("encode realtime event: %v", err)
	}
	return data, nil
}

// Send implements Backend.
func (b *RealtimeBackend) Send(ctx context.Context, cfg *tenant.Configuration, def tenant.EventDefinition, ev events.Event) error {
	data, err := b.Encode(cfg, def, ev)
	if err != nil {
		return err
	}

	gateway := cfg.Realtime.Gateway
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gateway+"reportEvent", bytes.NewReader(data))
	if err != nil {
		return malformed("build realtime request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return &TransportError{Backend: types.ComponentRealtime, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TransportError{Backend: types.ComponentRealtime, StatusCode: resp.StatusCode}
	}
	return nil
}
