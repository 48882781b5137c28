package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/solatis/relaykit/internal/core/identity"
	"github.com/solatis/relaykit/internal/tenant"
)

// StaticMonitor reports fixed capabilities.
type StaticMonitor struct {
	Internet      bool
	Notifications bool
}

// Available implements DeviceMonitor.
func (m StaticMonitor) Available(_ context.Context, req Requirement) bool {
	switch req {
	case RequirementInternet:
		return m.Internet
	case RequirementNotifications:
		return m.Notifications
	default:
		return false
	}
}

// ProbeMonitor checks internet reachability by dialing a probe host.
// Notification permission is host-granted and passed in.
type ProbeMonitor struct {
	ProbeAddr     string // host:port
	Timeout       time.Duration
	Notifications bool
}

// NewProbeMonitor derives the probe address from an http(s) endpoint.
func NewProbeMonitor(endpoint string, timeout time.Duration, notifications bool) (*ProbeMonitor, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid probe endpoint %q", endpoint)
	}
	addr := u.Host
	if u.Port() == "" {
		port := "443"
		if u.Scheme == "http" {
			port = "80"
		}
		addr = net.JoinHostPort(u.Hostname(), port)
	}
	return &ProbeMonitor{ProbeAddr: addr, Timeout: timeout, Notifications: notifications}, nil
}

// Available implements DeviceMonitor.
func (m *ProbeMonitor) Available(ctx context.Context, req Requirement) bool {
	switch req {
	case RequirementInternet:
		d := net.Dialer{Timeout: m.Timeout}
		conn, err := d.DialContext(ctx, "tcp", m.ProbeAddr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	case RequirementNotifications:
		return m.Notifications
	default:
		return false
	}
}

// HTTPRegistrar posts push tokens to {registrationEndpoint}register.
type HTTPRegistrar struct {
	client   *http.Client
	identity *identity.Manager
	platform string
}

// NewHTTPRegistrar creates a registrar that identifies the device through ids.
func NewHTTPRegistrar(ids *identity.Manager, platform string, timeout time.Duration) *HTTPRegistrar {
	return &HTTPRegistrar{client: &http.Client{Timeout: timeout}, identity: ids, platform: platform}
}

type registration struct {
	AppID      string `json:"app_ns"`
	Platform   string `json:"os"`
	Token      string `json:"token"`
	VisitorID  string `json:"visitor_id"`
	CustomerID string `json:"customer_id,omitempty"`
}

// Register implements PushRegistrar.
func (r *HTTPRegistrar) Register(ctx context.Context, meta tenant.PushMetadata, token string) error {
	s, err := r.identity.State()
	if err != nil {
		return fmt.Errorf("read identity: %w", err)
	}
	body, err := json.Marshal(registration{
		AppID:      meta.AppID,
		Platform:   r.platform,
		Token:      token,
		VisitorID:  s.VisitorID,
		CustomerID: s.CustomerID,
	})
	if err != nil {
		return fmt.Errorf("encode registration: %w", err)
	}

	endpoint := meta.RegistrationEndpoint
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"register", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("register push token: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("register push token: status %d", resp.StatusCode)
	}
	return nil
}
