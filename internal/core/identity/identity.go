// Package identity maintains who the current device user is: the anonymous
// visitor id, the customer id once known, and the user's email.
package identity

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/solatis/relaykit/internal/events"
	"github.com/solatis/relaykit/internal/types"
)

// Store is the durable key/value backing for identity state.
type Store interface {
	Get(key string) (string, bool, error)
	Put(key, value string) error
}

// Storage keys.
const (
	KeyInitialVisitorID = "initial_visitor_id"
	KeyVisitorID        = "visitor_id"
	KeyCustomerID       = "customer_id"
	KeyEmail            = "email"
	KeyFirstVisit       = "first_visit"
	KeyPendingPushToken = "pending_push_token"
	KeyPushToken        = "push_token"
)

var emailPattern = regexp.MustCompile(`^[A-Z0-9a-z._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,64}$`)

// State is a snapshot of identity values. Empty strings mean unknown.
type State struct {
	InitialVisitorID string
	VisitorID        string
	CustomerID       string
	Email            string
	FirstVisit       time.Time
}

// Manager serializes identity reads and writes over a Store.
type Manager struct {
	mu     sync.Mutex
	store  Store
	logger *slog.Logger
}

// NewManager creates a Manager. A nil logger discards output.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{store: store, logger: logger.With("component", "identity")}
}

// EnsureVisitor returns the current visitor id, creating the anonymous one
// on first use. The first generated id also becomes the initial visitor id,
// which never changes afterwards.
func (m *Manager) EnsureVisitor() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	visitor, ok, err := m.store.Get(KeyVisitorID)
	if err != nil {
		return "", err
	}
	if ok && visitor != "" {
		return visitor, nil
	}

	visitor = types.NewVisitorID()
	if err := m.store.Put(KeyInitialVisitorID, visitor); err != nil {
		return "", err
	}
	if err := m.store.Put(KeyVisitorID, visitor); err != nil {
		return "", err
	}
	m.logger.Debug("visitor created", "visitor_id", visitor)
	return visitor, nil
}

// State returns the current identity snapshot.
func (m *Manager) State() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() (State, error) {
	var s State
	for _, f := range []struct {
		key string
		dst *string
	}{
		{KeyInitialVisitorID, &s.InitialVisitorID},
		{KeyVisitorID, &s.VisitorID},
		{KeyCustomerID, &s.CustomerID},
		{KeyEmail, &s.Email},
	} {
		v, _, err := m.store.Get(f.key)
		if err != nil {
			return State{}, err
		}
		*f.dst = v
	}

	raw, ok, err := m.store.Get(KeyFirstVisit)
	if err != nil {
		return State{}, err
	}
	if ok {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
			s.FirstVisit = time.Unix(secs, 0)
		}
	}
	return s, nil
}

// ValidUserID applies the user id acceptance rules to a trimmed id.
func ValidUserID(userID string) bool {
	lower := strings.ToLower(userID)
	switch {
	case userID == "":
		return false
	case lower == "none", lower == "null":
		return false
	case strings.Contains(lower, "undefine"):
		return false
	}
	return true
}

// ValidEmail reports whether email is an acceptable address.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// VisitorFromUserID derives the visitor id a known customer is tracked under:
// the first 16 hex chars of the blake3 digest of the user id.
func VisitorFromUserID(userID string) string {
	sum := blake3.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])[:types.VisitorIDLength]
}

// SetUserID records a customer id and returns the event announcing it.
// Returns ErrInvalidUserID for rejected ids and ErrUnchanged when the id
// matches the current one.
func (m *Manager) SetUserID(raw string) (events.Event, error) {
	userID := strings.TrimSpace(raw)
	if !ValidUserID(userID) {
		return events.Event{}, fmt.Errorf("%w: %q", types.ErrInvalidUserID, raw)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, _, err := m.store.Get(KeyCustomerID)
	if err != nil {
		return events.Event{}, err
	}
	if current == userID {
		return events.Event{}, types.ErrUnchanged
	}

	initial, _, err := m.store.Get(KeyInitialVisitorID)
	if err != nil {
		return events.Event{}, err
	}
	if initial == "" {
		initial = types.NewVisitorID()
		if err := m.store.Put(KeyInitialVisitorID, initial); err != nil {
			return events.Event{}, err
		}
	}

	visitor := VisitorFromUserID(userID)
	if err := m.store.Put(KeyCustomerID, userID); err != nil {
		return events.Event{}, err
	}
	if err := m.store.Put(KeyVisitorID, visitor); err != nil {
		return events.Event{}, err
	}
	m.logger.Info("customer id set", "visitor_id", visitor)
	return events.SetUserID(initial, userID, visitor), nil
}

// SetEmail records an email and returns the event announcing it.
func (m *Manager) SetEmail(raw string) (events.Event, error) {
	email := strings.TrimSpace(raw)
	if !ValidEmail(email) {
		return events.Event{}, fmt.Errorf("%w: %q", types.ErrInvalidEmail, raw)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, _, err := m.store.Get(KeyEmail)
	if err != nil {
		return events.Event{}, err
	}
	if strings.EqualFold(current, email) {
		return events.Event{}, types.ErrUnchanged
	}
	if err := m.store.Put(KeyEmail, email); err != nil {
		return events.Event{}, err
	}
	return events.SetEmail(email), nil
}

// ReplayEvent rebuilds the identity event of kind from current state so a
// previously failed delivery can be reissued. Returns false when the state
// needed for the event was never recorded.
func (m *Manager) ReplayEvent(kind types.IdentityKind) (events.Event, bool) {
	s, err := m.State()
	if err != nil {
		m.logger.Warn("identity state unreadable", "error", err)
		return events.Event{}, false
	}
	switch kind {
	case types.IdentitySetUserID:
		if s.CustomerID == "" {
			return events.Event{}, false
		}
		return events.SetUserID(s.InitialVisitorID, s.CustomerID, s.VisitorID), true
	case types.IdentitySetEmail:
		if s.Email == "" {
			return events.Event{}, false
		}
		return events.SetEmail(s.Email), true
	default:
		return events.Event{}, false
	}
}

// MarkFirstVisit records now as the first visit unless one is recorded.
func (m *Manager) MarkFirstVisit(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok, err := m.store.Get(KeyFirstVisit)
	if err != nil || ok {
		return err
	}
	return m.store.Put(KeyFirstVisit, strconv.FormatInt(now.Unix(), 10))
}

// SetPendingPushToken parks a push token received before push is running.
func (m *Manager) SetPendingPushToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Put(KeyPendingPushToken, token)
}

// TakePendingPushToken returns and clears the parked push token.
func (m *Manager) TakePendingPushToken() (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok, err := m.store.Get(KeyPendingPushToken)
	if err != nil || !ok || token == "" {
		return "", false, err
	}
	if err := m.store.Put(KeyPendingPushToken, ""); err != nil {
		return "", false, err
	}
	return token, true, nil
}

// RecordPushToken stores the token last registered with the backend.
func (m *Manager) RecordPushToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Put(KeyPushToken, token)
}

// PushToken returns the token last registered with the backend.
func (m *Manager) PushToken() (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok, err := m.store.Get(KeyPushToken)
	return token, ok && token != "", err
}
