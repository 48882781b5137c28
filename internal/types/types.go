// Package types provides identifiers, limits, and sentinel errors shared
// across relaykit components.
//
// Zero-dependency design: types.go and errors.go use only the standard
// library so domain packages (tenant, events, deeplink) can import them
// without pulling in storage or transport code. ID helpers in ids.go import
// uuid and are isolated in their own file.
package types

// Component names an independently enabled delivery subsystem.
// String alias keeps log output and health service names readable.
type Component string

const (
	ComponentPush     Component = "push"
	ComponentTracking Component = "tracking"
	ComponentRealtime Component = "realtime"
)

// Components lists every known component in a stable order.
// Order is for deterministic logging only; bootstrap does not depend on it.
var Components = []Component{ComponentPush, ComponentTracking, ComponentRealtime}

// IdentityKind names an identity-critical event whose delivery failure is
// remembered durably and replayed before later events.
type IdentityKind string

const (
	IdentityNone      IdentityKind = ""
	IdentitySetUserID IdentityKind = "set_user_id"
	IdentitySetEmail  IdentityKind = "set_email"
)

// IdentityKinds lists identity kinds in replay order: a failed set_user_id
// is always reissued before a failed set_email.
var IdentityKinds = []IdentityKind{IdentitySetUserID, IdentitySetEmail}

// Parameters holds event parameters keyed by parameter name.
// Values are JSON-compatible scalars (string, float64, int, int64, bool).
type Parameters map[string]any

// Resource limits enforced on outbound events and inbound documents.
const (
	// MaxParameters caps the parameter count of a single event.
	// Tracking dimensions are a fixed tenant-side resource; 50 leaves headroom.
	MaxParameters = 50

	// MaxParameterValueLength caps string parameter values after normalization.
	// Tracking dimensions are stored as 255-char columns server-side.
	MaxParameterValueLength = 255

	// MaxEventNameLength caps event names.
	MaxEventNameLength = 255

	// MaxConfigSize bounds configuration document reads (remote and cached).
	// Tenant documents are a few hundred KB at most.
	MaxConfigSize = 4 << 20

	// VisitorIDLength is the hex length of visitor identifiers.
	// The tracking plugin-flag transform consumes exactly 8 two-char groups.
	VisitorIDLength = 16
)
