package types

import "errors"

// Sentinel errors for relaykit operations.
var (
	// ErrConfigNotAvailable indicates neither remote nor cached configuration could be loaded.
	ErrConfigNotAvailable = errors.New("configuration not available")

	// ErrConfigNotCached indicates the local cache holds no document for the version.
	ErrConfigNotCached = errors.New("configuration not cached")

	// ErrMalformedConfig indicates a configuration document failed to parse or validate.
	ErrMalformedConfig = errors.New("malformed configuration document")

	// ErrUnknownEvent indicates the tenant configuration has no definition for an event.
	// Not a failure: tenants need not subscribe to every event.
	ErrUnknownEvent = errors.New("event unknown to tenant")

	// ErrMalformedEvent indicates an event could not be encoded for the wire.
	// Never retried.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrMissingParameter indicates a mandatory event parameter is absent.
	ErrMissingParameter = errors.New("mandatory parameter missing")

	// ErrTooManyParameters indicates an event exceeds MaxParameters.
	ErrTooManyParameters = errors.New("too many parameters")

	// ErrParameterTooLong indicates a string parameter exceeds MaxParameterValueLength.
	ErrParameterTooLong = errors.New("parameter value too long")

	// ErrCoercionFailed indicates a parameter value cannot take its declared type.
	ErrCoercionFailed = errors.New("type coercion failed")

	// ErrInvalidEventName indicates an empty or oversized event name.
	ErrInvalidEventName = errors.New("invalid event name")

	// ErrInvalidUserID indicates a user id rejected by identity rules.
	ErrInvalidUserID = errors.New("invalid user id")

	// ErrInvalidEmail indicates an email address failed validation.
	ErrInvalidEmail = errors.New("invalid email")

	// ErrUnchanged indicates an identity update that matches current state.
	ErrUnchanged = errors.New("identity unchanged")

	// ErrMalformedVisitorID indicates a visitor id that is not 16 hex chars.
	ErrMalformedVisitorID = errors.New("malformed visitor id")

	// ErrComponentMetadata indicates a component's endpoint metadata is missing or incomplete.
	ErrComponentMetadata = errors.New("component metadata missing")

	// ErrRequirementUnavailable indicates a device capability a component needs is missing.
	ErrRequirementUnavailable = errors.New("device requirement unavailable")

	// ErrNoDeepLink indicates a payload carries no deep link for this app.
	ErrNoDeepLink = errors.New("no deep link in payload")

	// ErrNoCampaign indicates a payload carries no complete campaign details.
	ErrNoCampaign = errors.New("no campaign details in payload")
)
