package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeliveryID identifies a single delivery attempt in logs.
// UUIDv7 keeps attempts time-ordered when logs are merged across workers.
type DeliveryID string

// NewDeliveryID generates a UUIDv7 delivery identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewDeliveryID() DeliveryID {
	return DeliveryID(uuid.Must(uuid.NewV7()).String())
}

// DeliveryIDTime extracts the timestamp embedded in a UUIDv7 delivery ID.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func DeliveryIDTime(id DeliveryID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}

// NewVisitorID generates a fresh anonymous visitor identifier: the first 16
// hex chars of a random (v4) UUID, lower case. Random rather than v7 because
// the tracking plugin flags are derived from these bytes and must not
// collapse to a timestamp prefix.
func NewVisitorID() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return strings.ToLower(id[:VisitorIDLength])
}

// IsVisitorID reports whether s is a well-formed visitor identifier.
func IsVisitorID(s string) bool {
	if len(s) != VisitorIDLength {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
