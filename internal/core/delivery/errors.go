package delivery

import (
	"errors"
	"fmt"

	"github.com/solatis/relaykit/internal/types"
)

// TransportError is a retryable delivery failure. StatusCode is set for
// non-2xx responses; Err carries connection errors, timeouts and failed
// identity store reads.
type TransportError struct {
	Backend    types.Component
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s transport: status %d", e.Backend, e.StatusCode)
	}
	return fmt.Sprintf("%s transport: %v", e.Backend, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrMalformedEvent, fmt.Sprintf(format, args...))
}

// identityUnavailable reports an unreadable identity store as retryable so
// identity events keep their retry flag.
func identityUnavailable(backend types.Component, err error) error {
	return &TransportError{Backend: backend, Err: fmt.Errorf("read identity: %w", err)}
}
