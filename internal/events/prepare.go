package events

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/solatis/relaykit/internal/tenant"
	"github.com/solatis/relaykit/internal/types"
)

// Validate checks an event against its definition without modifying it:
// name and size limits, mandatory parameters present, every declared
// parameter coercible to its type.
func Validate(ev Event, def tenant.EventDefinition) error {
	if ev.name == "" || len(ev.name) > types.MaxEventNameLength {
		return fmt.Errorf("%w: %q", types.ErrInvalidEventName, ev.name)
	}
	if len(ev.params) > types.MaxParameters {
		return fmt.Errorf("%w: %d > %d", types.ErrTooManyParameters, len(ev.params), types.MaxParameters)
	}

	for name, pdef := range def.Parameters {
		raw, ok := ev.params[name]
		res, err := Coerce(raw, pdef.Type)
		if err != nil {
			return fmt.Errorf("parameter %s: %w", name, err)
		}
		if !ok || res.IsNull || isBlank(res.Value) {
			if pdef.Optional {
				continue
			}
			return fmt.Errorf("%w: %s", types.ErrMissingParameter, name)
		}
		if s, isString := res.Value.(string); isString {
			if utf8.RuneCountInString(strings.TrimSpace(s)) > types.MaxParameterValueLength {
				return fmt.Errorf("%w: %s", types.ErrParameterTooLong, name)
			}
		}
	}
	return nil
}

// Normalize returns a new event carrying only the declared parameters,
// each coerced to its declared type. Strings are trimmed and put into
// Unicode NFC so visually equal values compare equal downstream.
// Callers run Validate first; Normalize still fails on uncoercible input.
func Normalize(ev Event, def tenant.EventDefinition) (Event, error) {
	out := Event{name: ev.name, kind: ev.kind, params: make(types.Parameters, len(def.Parameters))}

	for name, pdef := range def.Parameters {
		raw, ok := ev.params[name]
		if !ok {
			continue
		}
		res, err := Coerce(raw, pdef.Type)
		if err != nil {
			return Event{}, fmt.Errorf("parameter %s: %w", name, err)
		}
		if res.IsNull {
			continue
		}
		if s, isString := res.Value.(string); isString {
			s = norm.NFC.String(strings.TrimSpace(s))
			if s == "" {
				continue
			}
			res.Value = s
		}
		out.params[name] = res.Value
	}
	return out, nil
}

func isBlank(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}
