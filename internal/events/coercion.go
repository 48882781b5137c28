// internal/events/coercion.go
package events

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/solatis/relaykit/internal/tenant"
	"github.com/solatis/relaykit/internal/types"
)

/*
 * Parameter coercion against the tenant's declared parameter types.
 *
 * Type modes:
 *   - Number: Strict - numeric kinds and numeric strings become float64,
 *     booleans are rejected
 *   - String: Lenient - every scalar is rendered as a string
 *   - Boolean: Strict - boolean only, no "true"/1 guessing
 *
 * A nil value is reported as IsNull rather than a failure so the caller can
 * treat it as "absent" for the optional/mandatory check.
 */

// CoercionResult holds the coerced value or indicates null.
type CoercionResult struct {
	Value  any  // coerced value (valid only if !IsNull)
	IsNull bool // true if input was nil
}

// Coerce converts value to the declared parameter type.
// Returns ErrCoercionFailed for impossible coercions.
func Coerce(value any, paramType tenant.ParameterType) (CoercionResult, error) {
	if value == nil {
		return CoercionResult{IsNull: true}, nil
	}

	switch paramType {
	case tenant.ParameterNumber:
		return coerceNumber(value)
	case tenant.ParameterString:
		return coerceString(value)
	case tenant.ParameterBoolean:
		return coerceBoolean(value)
	default:
		return CoercionResult{}, types.ErrCoercionFailed
	}
}

// coerceNumber converts value to float64.
// Whitespace-only strings return ErrCoercionFailed.
func coerceNumber(value any) (CoercionResult, error) {
	switch v := value.(type) {
	case float64:
		return CoercionResult{Value: v}, nil
	case float32:
		return CoercionResult{Value: float64(v)}, nil
	case int:
		return CoercionResult{Value: float64(v)}, nil
	case int32:
		return CoercionResult{Value: float64(v)}, nil
	case int64:
		return CoercionResult{Value: float64(v)}, nil
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return CoercionResult{}, types.ErrCoercionFailed
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return CoercionResult{}, types.ErrCoercionFailed
		}
		return CoercionResult{Value: f}, nil
	case bool:
		// Strict mode: reject boolean-to-numeric coercion
		return CoercionResult{}, types.ErrCoercionFailed
	default:
		return CoercionResult{}, types.ErrCoercionFailed
	}
}

// coerceString renders any scalar as a string.
func coerceString(value any) (CoercionResult, error) {
	switch v := value.(type) {
	case string:
		return CoercionResult{Value: v}, nil
	case float64:
		return CoercionResult{Value: strconv.FormatFloat(v, 'f', -1, 64)}, nil
	case int:
		return CoercionResult{Value: strconv.Itoa(v)}, nil
	case int64:
		return CoercionResult{Value: strconv.FormatInt(v, 10)}, nil
	case bool:
		return CoercionResult{Value: strconv.FormatBool(v)}, nil
	case map[string]any, []any:
		// Composite values have no agreed wire rendering
		return CoercionResult{}, types.ErrCoercionFailed
	default:
		return CoercionResult{Value: fmt.Sprintf("%v", v)}, nil
	}
}

// coerceBoolean accepts only bool values.
func coerceBoolean(value any) (CoercionResult, error) {
	switch v := value.(type) {
	case bool:
		return CoercionResult{Value: v}, nil
	default:
		return CoercionResult{}, types.ErrCoercionFailed
	}
}
