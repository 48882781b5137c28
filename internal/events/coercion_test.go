package events

import (
	"errors"
	"testing"

	"github.com/solatis/relaykit/internal/tenant"
	"github.com/solatis/relaykit/internal/types"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name      string
		value     any
		paramType tenant.ParameterType
		wantValue any
		wantNull  bool
		wantErr   error
	}{
		// Number
		{name: "number: string to float64", value: "25", paramType: tenant.ParameterNumber, wantValue: 25.0},
		{name: "number: float64 passthrough", value: 42.5, paramType: tenant.ParameterNumber, wantValue: 42.5},
		{name: "number: int to float64", value: 100, paramType: tenant.ParameterNumber, wantValue: 100.0},
		{name: "number: int64 to float64", value: int64(999), paramType: tenant.ParameterNumber, wantValue: 999.0},
		{name: "number: string with whitespace", value: "  42  ", paramType: tenant.ParameterNumber, wantValue: 42.0},
		{name: "number: negative", value: "-100", paramType: tenant.ParameterNumber, wantValue: -100.0},
		{name: "number: non-numeric string fails", value: "abc", paramType: tenant.ParameterNumber, wantErr: types.ErrCoercionFailed},
		{name: "number: whitespace-only fails", value: "   ", paramType: tenant.ParameterNumber, wantErr: types.ErrCoercionFailed},
		{name: "number: boolean fails", value: true, paramType: tenant.ParameterNumber, wantErr: types.ErrCoercionFailed},

		// String
		{name: "string: passthrough", value: "hello", paramType: tenant.ParameterString, wantValue: "hello"},
		{name: "string: float64", value: 3.5, paramType: tenant.ParameterString, wantValue: "3.5"},
		{name: "string: int", value: 7, paramType: tenant.ParameterString, wantValue: "7"},
		{name: "string: bool", value: false, paramType: tenant.ParameterString, wantValue: "false"},
		{name: "string: map fails", value: map[string]any{"a": 1}, paramType: tenant.ParameterString, wantErr: types.ErrCoercionFailed},

		// Boolean
		{name: "boolean: true", value: true, paramType: tenant.ParameterBoolean, wantValue: true},
		{name: "boolean: string fails", value: "true", paramType: tenant.ParameterBoolean, wantErr: types.ErrCoercionFailed},
		{name: "boolean: number fails", value: 1, paramType: tenant.ParameterBoolean, wantErr: types.ErrCoercionFailed},

		// Null and unknown type
		{name: "nil is null", value: nil, paramType: tenant.ParameterString, wantNull: true},
		{name: "unknown type fails", value: "x", paramType: tenant.ParameterType("Date"), wantErr: types.ErrCoercionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.value, tt.paramType)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected error %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.IsNull != tt.wantNull {
				t.Errorf("IsNull = %v, want %v", got.IsNull, tt.wantNull)
			}
			if !tt.wantNull && got.Value != tt.wantValue {
				t.Errorf("Value = %v (%T), want %v (%T)", got.Value, got.Value, tt.wantValue, tt.wantValue)
			}
		})
	}
}
