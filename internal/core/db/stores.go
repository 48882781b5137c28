package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/solatis/relaykit/internal/types"
)

// RetryFlags persists one failure flag per identity kind.
type RetryFlags struct {
	q   *Queries
	now func() time.Time
}

// NewRetryFlags creates a retry flag store over q.
func NewRetryFlags(q *Queries) *RetryFlags {
	return &RetryFlags{q: q, now: time.Now}
}

// Get reports whether the last delivery of kind failed. A kind never
// written reads as false.
func (s *RetryFlags) Get(kind types.IdentityKind) (bool, error) {
	var failed bool
	err := s.q.Get("get-retry-flag", &failed, string(kind))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get retry flag %s: %w", kind, err)
	}
	return failed, nil
}

// Set records the outcome of the last delivery of kind.
func (s *RetryFlags) Set(kind types.IdentityKind, failed bool) error {
	if _, err := s.q.Exec("upsert-retry-flag", string(kind), failed, s.q.timestamp(s.now())); err != nil {
		return fmt.Errorf("set retry flag %s: %w", kind, err)
	}
	return nil
}

// All returns every stored flag keyed by kind.
func (s *RetryFlags) All() (map[types.IdentityKind]bool, error) {
	var rows []struct {
		Kind   string `db:"kind"`
		Failed bool   `db:"failed"`
	}
	if err := s.q.Select("list-retry-flags", &rows); err != nil {
		return nil, fmt.Errorf("list retry flags: %w", err)
	}
	out := make(map[types.IdentityKind]bool, len(rows))
	for _, r := range rows {
		out[types.IdentityKind(r.Kind)] = r.Failed
	}
	return out, nil
}

// Settings is a string key/value store for identity and runtime state.
type Settings struct {
	q   *Queries
	now func() time.Time
}

// NewSettings creates a settings store over q.
func NewSettings(q *Queries) *Settings {
	return &Settings{q: q, now: time.Now}
}

// Get returns the value for key and whether it exists.
func (s *Settings) Get(key string) (string, bool, error) {
	var value string
	err := s.q.Get("get-setting", &value, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// Put writes value under key.
func (s *Settings) Put(key, value string) error {
	if _, err := s.q.Exec("upsert-setting", key, value, s.q.timestamp(s.now())); err != nil {
		return fmt.Errorf("put setting %s: %w", key, err)
	}
	return nil
}

// All returns every stored setting.
func (s *Settings) All() (map[string]string, error) {
	var rows []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}
	if err := s.q.Select("list-settings", &rows); err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}
