// Package bootstrap starts the SDK components a tenant configuration enables,
// concurrently and at most once per successful pass.
package bootstrap

import (
	"maps"
	"sync"

	"github.com/solatis/relaykit/internal/tenant"
	"github.com/solatis/relaykit/internal/types"
)

// State is the outcome of a component's setup.
type State int

const (
	NotAttempted State = iota
	Running
	Failed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Failed:
		return "failed"
	default:
		return "not_attempted"
	}
}

// RunResult is the aggregate of one bootstrap pass.
type RunResult struct {
	States         map[types.Component]State
	OverallRunning bool
	// Config is the configuration the pass configured components with.
	// Nil for snapshots.
	Config *tenant.Configuration
}

// Overall reports whether at least one component is Running.
func Overall(states map[types.Component]State) bool {
	for _, s := range states {
		if s == Running {
			return true
		}
	}
	return false
}

// RunState is the process-wide record of which components are running.
// Only the Bootstrapper writes it.
type RunState struct {
	mu     sync.RWMutex
	states map[types.Component]State
}

// NewRunState creates a state with every component NotAttempted.
func NewRunState() *RunState {
	states := make(map[types.Component]State, len(types.Components))
	for _, c := range types.Components {
		states[c] = NotAttempted
	}
	return &RunState{states: states}
}

// IsRunning reports whether component c is Running.
func (r *RunState) IsRunning(c types.Component) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.states[c] == Running
}

// OverallRunning reports whether any component is Running.
func (r *RunState) OverallRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Overall(r.states)
}

// Snapshot returns a copy of the current states.
func (r *RunState) Snapshot() RunResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	states := maps.Clone(r.states)
	return RunResult{States: states, OverallRunning: Overall(states)}
}

func (r *RunState) replace(states map[types.Component]State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = maps.Clone(states)
}
