package bootstrap

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/relaykit/internal/tenant"
	"github.com/solatis/relaykit/internal/types"
)

type fakeComponent struct {
	name    types.Component
	enabled bool
	reqs    []Requirement
	err     error
	panics  bool
	gate    chan struct{}
	calls   atomic.Int32
}

func (f *fakeComponent) Name() types.Component              { return f.name }
func (f *fakeComponent) Enabled(*tenant.Configuration) bool { return f.enabled }
func (f *fakeComponent) Requirements() []Requirement        { return f.reqs }

func (f *fakeComponent) Configure(context.Context, *tenant.Configuration) error {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.panics {
		panic("boom")
	}
	return f.err
}

var allCapabilities = StaticMonitor{Internet: true, Notifications: true}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()
	cfg := &tenant.Configuration{Version: "1"}

	t.Run("disabled stays not attempted", func(t *testing.T) {
		push := &fakeComponent{name: types.ComponentPush, enabled: false}
		tracking := &fakeComponent{name: types.ComponentTracking, enabled: true}
		b := New([]Component{push, tracking}, allCapabilities, NewRunState(), nil)

		res := b.Bootstrap(ctx, cfg)
		if res.States[types.ComponentPush] != NotAttempted {
			t.Errorf("push = %s, want not_attempted", res.States[types.ComponentPush])
		}
		if res.States[types.ComponentTracking] != Running {
			t.Errorf("tracking = %s, want running", res.States[types.ComponentTracking])
		}
		if res.States[types.ComponentRealtime] != NotAttempted {
			t.Errorf("realtime missing from states")
		}
		if !res.OverallRunning {
			t.Error("expected overall running")
		}
		if push.calls.Load() != 0 {
			t.Error("disabled component must not be configured")
		}
		if !b.State().IsRunning(types.ComponentTracking) {
			t.Error("run state not updated")
		}
	})

	t.Run("missing requirement fails without configure", func(t *testing.T) {
		push := &fakeComponent{name: types.ComponentPush, enabled: true, reqs: []Requirement{RequirementNotifications}}
		b := New([]Component{push}, StaticMonitor{Internet: true}, NewRunState(), nil)

		res := b.Bootstrap(ctx, cfg)
		if res.States[types.ComponentPush] != Failed {
			t.Errorf("push = %s, want failed", res.States[types.ComponentPush])
		}
		if push.calls.Load() != 0 {
			t.Error("Configure must not run when a requirement is missing")
		}
	})

	t.Run("panic counts as failure", func(t *testing.T) {
		bad := &fakeComponent{name: types.ComponentRealtime, enabled: true, panics: true}
		good := &fakeComponent{name: types.ComponentTracking, enabled: true}
		b := New([]Component{bad, good}, allCapabilities, NewRunState(), nil)

		res := b.Bootstrap(ctx, cfg)
		if res.States[types.ComponentRealtime] != Failed {
			t.Errorf("realtime = %s, want failed", res.States[types.ComponentRealtime])
		}
		if !res.OverallRunning {
			t.Error("one running component keeps overall running")
		}
	})

	t.Run("failed pass can be retried", func(t *testing.T) {
		c := &fakeComponent{name: types.ComponentTracking, enabled: true, err: errors.New("down")}
		b := New([]Component{c}, allCapabilities, NewRunState(), nil)

		if res := b.Bootstrap(ctx, cfg); res.OverallRunning {
			t.Fatal("expected overall failure")
		}
		c.err = nil
		if res := b.Bootstrap(ctx, cfg); !res.OverallRunning {
			t.Fatal("retry should succeed")
		}
		b.Bootstrap(ctx, cfg)
		if got := c.calls.Load(); got != 2 {
			t.Errorf("expected 2 configure calls, got %d", got)
		}
	})

	t.Run("on running listeners", func(t *testing.T) {
		c := &fakeComponent{name: types.ComponentTracking, enabled: true}
		b := New([]Component{c}, allCapabilities, NewRunState(), nil)

		var early atomic.Int32
		b.OnRunning(func(RunResult) { early.Add(1) })
		b.Bootstrap(ctx, cfg)
		b.Bootstrap(ctx, cfg)
		if early.Load() != 1 {
			t.Errorf("early listener fired %d times", early.Load())
		}

		late := false
		b.OnRunning(func(r RunResult) { late = r.OverallRunning })
		if !late {
			t.Error("late listener should fire immediately")
		}
	})
}

func TestConcurrentBootstrapSinglePass(t *testing.T) {
	gate := make(chan struct{})
	c := &fakeComponent{name: types.ComponentTracking, enabled: true, gate: gate}
	b := New([]Component{c}, allCapabilities, NewRunState(), nil)
	cfg := &tenant.Configuration{Version: "1"}

	const callers = 16
	results := make([]RunResult, callers)
	var started, wg sync.WaitGroup
	started.Add(callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		i := i
		go func() {
			defer wg.Done()
			started.Done()
			results[i] = b.Bootstrap(context.Background(), cfg)
		}()
	}
	started.Wait()
	close(gate)
	wg.Wait()

	if got := c.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one configure call, got %d", got)
	}
	for i, r := range results {
		if !r.OverallRunning || r.States[types.ComponentTracking] != Running {
			t.Errorf("caller %d got %+v", i, r)
		}
	}
}

func TestCompletedPassKeepsItsConfiguration(t *testing.T) {
	c := &fakeComponent{name: types.ComponentTracking, enabled: true}
	b := New([]Component{c}, allCapabilities, NewRunState(), nil)
	first := &tenant.Configuration{Version: "1"}
	second := &tenant.Configuration{Version: "2"}

	if res := b.Bootstrap(context.Background(), first); res.Config != first {
		t.Fatalf("pass config = %v, want version 1", res.Config)
	}
	res := b.Bootstrap(context.Background(), second)
	if res.Config != first {
		t.Errorf("completed pass must report the configuration it ran with, got %v", res.Config)
	}
	if got := c.calls.Load(); got != 1 {
		t.Errorf("expected one configure call, got %d", got)
	}
}

func TestOverallRunningMatchesStates(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("overall running iff some component running", prop.ForAll(
		func(enabled, failing []bool) bool {
			if len(enabled) < len(types.Components) || len(failing) < len(types.Components) {
				return true
			}
			var comps []Component
			for i, name := range types.Components {
				c := &fakeComponent{name: name, enabled: enabled[i]}
				if failing[i] {
					c.err = errors.New("fail")
				}
				comps = append(comps, c)
			}
			res := New(comps, allCapabilities, NewRunState(), nil).Bootstrap(context.Background(), &tenant.Configuration{})

			anyRunning := false
			for i, name := range types.Components {
				want := NotAttempted
				if enabled[i] {
					want = Running
					if failing[i] {
						want = Failed
					}
				}
				if res.States[name] != want {
					return false
				}
				anyRunning = anyRunning || want == Running
			}
			return res.OverallRunning == anyRunning
		},
		gen.SliceOfN(len(types.Components), gen.Bool()),
		gen.SliceOfN(len(types.Components), gen.Bool()),
	))

	properties.TestingRun(t)
}
