package notification

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/relaykit/internal/clock"
	"github.com/solatis/relaykit/internal/core/delivery"
	"github.com/solatis/relaykit/internal/core/identity"
	"github.com/solatis/relaykit/internal/deeplink"
	"github.com/solatis/relaykit/internal/events"
	"github.com/solatis/relaykit/internal/tenant"
	"github.com/solatis/relaykit/internal/types"
)

const appID = "com.example.app"

type reported struct {
	event    events.Event
	tracking bool
	realtime bool
}

type fakeReporter struct {
	mu     sync.Mutex
	events []reported
	sent   chan struct{}
}

func newFakeReporter() *fakeReporter {
	return &fakeReporter{sent: make(chan struct{}, 16)}
}

func (r *fakeReporter) DeliverNowGated(_ context.Context, gate delivery.Gate, _ *tenant.Configuration, ev events.Event) delivery.Outcome {
	r.mu.Lock()
	r.events = append(r.events, reported{
		event:    ev,
		tracking: gate.IsRunning(types.ComponentTracking),
		realtime: gate.IsRunning(types.ComponentRealtime),
	})
	r.mu.Unlock()
	r.sent <- struct{}{}
	return delivery.Outcome{Event: ev.Name(), Known: true}
}

func (r *fakeReporter) reported() []reported {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reported(nil), r.events...)
}

type fakeResolver struct {
	release chan struct{} // nil resolves immediately
	target  string
	err     error
}

func (f *fakeResolver) Resolve(ctx context.Context, link string) (string, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.target, nil
}

func staticConfig(cfg *tenant.Configuration) ConfigSource {
	return ConfigSourceFunc(func(context.Context) (*tenant.Configuration, bool) {
		return cfg, cfg != nil
	})
}

func notificationConfig() *tenant.Configuration {
	return &tenant.Configuration{Version: "1", EnableTracking: true, EnableRealtime: true}
}

func payload(withCampaign bool) map[string]any {
	raw := map[string]any{
		KeyIsOurs:          "true",
		KeyTitle:           "Sale",
		KeyBody:            "50% off",
		KeyCollapseKey:     "sale",
		KeyDynamicLinks:    `{"ios":{"com_example_app":"https://short.example.com/abc"}}`,
		KeyPersonalization: `{"{{name}}":"Ada Lovelace"}`,
	}
	if withCampaign {
		raw[KeyCampaignID] = "c-1"
		raw[KeyActionSerial] = float64(12)
		raw[KeyTemplateID] = "t-1"
		raw[KeyEngagementID] = "e-1"
		raw[KeyCampaignType] = "2"
	}
	return raw
}

type completions struct {
	mu    sync.Mutex
	got   []Content
	count atomic.Int32
}

func (c *completions) record(content Content) {
	c.count.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, content)
}

func (c *completions) first() Content {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.got[0]
}

var longLink = "https://app.example.com/product?who=" + url.PathEscape("{{name}}")

func TestAugmentorNotOurs(t *testing.T) {
	a := NewAugmentor(AugmentorOptions{Configs: staticConfig(notificationConfig())})
	var called atomic.Bool
	if a.Handle(map[string]any{KeyTitle: "x"}, time.Second, func(Content) { called.Store(true) }) {
		t.Fatal("foreign payload must not be handled")
	}
	a.Wait()
	if called.Load() {
		t.Error("completion must not be called for foreign payloads")
	}
	if a.State() != StateIdle {
		t.Errorf("state = %s, want idle", a.State())
	}
}

func TestAugmentorBranchesComplete(t *testing.T) {
	clk := clock.Fake(time.Unix(1700000000, 0))
	rep := newFakeReporter()
	a := NewAugmentor(AugmentorOptions{
		Configs:  staticConfig(notificationConfig()),
		Resolver: &fakeResolver{target: longLink},
		Reporter: rep,
		Clock:    clk,
		Platform: "ios",
		AppID:    appID,
	})

	var c completions
	task, ok := a.Start(payload(true), 25*time.Second, c.record)
	if !ok {
		t.Fatal("payload should be handled")
	}
	<-task.Done()
	a.Wait()

	clk.Advance(time.Minute)
	if n := c.count.Load(); n != 1 {
		t.Fatalf("completion called %d times", n)
	}
	if task.State() != StateCompleted || a.State() != StateCompleted {
		t.Errorf("state = %s", task.State())
	}

	content := c.first()
	if content.Title != "Sale" || content.Body != "50% off" || content.Category != DismissCategory {
		t.Errorf("unexpected content %+v", content)
	}
	link, ok := content.DynamicLink()
	want := "https://app.example.com/product?who=Ada%20Lovelace"
	if !ok || link != want {
		t.Errorf("dynamic link = %q, want %q", link, want)
	}

	got := rep.reported()
	if len(got) != 1 || got[0].event.Name() != events.NameNotificationDelivered {
		t.Fatalf("unexpected reports %+v", got)
	}
	if !got[0].tracking || got[0].realtime {
		t.Error("delivery report must use a tracking-only gate")
	}
	if v, _ := got[0].event.Param("action_serial"); v != "12" {
		t.Errorf("action_serial = %v", v)
	}
}

func TestAugmentorNoCampaignStillLinks(t *testing.T) {
	rep := newFakeReporter()
	a := NewAugmentor(AugmentorOptions{
		Configs:  staticConfig(notificationConfig()),
		Resolver: &fakeResolver{target: longLink},
		Reporter: rep,
		Clock:    clock.Fake(time.Unix(1700000000, 0)),
		Platform: "ios",
		AppID:    appID,
	})

	var c completions
	task, _ := a.Start(payload(false), 25*time.Second, c.record)
	<-task.Done()
	a.Wait()

	if n := len(rep.reported()); n != 0 {
		t.Errorf("no campaign must skip reporting, got %d reports", n)
	}
	if _, ok := c.first().DynamicLink(); !ok {
		t.Error("deep link should still be attached")
	}
}

func TestAugmentorDeadlineFirst(t *testing.T) {
	clk := clock.Fake(time.Unix(1700000000, 0))
	resolver := &fakeResolver{release: make(chan struct{}), target: longLink}
	a := NewAugmentor(AugmentorOptions{
		Configs:  staticConfig(notificationConfig()),
		Resolver: resolver,
		Reporter: newFakeReporter(),
		Clock:    clk,
		Platform: "ios",
		AppID:    appID,
	})

	var c completions
	task, _ := a.Start(payload(true), 5*time.Second, c.record)

	clk.Advance(4 * time.Second)
	if c.count.Load() != 0 {
		t.Fatal("completion fired before the deadline")
	}
	clk.Advance(time.Second)
	<-task.Done()

	close(resolver.release)
	a.Wait()

	if n := c.count.Load(); n != 1 {
		t.Fatalf("completion called %d times", n)
	}
	content := c.first()
	if _, ok := content.DynamicLink(); ok {
		t.Error("deadline snapshot must not carry the late deep link")
	}
	if content.Title != "Sale" {
		t.Errorf("minimal content expected, got %+v", content)
	}
}

func TestAugmentorConfigUnavailable(t *testing.T) {
	rep := newFakeReporter()
	resolver := &fakeResolver{err: errors.New("must not be called")}
	a := NewAugmentor(AugmentorOptions{
		Configs:  staticConfig(nil),
		Resolver: resolver,
		Reporter: rep,
		Clock:    clock.Fake(time.Unix(1700000000, 0)),
		Platform: "ios",
		AppID:    appID,
	})

	var c completions
	task, _ := a.Start(payload(true), 25*time.Second, c.record)
	<-task.Done()
	a.Wait()

	if len(rep.reported()) != 0 {
		t.Error("nothing should be reported without configuration")
	}
	if _, ok := c.first().DynamicLink(); ok {
		t.Error("nothing should be augmented without configuration")
	}
}

func TestAugmentorCompletesOnce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("completion fires exactly once", prop.ForAll(
		func(deadlineMs, resolveMs int) bool {
			release := make(chan struct{})
			time.AfterFunc(time.Duration(resolveMs)*time.Millisecond, func() { close(release) })

			a := NewAugmentor(AugmentorOptions{
				Configs:  staticConfig(notificationConfig()),
				Resolver: &fakeResolver{release: release, target: longLink},
				Reporter: newFakeReporter(),
				Platform: "ios",
				AppID:    appID,
			})
			var c completions
			task, ok := a.Start(payload(true), time.Duration(deadlineMs)*time.Millisecond, c.record)
			if !ok {
				return false
			}
			<-task.Done()
			a.Wait()
			return c.count.Load() == 1 && task.State() == StateCompleted
		},
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}

type fakeRegistrar struct {
	called chan struct{}
}

func (f *fakeRegistrar) Reregister(context.Context, *tenant.Configuration) error {
	f.called <- struct{}{}
	return nil
}

func TestCommandHandler(t *testing.T) {
	ids := identity.NewManager(identity.NewMemoryStore(), nil)
	visitor, _ := ids.EnsureVisitor()

	newHandler := func(clk clock.Clock, rep Reporter, reg Reregisterer) *CommandHandler {
		return NewCommandHandler(CommandOptions{
			Configs:   staticConfig(notificationConfig()),
			Reporter:  rep,
			Registrar: reg,
			Visitors:  ids,
			Clock:     clk,
			Platform:  "ios",
			AppID:     appID,
		})
	}

	t.Run("not a command", func(t *testing.T) {
		h := newHandler(clock.Fake(time.Unix(0, 0)), newFakeReporter(), nil)
		if h.Handle(map[string]any{KeyIsOurs: "true"}, time.Second, func() {}) {
			t.Error("display payload is not a command")
		}
	})

	t.Run("ping reports and waits for the budget", func(t *testing.T) {
		clk := clock.Fake(time.Unix(1700000000, 0))
		rep := newFakeReporter()
		h := newHandler(clk, rep, nil)

		var done atomic.Int32
		ok := h.Handle(map[string]any{KeyIsCommand: "true", KeyCommand: "ping"}, time.Second, func() { done.Add(1) })
		if !ok {
			t.Fatal("ping should be handled")
		}
		<-rep.sent
		got := rep.reported()
		if got[0].event.Name() != events.NamePing {
			t.Errorf("reported %s", got[0].event.Name())
		}
		if v, _ := got[0].event.Param("device_id"); v != visitor {
			t.Errorf("device_id = %v, want %s", v, visitor)
		}

		clk.Advance(999 * time.Millisecond)
		if done.Load() != 0 {
			t.Fatal("done fired early")
		}
		clk.Advance(time.Millisecond)
		if done.Load() != 1 {
			t.Fatal("done should fire at the budget")
		}
	})

	t.Run("reregister is bounded by its window", func(t *testing.T) {
		clk := clock.Fake(time.Unix(1700000000, 0))
		reg := &fakeRegistrar{called: make(chan struct{}, 1)}
		h := newHandler(clk, newFakeReporter(), reg)

		var done atomic.Int32
		h.Handle(map[string]any{KeyIsCommand: "true", KeyCommand: "reregister"}, time.Minute, func() { done.Add(1) })
		<-reg.called

		clk.Advance(ReregisterWindow - time.Millisecond)
		if done.Load() != 0 {
			t.Fatal("done fired early")
		}
		clk.Advance(time.Millisecond)
		if done.Load() != 1 {
			t.Fatal("done should fire at the reregister window")
		}
	})

	t.Run("unknown command completes immediately", func(t *testing.T) {
		h := newHandler(clock.Fake(time.Unix(0, 0)), newFakeReporter(), nil)
		var done atomic.Int32
		if !h.Handle(map[string]any{KeyIsCommand: "true", KeyCommand: "explode"}, time.Second, func() { done.Add(1) }) {
			t.Fatal("command payloads are always handled")
		}
		if done.Load() != 1 {
			t.Error("done should fire immediately")
		}
	})
}

func TestResponseHandler(t *testing.T) {
	ctx := context.Background()
	clk := clock.Fake(time.Unix(1700000000, 0))

	t.Run("opened reports and delegates the deep link", func(t *testing.T) {
		rep := newFakeReporter()
		b := deeplink.NewBroadcaster()
		h := NewResponseHandler(staticConfig(notificationConfig()), rep, b, clk, appID, nil)

		info := payload(true)
		info[KeyDynamicLink] = "https://app.example.com/product?id=42&x=" + deeplink.IgnoredValue + "&q=a%20b"
		if !h.Handle(ctx, info, ActionOpened) {
			t.Fatal("opened should be handled")
		}

		got := rep.reported()
		if len(got) != 1 || got[0].event.Name() != events.NameNotificationOpened {
			t.Fatalf("unexpected reports %+v", got)
		}
		if !got[0].tracking || !got[0].realtime {
			t.Error("responses use the tenant's enabled components")
		}
		c, ok := b.Last()
		if !ok || c.ScreenName != "product" || c.Query["id"] != "42" || c.Query["q"] != "a b" {
			t.Errorf("unexpected components %+v", c)
		}
		if _, ok := c.Query["x"]; ok {
			t.Error("ignored parameters must be skipped")
		}
	})

	t.Run("dismissed reports only", func(t *testing.T) {
		rep := newFakeReporter()
		b := deeplink.NewBroadcaster()
		h := NewResponseHandler(staticConfig(notificationConfig()), rep, b, clk, appID, nil)

		info := payload(true)
		info[KeyDynamicLink] = "https://app.example.com/product?id=42"
		h.Handle(ctx, info, ActionDismissed)

		if got := rep.reported(); len(got) != 1 || got[0].event.Name() != events.NameNotificationDismissed {
			t.Fatalf("unexpected reports %+v", got)
		}
		if _, ok := b.Last(); ok {
			t.Error("dismissal must not publish a deep link")
		}
	})

	t.Run("no campaign", func(t *testing.T) {
		rep := newFakeReporter()
		h := NewResponseHandler(staticConfig(notificationConfig()), rep, nil, clk, appID, nil)
		if h.Handle(ctx, payload(false), ActionOpened) {
			t.Error("responses without campaign are not handled")
		}
	})
}

func TestCampaignFrom(t *testing.T) {
	c, err := CampaignFrom(payload(true))
	if err != nil {
		t.Fatal(err)
	}
	if c.ActionSerial != "12" || c.CampaignType != "2" {
		t.Errorf("unexpected campaign %+v", c)
	}
	if _, err := CampaignFrom(payload(false)); !errors.Is(err, types.ErrNoCampaign) {
		t.Errorf("expected ErrNoCampaign, got %v", err)
	}
}
