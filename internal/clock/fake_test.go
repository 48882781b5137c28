package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestFakeClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("advance fires due timers in order", func(t *testing.T) {
		c := Fake(start)
		var order []int
		c.AfterFunc(2*time.Second, func() { order = append(order, 2) })
		c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
		c.AfterFunc(5*time.Second, func() { order = append(order, 5) })

		c.Advance(3 * time.Second)
		if len(order) != 2 || order[0] != 1 || order[1] != 2 {
			t.Fatalf("expected [1 2], got %v", order)
		}
		if c.Pending() != 1 {
			t.Errorf("expected 1 pending timer, got %d", c.Pending())
		}
		if got := c.Now(); !got.Equal(start.Add(3 * time.Second)) {
			t.Errorf("unexpected now %v", got)
		}
	})

	t.Run("stopped timer never fires", func(t *testing.T) {
		c := Fake(start)
		var fired atomic.Bool
		timer := c.AfterFunc(time.Second, func() { fired.Store(true) })
		if !timer.Stop() {
			t.Fatal("expected Stop to report an active timer")
		}
		if timer.Stop() {
			t.Error("second Stop should report false")
		}
		c.Advance(time.Minute)
		if fired.Load() {
			t.Error("stopped timer fired")
		}
	})

	t.Run("non-positive duration runs immediately", func(t *testing.T) {
		c := Fake(start)
		ran := false
		c.AfterFunc(0, func() { ran = true })
		if !ran {
			t.Error("expected immediate callback")
		}
	})

	t.Run("wait for timers", func(t *testing.T) {
		c := Fake(start)
		done := make(chan struct{})
		go func() {
			c.AfterFunc(time.Second, func() { close(done) })
		}()
		c.WaitForTimers(1)
		c.Advance(time.Second)
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timer did not fire")
		}
	})
}
