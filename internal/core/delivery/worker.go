package delivery

import (
	"context"
	"errors"

	"github.com/solatis/relaykit/internal/events"
	"github.com/solatis/relaykit/internal/tenant"
	"github.com/solatis/relaykit/internal/types"
)

// Start launches the delivery workers. They stop when ctx is cancelled or
// the pipeline is closed.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Go(func() { p.work(ctx) })
	}
	p.logger.Info("delivery workers started", "workers", p.workers, "queue", cap(p.queue))
}

func (p *Pipeline) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-p.queue:
			if !ok {
				return
			}
			p.DeliverNow(ctx, j.cfg, j.ev)
		}
	}
}

// Deliver validates ev and queues it for the workers. Unknown and
// malformed events are dropped here. When the queue is full or closed a
// custom event is dropped and an identity event sets its retry flag, so
// the next delivery replays it.
func (p *Pipeline) Deliver(cfg *tenant.Configuration, ev events.Event) {
	if _, _, err := p.prepare(cfg, ev); err != nil {
		if errors.Is(err, types.ErrUnknownEvent) {
			p.logger.Debug("unknown event dropped", "event", ev.Name())
		} else {
			p.logger.Warn("malformed event dropped", "event", ev.Name(), "error", err)
		}
		return
	}
	if p.enqueue(job{cfg: cfg, ev: ev}) {
		return
	}
	if kind := ev.Kind(); kind != types.IdentityNone && p.flags != nil {
		p.logger.Warn("delivery queue unavailable, identity event deferred to replay", "event", ev.Name())
		if err := p.flags.Set(kind, true); err != nil {
			p.logger.Error("retry flag not persisted", "kind", kind, "error", err)
		}
		return
	}
	p.logger.Warn("delivery queue unavailable, event dropped", "event", ev.Name())
}

func (p *Pipeline) enqueue(j job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- j:
		return true
	default:
		return false
	}
}

// Pending returns the number of queued deliveries.
func (p *Pipeline) Pending() int {
	return len(p.queue)
}

// Close stops accepting deliveries and waits for the workers to drain the
// queue.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}
