package ledger

import (
	"context"
	"sync"

	"github.com/alanyoungcy/eventmarket/internal/domain"
)

type delivery struct {
	ctx context.Context
	n   domain.Notification
}

// outbox hands committed notifications to a single delivery goroutine. The
// queue is unbounded, so pushing never waits on a subscriber, and it is
// drained in push order.
type outbox struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []delivery
	pending int // queued plus the one in flight
	closed  bool
	stopped chan struct{}
}

func newOutbox() *outbox {
	o := &outbox{stopped: make(chan struct{})}
	o.cond = sync.NewCond(&o.mu)
	return o
}

func (o *outbox) push(ctx context.Context, n domain.Notification) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.queue = append(o.queue, delivery{ctx: ctx, n: n})
	o.pending++
	o.cond.Broadcast()
	return true
}

// run delivers until close is called and the queue is empty.
func (o *outbox) run(deliver func(context.Context, domain.Notification)) {
	defer close(o.stopped)
	for {
		o.mu.Lock()
		for len(o.queue) == 0 && !o.closed {
			o.cond.Wait()
		}
		if len(o.queue) == 0 {
			o.mu.Unlock()
			return
		}
		d := o.queue[0]
		o.queue[0] = delivery{}
		o.queue = o.queue[1:]
		o.mu.Unlock()

		deliver(d.ctx, d.n)

		o.mu.Lock()
		o.pending--
		o.cond.Broadcast()
		o.mu.Unlock()
	}
}

// wait blocks until everything pushed so far has been delivered.
func (o *outbox) wait() {
	o.mu.Lock()
	for o.pending > 0 {
		o.cond.Wait()
	}
	o.mu.Unlock()
}

func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.cond.Broadcast()
	o.mu.Unlock()
	<-o.stopped
}
