package optimizer

import (
	"time"

	"github.com/use-agent/pagelift/host"
)

// DefaultIdleTimeout bounds how long a signalled batch waits for idle time.
const DefaultIdleTimeout = time.Second

// idleScheduler is the part of the host loop the batch needs.
type idleScheduler interface {
	RequestIdle(fn func(host.IdleDeadline), timeout time.Duration) *host.IdleRequest
	CancelIdle(r *host.IdleRequest)
}

// Batch coalesces signals into at most one pending idle callback.
type Batch struct {
	sched   idleScheduler
	timeout time.Duration
	run     func(host.IdleDeadline)

	pending *host.IdleRequest
	runs    int
}

func newBatch(sched idleScheduler, timeout time.Duration, run func(host.IdleDeadline)) *Batch {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	return &Batch{sched: sched, timeout: timeout, run: run}
}

// Signal schedules the batch unless one is already pending.
func (b *Batch) Signal() {
	if b.pending != nil {
		return
	}
	b.pending = b.sched.RequestIdle(b.fire, b.timeout)
}

// Pending reports whether a batch is scheduled.
func (b *Batch) Pending() bool { return b.pending != nil }

// Runs returns how many batches have fired.
func (b *Batch) Runs() int { return b.runs }

// Cancel abandons the pending batch, if any.
func (b *Batch) Cancel() {
	if b.pending != nil {
		b.sched.CancelIdle(b.pending)
		b.pending = nil
	}
}

func (b *Batch) fire(d host.IdleDeadline) {
	b.pending = nil
	b.runs++
	b.run(d)
}
