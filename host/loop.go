// Package host models the single-threaded environment a document lives in:
// an event loop with tasks, microtasks, timers and idle callbacks, plus the
// page-level services (layout, intersection observation) built on it.
package host

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrLoopTerminated is returned when work is posted to a terminated loop.
var ErrLoopTerminated = errors.New("host: loop terminated")

// IdleDeadline is passed to idle callbacks.
type IdleDeadline struct {
	// DidTimeout is true when the callback runs because its timeout expired
	// rather than because the loop was idle.
	DidTimeout bool
}

// Timer is a pending AfterFunc callback.
type Timer struct {
	when    time.Time
	seq     uint64
	fn      func()
	index   int
	stopped bool
}

// IdleRequest is a pending RequestIdle callback.
type IdleRequest struct {
	fn       func(IdleDeadline)
	deadline time.Time
	done     bool
}

// Done reports whether the request ran or was cancelled.
func (r *IdleRequest) Done() bool { return r.done }

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithClock replaces the wall clock.
func WithClock(c Clock) LoopOption {
	return func(l *Loop) { l.clock = c }
}

// WithLogger sets the logger used for recovered task panics.
func WithLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// Loop is a cooperative single-threaded scheduler.
//
// Tasks run one at a time; after each task the microtask queue is drained.
// Idle callbacks run only when no task is pending and the loop is not marked
// busy, or as a task once their timeout expires. Post is safe from any
// goroutine; everything else is meant to be called from loop callbacks or
// while the loop is not running.
type Loop struct {
	clock  Clock
	logger *slog.Logger

	mu         sync.Mutex
	tasks      []func()
	micro      []func()
	timers     timerHeap
	idle       []*IdleRequest
	busy       bool
	seq        uint64
	terminated bool
	timerHook  func(time.Duration) time.Duration

	wake chan struct{}
}

// NewLoop creates an idle, non-running loop.
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		clock:  realClock{},
		logger: slog.Default(),
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the loop clock's time.
func (l *Loop) Now() time.Time { return l.clock.Now() }

// Post queues a task. Safe for concurrent use.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	if l.terminated {
		l.mu.Unlock()
		return ErrLoopTerminated
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	l.signal()
	return nil
}

// Microtask queues fn to run at the next microtask checkpoint.
func (l *Loop) Microtask(fn func()) {
	l.mu.Lock()
	l.micro = append(l.micro, fn)
	l.mu.Unlock()
	l.signal()
}

// InterceptTimers installs a hook that may rewrite every AfterFunc delay.
func (l *Loop) InterceptTimers(h func(time.Duration) time.Duration) {
	l.mu.Lock()
	prev := l.timerHook
	if prev == nil {
		l.timerHook = h
	} else {
		l.timerHook = func(d time.Duration) time.Duration { return h(prev(d)) }
	}
	l.mu.Unlock()
}

// AfterFunc runs fn as a task once d has elapsed.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	l.mu.Lock()
	if l.timerHook != nil {
		d = l.timerHook(d)
	}
	l.seq++
	t := &Timer{when: l.clock.Now().Add(d), seq: l.seq, fn: fn}
	heap.Push(&l.timers, t)
	l.mu.Unlock()
	l.signal()
	return t
}

// StopTimer cancels t. It reports whether the timer was still pending.
func (l *Loop) StopTimer(t *Timer) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.stopped || t.index < 0 {
		return false
	}
	t.stopped = true
	heap.Remove(&l.timers, t.index)
	return true
}

// RequestIdle schedules fn for the next idle period. A positive timeout
// bounds the wait: once it expires, fn runs as an ordinary task with
// DidTimeout set.
func (l *Loop) RequestIdle(fn func(IdleDeadline), timeout time.Duration) *IdleRequest {
	r := &IdleRequest{fn: fn}
	l.mu.Lock()
	if timeout > 0 {
		r.deadline = l.clock.Now().Add(timeout)
	}
	l.idle = append(l.idle, r)
	l.mu.Unlock()
	l.signal()
	return r
}

// CancelIdle abandons r if it has not run yet.
func (l *Loop) CancelIdle(r *IdleRequest) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	for i, x := range l.idle {
		if x == r {
			l.idle = append(l.idle[:i], l.idle[i+1:]...)
			break
		}
	}
}

// SetBusy marks the host as having no idle capacity. Idle callbacks then
// only run through their timeouts.
func (l *Loop) SetBusy(busy bool) {
	l.mu.Lock()
	l.busy = busy
	l.mu.Unlock()
	l.signal()
}

// Terminate stops accepting tasks and drops everything pending.
func (l *Loop) Terminate() {
	l.mu.Lock()
	l.terminated = true
	l.tasks, l.micro, l.idle = nil, nil, nil
	l.timers = nil
	l.mu.Unlock()
	l.signal()
}

// Terminated reports whether Terminate was called.
func (l *Loop) Terminated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.terminated
}

// RunPending runs everything runnable at the current clock time: due timers
// and timed-out idle requests, queued tasks with their microtasks, then idle
// callbacks if the loop is idle. It repeats until nothing is runnable and
// returns the number of callbacks run.
func (l *Loop) RunPending() int {
	ran := 0
	for {
		progressed := l.drainMicro()
		l.promoteDue()

		for {
			fn := l.popTask()
			if fn == nil {
				break
			}
			l.run(fn)
			l.drainMicro()
			ran++
			progressed = true
		}

		if reqs := l.takeIdle(); len(reqs) > 0 {
			for _, r := range reqs {
				l.run(func() { r.fn(IdleDeadline{}) })
				l.drainMicro()
				ran++
			}
			progressed = true
		}

		if !progressed {
			return ran
		}
	}
}

// Run drives the loop in real time until ctx is done or the loop is
// terminated.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if l.Terminated() {
			return ErrLoopTerminated
		}
		l.RunPending()

		var (
			t      *time.Timer
			timerC <-chan time.Time
		)
		if wait, ok := l.nextDeadline(); ok {
			t = time.NewTimer(wait)
			timerC = t.C
		}
		select {
		case <-ctx.Done():
			if t != nil {
				t.Stop()
			}
			return ctx.Err()
		case <-l.wake:
		case <-timerC:
		}
		if t != nil {
			t.Stop()
		}
	}
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("host: task panicked", "panic", r)
		}
	}()
	fn()
}

func (l *Loop) drainMicro() bool {
	ran := false
	for {
		l.mu.Lock()
		if len(l.micro) == 0 {
			l.mu.Unlock()
			return ran
		}
		fn := l.micro[0]
		l.micro = l.micro[1:]
		l.mu.Unlock()
		l.run(fn)
		ran = true
	}
}

func (l *Loop) popTask() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.tasks) == 0 {
		return nil
	}
	fn := l.tasks[0]
	l.tasks = l.tasks[1:]
	return fn
}

// promoteDue moves expired timers and idle requests onto the task queue.
func (l *Loop) promoteDue() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()

	for len(l.timers) > 0 && !l.timers[0].when.After(now) {
		t := heap.Pop(&l.timers).(*Timer)
		l.tasks = append(l.tasks, t.fn)
	}

	kept := l.idle[:0]
	for _, r := range l.idle {
		if !r.deadline.IsZero() && !r.deadline.After(now) {
			r.done = true
			fn := r.fn
			l.tasks = append(l.tasks, func() { fn(IdleDeadline{DidTimeout: true}) })
			continue
		}
		kept = append(kept, r)
	}
	l.idle = kept
}

// takeIdle returns the idle requests to run now, if the loop is idle.
func (l *Loop) takeIdle() []*IdleRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy || len(l.tasks) > 0 || len(l.idle) == 0 {
		return nil
	}
	reqs := l.idle
	l.idle = nil
	for _, r := range reqs {
		r.done = true
	}
	return reqs
}

func (l *Loop) nextDeadline() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var next time.Time
	if len(l.timers) > 0 {
		next = l.timers[0].when
	}
	for _, r := range l.idle {
		if !r.deadline.IsZero() && (next.IsZero() || r.deadline.Before(next)) {
			next = r.deadline
		}
	}
	if next.IsZero() {
		return 0, false
	}
	return max(next.Sub(l.clock.Now()), 0), true
}
