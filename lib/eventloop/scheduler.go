// Package eventloop implements the shared reactor that drives native event
// pumping for a plugin group. One Scheduler exists per group; exactly one
// thread runs it, and every piece of work that needs event-thread affinity
// is posted to it. The scheduler also owns the reentrancy escape hatch:
// while the periodic event handler runs, cross-boundary calls that would
// normally execute on the reactor are routed to a dedicated thread instead,
// because posting them to a reactor that is busy inside the handler would
// deadlock.
package eventloop

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crossproc/bridge.go/lib/native"
)

const (
	// DefaultInterval is the event pump cadence, 30 ticks per second.
	DefaultInterval = time.Second / 30

	// DefaultMinGap is the smallest allowed distance between two ticks.
	// When handling falls behind, the cadence degrades to this floor
	// instead of busy-looping.
	DefaultMinGap = 5 * time.Millisecond
)

// ErrStopped is returned when work is submitted to a stopped scheduler.
var ErrStopped = errors.New("scheduler is stopped")

// Scheduler is the per-group reactor. Construct one per plugin group with
// New and tear it down with Stop when the last plugin in the group unloads.
type Scheduler struct {
	interval time.Duration
	minGap   time.Duration

	tasks   chan func()
	quit    chan struct{}
	stopped atomic.Bool
	stop    sync.Once

	// active is true for exactly the span a tick handler is executing.
	// Written only by the reactor thread, read by anyone deciding how to
	// route an inbound call.
	active atomic.Bool

	timerMu sync.Mutex
	next    time.Time
	pending map[*time.Timer]struct{}
}

// New creates a scheduler with the default cadence.
func New() *Scheduler {
	return NewWithCadence(DefaultInterval, DefaultMinGap)
}

// NewWithCadence creates a scheduler ticking every interval with the given
// minimum gap between ticks. Non-positive values fall back to the
// defaults.
func NewWithCadence(interval, minGap time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if minGap <= 0 {
		minGap = DefaultMinGap
	}
	return &Scheduler{
		interval: interval,
		minGap:   minGap,
		tasks:    make(chan func(), 64),
		quit:     make(chan struct{}),
		pending:  make(map[*time.Timer]struct{}),
	}
}

// Run executes posted tasks until Stop is called. Exactly one goroutine
// calls Run for the lifetime of the scheduler; that goroutine is pinned to
// its OS thread for the duration since native event handling is
// thread-affine.
func (s *Scheduler) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-s.quit:
			return
		case task := <-s.tasks:
			task()
		}
	}
}

// Stop cancels all pending and future scheduled work. It does not
// guarantee that the goroutine inside Run returns before Stop does; a task
// already executing runs to completion.
func (s *Scheduler) Stop() {
	s.stop.Do(func() {
		s.stopped.Store(true)

		s.timerMu.Lock()
		for t := range s.pending {
			t.Stop()
		}
		s.pending = make(map[*time.Timer]struct{})
		s.timerMu.Unlock()

		close(s.quit)
	})
}

// Post submits a task to run on the reactor thread.
func (s *Scheduler) Post(task func()) error {
	if s.stopped.Load() {
		return ErrStopped
	}
	select {
	case s.tasks <- task:
		return nil
	case <-s.quit:
		return ErrStopped
	}
}

// Active reports whether the reactor thread is currently inside a tick
// handler. Callers use this to decide whether posting a blocking call to
// the reactor is safe.
func (s *Scheduler) Active() bool {
	return s.active.Load()
}

// AsyncHandleEvents schedules handler to run on the reactor at the
// configured cadence and reschedules itself after every tick. The next
// firing time is the later of the previous scheduled time plus the
// interval and now plus the minimum gap, so a slow handler degrades the
// cadence gracefully. Active is true for exactly the span handler
// executes; the flag transition back to false happens before the next tick
// is enqueued, and no two ticks ever run concurrently.
func (s *Scheduler) AsyncHandleEvents(handler func()) {
	if s.stopped.Load() {
		return
	}

	s.timerMu.Lock()
	now := time.Now()
	next := s.next.Add(s.interval)
	if floor := now.Add(s.minGap); next.Before(floor) {
		next = floor
	}
	s.next = next

	var timer *time.Timer
	timer = time.AfterFunc(time.Until(next), func() {
		s.timerMu.Lock()
		delete(s.pending, timer)
		s.timerMu.Unlock()

		// Posting can fail during shutdown; the tick chain simply ends.
		_ = s.Post(func() {
			s.active.Store(true)
			handler()
			s.active.Store(false)
			s.AsyncHandleEvents(handler)
		})
	})
	s.pending[timer] = struct{}{}
	s.timerMu.Unlock()
}

// Dispatch runs f to completion with reactor-thread affinity when that is
// safe. The routing rule: when the reactor is idle, f is posted to the
// reactor and the caller blocks until it has run there; while the reactor
// is inside a tick handler, f runs on a fresh dedicated thread for this
// one call instead, trading thread affinity for deadlock freedom. Threads
// are not pooled; calls landing in the active window are rare reentrant
// paths and a fresh pinned thread keeps plugin thread-local state
// isolated.
func (s *Scheduler) Dispatch(f func()) error {
	if s.active.Load() {
		thread, err := native.SpawnThread(f)
		if err != nil {
			return err
		}
		defer thread.Release()
		return thread.Join(context.Background())
	}

	done := make(chan struct{})
	if err := s.Post(func() {
		defer close(done)
		f()
	}); err != nil {
		return err
	}
	<-done
	return nil
}
