package eventloop

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func startScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run()
	}()
	t.Cleanup(func() {
		s.Stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("scheduler did not stop in time")
		}
	})
}

func TestScheduler_TickCadenceAndActiveFlag(t *testing.T) {
	const interval = 33 * time.Millisecond
	const tickCount = 10

	s := NewWithCadence(interval, 5*time.Millisecond)
	startScheduler(t, s)

	var ticks []time.Time
	var activeDuringTick atomic.Int32
	done := make(chan struct{})

	s.AsyncHandleEvents(func() {
		if len(ticks) >= tickCount {
			return
		}
		if s.Active() {
			activeDuringTick.Add(1)
		}
		ticks = append(ticks, time.Now())
		if len(ticks) == tickCount {
			close(done)
		}
	})

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("observed only %d ticks", len(ticks))
	}
	s.Stop()

	if s.Active() {
		t.Error("scheduler should not be active outside a tick handler")
	}
	if got := activeDuringTick.Load(); got != tickCount {
		t.Errorf("Active was true during %d ticks, want %d", got, tickCount)
	}

	// The scheduled firing times advance by at least the interval per
	// tick; allow a small tolerance for timer granularity on the
	// observed times.
	const tolerance = 3 * time.Millisecond
	for i := 1; i < tickCount; i++ {
		gap := ticks[i].Sub(ticks[i-1])
		if gap < interval-tolerance {
			t.Errorf("ticks %d and %d only %v apart, want at least %v", i-1, i, gap, interval)
		}
	}
	if total := ticks[tickCount-1].Sub(ticks[0]); total < (tickCount-1)*(interval-tolerance) {
		t.Errorf("%d ticks spanned %v, want at least %v", tickCount, total, (tickCount-1)*interval)
	}
}

func TestScheduler_MinGapUnderLoad(t *testing.T) {
	const interval = 10 * time.Millisecond
	const minGap = 5 * time.Millisecond
	const handlerTime = 30 * time.Millisecond

	s := NewWithCadence(interval, minGap)
	startScheduler(t, s)

	var starts []time.Time
	var concurrent atomic.Int32
	var maxConcurrent atomic.Int32
	done := make(chan struct{})

	s.AsyncHandleEvents(func() {
		if len(starts) >= 5 {
			return
		}
		if n := concurrent.Add(1); n > maxConcurrent.Load() {
			maxConcurrent.Store(n)
		}
		starts = append(starts, time.Now())
		time.Sleep(handlerTime)
		concurrent.Add(-1)
		if len(starts) == 5 {
			close(done)
		}
	})

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("observed only %d ticks", len(starts))
	}
	s.Stop()

	if maxConcurrent.Load() > 1 {
		t.Errorf("%d ticks ran concurrently, want at most 1", maxConcurrent.Load())
	}
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		if gap < handlerTime+minGap-2*time.Millisecond {
			t.Errorf("ticks %d and %d only %v apart under load, want at least %v",
				i-1, i, gap, handlerTime+minGap)
		}
	}
}

func TestScheduler_StopCancelsFutureTicks(t *testing.T) {
	s := NewWithCadence(20*time.Millisecond, 5*time.Millisecond)
	startScheduler(t, s)

	var ticks atomic.Int32
	s.AsyncHandleEvents(func() {
		ticks.Add(1)
	})

	time.Sleep(50 * time.Millisecond)
	s.Stop()
	after := ticks.Load()

	time.Sleep(100 * time.Millisecond)
	if got := ticks.Load(); got != after {
		t.Errorf("ticks advanced from %d to %d after Stop", after, got)
	}

	if err := s.Post(func() {}); !errors.Is(err, ErrStopped) {
		t.Errorf("Post after Stop should fail with ErrStopped, got: %v", err)
	}
}

func TestScheduler_DispatchInlineWhenIdle(t *testing.T) {
	s := New()
	startScheduler(t, s)

	ran := false
	if err := s.Dispatch(func() { ran = true }); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if !ran {
		t.Error("Dispatch returned before the task ran")
	}
}

// A call arriving while the reactor is inside the event handler must not
// be posted to the reactor: the handler may be blocked waiting for that
// very call, which is the reentrancy deadlock this scheduler exists to
// break.
func TestScheduler_DispatchWhileActiveAvoidsDeadlock(t *testing.T) {
	s := NewWithCadence(10*time.Millisecond, 5*time.Millisecond)
	startScheduler(t, s)

	result := make(chan error, 1)
	var once atomic.Bool
	done := make(chan struct{})

	s.AsyncHandleEvents(func() {
		if !once.CompareAndSwap(false, true) {
			return
		}
		// The handler blocks until the inbound call completes, exactly
		// like a native message pump blocked on a reentrant round-trip.
		inboundDone := make(chan struct{})
		go func() {
			result <- s.Dispatch(func() { close(inboundDone) })
		}()
		select {
		case <-inboundDone:
		case <-time.After(2 * time.Second):
		}
		close(done)
	})

	start := time.Now()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never completed")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("handler took %v, inbound call was not routed off the reactor", elapsed)
	}
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Dispatch during active handler failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Dispatch during active handler deadlocked")
	}
}
