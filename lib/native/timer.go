package native

import (
	"fmt"
	"sync"
	"time"
)

// timerHandle is the underlying armed timer. Ownership moves between Timer
// values; the handle itself is stopped at most once.
type timerHandle struct {
	pump     *MessagePump
	id       uint64
	quit     chan struct{}
	stopOnce sync.Once
}

func (h *timerHandle) stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
		h.pump.disarmTimer(h.id)
	})
}

// Timer is a single-owner periodic timer bound to a message pump. While
// armed it posts a MessageTimer carrying its id into the pump every
// interval; firing is observed by draining the pump, there is no callback
// facility. Ownership moves with Move, and stopping a moved-from Timer
// disarms nothing.
type Timer struct {
	handle *timerHandle
}

// StartTimer arms a timer identified by (pump, id) firing every interval.
// Arming fails when the pump is nil, the interval is not positive, or the
// id is already armed on that pump.
func StartTimer(pump *MessagePump, id uint64, interval time.Duration) (*Timer, error) {
	if pump == nil {
		return nil, fmt.Errorf("%w: nil message pump", ErrResourceAcquisition)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: timer interval must be positive, got %v", ErrResourceAcquisition, interval)
	}
	if err := pump.armTimer(id); err != nil {
		return nil, err
	}

	h := &timerHandle{
		pump: pump,
		id:   id,
		quit: make(chan struct{}),
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.quit:
				return
			case <-ticker.C:
				pump.Post(Message{Kind: MessageTimer, TimerID: id})
			}
		}
	}()

	return &Timer{handle: h}, nil
}

// Move transfers ownership of the armed timer to a new Timer and leaves
// the receiver owning nothing.
func (t *Timer) Move() *Timer {
	moved := &Timer{handle: t.handle}
	t.handle = nil
	return moved
}

// Armed reports whether this Timer currently owns an armed timer.
func (t *Timer) Armed() bool {
	return t != nil && t.handle != nil
}

// Stop disarms the timer if it is still armed and drops the handle.
// Stopping twice, or stopping a moved-from Timer, is a no-op.
func (t *Timer) Stop() {
	if !t.Armed() {
		return
	}
	t.handle.stop()
	t.handle = nil
}
