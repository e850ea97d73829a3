package native

import (
	"context"
	"fmt"
	"runtime"
)

// threadHandle is the underlying resource a Thread owns. It stays alive
// until the entry function returns, independent of which Thread value
// currently owns it.
type threadHandle struct {
	done chan struct{}
}

// Thread runs an entry function on its own dedicated OS thread. The
// goroutine locks itself to the thread and never unlocks it, so the OS
// thread is torn down when the entry function returns instead of being
// handed back to the runtime's scheduler pool. Plugin binaries keep
// per-thread state behind their entry points, and executing them on a
// shared pool thread would leak that state into unrelated work.
//
// A Thread is a single-owner handle: ownership moves with Move, and a
// moved-from Thread owns nothing. Releasing the handle does not join the
// thread; lifetime coordination stays with the caller.
//
// Use this instead of a plain goroutine for anything that calls the plugin
// binary's entry point, its load/unload operations, or its processing
// callbacks.
type Thread struct {
	handle *threadHandle
}

// SpawnThread starts entry on a new pinned OS thread. The entry function
// and everything it captures are copied into the thread before this
// returns, so the caller's locals may go out of scope immediately.
func SpawnThread(entry func()) (*Thread, error) {
	if entry == nil {
		return nil, fmt.Errorf("%w: nil thread entry point", ErrResourceAcquisition)
	}

	h := &threadHandle{done: make(chan struct{})}
	go func() {
		runtime.LockOSThread()
		// No UnlockOSThread: the thread dies with this goroutine.
		defer close(h.done)
		entry()
	}()

	return &Thread{handle: h}, nil
}

// Move transfers ownership of the underlying thread handle to a new Thread
// and leaves the receiver owning nothing.
func (t *Thread) Move() *Thread {
	moved := &Thread{handle: t.handle}
	t.handle = nil
	return moved
}

// Owns reports whether this Thread currently owns a thread handle.
func (t *Thread) Owns() bool {
	return t != nil && t.handle != nil
}

// Join blocks until the entry function has returned or ctx is cancelled.
// Joining a moved-from Thread returns immediately.
func (t *Thread) Join(ctx context.Context) error {
	if !t.Owns() {
		return nil
	}
	select {
	case <-t.handle.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release drops the handle without waiting for the thread to exit. A
// moved-from or already released Thread releases nothing.
func (t *Thread) Release() {
	if t == nil {
		return
	}
	t.handle = nil
}
