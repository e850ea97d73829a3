package bridge

import (
	"bytes"
	"sync"
	"testing"
)

func TestPendingTable_RegisterResolve(t *testing.T) {
	table := newPendingTable()

	id, ch := table.register()
	if id == 0 {
		t.Fatal("register returned the reserved id zero")
	}

	if !table.resolve(id, []byte("answer")) {
		t.Fatal("resolve reported no waiter for a registered id")
	}

	got, ok := <-ch
	if !ok {
		t.Fatal("response channel closed instead of delivering")
	}
	if !bytes.Equal(got, []byte("answer")) {
		t.Fatalf("got %q, want %q", got, "answer")
	}
}

func TestPendingTable_UniqueIDs(t *testing.T) {
	table := newPendingTable()

	const n = 1000
	seen := make(map[uint32]bool, n)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _ := table.register()
			mu.Lock()
			defer mu.Unlock()
			if seen[id] {
				t.Errorf("id %d issued twice", id)
			}
			seen[id] = true
		}()
	}
	wg.Wait()
}

func TestPendingTable_ResolveUnknown(t *testing.T) {
	table := newPendingTable()
	if table.resolve(42, []byte("nobody home")) {
		t.Error("resolve reported a waiter for an unregistered id")
	}
}

func TestPendingTable_DropRemovesWaiter(t *testing.T) {
	table := newPendingTable()

	id, _ := table.register()
	table.drop(id)

	if table.resolve(id, []byte("late")) {
		t.Error("resolve reported a waiter after drop")
	}
}

func TestPendingTable_DuplicateResponseDropped(t *testing.T) {
	table := newPendingTable()

	id, ch := table.register()
	table.resolve(id, []byte("first"))
	table.resolve(id, []byte("second"))

	got := <-ch
	if !bytes.Equal(got, []byte("first")) {
		t.Fatalf("got %q, want the first response", got)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected second delivery %q", extra)
	default:
	}
}

func TestPendingTable_FailAllClosesWaiters(t *testing.T) {
	table := newPendingTable()

	_, ch1 := table.register()
	id2, ch2 := table.register()

	// A buffered response must still reach its caller before the close.
	table.resolve(id2, []byte("in flight"))

	table.failAll()

	if _, ok := <-ch1; ok {
		t.Error("waiter without a response received a value instead of a close")
	}

	got, ok := <-ch2
	if !ok || !bytes.Equal(got, []byte("in flight")) {
		t.Errorf("buffered response lost: got %q ok=%v", got, ok)
	}
	if _, ok := <-ch2; ok {
		t.Error("channel not closed after buffered delivery")
	}
}
