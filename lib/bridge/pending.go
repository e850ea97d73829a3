package bridge

import (
	"sync"
	"sync/atomic"
)

// pendingTable correlates outstanding requests with the responses that
// answer them. Both endpoints carry one: each side can issue blocking
// round-trips while servicing the other side's.
type pendingTable struct {
	mu       sync.RWMutex
	requests map[uint32]chan []byte
	nextID   atomic.Uint32
}

func newPendingTable() *pendingTable {
	return &pendingTable{requests: make(map[uint32]chan []byte)}
}

// register allocates a request id and a buffered response channel for it.
// Id zero is skipped; the frame layer treats it as unsolicited.
func (p *pendingTable) register() (uint32, chan []byte) {
	ch := make(chan []byte, 1)
	for {
		id := p.nextID.Add(1)
		if id == 0 {
			continue
		}

		p.mu.Lock()
		if _, exists := p.requests[id]; exists {
			p.mu.Unlock()
			continue
		}
		p.requests[id] = ch
		p.mu.Unlock()
		return id, ch
	}
}

// resolve delivers a response to the request waiting on id. It reports
// whether a request was actually waiting.
func (p *pendingTable) resolve(id uint32, data []byte) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ch, exists := p.requests[id]
	if !exists {
		return false
	}
	// The send stays under the lock so failAll cannot close the channel
	// mid-delivery. It never blocks: the channel is buffered and duplicate
	// responses are dropped, the first one wins.
	select {
	case ch <- data:
	default:
	}
	return true
}

// drop removes a request entry, typically after its caller has returned.
func (p *pendingTable) drop(id uint32) {
	p.mu.Lock()
	delete(p.requests, id)
	p.mu.Unlock()
}

// failAll closes every outstanding response channel so blocked callers
// observe shutdown instead of hanging.
func (p *pendingTable) failAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.requests {
		close(ch)
		delete(p.requests, id)
	}
}
