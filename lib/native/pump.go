// Package native wraps the process-local primitives the bridge needs to
// host a plugin binary faithfully: a message pump standing in for the
// plugin's native event queue, dedicated OS threads for code that keeps
// per-thread state, and pump-bound periodic timers.
package native

import (
	"errors"
	"fmt"
	"sync"
)

// ErrResourceAcquisition is the failure class for a native resource that
// could not be created. It is surfaced synchronously at construction time,
// never deferred.
var ErrResourceAcquisition = errors.New("failed to acquire native resource")

// MessageKind discriminates pump messages.
type MessageKind uint8

const (
	// MessageTimer is posted by an armed Timer each time it fires.
	MessageTimer MessageKind = iota + 1
	// MessageUser carries arbitrary caller data.
	MessageUser
)

// Message is one entry in a pump's queue.
type Message struct {
	Kind    MessageKind
	TimerID uint64
	Data    any
}

// MessagePump is a bounded FIFO event queue. It stands in for the native
// windowing system's per-thread message queue: timers post into it and the
// event loop drains it. Timer firings are observed here, not through
// callbacks.
type MessagePump struct {
	mu       sync.Mutex
	queue    []Message
	capacity int
	timers   map[uint64]struct{}
}

// DefaultPumpCapacity bounds the queue when the caller passes a
// non-positive capacity to NewMessagePump.
const DefaultPumpCapacity = 1024

// NewMessagePump creates a pump holding at most capacity pending messages.
func NewMessagePump(capacity int) *MessagePump {
	if capacity <= 0 {
		capacity = DefaultPumpCapacity
	}
	return &MessagePump{
		capacity: capacity,
		timers:   make(map[uint64]struct{}),
	}
}

// Post enqueues a message. When the queue is full the oldest message is
// dropped, mirroring how a saturated native queue sheds timer ticks rather
// than blocking the poster.
func (p *MessagePump) Post(m Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) >= p.capacity {
		p.queue = p.queue[1:]
	}
	p.queue = append(p.queue, m)
}

// TryNext removes and returns the oldest pending message. The second
// return value is false when the queue is empty.
func (p *MessagePump) TryNext() (Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) == 0 {
		return Message{}, false
	}
	m := p.queue[0]
	p.queue = p.queue[1:]
	return m, true
}

// Drain hands every currently pending message to handle and returns how
// many were processed. New messages posted while draining are picked up on
// the next call.
func (p *MessagePump) Drain(handle func(Message)) int {
	p.mu.Lock()
	pending := p.queue
	p.queue = nil
	p.mu.Unlock()

	for _, m := range pending {
		handle(m)
	}
	return len(pending)
}

// Pending returns the number of queued messages.
func (p *MessagePump) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// armTimer reserves a timer identifier on this pump. Identifiers are
// exclusive per pump so a disarm never tears down someone else's timer.
func (p *MessagePump) armTimer(id uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.timers[id]; exists {
		return fmt.Errorf("%w: timer id %d already armed", ErrResourceAcquisition, id)
	}
	p.timers[id] = struct{}{}
	return nil
}

// disarmTimer releases a timer identifier.
func (p *MessagePump) disarmTimer(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.timers, id)
}
