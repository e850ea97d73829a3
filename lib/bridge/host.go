package bridge

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crossproc/bridge.go/lib/framing"
)

// Handler services one request arriving from the host side. A returned
// error travels back to the host as a failure payload.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Dispatcher decides where an inbound call executes. It must run the task
// to completion before returning. The event loop scheduler's Dispatch
// satisfies this and implements the deadlock-avoiding routing rule; the
// default dispatcher simply runs the task on the calling goroutine.
type Dispatcher func(task func()) error

// Host is the remote side of the call channel: it owns the real plugin
// component, applies received calls to registered handlers, and can issue
// blocking callbacks into the host process.
type Host struct {
	conn    *framing.Conn
	pending *pendingTable

	dispatcher Dispatcher
	onConfig   func(payload []byte) error
	logger     *log.Logger

	serveCtx context.Context
	cancel   context.CancelFunc
	closed   atomic.Bool

	handlerMu sync.RWMutex
	handlers  map[string]Handler

	activeJobs sync.WaitGroup
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithDispatcher routes every inbound request through d. Wire the group
// scheduler's Dispatch here so calls get event-thread affinity without
// risking reentrancy deadlock.
func WithDispatcher(d Dispatcher) HostOption {
	return func(h *Host) { h.dispatcher = d }
}

// WithConfigHook installs a hook invoked with the configuration payload
// the host ships after the ready handshake.
func WithConfigHook(hook func(payload []byte) error) HostOption {
	return func(h *Host) { h.onConfig = hook }
}

// WithHostLogger replaces the default logger.
func WithHostLogger(logger *log.Logger) HostOption {
	return func(h *Host) { h.logger = logger }
}

// NewHost creates the remote side over an established reader/writer pair,
// typically os.Stdin/os.Stdout when spawned by a StdioProvider.
func NewHost(reader io.Reader, writer io.Writer, opts ...HostOption) *Host {
	h := &Host{
		conn:       framing.NewConn(reader, writer),
		pending:    newPendingTable(),
		dispatcher: func(task func()) error { task(); return nil },
		logger:     log.Default(),
		handlers:   make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register installs a handler for requests addressed to name. Handlers
// registered after Serve has started are picked up by subsequent requests.
func (h *Host) Register(name string, fn Handler) {
	h.handlerMu.Lock()
	defer h.handlerMu.Unlock()
	h.handlers[name] = fn
}

// Serve announces readiness and processes inbound traffic until the host
// asks for shutdown, the channel breaks, or ctx is cancelled. It returns
// nil on an orderly shutdown.
func (h *Host) Serve(ctx context.Context) error {
	if h.closed.Load() {
		return ErrClosed
	}
	h.serveCtx, h.cancel = context.WithCancel(ctx)
	defer h.cancel()
	defer h.pending.failAll()

	frames, err := h.conn.ReadFrames(h.serveCtx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	if err := h.sendNotify(h.serveCtx, serviceReady, nil); err != nil {
		return fmt.Errorf("failed to announce readiness: %w", err)
	}

	for {
		select {
		case <-h.serveCtx.Done():
			return h.serveCtx.Err()
		case frame, ok := <-frames:
			if !ok {
				h.closed.Store(true)
				return fmt.Errorf("%w: channel closed", ErrTransport)
			}

			var header Header
			if err := header.UnmarshalBinary(frame.Data); err != nil {
				h.logger.Printf("host: dropping malformed frame: %v", err)
				continue
			}

			switch header.Name {
			case serviceConfigure:
				h.applyConfig(header.Payload)
				continue
			case serviceShutdown:
				return h.finishGraceful()
			case serviceForceShutdown:
				return h.finishForced()
			}

			switch header.Type {
			case MessageTypeRequest:
				h.serveRequest(header, frame.Sequence)
			case MessageTypeResponse, MessageTypeError:
				if frame.Sequence != 0 && h.pending.resolve(frame.Sequence, frame.Data) {
					continue
				}
				h.logger.Printf("host: unsolicited response for %s", header.Name)
			case MessageTypeNotify:
				h.serveRequest(header, 0)
			}
		}
	}
}

func (h *Host) applyConfig(payload []byte) {
	if h.onConfig == nil {
		return
	}
	if err := h.onConfig(payload); err != nil {
		h.logger.Printf("host: failed to apply configuration: %v", err)
	}
}

// finishGraceful waits for in-flight handlers, then acknowledges the
// shutdown so the host knows nothing was dropped.
func (h *Host) finishGraceful() error {
	h.closed.Store(true)
	h.activeJobs.Wait()

	ctx, cancelCtx := context.WithTimeout(context.Background(), time.Second)
	defer cancelCtx()
	if err := h.sendNotify(ctx, serviceShutdownAck, nil); err != nil {
		return fmt.Errorf("failed to acknowledge shutdown: %w", err)
	}
	return nil
}

// finishForced acknowledges immediately; in-flight handlers are abandoned.
func (h *Host) finishForced() error {
	h.closed.Store(true)
	h.cancel()

	ctx, cancelCtx := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancelCtx()
	_ = h.sendNotify(ctx, serviceForceShutdownAck, nil)
	return nil
}

// serveRequest runs the handler for one inbound request through the
// dispatcher and, when seq is non-zero, sends the result back under the
// request's sequence number. Each request gets its own goroutine so a
// blocking handler never stalls the serve loop; the dispatcher then
// decides which thread actually executes it.
func (h *Host) serveRequest(header Header, seq uint32) {
	h.handlerMu.RLock()
	handler, exists := h.handlers[header.Name]
	h.handlerMu.RUnlock()

	h.activeJobs.Add(1)
	go func() {
		defer h.activeJobs.Done()

		var payload []byte
		var handlerErr error
		if !exists {
			handlerErr = fmt.Errorf("no handler registered for service %s", header.Name)
		} else if err := h.dispatcher(func() {
			payload, handlerErr = handler(h.serveCtx, header.Payload)
		}); err != nil {
			handlerErr = fmt.Errorf("failed to dispatch %s: %w", header.Name, err)
		}

		if seq == 0 {
			if handlerErr != nil {
				h.logger.Printf("host: notification handler %s failed: %v", header.Name, handlerErr)
			}
			return
		}

		response := Header{Name: header.Name, Type: MessageTypeResponse, Payload: payload}
		if handlerErr != nil {
			response = Header{
				Name:    header.Name,
				Type:    MessageTypeError,
				IsError: true,
				Payload: []byte(handlerErr.Error()),
			}
		}
		data, err := response.MarshalBinary()
		if err != nil {
			h.logger.Printf("host: failed to encode response for %s: %v", header.Name, err)
			return
		}
		if err := h.conn.WriteFrameWithSequence(h.serveCtx, seq, data); err != nil {
			h.logger.Printf("host: failed to send response for %s: %v", header.Name, err)
		}
	}()
}

// Callback sends a request to the host process and blocks until the
// response arrives, mirroring Bridge.Call in the other direction.
func (h *Host) Callback(ctx context.Context, name string, payload []byte) ([]byte, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}

	header := Header{Name: name, Type: MessageTypeRequest, Payload: payload}
	data, err := header.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode callback header: %w", err)
	}

	id, responseCh := h.pending.register()
	defer h.pending.drop(id)

	if err := h.conn.WriteFrameWithSequence(ctx, id, data); err != nil {
		return nil, fmt.Errorf("%w: failed to send callback: %v", ErrTransport, err)
	}

	select {
	case responseData, ok := <-responseCh:
		if !ok {
			return nil, fmt.Errorf("%w: channel closed while waiting for callback response", ErrTransport)
		}
		var response Header
		if err := response.UnmarshalBinary(responseData); err != nil {
			return nil, fmt.Errorf("%w: malformed callback response: %v", ErrTransport, err)
		}
		if response.IsError {
			return nil, &RemoteError{Service: name, Message: string(response.Payload)}
		}
		return response.Payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NotifyHost sends a notification to the host process.
func (h *Host) NotifyHost(ctx context.Context, name string, payload []byte) error {
	if h.closed.Load() {
		return ErrClosed
	}
	return h.sendNotify(ctx, name, payload)
}

func (h *Host) sendNotify(ctx context.Context, name string, payload []byte) error {
	header := Header{Name: name, Type: MessageTypeNotify, Payload: payload}
	data, err := header.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := h.conn.WriteFrame(ctx, data); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}
