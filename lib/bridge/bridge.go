package bridge

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crossproc/bridge.go/lib/framing"
)

// Built-in service names used by the connection protocol itself.
const (
	serviceReady            = "ready"
	serviceConfigure        = "configure"
	serviceShutdown         = "shutdown"
	serviceShutdownAck      = "shutdown_ack"
	serviceForceShutdown    = "force_shutdown"
	serviceForceShutdownAck = "force_shutdown_ack"
)

// readyTimeout bounds how long Connect waits for the remote side to report
// it is serving.
const readyTimeout = 10 * time.Second

// CallbackHandler services a request initiated by the remote side. A
// returned error is delivered to the remote caller as a failure payload.
type CallbackHandler func(ctx context.Context, payload []byte) ([]byte, error)

// NotifyHandler services a notification initiated by the remote side.
type NotifyHandler func(ctx context.Context, payload []byte) error

// Bridge is the host side of the call channel. Calls issued through one
// Bridge by a single goroutine reach the remote side in the order they
// were issued; no ordering is guaranteed across goroutines.
type Bridge struct {
	provider ChannelProvider
	conn     *framing.Conn
	pending  *pendingTable

	sessionID     string
	configPayload []byte
	logger        *log.Logger

	runCtx context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	wg     sync.WaitGroup

	readySignal chan struct{}
	shutdownAck chan struct{}
	forceAck    chan struct{}

	handlerMu        sync.RWMutex
	callbackHandlers map[string]CallbackHandler
	notifyHandlers   map[string]NotifyHandler
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithConfigPayload ships the given configuration to the remote side
// immediately after the ready handshake.
func WithConfigPayload(payload []byte) Option {
	return func(b *Bridge) { b.configPayload = payload }
}

// WithLogger replaces the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// New creates a Bridge over the given channel provider.
func New(provider ChannelProvider, opts ...Option) (*Bridge, error) {
	sessionID, err := NewSessionID()
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		provider:         provider,
		pending:          newPendingTable(),
		sessionID:        sessionID,
		logger:           log.Default(),
		readySignal:      make(chan struct{}, 1),
		shutdownAck:      make(chan struct{}, 1),
		forceAck:         make(chan struct{}, 1),
		callbackHandlers: make(map[string]CallbackHandler),
		notifyHandlers:   make(map[string]NotifyHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// SessionID identifies this bridge session in logs and endpoint names.
func (b *Bridge) SessionID() string {
	return b.sessionID
}

// RegisterCallbackHandler installs a handler for requests the remote side
// initiates under name.
func (b *Bridge) RegisterCallbackHandler(name string, h CallbackHandler) {
	b.handlerMu.Lock()
	defer b.handlerMu.Unlock()
	b.callbackHandlers[name] = h
}

// RegisterNotifyHandler installs a handler for notifications the remote
// side sends under name.
func (b *Bridge) RegisterNotifyHandler(name string, h NotifyHandler) {
	b.handlerMu.Lock()
	defer b.handlerMu.Unlock()
	b.notifyHandlers[name] = h
}

// Connect opens the channel, starts the receive loop, waits for the remote
// side's ready signal, and ships the configuration payload if one was
// provided.
func (b *Bridge) Connect(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}

	reader, writer, err := b.provider.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	b.conn = framing.NewConn(reader, writer)
	b.runCtx, b.cancel = context.WithCancel(context.Background())

	b.wg.Add(1)
	go b.receiveLoop()

	if err := b.waitForReady(ctx); err != nil {
		b.cancel()
		b.provider.Close()
		return err
	}

	if b.configPayload != nil {
		if err := b.Notify(ctx, serviceConfigure, b.configPayload); err != nil {
			return fmt.Errorf("failed to ship configuration: %w", err)
		}
	}
	return nil
}

func (b *Bridge) waitForReady(ctx context.Context) error {
	select {
	case <-b.readySignal:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: cancelled waiting for ready signal: %v", ErrTransport, ctx.Err())
	case <-b.runCtx.Done():
		return fmt.Errorf("%w: channel closed before ready signal", ErrTransport)
	case <-time.After(readyTimeout):
		return fmt.Errorf("%w: timed out waiting for ready signal", ErrTransport)
	}
}

// Call sends a request to the remote side and blocks until the response
// arrives. The payload is returned exactly as the remote handler produced
// it. A broken round-trip surfaces as ErrTransport; a failure reported by
// the remote handler surfaces as *RemoteError. Calls are never retried
// here: the remote operation may have observable side effects.
func (b *Bridge) Call(ctx context.Context, name string, payload []byte) ([]byte, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if b.conn == nil {
		return nil, fmt.Errorf("%w: bridge not connected", ErrTransport)
	}

	header := Header{Name: name, Type: MessageTypeRequest, Payload: payload}
	data, err := header.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode request header: %w", err)
	}

	id, responseCh := b.pending.register()
	defer b.pending.drop(id)

	if err := b.conn.WriteFrameWithSequence(ctx, id, data); err != nil {
		return nil, fmt.Errorf("%w: failed to send request: %v", ErrTransport, err)
	}

	select {
	case responseData, ok := <-responseCh:
		if !ok {
			return nil, fmt.Errorf("%w: channel closed while waiting for response", ErrTransport)
		}
		var response Header
		if err := response.UnmarshalBinary(responseData); err != nil {
			return nil, fmt.Errorf("%w: malformed response: %v", ErrTransport, err)
		}
		if response.IsError {
			return nil, &RemoteError{Service: name, Message: string(response.Payload)}
		}
		return response.Payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.runCtx.Done():
		return nil, fmt.Errorf("%w: bridge is shutting down", ErrTransport)
	}
}

// Notify sends a message to the remote side without expecting a response.
func (b *Bridge) Notify(ctx context.Context, name string, payload []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if b.conn == nil {
		return fmt.Errorf("%w: bridge not connected", ErrTransport)
	}

	header := Header{Name: name, Type: MessageTypeNotify, Payload: payload}
	data, err := header.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode notify header: %w", err)
	}
	if err := b.conn.WriteFrame(ctx, data); err != nil {
		return fmt.Errorf("%w: failed to send notification: %v", ErrTransport, err)
	}
	return nil
}

func (b *Bridge) receiveLoop() {
	defer b.wg.Done()
	defer b.pending.failAll()

	frames, err := b.conn.ReadFrames(b.runCtx)
	if err != nil {
		return
	}

	for {
		select {
		case <-b.runCtx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}

			var header Header
			if err := header.UnmarshalBinary(frame.Data); err != nil {
				b.logger.Printf("bridge: dropping malformed frame: %v", err)
				continue
			}

			if b.handleBuiltin(&header) {
				continue
			}

			switch header.Type {
			case MessageTypeResponse, MessageTypeError:
				if frame.Sequence != 0 && b.pending.resolve(frame.Sequence, frame.Data) {
					continue
				}
				b.logger.Printf("bridge: unsolicited response for %s", header.Name)
			case MessageTypeRequest:
				b.serveCallback(header, frame.Sequence)
			case MessageTypeNotify:
				b.serveNotify(header)
			}
		}
	}
}

// handleBuiltin consumes protocol-internal messages. Returns true when the
// header was one of them.
func (b *Bridge) handleBuiltin(header *Header) bool {
	var signal chan struct{}
	switch header.Name {
	case serviceReady:
		signal = b.readySignal
	case serviceShutdownAck:
		signal = b.shutdownAck
	case serviceForceShutdownAck:
		signal = b.forceAck
	default:
		return false
	}
	select {
	case signal <- struct{}{}:
	default:
	}
	return true
}

func (b *Bridge) serveCallback(header Header, seq uint32) {
	b.handlerMu.RLock()
	handler, exists := b.callbackHandlers[header.Name]
	b.handlerMu.RUnlock()

	// Callbacks run off the receive loop so a blocking callback can itself
	// trigger further traffic without stalling response delivery.
	go func() {
		ctx, cancelCtx := context.WithCancel(b.runCtx)
		defer cancelCtx()

		var response Header
		if !exists {
			response = Header{
				Name:    header.Name,
				Type:    MessageTypeError,
				IsError: true,
				Payload: []byte(fmt.Sprintf("no callback handler registered for %s", header.Name)),
			}
		} else if payload, err := handler(ctx, header.Payload); err != nil {
			response = Header{
				Name:    header.Name,
				Type:    MessageTypeError,
				IsError: true,
				Payload: []byte(err.Error()),
			}
		} else {
			response = Header{Name: header.Name, Type: MessageTypeResponse, Payload: payload}
		}

		data, err := response.MarshalBinary()
		if err != nil {
			b.logger.Printf("bridge: failed to encode callback response for %s: %v", header.Name, err)
			return
		}
		if err := b.conn.WriteFrameWithSequence(ctx, seq, data); err != nil {
			b.logger.Printf("bridge: failed to send callback response for %s: %v", header.Name, err)
		}
	}()
}

func (b *Bridge) serveNotify(header Header) {
	b.handlerMu.RLock()
	handler, exists := b.notifyHandlers[header.Name]
	b.handlerMu.RUnlock()
	if !exists {
		return
	}

	go func() {
		ctx, cancelCtx := context.WithCancel(b.runCtx)
		defer cancelCtx()
		if err := handler(ctx, header.Payload); err != nil {
			b.logger.Printf("bridge: notify handler %s failed: %v", header.Name, err)
		}
	}()
}

// Close shuts the bridge down gracefully: it asks the remote side to stop,
// waits briefly for the acknowledgment, then tears down the channel.
func (b *Bridge) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	if b.conn != nil {
		ctx, cancelCtx := context.WithTimeout(context.Background(), 500*time.Millisecond)
		header := Header{Name: serviceShutdown, Type: MessageTypeNotify}
		if data, err := header.MarshalBinary(); err == nil {
			if err := b.conn.WriteFrame(ctx, data); err == nil {
				select {
				case <-b.shutdownAck:
				case <-time.After(2 * time.Second):
				}
			}
		}
		cancelCtx()
	}

	return b.teardown(2 * time.Second)
}

// ForceClose tears the bridge down without waiting for graceful shutdown.
func (b *Bridge) ForceClose() error {
	if !b.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	if b.conn != nil {
		ctx, cancelCtx := context.WithTimeout(context.Background(), 200*time.Millisecond)
		header := Header{Name: serviceForceShutdown, Type: MessageTypeNotify}
		if data, err := header.MarshalBinary(); err == nil {
			if err := b.conn.WriteFrame(ctx, data); err == nil {
				select {
				case <-b.forceAck:
				case <-time.After(500 * time.Millisecond):
				}
			}
		}
		cancelCtx()
	}

	return b.teardown(500 * time.Millisecond)
}

func (b *Bridge) teardown(wait time.Duration) error {
	if b.cancel != nil {
		b.cancel()
	}
	closeErr := b.provider.Close()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(wait):
	}
	return closeErr
}
