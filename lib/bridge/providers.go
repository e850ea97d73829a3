package bridge

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/crossproc/bridge.go/lib/process"
)

// ChannelProvider abstracts how the byte channel between the two processes
// is established. The bridge does not care whether the peer sits behind a
// pipe, a unix socket, or an in-memory pair.
type ChannelProvider interface {
	// Open establishes the channel and returns its reader and writer.
	Open(ctx context.Context) (io.Reader, io.Writer, error)
	// Close releases any resources held by the channel.
	Close() error
}

// StdioProvider launches the remote host binary and talks to it over the
// child's stdin/stdout.
type StdioProvider struct {
	// Path is the remote host binary to launch.
	Path string
	// Args are passed to the binary, typically the plugin path and
	// endpoint location.
	Args []string

	proc *process.Process
}

// Open implements ChannelProvider by spawning the remote process.
func (s *StdioProvider) Open(ctx context.Context) (io.Reader, io.Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	p, err := process.Start(s.Path, s.Args...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	s.proc = p
	return p.Reader(), p.Writer(), nil
}

// Close terminates the remote process if one was started.
func (s *StdioProvider) Close() error {
	if s.proc == nil {
		return nil
	}
	return s.proc.Close()
}

// Process exposes the running child so the owner can monitor its exit.
func (s *StdioProvider) Process() *process.Process {
	return s.proc
}

// UnixSocketProvider connects the two processes over a unix domain socket.
// The listening side creates the socket; the dialing side waits for it to
// appear and connects.
type UnixSocketProvider struct {
	SocketPath string
	Listen     bool

	listener net.Listener
	conn     net.Conn
}

// Open implements ChannelProvider for unix domain sockets.
func (u *UnixSocketProvider) Open(ctx context.Context) (io.Reader, io.Writer, error) {
	if u.Listen {
		_ = os.Remove(u.SocketPath)

		listener, err := net.Listen("unix", u.SocketPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to listen on %s: %w", u.SocketPath, err)
		}
		u.listener = listener

		connCh := make(chan net.Conn, 1)
		errCh := make(chan error, 1)
		go func() {
			conn, err := listener.Accept()
			if err != nil {
				errCh <- err
				return
			}
			connCh <- conn
		}()

		select {
		case conn := <-connCh:
			u.conn = conn
			return conn, conn, nil
		case err := <-errCh:
			return nil, nil, fmt.Errorf("failed to accept connection: %w", err)
		case <-ctx.Done():
			listener.Close()
			return nil, nil, ctx.Err()
		}
	}

	// Dialing side: the peer may not have created the socket yet.
	var dialErr error
	for {
		if err := ctx.Err(); err != nil {
			if dialErr != nil {
				return nil, nil, fmt.Errorf("giving up dialing %s: %w", u.SocketPath, dialErr)
			}
			return nil, nil, err
		}
		conn, err := net.Dial("unix", u.SocketPath)
		if err == nil {
			u.conn = conn
			return conn, conn, nil
		}
		dialErr = err
		time.Sleep(50 * time.Millisecond)
	}
}

// Close shuts down the connection and listener.
func (u *UnixSocketProvider) Close() error {
	var firstErr error
	if u.conn != nil {
		if err := u.conn.Close(); err != nil {
			firstErr = err
		}
	}
	if u.listener != nil {
		if err := u.listener.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		_ = os.Remove(u.SocketPath)
	}
	return firstErr
}

// PipeProvider wraps an existing reader/writer pair, used for in-process
// wiring and tests.
type PipeProvider struct {
	R io.Reader
	W io.Writer
}

// Open implements ChannelProvider for a pre-established pair.
func (p *PipeProvider) Open(ctx context.Context) (io.Reader, io.Writer, error) {
	return p.R, p.W, nil
}

// Close is a no-op; the pair's owner closes it.
func (p *PipeProvider) Close() error {
	return nil
}
