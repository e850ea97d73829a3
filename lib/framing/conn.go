// Package framing implements the sequence-numbered frame layer both bridge
// endpoints ride on. A frame is a header of [type:1][sequence:4][length:4]
// in big-endian order followed by the payload. Frames written through one
// Conn are delivered to the peer in the order they were written.
package framing

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

const (
	// HeaderSize is the fixed size of the frame header in bytes.
	HeaderSize = 9

	// MaxFrameSize caps a single frame payload at 10 MB.
	MaxFrameSize = 10 * 1024 * 1024
)

// Frame type markers. Only complete frames travel on the wire; a reader
// that observes an unknown type treats the stream as corrupt.
const (
	FrameTypeMessage = uint8(0x01)
	FrameTypeAbort   = uint8(0x02)
)

// ErrFrameTooLarge is returned when a payload exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame payload exceeds maximum size")

// Frame is one received message together with the sequence number the
// sender attached to it.
type Frame struct {
	Sequence uint32
	Data     []byte
}

// Conn frames messages over an io.Reader/io.Writer pair. Writes are
// serialized under an internal lock so concurrent callers never interleave
// partial frames; the read side assumes a single consumer.
type Conn struct {
	reader io.Reader
	writer io.Writer

	writeMu  sync.Mutex
	sequence atomic.Uint32
}

// NewConn wraps the given reader and writer. Neither is closed by the Conn;
// the owner of the underlying channel stays responsible for that.
func NewConn(reader io.Reader, writer io.Writer) *Conn {
	return &Conn{reader: reader, writer: writer}
}

// WriteFrame sends data with the next automatically assigned sequence
// number.
func (c *Conn) WriteFrame(ctx context.Context, data []byte) error {
	return c.WriteFrameWithSequence(ctx, c.sequence.Add(1), data)
}

// WriteFrameWithSequence sends data with an explicit sequence number. This
// is used for responses, which must echo the sequence of the request they
// answer.
func (c *Conn) WriteFrameWithSequence(ctx context.Context, seq uint32, data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	header := make([]byte, HeaderSize)
	header[0] = FrameTypeMessage
	binary.BigEndian.PutUint32(header[1:5], seq)
	binary.BigEndian.PutUint32(header[5:9], uint32(len(data)))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.writer.Write(header); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if len(data) > 0 {
		if _, err := c.writer.Write(data); err != nil {
			return fmt.Errorf("failed to write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrames starts a reader goroutine and returns the channel it delivers
// frames on. The channel is closed when the stream ends, the stream turns
// out to be corrupt, or ctx is cancelled. Only one ReadFrames loop may be
// active per Conn.
func (c *Conn) ReadFrames(ctx context.Context) (<-chan *Frame, error) {
	if c.reader == nil {
		return nil, errors.New("conn has no reader")
	}

	const frameBufferLength = 256
	ch := make(chan *Frame, frameBufferLength)

	go func() {
		defer close(ch)

		header := make([]byte, HeaderSize)
		for {
			if ctx.Err() != nil {
				return
			}

			if _, err := io.ReadFull(c.reader, header); err != nil {
				// EOF and a torn-down pipe both signal the peer is gone.
				return
			}

			frameType := header[0]
			seq := binary.BigEndian.Uint32(header[1:5])
			length := binary.BigEndian.Uint32(header[5:9])

			if frameType == FrameTypeAbort {
				return
			}
			if frameType != FrameTypeMessage || length > MaxFrameSize {
				return
			}

			data := make([]byte, length)
			if _, err := io.ReadFull(c.reader, data); err != nil {
				return
			}

			select {
			case ch <- &Frame{Sequence: seq, Data: data}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// Abort writes an abort frame telling the peer's read loop to terminate.
// Used during forced shutdown when no more messages will follow.
func (c *Conn) Abort(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	header := make([]byte, HeaderSize)
	header[0] = FrameTypeAbort

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.writer.Write(header); err != nil {
		return fmt.Errorf("failed to write abort frame: %w", err)
	}
	return nil
}
