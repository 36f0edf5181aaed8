package framewire

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
)

// streamChunkSize bounds how much of an outbound streamed message is
// buffered at once by SendStream — one chunk, never the whole message.
const streamChunkSize = 4096

// Connection is a handle on one upgraded WebSocket transport: the shared
// read/write state plus an outbound write buffer. It is produced by an
// upgrade handshake (framewire/wshttp) and is the single entry point for
// both directions of traffic.
//
// All methods that touch the network take a context.Context: a deadline on
// the context is applied to the underlying net.Conn, and ctx.Err() is
// checked at each blocking boundary (mutex acquisition is unaffected — Go
// mutexes aren't context-aware — but the transport reads/writes behind it
// are).
type Connection struct {
	// ID identifies this connection for logging and diagnostics. It plays
	// no part in the protocol itself — assigned once at construction time,
	// a random value distinguishing concurrent connections in server logs.
	ID string

	shared   *sharedState
	writeBuf []byte
}

// NewConnection wraps an already-upgraded duplex byte stream (whatever an
// HTTP/1.1 engine handed back after the handshake) as a Connection. See
// framewire/wshttp for the client and server adapters that produce
// transport values this way.
func NewConnection(transport net.Conn) *Connection {
	return &Connection{ID: uuid.NewString(), shared: newSharedState(transport)}
}

// NextFrame waits for and returns the next inbound frame. If the previous
// frame's Payload was not fully drained by the caller, it is drained here
// on the caller's behalf before the next head is decoded — dropping a
// Payload is always safe.
func (c *Connection) NextFrame(ctx context.Context) (*Frame, error) {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()

	if c.shared.pending != nil {
		if err := c.shared.drainPendingLocked(ctx); err != nil {
			return nil, err
		}
	}

	head, err := c.shared.pollNextHead(ctx)
	if err != nil {
		return nil, err
	}

	return &Frame{
		Opcode:  head.Opcode,
		Rsv:     head.Rsv,
		Payload: &Payload{shared: c.shared, gen: c.shared.gen},
	}, nil
}

// SendFrame sends one unmasked, final frame with the given opcode, reserved
// bits and payload.
func (c *Connection) SendFrame(ctx context.Context, opcode Opcode, rsv [3]bool, payload []byte) error {
	return c.sendOne(ctx, FrameHead{Fin: true, Rsv: rsv, Opcode: opcode}, payload, nil)
}

// SendMasked sends one final frame masked with the given 4-byte key, as a
// client must for every frame it sends (RFC 6455 §5.3).
func (c *Connection) SendMasked(ctx context.Context, opcode Opcode, rsv [3]bool, payload []byte, mask [4]byte) error {
	return c.sendOne(ctx, FrameHead{Fin: true, Rsv: rsv, Opcode: opcode}, payload, &mask)
}

// sendOne serialises one frame — header plus payload, mask applied if
// present — into writeBuf and flushes it immediately; Connection has no
// separate caller-driven flush step.
func (c *Connection) sendOne(ctx context.Context, head FrameHead, payload []byte, mask *[4]byte) error {
	buf := make([]byte, 0, len(payload)+14)
	buf = encodeHead(buf, head, uint64(len(payload)), mask)
	bodyStart := len(buf)
	buf = append(buf, payload...)
	if mask != nil {
		maskBytes(buf[bodyStart:], *mask, 0)
	}

	c.shared.mu.Lock()
	c.writeBuf = append(c.writeBuf, buf...)
	c.shared.mu.Unlock()

	return c.flush(ctx)
}

// SendStream sends body as one or more frames of the given opcode: all but
// the last carry fin=0 (continuation opcode after the first), the last
// carries fin=1. Each frame is written out as soon as the next chunk is
// known to exist or not — the whole message is never buffered at once, only
// a one-chunk lookahead, needed to know whether the current chunk is last.
func (c *Connection) SendStream(ctx context.Context, opcode Opcode, rsv [3]bool, body io.Reader) error {
	readBuf := make([]byte, streamChunkSize)

	readNext := func() ([]byte, bool, error) {
		n, err := body.Read(readBuf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, readBuf[:n])
			return chunk, true, nil
		}
		if err == io.EOF {
			return nil, false, nil
		}
		return nil, false, err
	}

	pending, havePending, err := readNext()
	if err != nil {
		return err
	}
	if !havePending {
		// empty message: one empty final frame
		return c.sendOne(ctx, FrameHead{Fin: true, Rsv: rsv, Opcode: opcode}, nil, nil)
	}

	first := true
	for {
		next, nextOK, err := readNext()
		if err != nil {
			return err
		}

		op := opcode
		if !first {
			op = OpContinuation
		}
		head := FrameHead{Fin: !nextOK, Rsv: rsv, Opcode: op}
		if err := c.sendOne(ctx, head, pending, nil); err != nil {
			return err
		}
		if !nextOK {
			return nil
		}
		first = false
		pending = next
	}
}

// flush drains writeBuf to the transport.
func (c *Connection) flush(ctx context.Context) error {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()

	if c.shared.closed {
		return ErrClosed
	}
	if dl, ok := ctx.Deadline(); ok {
		c.shared.transport.SetWriteDeadline(dl)
		defer c.shared.transport.SetWriteDeadline(time.Time{})
	}

	for len(c.writeBuf) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := c.shared.transport.Write(c.writeBuf)
		c.writeBuf = c.writeBuf[n:]
		if err != nil {
			return err
		}
	}
	return nil
}

// Close shuts down the underlying transport. Outstanding Payload handles
// will subsequently fail their next Next call.
func (c *Connection) Close() error {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()

	if c.shared.closed {
		return nil
	}
	c.shared.closed = true
	return c.shared.transport.Close()
}
