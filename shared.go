package framewire

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// readChunkSize is how much the shared state asks the transport for on
// each underlying read. It bounds how much a single poll can return, not
// how much a payload can total — larger payloads arrive over several
// chunks.
const readChunkSize = 4096

// compactThreshold is how many consumed-but-retained bytes read_buf
// tolerates before it is shifted back to the start. Kept small and
// constant so the buffer never grows unbounded across many small frames.
const compactThreshold = 8192

// pendingPayload is the bookkeeping for the inbound payload currently (or
// most recently) being drained. Its presence means a new frame head cannot
// be decoded until the current one finishes or is discarded. gen ties it to
// the one Payload handle it was minted for — see sharedState.gen.
type pendingPayload struct {
	remaining uint64
	mask      *[4]byte
	maskPos   int
	gen       uint64
}

// sharedState is the per-connection state: one read buffer, one transport,
// one pending-payload slot, all behind one mutex. Exactly one goroutine may
// be acting on the transport at a time.
type sharedState struct {
	mu sync.Mutex

	transport net.Conn
	readBuf   []byte
	readOff   int

	pending *pendingPayload
	gen     uint64
	closed  bool
}

func newSharedState(transport net.Conn) *sharedState {
	return &sharedState{transport: transport}
}

// readFill performs exactly one transport read and appends whatever it got
// to readBuf, observing ctx's deadline if it has one. It must be called
// with mu held.
func (s *sharedState) readFill(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if dl, ok := ctx.Deadline(); ok {
		s.transport.SetReadDeadline(dl)
		defer s.transport.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, readChunkSize)
	n, err := s.transport.Read(buf)
	if n > 0 {
		s.readBuf = append(s.readBuf, buf[:n]...)
	}
	return err
}

// compact drops consumed bytes from the front of readBuf once pending is
// idle and the retained slack crosses compactThreshold.
func (s *sharedState) compact() {
	if s.pending != nil {
		return
	}
	if s.readOff < compactThreshold {
		return
	}
	n := copy(s.readBuf, s.readBuf[s.readOff:])
	s.readBuf = s.readBuf[:n]
	s.readOff = 0
}

// pollPayloadChunk returns the next chunk of the payload identified by gen,
// reading from the transport as needed. If gen no longer matches the
// currently pending payload — because a later NextFrame call already
// finished or discarded it — the caller is holding a stale Payload handle,
// and this reports io.EOF without touching whatever is pending now.
// Callers must hold mu.
func (s *sharedState) pollPayloadChunk(ctx context.Context, gen uint64) ([]byte, error) {
	p := s.pending
	if p == nil || p.gen != gen {
		return nil, io.EOF
	}
	if p.remaining == 0 {
		s.pending = nil
		s.compact()
		return nil, io.EOF
	}

	for s.readOff >= len(s.readBuf) {
		if err := s.readFill(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}

	avail := len(s.readBuf) - s.readOff
	n := avail
	if uint64(n) > p.remaining {
		n = int(p.remaining)
	}

	// Copied out rather than sliced in place: readBuf is later compacted
	// in place once pending clears, which would silently corrupt any
	// alias still held by a caller.
	chunk := make([]byte, n)
	copy(chunk, s.readBuf[s.readOff:s.readOff+n])
	s.readOff += n

	if p.mask != nil {
		maskBytes(chunk, *p.mask, p.maskPos)
		p.maskPos += n
	}
	p.remaining -= uint64(n)

	if p.remaining == 0 {
		s.pending = nil
		s.compact()
	}

	return chunk, nil
}

// drainPendingLocked discards whatever remains of the current payload, so a
// Payload the caller stopped reading does not corrupt the stream — it just
// gets finished off silently before the next head is decoded. Callers must
// hold mu.
func (s *sharedState) drainPendingLocked(ctx context.Context) error {
	for s.pending != nil {
		if _, err := s.pollPayloadChunk(ctx, s.pending.gen); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
	return nil
}

// pollNextHead decodes the next frame header, reading more from the
// transport as needed. Precondition: pending is nil. Callers must hold mu.
func (s *sharedState) pollNextHead(ctx context.Context) (FrameHead, error) {
	for {
		n, head, payloadLen, mask, err := decodeHead(s.readBuf[s.readOff:])
		if err == nil {
			s.readOff += n
			s.gen++
			s.pending = &pendingPayload{remaining: payloadLen, mask: mask, gen: s.gen}
			if payloadLen == 0 {
				s.pending = nil
				s.compact()
			}
			return head, nil
		}
		if !errors.Is(err, ErrIncomplete) {
			return FrameHead{}, err
		}

		before := len(s.readBuf) - s.readOff
		if err := s.readFill(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				if before == 0 {
					return FrameHead{}, io.EOF
				}
				return FrameHead{}, io.ErrUnexpectedEOF
			}
			return FrameHead{}, err
		}
	}
}
