package framewire

import (
	"context"
	"io"
)

// Payload is a lazy, single-consumer, finite sequence of byte chunks
// belonging to one inbound frame. Its total byte count equals the frame's
// wire payload length; it is not restartable, and it is safe to abandon
// without draining — the owning Connection finishes it off before decoding
// the next frame head (see sharedState.drainPendingLocked). Once that
// happens, this handle is stale: gen no longer matches sharedState.pending,
// so a further Next reports io.EOF rather than reading bytes that now
// belong to a later frame's payload.
type Payload struct {
	shared *sharedState
	gen    uint64
	done   bool
}

// Next returns the next chunk of the payload, io.EOF once the payload is
// exhausted (and on every call after that), ErrClosed once the owning
// Connection has been closed, or a transport/protocol error.
func (p *Payload) Next(ctx context.Context) ([]byte, error) {
	if p.done {
		return nil, io.EOF
	}

	p.shared.mu.Lock()
	defer p.shared.mu.Unlock()

	if p.shared.closed {
		return nil, ErrClosed
	}

	chunk, err := p.shared.pollPayloadChunk(ctx, p.gen)
	if err != nil {
		if err == io.EOF {
			p.done = true
		}
		return nil, err
	}
	return chunk, nil
}

// Collect drains the remainder of the payload into one contiguous buffer.
func (p *Payload) Collect(ctx context.Context) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := p.Next(ctx)
		if err == io.EOF {
			return buf, nil
		}
		if err != nil {
			return buf, err
		}
		buf = append(buf, chunk...)
	}
}
