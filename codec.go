package framewire

import "encoding/binary"

// first frame byte layout
const (
	opcodeBits   = 0x0f
	reservedBits = 0x70
	finalFlag    = 0x80
)

// second frame byte layout
const (
	sizeBits = 0x7f
	maskFlag = 0x80
)

// decodeHead parses the frame header prefixing buf. It returns the number
// of bytes consumed, the decoded head, the wire payload length, and the
// masking key if one was present. ErrIncomplete means buf does not yet hold
// a full header; the caller must append more bytes and call decodeHead
// again from the start — no intermediate state survives across calls.
func decodeHead(buf []byte) (n int, head FrameHead, payloadLen uint64, mask *[4]byte, err error) {
	if len(buf) < 2 {
		return 0, FrameHead{}, 0, nil, ErrIncomplete
	}

	b0 := buf[0]
	head.Fin = b0&finalFlag != 0
	head.Rsv[0] = b0&0x40 != 0
	head.Rsv[1] = b0&0x20 != 0
	head.Rsv[2] = b0&0x10 != 0
	head.Opcode = Opcode(b0 & opcodeBits)

	b1 := buf[1]
	masked := b1&maskFlag != 0
	size := b1 & sizeBits

	offset := 2
	switch {
	case size < 126:
		payloadLen = uint64(size)
	case size == 126:
		if len(buf) < offset+2 {
			return 0, FrameHead{}, 0, nil, ErrIncomplete
		}
		payloadLen = uint64(binary.BigEndian.Uint16(buf[offset : offset+2]))
		offset += 2
	default: // size == 127
		if len(buf) < offset+8 {
			return 0, FrameHead{}, 0, nil, ErrIncomplete
		}
		payloadLen = binary.BigEndian.Uint64(buf[offset : offset+8])
		offset += 8
		if payloadLen&(1<<63) != 0 {
			return 0, FrameHead{}, 0, nil, &ProtocolError{Msg: "64-bit payload length has MSB set"}
		}
	}

	if masked {
		if len(buf) < offset+4 {
			return 0, FrameHead{}, 0, nil, ErrIncomplete
		}
		var key [4]byte
		copy(key[:], buf[offset:offset+4])
		mask = &key
		offset += 4
	}

	return offset, head, payloadLen, mask, nil
}

// encodeHead appends the wire form of a frame header (and only the header —
// payload bytes are appended separately) to dst and returns the extended
// slice. The 7-bit/16-bit/64-bit length form is chosen by payloadLen: under
// 126 uses the 7-bit field, up to 0xFFFF uses 126 plus a 16-bit field,
// otherwise 127 plus a 64-bit field.
func encodeHead(dst []byte, head FrameHead, payloadLen uint64, mask *[4]byte) []byte {
	var b0 byte
	if head.Fin {
		b0 |= finalFlag
	}
	if head.Rsv[0] {
		b0 |= 0x40
	}
	if head.Rsv[1] {
		b0 |= 0x20
	}
	if head.Rsv[2] {
		b0 |= 0x10
	}
	b0 |= byte(head.Opcode) & opcodeBits
	dst = append(dst, b0)

	var b1 byte
	if mask != nil {
		b1 |= maskFlag
	}

	switch {
	case payloadLen < 126:
		dst = append(dst, b1|byte(payloadLen))
	case payloadLen <= 0xFFFF:
		dst = append(dst, b1|126)
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(payloadLen))
		dst = append(dst, lenBuf[:]...)
	default:
		dst = append(dst, b1|127)
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], payloadLen)
		dst = append(dst, lenBuf[:]...)
	}

	if mask != nil {
		dst = append(dst, mask[:]...)
	}
	return dst
}

// maskBytes XORs p in place with key, cycling the key every 4 bytes. i is
// the index of p[0] within the logical payload, so callers can mask a
// message split across multiple calls (e.g. streamed chunks) without
// re-deriving the rotation — the index resets only at the start of a new
// frame.
func maskBytes(p []byte, key [4]byte, i int) {
	for j := range p {
		p[j] ^= key[(i+j)%4]
	}
}
