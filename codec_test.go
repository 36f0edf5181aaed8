package framewire

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// goldenFrames lists known-good wire encodings for a handful of representative
// frames, unmasked and masked with the key 0x12345678.
var goldenFrames = []struct {
	name    string
	head    FrameHead
	payload string
	wire    string
	masked  string
}{
	{
		name: "empty text",
		head: FrameHead{Fin: true, Opcode: OpText},
		wire: "\x81\x00", masked: "\x81\x80\x12\x34\x56\x78",
	},
	{
		name: "one byte binary", head: FrameHead{Fin: true, Opcode: OpBinary},
		payload: "\a",
		wire:    "\x82\x01\a", masked: "\x82\x81\x12\x34\x56\x78\x15",
	},
	{
		name: "hello text", head: FrameHead{Fin: true, Opcode: OpText},
		payload: "hello",
		wire:    "\x81\x05hello", masked: "\x81\x85\x12\x34\x56\x78\x7a\x51\x3a\x14\x7d",
	},
	{
		name: "126-byte boundary", head: FrameHead{Fin: true, Opcode: OpText},
		payload: strings.Repeat("!", 126),
		wire:    "\x81\x7e\x00\x7e" + strings.Repeat("!", 126),
		masked:  "\x81\xfe\x00\x7e\x12\x34\x56\x78" + strings.Repeat("\x33\x15\x77\x59", 31) + "\x33\x15",
	},
}

var testMask = [4]byte{0x12, 0x34, 0x56, 0x78}

func TestEncodeHeadGolden(t *testing.T) {
	for _, g := range goldenFrames {
		t.Run(g.name, func(t *testing.T) {
			buf := encodeHead(nil, g.head, uint64(len(g.payload)), nil)
			buf = append(buf, g.payload...)
			if string(buf) != g.wire {
				t.Errorf("unmasked: got %q, want %q", buf, g.wire)
			}

			buf = encodeHead(nil, g.head, uint64(len(g.payload)), &testMask)
			body := []byte(g.payload)
			maskBytes(body, testMask, 0)
			buf = append(buf, body...)
			if string(buf) != g.masked {
				t.Errorf("masked: got %q, want %q", buf, g.masked)
			}
		})
	}
}

func TestDecodeHeadGolden(t *testing.T) {
	for _, g := range goldenFrames {
		t.Run(g.name, func(t *testing.T) {
			n, head, payloadLen, mask, err := decodeHead([]byte(g.wire))
			if err != nil {
				t.Fatalf("decode unmasked: %v", err)
			}
			if n != len(g.wire)-len(g.payload) {
				t.Errorf("consumed %d bytes, want %d", n, len(g.wire)-len(g.payload))
			}
			if diff := cmp.Diff(g.head, head); diff != "" {
				t.Errorf("head mismatch (-want +got):\n%s", diff)
			}
			if payloadLen != uint64(len(g.payload)) {
				t.Errorf("payloadLen = %d, want %d", payloadLen, len(g.payload))
			}
			if mask != nil {
				t.Errorf("unexpected mask in unmasked frame")
			}

			n, head, payloadLen, mask, err = decodeHead([]byte(g.masked))
			if err != nil {
				t.Fatalf("decode masked: %v", err)
			}
			if diff := cmp.Diff(g.head, head); diff != "" {
				t.Errorf("masked head mismatch (-want +got):\n%s", diff)
			}
			if payloadLen != uint64(len(g.payload)) {
				t.Errorf("masked payloadLen = %d, want %d", payloadLen, len(g.payload))
			}
			if mask == nil || *mask != testMask {
				t.Errorf("mask = %v, want %v", mask, testMask)
			}
			_ = n
		})
	}
}

// TestFrameRoundTrip checks that for every opcode, rsv and fin combination,
// encode then decode yields the same tuple and bit-identical payload.
func TestFrameRoundTrip(t *testing.T) {
	opcodes := []Opcode{OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong, Opcode(3), Opcode(11)}
	payloads := [][]byte{nil, []byte("x"), []byte(strings.Repeat("y", 200)), []byte(strings.Repeat("z", 70000))}

	for _, op := range opcodes {
		for _, fin := range []bool{true, false} {
			for _, rsv := range [][3]bool{{false, false, false}, {true, false, true}} {
				for _, payload := range payloads {
					for _, mask := range []*[4]byte{nil, &testMask} {
						head := FrameHead{Fin: fin, Rsv: rsv, Opcode: op}

						buf := encodeHead(nil, head, uint64(len(payload)), mask)
						body := append([]byte(nil), payload...)
						if mask != nil {
							maskBytes(body, *mask, 0)
						}
						buf = append(buf, body...)

						n, gotHead, gotLen, gotMask, err := decodeHead(buf)
						if err != nil {
							t.Fatalf("decode: %v", err)
						}
						if diff := cmp.Diff(head, gotHead); diff != "" {
							t.Fatalf("head mismatch (-want +got):\n%s", diff)
						}
						if gotLen != uint64(len(payload)) {
							t.Fatalf("payloadLen = %d, want %d", gotLen, len(payload))
						}
						if (mask == nil) != (gotMask == nil) {
							t.Fatalf("mask presence mismatch")
						}
						if mask != nil {
							gotBody := append([]byte(nil), buf[n:n+len(payload)]...)
							maskBytes(gotBody, *gotMask, 0)
							if !bytesEqual(gotBody, payload) {
								t.Fatalf("payload mismatch after unmasking")
							}
						} else {
							gotBody := buf[n : n+len(payload)]
							if !bytesEqual(gotBody, payload) {
								t.Fatalf("payload mismatch")
							}
						}
					}
				}
			}
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestLengthFieldMinimality checks that encodeHead always picks the shortest
// length form that can represent the payload length.
func TestLengthFieldMinimality(t *testing.T) {
	cases := []struct {
		length   uint64
		wantForm byte // the second-byte size field, before the mask bit
	}{
		{0, 0},
		{125, 125},
		{126, 126},
		{65535, 126},
		{65536, 127},
		{1 << 32, 127},
	}
	for _, c := range cases {
		buf := encodeHead(nil, FrameHead{Fin: true, Opcode: OpBinary}, c.length, nil)
		if buf[1] != c.wantForm {
			t.Errorf("length %d: second byte = %d, want %d", c.length, buf[1], c.wantForm)
		}
	}
}

func TestDecodeHead64BitMSBRejected(t *testing.T) {
	buf := []byte{0x82, 127, 0x80, 0, 0, 0, 0, 0, 0, 0}
	_, _, _, _, err := decodeHead(buf)
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("got %v, want *ProtocolError", err)
	}
}

func TestDecodeHeadIncomplete(t *testing.T) {
	full := []byte{0x82, 126, 0, 200}
	for n := 0; n < len(full); n++ {
		_, _, _, _, err := decodeHead(full[:n])
		if !errors.Is(err, ErrIncomplete) {
			t.Errorf("prefix length %d: got %v, want ErrIncomplete", n, err)
		}
	}
	if _, _, _, _, err := decodeHead(full); err != nil {
		t.Errorf("full header: unexpected error %v", err)
	}
}

// TestMaskingInvolution checks that applying the same mask twice restores
// the original payload.
func TestMaskingInvolution(t *testing.T) {
	key := [4]byte{0xAA, 0xBB, 0xCC, 0xDD}
	original := []byte(strings.Repeat("The quick brown fox jumps over the lazy dog. ", 37))

	p := append([]byte(nil), original...)
	maskBytes(p, key, 0)
	if bytesEqual(p, original) {
		t.Fatal("masking once should change the payload")
	}
	maskBytes(p, key, 0)
	if !bytesEqual(p, original) {
		t.Fatal("masking twice with the same key should restore the payload")
	}
}
