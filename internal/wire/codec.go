package wire

import (
	"encoding/binary"
	"errors"

	"meshkv/internal/store"
)

// ErrOversizedFrame is returned when a record's declared length
// exceeds the codec's configured maximum frame size.
var ErrOversizedFrame = errors.New("wire: oversized frame")

// heartbeatLen is the record length reserved to mean "heartbeat, no
// payload" (spec §4.4).
const heartbeatLen = 0

// FrameCodec implements the length-prefixed stream framing of spec
// §4.3 / §6.2: a 16-bit big-endian length followed by that many bytes
// of serialized entry. It tolerates arbitrary partial reads by
// buffering until a full record is available.
//
// A FrameCodec has two independent halves — inbound reassembly state
// and outbound write helpers — and holds no socket; the session owns
// the connection and feeds/drains the codec.
type FrameCodec struct {
	maxFrame int
	in       []byte
}

// NewFrameCodec creates a codec that rejects any record whose
// declared length exceeds maxFrame (the session's entryMaxSize).
func NewFrameCodec(maxFrame int) *FrameCodec {
	return &FrameCodec{maxFrame: maxFrame}
}

// Feed appends freshly read bytes to the reassembly buffer.
func (c *FrameCodec) Feed(data []byte) {
	c.in = append(c.in, data...)
}

// Buffered reports how many unconsumed bytes are held in the
// reassembly buffer, for resource-cap enforcement by the session.
func (c *FrameCodec) Buffered() int {
	return len(c.in)
}

// Next extracts the next complete record from the reassembly buffer,
// if one is available. heartbeat is true for a zero-length record; in
// that case payload is nil. ok is false when more bytes are needed.
func (c *FrameCodec) Next() (payload []byte, heartbeat bool, ok bool, err error) {
	if len(c.in) < 2 {
		return nil, false, false, nil
	}
	length := int(binary.BigEndian.Uint16(c.in[:2]))
	if c.maxFrame > 0 && length > c.maxFrame {
		return nil, false, false, ErrOversizedFrame
	}
	if len(c.in) < 2+length {
		return nil, false, false, nil
	}

	if length == heartbeatLen {
		c.in = c.in[2:]
		return nil, true, true, nil
	}

	payload = append([]byte(nil), c.in[2:2+length]...)
	c.in = c.in[2+length:]
	return payload, false, true, nil
}

// WriteEntry appends one payload record for e to dst. It reserves the
// 2-byte length prefix, serializes through the externalizer, and
// back-patches the length. If the externalizer declines (zero bytes
// written), the reservation is rolled back and wrote is false.
func (c *FrameCodec) WriteEntry(dst []byte, e store.Entry) (out []byte, wrote bool, err error) {
	start := len(dst)
	dst = append(dst, 0, 0)

	dst, n, err := Serialize(dst, e)
	if err != nil {
		return dst[:start], false, err
	}
	if n == 0 {
		return dst[:start], false, nil
	}
	if c.maxFrame > 0 && n > c.maxFrame {
		return dst[:start], false, ErrOversizedFrame
	}

	binary.BigEndian.PutUint16(dst[start:start+2], uint16(n))
	return dst, true, nil
}

// WriteHeartbeat appends a zero-length record to dst.
func (c *FrameCodec) WriteHeartbeat(dst []byte) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], heartbeatLen)
	return append(dst, tmp[:]...)
}
