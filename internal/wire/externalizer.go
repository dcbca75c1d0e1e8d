// Package wire implements the entry externalizer and stream framing
// codec for the replication protocol. Multi-byte integers are
// big-endian throughout, matching Go's encoding/binary.BigEndian
// convention for network protocols.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"meshkv/internal/store"
)

// ErrMalformedFrame is returned by Deserialize when a length field in
// the payload exceeds the bytes actually present.
var ErrMalformedFrame = errors.New("wire: malformed frame")

const (
	flagHasValue = 1 << 0

	maxKeyLen   = 1<<16 - 1
	maxValueLen = 1<<32 - 1
)

// Serialize appends the wire form of e to buf:
//
//	u16 keyLen, keyLen*u8 key
//	u8  flags (bit 0 = has-value)
//	[ u32 valueLen, valueLen*u8 value ]  (only if has-value)
//	u64 timestamp
//	u8  modifierIdentifier
//
// It returns the number of bytes appended, which is always > 0 for a
// well-formed entry. A zero return with a nil error never happens in
// this implementation, but callers (the frame codec) must still treat
// it as "nothing to send" per the externalizer contract.
func Serialize(buf []byte, e store.Entry) ([]byte, int, error) {
	if len(e.Key) > maxKeyLen {
		return buf, 0, fmt.Errorf("wire: key too long: %d bytes", len(e.Key))
	}
	if e.HasValue && len(e.Value) > maxValueLen {
		return buf, 0, fmt.Errorf("wire: value too long: %d bytes", len(e.Value))
	}

	start := len(buf)
	var tmp [8]byte

	binary.BigEndian.PutUint16(tmp[:2], uint16(len(e.Key)))
	buf = append(buf, tmp[:2]...)
	buf = append(buf, e.Key...)

	var flags byte
	if e.HasValue {
		flags |= flagHasValue
	}
	buf = append(buf, flags)

	if e.HasValue {
		binary.BigEndian.PutUint32(tmp[:4], uint32(len(e.Value)))
		buf = append(buf, tmp[:4]...)
		buf = append(buf, e.Value...)
	}

	binary.BigEndian.PutUint64(tmp[:8], uint64(e.Timestamp))
	buf = append(buf, tmp[:8]...)
	buf = append(buf, e.ModifierID)

	return buf, len(buf) - start, nil
}

// Deserialize decodes one entry from src. src must contain exactly
// one encoded entry (the frame codec is responsible for delimiting
// it); trailing or missing bytes are both MalformedFrame.
func Deserialize(src []byte) (store.Entry, error) {
	var e store.Entry

	if len(src) < 2 {
		return e, ErrMalformedFrame
	}
	keyLen := int(binary.BigEndian.Uint16(src[:2]))
	src = src[2:]
	if len(src) < keyLen {
		return e, ErrMalformedFrame
	}
	e.Key = append([]byte{}, src[:keyLen]...)
	src = src[keyLen:]

	if len(src) < 1 {
		return e, ErrMalformedFrame
	}
	flags := src[0]
	src = src[1:]
	e.HasValue = flags&flagHasValue != 0

	if e.HasValue {
		if len(src) < 4 {
			return e, ErrMalformedFrame
		}
		valueLen := int(binary.BigEndian.Uint32(src[:4]))
		src = src[4:]
		if len(src) < valueLen {
			return e, ErrMalformedFrame
		}
		e.Value = append([]byte{}, src[:valueLen]...)
		src = src[valueLen:]
	}

	if len(src) < 9 {
		return e, ErrMalformedFrame
	}
	e.Timestamp = int64(binary.BigEndian.Uint64(src[:8]))
	e.ModifierID = src[8]
	src = src[9:]

	if len(src) != 0 {
		return e, ErrMalformedFrame
	}
	return e, nil
}
