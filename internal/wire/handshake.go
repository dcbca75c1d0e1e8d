package wire

import "encoding/binary"

// WelcomeSize is the fixed size of the handshake record: one byte of
// node identifier followed by an eight-byte timestamp.
const WelcomeSize = 1 + 8

// EncodeWelcome appends the welcome record (spec §4.4 / §6.2) to dst.
func EncodeWelcome(dst []byte, identifier byte, lastSeenTimestamp int64) []byte {
	dst = append(dst, identifier)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(lastSeenTimestamp))
	return append(dst, tmp[:]...)
}

// DecodeWelcome parses a welcome record. src must be exactly
// WelcomeSize bytes.
func DecodeWelcome(src []byte) (identifier byte, lastSeenTimestamp int64, err error) {
	if len(src) != WelcomeSize {
		return 0, 0, ErrMalformedFrame
	}
	identifier = src[0]
	lastSeenTimestamp = int64(binary.BigEndian.Uint64(src[1:9]))
	return identifier, lastSeenTimestamp, nil
}
