package wire

import "encoding/binary"

// datagramHeaderSize is the 2-byte inverted-length guard plus the
// 2-byte length that precede every UDP packet payload (spec §4.6 /
// §6.3).
const datagramHeaderSize = 4

// EncodeDatagram wraps one serialized entry's bytes with the
// inverted-length guard header and returns the full packet.
func EncodeDatagram(payload []byte) []byte {
	out := make([]byte, datagramHeaderSize+len(payload))
	length := uint16(len(payload))
	binary.BigEndian.PutUint16(out[0:2], ^length)
	binary.BigEndian.PutUint16(out[2:4], length)
	copy(out[datagramHeaderSize:], payload)
	return out
}

// DecodeDatagram validates and strips the datagram header. It returns
// ok=false (never an error) when the guard doesn't match or the
// packet is short: spec §4.6 requires malformed datagrams be dropped
// silently, not surfaced as an error.
func DecodeDatagram(packet []byte) (payload []byte, ok bool) {
	if len(packet) < datagramHeaderSize {
		return nil, false
	}
	invertedLength := binary.BigEndian.Uint16(packet[0:2])
	length := binary.BigEndian.Uint16(packet[2:4])
	if invertedLength != ^length {
		return nil, false
	}
	remaining := packet[datagramHeaderSize:]
	if len(remaining) != int(length) {
		return nil, false
	}
	return remaining, true
}
