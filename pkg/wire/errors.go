package wire

import "errors"

// Wire codec errors.
var (
	// ErrBadLength is returned when a packet buffer is not a valid
	// 7-byte short packet or 15-byte long packet for its declared type.
	ErrBadLength = errors.New("wire: invalid packet length")

	// ErrUnknownType is returned when a packet's first byte is not a
	// MsgType of the shape being decoded (short for DecodeShort, long for
	// DecodeLong), including bytes that match no MsgType at all.
	ErrUnknownType = errors.New("wire: unknown message type")

	// ErrEmptyPacket is returned when attempting to decode a zero-length
	// buffer.
	ErrEmptyPacket = errors.New("wire: empty packet")
)
