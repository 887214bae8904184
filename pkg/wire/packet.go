package wire

import "encoding/binary"

// Packet sizes in bytes, per spec section 6.1.
const (
	// ShortPacketSize is the wire size of START_SESS, END_SESS, PK_CONF
	// and UPDATE_CONF packets: type(1) + sender(2) + link(4).
	ShortPacketSize = 7

	// LongPacketSize is the wire size of START_PK, UPDATE_KEY,
	// INTER_KEY_INSTALL and LV_SUP_KEY_INSTALL packets:
	// type(1) + sender(2) + field1(4) + field2(4) + sig(4).
	LongPacketSize = 15

	// LongPrefixSize is the number of leading bytes of a long packet
	// that are covered by its authenticator (everything but the
	// authenticator itself).
	LongPrefixSize = 11
)

// EncodeShort encodes a 7-byte short packet. For short packets the
// payload slot carries next_link(sender) itself: the chain element IS
// the authenticator.
func EncodeShort(typ MsgType, sender Id, link Link) []byte {
	buf := make([]byte, ShortPacketSize)
	buf[0] = byte(typ)
	binary.BigEndian.PutUint16(buf[1:3], uint16(sender))
	binary.BigEndian.PutUint32(buf[3:7], uint32(link))
	return buf
}

// DecodeShort decodes a 7-byte short packet.
func DecodeShort(buf []byte) (typ MsgType, sender Id, link Link, err error) {
	if len(buf) == 0 {
		return 0, 0, 0, ErrEmptyPacket
	}
	if len(buf) != ShortPacketSize {
		return 0, 0, 0, ErrBadLength
	}
	typ = MsgType(buf[0])
	if !typ.IsShort() {
		return 0, 0, 0, ErrUnknownType
	}
	sender = Id(binary.BigEndian.Uint16(buf[1:3]))
	link = Link(binary.BigEndian.Uint32(buf[3:7]))
	return typ, sender, link, nil
}

// EncodeLongPrefix encodes the signed prefix (everything but the trailing
// authenticator) of a long packet. Callers compute KeyedSign over this
// prefix to obtain the signature before calling EncodeLong.
func EncodeLongPrefix(typ MsgType, sender Id, field1, field2 uint32) []byte {
	buf := make([]byte, LongPrefixSize)
	buf[0] = byte(typ)
	binary.BigEndian.PutUint16(buf[1:3], uint16(sender))
	binary.BigEndian.PutUint32(buf[3:7], field1)
	binary.BigEndian.PutUint32(buf[7:11], field2)
	return buf
}

// EncodeLong encodes a full 15-byte long packet, including the
// authenticator. sig must have been computed by the caller via
// KeyedSign(EncodeLongPrefix(...), key).
func EncodeLong(typ MsgType, sender Id, field1, field2, sig uint32) []byte {
	buf := make([]byte, LongPacketSize)
	copy(buf[:LongPrefixSize], EncodeLongPrefix(typ, sender, field1, field2))
	binary.BigEndian.PutUint32(buf[11:15], sig)
	return buf
}

// DecodeLong decodes a 15-byte long packet.
func DecodeLong(buf []byte) (typ MsgType, sender Id, field1, field2, sig uint32, err error) {
	if len(buf) == 0 {
		return 0, 0, 0, 0, 0, ErrEmptyPacket
	}
	if len(buf) != LongPacketSize {
		return 0, 0, 0, 0, 0, ErrBadLength
	}
	typ = MsgType(buf[0])
	if !typ.IsLong() {
		return 0, 0, 0, 0, 0, ErrUnknownType
	}
	sender = Id(binary.BigEndian.Uint16(buf[1:3]))
	field1 = binary.BigEndian.Uint32(buf[3:7])
	field2 = binary.BigEndian.Uint32(buf[7:11])
	sig = binary.BigEndian.Uint32(buf[11:15])
	return typ, sender, field1, field2, sig, nil
}

// PeekType returns the MsgType carried by a raw packet's first byte
// without fully decoding it or checking its length. Automata use this to
// pick a handler before the short or long decoder validates the packet.
func PeekType(buf []byte) (MsgType, error) {
	if len(buf) == 0 {
		return 0, ErrEmptyPacket
	}
	return MsgType(buf[0]), nil
}

// PeekSender returns the sender Id carried at offset 1..2 of any packet
// (short or long) without fully decoding it. Every packet shape in this
// protocol carries its sender at the same offset, so an LV can classify
// an inbound packet by sender before knowing (or caring) whether it is
// short or long (spec section 4.5).
func PeekSender(buf []byte) (Id, error) {
	if len(buf) < 3 {
		return 0, ErrBadLength
	}
	return Id(binary.BigEndian.Uint16(buf[1:3])), nil
}
