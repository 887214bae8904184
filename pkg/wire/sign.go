package wire

import "encoding/binary"

// KeyedSign computes the 32-bit authenticator used throughout the
// protocol. The message is folded as big-endian 32-bit words,
// XOR-accumulated with the key mixed into every word; the final partial
// word is zero-padded on the right before it is folded in, rather than
// being read out of bounds. See spec section 6.2 and design note/open
// question 2: this is the explicit resolution of the source's
// "8*(new_buff_size - buff_size)" shift, which can only ever be a
// right-zero-pad of the trailing bytes of the last word.
//
// This construction is interoperable across all three roles and MUST be
// byte-identical between implementations: keyed_sign(b1^b2, k) ==
// keyed_sign(b1, k) ^ keyed_sign(b2, k) ^ keyed_sign(0, k) for any two
// buffers b1, b2 of equal length (see spec section 8).
func KeyedSign(buf []byte, key uint32) uint32 {
	n := len(buf)
	if n == 0 {
		return key
	}

	words := (n + 3) / 4
	var acc uint32

	// Full words.
	for i := 0; i < words-1; i++ {
		word := binary.BigEndian.Uint32(buf[4*i : 4*i+4])
		acc ^= word ^ key
	}

	// Final word: zero-pad on the right to 4 bytes before folding.
	tailStart := 4 * (words - 1)
	var last [4]byte
	copy(last[:], buf[tailStart:n])
	word := binary.BigEndian.Uint32(last[:])
	acc ^= word ^ key

	return acc
}
