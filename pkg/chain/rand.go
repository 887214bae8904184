package chain

import (
	"crypto/rand"
	"encoding/binary"
)

// CryptoRNG implements RNG using crypto/rand. It is the production
// default for nodes that do not inject a test double.
type CryptoRNG struct{}

// NewCryptoRNG returns a CryptoRNG.
func NewCryptoRNG() *CryptoRNG {
	return &CryptoRNG{}
}

// Next implements RNG.
func (CryptoRNG) Next() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand.Read on the system reader only fails if the OS
		// entropy source is unavailable, which this module treats as
		// fatal rather than silently degrading key material quality.
		panic(err)
	}
	return binary.BigEndian.Uint32(buf[:])
}
