package chain

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/phemap/groupkey/pkg/wire"
)

// HKDFChain is a deterministic pseudorandom reference implementation of
// LinkSource, useful for demos and integration tests that want
// reproducible but non-trivial chain material without a real PUF. Two
// HKDFChain instances constructed with the same seed produce identical
// sequences for a given id, matching the "two independent runs with
// identical PUF chain outputs ... produce byte-identical wire traces"
// determinism law in spec section 8.
//
// This is explicitly a test/demo collaborator, not a claim that HKDF
// output models real PUF physics. See spec section 4.1: the core only
// requires that next_link(id) be synchronised between peers, not how it
// is produced.
type HKDFChain struct {
	seed []byte

	mu      sync.Mutex
	counter map[wire.Id]uint64
}

// NewHKDFChain creates an HKDFChain deriving links from seed. Two
// peers sharing the same seed and advancing in lockstep observe
// identical link sequences per id.
func NewHKDFChain(seed []byte) *HKDFChain {
	return &HKDFChain{
		seed:    append([]byte(nil), seed...),
		counter: make(map[wire.Id]uint64),
	}
}

// NextLink implements LinkSource.
func (h *HKDFChain) NextLink(id wire.Id) wire.Link {
	h.mu.Lock()
	n := h.counter[id]
	h.counter[id] = n + 1
	h.mu.Unlock()

	info := make([]byte, 10)
	binary.BigEndian.PutUint16(info[0:2], uint16(id))
	binary.BigEndian.PutUint64(info[2:10], n)

	r := hkdf.New(sha256.New, h.seed, nil, info)
	var out [4]byte
	if _, err := r.Read(out[:]); err != nil {
		// hkdf.Expand only fails when the requested length exceeds
		// 255*hash size; 4 bytes never does.
		panic(err)
	}
	return wire.Link(binary.BigEndian.Uint32(out[:]))
}
