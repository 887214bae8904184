// Package chain defines the PUF-chain and RNG collaborator contracts the
// core automata consume (spec section 4.1 and section 9 "Determinism").
// The core never manages chain state beyond calling these collaborators
// in order; it assumes the collaborator advances its own counters.
// Re-provisioning after exhaustion or desync is out of scope.
package chain

import "github.com/phemap/groupkey/pkg/wire"

// LinkSource returns fresh one-time PUF-chain elements. Consecutive
// calls for a given id on two synchronised peers MUST yield the same
// pre-shared sequence a0, a1, a2, ... Implementations are expected to
// advance the per-id counter on every call; the core consumes links in
// strict order and treats any mismatch at the receiver as a REINIT
// condition.
type LinkSource interface {
	// NextLink returns the next chain element for id.
	NextLink(id wire.Id) wire.Link
}

// RNG returns fresh pseudo-random 32-bit values for session nonces and
// secret tokens drawn locally by an AS or LV (spec section 4.4.1,
// 4.4.3, 4.4.4, 4.5.2). Unlike LinkSource, RNG draws are not required to
// be synchronised across peers.
type RNG interface {
	// Next returns a fresh 32-bit value.
	Next() uint32
}
