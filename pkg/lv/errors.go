package lv

import "errors"

// Local Verifier errors.
var (
	// ErrNilRNG is returned when constructing an LV with a nil RNG
	// collaborator (needed both by the embedded AuthServer and by the
	// LV's own inter-group contribution draws).
	ErrNilRNG = errors.New("lv: nil rng collaborator")
)
