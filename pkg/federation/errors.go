package federation

import "errors"

// ErrNilRNG is returned by New when no RNG collaborator is supplied.
var ErrNilRNG = errors.New("federation: nil rng collaborator")
