package authserver

import "errors"

// Authentication Server errors.
var (
	// ErrTooManyDevices is returned when enrolling more devices than
	// MaxAuthDevices allows.
	ErrTooManyDevices = errors.New("authserver: too many enrolled devices")

	// ErrNilChain is returned when constructing an AuthServer with a
	// nil LinkSource or RNG collaborator.
	ErrNilChain = errors.New("authserver: nil chain or rng collaborator")
)
