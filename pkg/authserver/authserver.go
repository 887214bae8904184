// Package authserver implements the Authentication Server automaton
// (spec sections 3.2 and 4.4): it authenticates devices via their PUF
// chain, distributes intra-group key shares, and handles join/leave
// rekeys and their confirmations.
package authserver

import (
	"sync"

	"github.com/pion/logging"

	"github.com/phemap/groupkey/pkg/chain"
	"github.com/phemap/groupkey/pkg/wire"
)

// MaxAuthDevices bounds the number of devices a single AuthServer can
// enrol, per spec section 5 ("all sizes are compile-time bounded by
// MAX_AUTH; no dynamic allocation is required in the core"). Callers
// needing a different bound can tune it with WithMaxAuthDevices, but the
// AuthServer never grows past whatever bound is configured.
const MaxAuthDevices = 64

// State is an AuthServer automaton state.
type State int

const (
	// WaitStartReq is the initial state: no install in progress.
	WaitStartReq State = iota
	// WaitStartConf is entered after sending START_PK packets; the AS
	// is collecting confirmations.
	WaitStartConf
	// WaitForUpdates is entered once all pending confirmations have
	// arrived and at least one member holds the live key.
	WaitForUpdates
)

func (s State) String() string {
	switch s {
	case WaitStartReq:
		return "WaitStartReq"
	case WaitStartConf:
		return "WaitStartConf"
	case WaitForUpdates:
		return "WaitForUpdates"
	default:
		return "Unknown"
	}
}

// AuthServer holds the state of a single Authentication Server (spec
// section 3.2).
//
// Invariants (checked by the test suite, spec section 8):
//  1. In WaitForUpdates: private_key == XOR of sr_key[i] for i in
//     group_members, XORed with session_nonce.
//  2. pending_count == number of Ids with pending_conf[id] == true.
type AuthServer struct {
	asID     wire.Id
	authDevs []wire.Id          // enrolled device ids, in enrolment order
	authIdx  map[wire.Id]int    // id -> index into authDevs, for membership tests
	maxAuth  int

	chainSrc chain.LinkSource
	rng      chain.RNG
	timer    Timer
	log      logging.LeveledLogger

	mu sync.Mutex

	state State

	groupMembers map[wire.Id]bool
	srKey        map[wire.Id]wire.Key
	pendingConf  map[wire.Id]bool
	pendingCount int

	sessionNonce wire.Nonce
	secretToken  wire.Token
	privateKey   wire.Key
	pkInstalled  bool

	unicastBuf   map[wire.Id][]byte
	unicastQueue []wire.Id

	broadcastBuf     []byte
	broadcastPresent bool
}

// Option configures an AuthServer at construction time.
type Option func(*AuthServer)

// WithLogger overrides the AS's logger.
func WithLogger(l logging.LeveledLogger) Option {
	return func(a *AuthServer) { a.log = l }
}

// WithMaxAuthDevices overrides MaxAuthDevices for this instance.
func WithMaxAuthDevices(n int) Option {
	return func(a *AuthServer) { a.maxAuth = n }
}

// New creates an AuthServer with identifier id, managing the given
// enrolled device ids, drawing PUF-chain links from src and fresh
// randomness from rng, with timer as its WaitStartConf watchdog.
func New(id wire.Id, enrolled []wire.Id, src chain.LinkSource, rng chain.RNG, timer Timer, opts ...Option) (*AuthServer, error) {
	if src == nil || rng == nil {
		return nil, ErrNilChain
	}

	a := &AuthServer{
		asID:         id,
		chainSrc:     src,
		rng:          rng,
		timer:        timer,
		maxAuth:      MaxAuthDevices,
		state:        WaitStartReq,
		groupMembers: make(map[wire.Id]bool),
		srKey:        make(map[wire.Id]wire.Key),
		pendingConf:  make(map[wire.Id]bool),
		unicastBuf:   make(map[wire.Id][]byte),
	}
	for _, opt := range opts {
		opt(a)
	}
	if len(enrolled) > a.maxAuth {
		return nil, ErrTooManyDevices
	}
	if a.log == nil {
		a.log = logging.NewDefaultLoggerFactory().NewLogger("phemap-gk/as")
	}
	if timer == nil {
		a.timer = NewNoopTimer()
	}

	a.authDevs = append([]wire.Id(nil), enrolled...)
	a.authIdx = make(map[wire.Id]int, len(enrolled))
	for i, id := range a.authDevs {
		a.authIdx[id] = i
	}

	return a, nil
}

// ASID returns this AS's own identifier.
func (a *AuthServer) ASID() wire.Id { return a.asID }

// State returns the AS's current automaton state.
func (a *AuthServer) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// NumPart returns the number of devices currently holding the live key.
func (a *AuthServer) NumPart() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groupMembers)
}

// PendingCount returns the number of outstanding confirmations.
func (a *AuthServer) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pendingCount
}

// PrivateKey returns the AS's current intra-group private key.
func (a *AuthServer) PrivateKey() wire.Key {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.privateKey
}

// SecretToken returns the AS's current intra-group secret token. An LV
// uses its downstream AS role's secret token to sign LV_SUP_KEY_INSTALL
// pushes (spec section 4.5.3).
func (a *AuthServer) SecretToken() wire.Token {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.secretToken
}

// PkInstalled reports whether this AS has completed at least one full
// install (the pending_count==0 && num_part>0 milestone). An LV checks
// this on its embedded Device and AS roles to decide when to begin
// inter-group key construction (spec section 4.5).
func (a *AuthServer) PkInstalled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pkInstalled
}

// IsMember reports whether id currently holds the live key.
func (a *AuthServer) IsMember(id wire.Id) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.groupMembers[id]
}

// IsEnrolled reports whether id is in auth_devs.
func (a *AuthServer) IsEnrolled(id wire.Id) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.authIdx[id]
	return ok
}

// TakeUnicast drains the single outbound slot addressed to dest, per
// spec section 9 design note 3 (indexed by destination Id).
func (a *AuthServer) TakeUnicast(dest wire.Id) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pkt, ok := a.unicastBuf[dest]
	if !ok {
		return nil, false
	}
	delete(a.unicastBuf, dest)
	a.removeFromQueue(dest)
	return pkt, true
}

// DrainNextUnicast pops the next destination from the emission-order
// queue and returns its buffered packet, for transports that prefer to
// drain in emission order rather than by destination.
func (a *AuthServer) DrainNextUnicast() (dest wire.Id, pkt []byte, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.unicastQueue) == 0 {
		return 0, nil, false
	}
	dest = a.unicastQueue[0]
	a.unicastQueue = a.unicastQueue[1:]
	pkt, ok = a.unicastBuf[dest]
	delete(a.unicastBuf, dest)
	return dest, pkt, ok
}

// TakeBroadcast drains the single broadcast slot.
func (a *AuthServer) TakeBroadcast() ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.broadcastPresent {
		return nil, false
	}
	pkt := a.broadcastBuf
	a.broadcastBuf = nil
	a.broadcastPresent = false
	return pkt, true
}

func (a *AuthServer) publishUnicast(dest wire.Id, pkt []byte) {
	if _, exists := a.unicastBuf[dest]; !exists {
		a.unicastQueue = append(a.unicastQueue, dest)
	}
	// Single-slot per destination: overwrite, per spec section 5.
	a.unicastBuf[dest] = pkt
}

func (a *AuthServer) publishBroadcast(pkt []byte) {
	a.broadcastBuf = pkt
	a.broadcastPresent = true
}

func (a *AuthServer) removeFromQueue(dest wire.Id) {
	for i, id := range a.unicastQueue {
		if id == dest {
			a.unicastQueue = append(a.unicastQueue[:i], a.unicastQueue[i+1:]...)
			return
		}
	}
}

func (a *AuthServer) markPending(id wire.Id) {
	if !a.pendingConf[id] {
		a.pendingConf[id] = true
		a.pendingCount++
	}
}

// reinit resets the AS to WaitStartReq and clears the watchdog timer, per
// spec section 7 ("any malformed length, unknown type for current
// state, ... drives the automaton to WaitStartReq ... returns REINIT").
func (a *AuthServer) reinit() wire.Ret {
	a.state = WaitStartReq
	a.timer.Clear()
	a.log.Warnf("as %d: REINIT", a.asID)
	return wire.Reinit
}

// Step feeds an inbound packet into the automaton and returns the
// resulting Ret code (spec sections 4.4 and 6.3).
func (a *AuthServer) Step(pkt []byte) wire.Ret {
	a.mu.Lock()
	defer a.mu.Unlock()

	typ, err := wire.PeekType(pkt)
	if err != nil {
		return a.reinit()
	}

	switch a.state {
	case WaitStartReq:
		if typ == wire.StartSess {
			return a.handleBootstrap(pkt)
		}
		return a.reinit()
	case WaitStartConf:
		if typ == wire.PkConf || typ == wire.UpdateConf {
			return a.handleConfirmation(pkt, typ)
		}
		return a.reinit()
	case WaitForUpdates:
		switch typ {
		case wire.StartSess:
			return a.handleJoin(pkt)
		case wire.EndSess:
			return a.handleLeave(pkt)
		case wire.UpdateConf:
			return a.handleConfirmation(pkt, typ)
		default:
			return a.reinit()
		}
	default:
		return a.reinit()
	}
}

// authenticate implements the requester check shared by bootstrap, join
// and leave: the requester must be enrolled and its carried chain
// element must match next_link(req_id).
func (a *AuthServer) authenticate(reqID wire.Id, link wire.Link) bool {
	if _, ok := a.authIdx[reqID]; !ok {
		return false
	}
	return a.chainSrc.NextLink(reqID) == link
}
