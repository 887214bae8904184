// Package lv implements the Local Verifier automaton (spec sections 3.3
// and 4.5): a composite node that plays Device toward an upstream
// Authentication Server, plays AuthServer toward its own downstream
// devices, and additionally cooperates with peer LVs to construct a
// federation-wide inter-group key.
package lv

import (
	"fmt"
	"sync"

	"github.com/pion/logging"

	"github.com/phemap/groupkey/pkg/authserver"
	"github.com/phemap/groupkey/pkg/chain"
	"github.com/phemap/groupkey/pkg/device"
	"github.com/phemap/groupkey/pkg/wire"
)

// LV holds the state of a single Local Verifier (spec section 3.3).
//
// Invariant (checked by the test suite): once is_inter_installed is
// true, inter_group_key equals the XOR of every LV's contribution (its
// own, section 4.5.2, and every peer's, section 4.5.1), taken at the
// moment each was integrated.
type LV struct {
	id      wire.Id
	peerIdx map[wire.Id]bool

	dev *device.Device
	as  *authserver.AuthServer

	rng chain.RNG
	log logging.LeveledLogger

	mu sync.Mutex

	interGroupKey     wire.Key
	interSessNonce    wire.Nonce
	groupSecretToken  wire.Token
	numInstallPending int
	isInterInstalled  bool
	contributed       bool

	lvBroadcastBuf     []byte
	lvBroadcastPresent bool

	devBroadcastBuf     []byte
	devBroadcastPresent bool
}

// Option configures an LV at construction time.
type Option func(*LV)

// WithLogger overrides the LV's own logger. The embedded Device and
// AuthServer roles keep their own default component loggers
// ("phemap-gk/device", "phemap-gk/as") regardless of this option.
func WithLogger(l logging.LeveledLogger) Option {
	return func(lv *LV) { lv.log = l }
}

// New creates a Local Verifier with identifier id. It plays Device
// toward the upstream Authentication Server asID (drawing links from
// upstreamChain), and plays AuthServer toward its own enrolled devices
// (drawing links from downstreamChain, with timer as its WaitStartConf
// watchdog). peers lists the identifiers of every OTHER LV in the
// federation; rng supplies both the embedded AS's fresh randomness and
// the LV's own inter-group contribution draws (spec section 4.5.2).
func New(id, asID wire.Id, upstreamChain chain.LinkSource, enrolled []wire.Id, downstreamChain chain.LinkSource, rng chain.RNG, peers []wire.Id, timer authserver.Timer, opts ...Option) (*LV, error) {
	if rng == nil {
		return nil, ErrNilRNG
	}

	as, err := authserver.New(id, enrolled, downstreamChain, rng, timer)
	if err != nil {
		return nil, err
	}
	dev := device.New(id, asID, upstreamChain)

	peerIdx := make(map[wire.Id]bool, len(peers))
	for _, p := range peers {
		peerIdx[p] = true
	}

	l := &LV{
		id:                id,
		peerIdx:           peerIdx,
		dev:               dev,
		as:                as,
		rng:               rng,
		numInstallPending: len(peers) + 1, // peers' shares plus this LV's own
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logging.NewDefaultLoggerFactory().NewLogger("phemap-gk/lv")
	}
	return l, nil
}

// ID returns this LV's own identifier.
func (l *LV) ID() wire.Id { return l.id }

// Device exposes the embedded upstream Device role, e.g. to drive
// StartSession/EndSession toward the upper AS or inspect its state.
func (l *LV) Device() *device.Device { return l.dev }

// AuthServer exposes the embedded downstream AuthServer role, e.g. to
// inspect group membership or drain its unicast/broadcast buffers.
func (l *LV) AuthServer() *authserver.AuthServer { return l.as }

// IsInterInstalled reports whether the inter-group key has reached its
// steady state (every peer's share integrated, including this LV's own).
func (l *LV) IsInterInstalled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isInterInstalled
}

// InterGroupKey returns the current federation-wide inter-group key.
func (l *LV) InterGroupKey() wire.Key {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interGroupKey
}

// GroupSecretToken returns the current federation-wide group secret
// token.
func (l *LV) GroupSecretToken() wire.Token {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.groupSecretToken
}

// NumInstallPending returns the number of inter-group shares (this LV's
// own plus each peer's) still outstanding.
func (l *LV) NumInstallPending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.numInstallPending
}

// TakeLVBroadcast drains the single outbound slot addressed to peer
// LVs (carries INTER_KEY_INSTALL, spec section 4.5.2).
func (l *LV) TakeLVBroadcast() ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.lvBroadcastPresent {
		return nil, false
	}
	pkt := l.lvBroadcastBuf
	l.lvBroadcastBuf = nil
	l.lvBroadcastPresent = false
	return pkt, true
}

// TakeDevBroadcast drains the single outbound slot addressed to this
// LV's own downstream devices (carries LV_SUP_KEY_INSTALL, spec section
// 4.5.3), distinct from the embedded AuthServer's own broadcast slot,
// which carries UPDATE_KEY.
func (l *LV) TakeDevBroadcast() ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.devBroadcastPresent {
		return nil, false
	}
	pkt := l.devBroadcastBuf
	l.devBroadcastBuf = nil
	l.devBroadcastPresent = false
	return pkt, true
}

func (l *LV) publishLVBroadcast(pkt []byte) {
	l.lvBroadcastBuf = pkt
	l.lvBroadcastPresent = true
}

func (l *LV) publishDevBroadcast(pkt []byte) {
	l.devBroadcastBuf = pkt
	l.devBroadcastPresent = true
}

// Step classifies pkt by its sender Id and dispatches to the
// corresponding role (spec section 4.5). A sender outside every known
// class is a transport contract violation: the transport must never
// forward an identity that is neither the upstream AS, a listed peer
// LV, nor an enrolled downstream device.
func (l *LV) Step(pkt []byte) wire.Ret {
	l.mu.Lock()
	defer l.mu.Unlock()

	sender, err := wire.PeekSender(pkt)
	if err != nil {
		l.log.Warnf("lv %d: packet too short to classify sender", l.id)
		return wire.Reinit
	}

	switch {
	case sender == l.dev.ASID():
		ret := l.dev.Step(pkt)
		if ret == wire.InstallOK && l.as.PkInstalled() {
			l.initiateInterGroupInstall()
		}
		return ret

	case l.peerIdx[sender]:
		return l.handlePeerLV(pkt)

	case l.as.IsEnrolled(sender):
		ret := l.as.Step(pkt)
		if ret == wire.InstallOK && l.dev.IsPkInstalled() {
			l.initiateInterGroupInstall()
		}
		return ret

	default:
		panic(fmt.Sprintf("lv %d: packet from unrecognised sender %d; the transport must not forward foreign identities", l.id, sender))
	}
}

// handlePeerLV implements spec section 4.5.1.
func (l *LV) handlePeerLV(pkt []byte) wire.Ret {
	typ, sender, f1, f2, sig, err := wire.DecodeLong(pkt)
	if err != nil || typ != wire.InterKeyInstall {
		l.log.Warnf("lv %d: malformed INTER_KEY_INSTALL from %d", l.id, sender)
		return wire.Reinit
	}

	prefix := wire.EncodeLongPrefix(typ, sender, f1, f2)
	if wire.KeyedSign(prefix, uint32(l.dev.SecretToken())) != sig {
		l.log.Warnf("lv %d: AUTH_FAILED on INTER_KEY_INSTALL from %d", l.id, sender)
		return wire.AuthFailed
	}

	l.interGroupKey ^= wire.Key(f1) ^ l.dev.PK()
	l.groupSecretToken ^= wire.Token(f2) ^ wire.Token(l.dev.PK())

	if !l.isInterInstalled {
		l.numInstallPending--
		if l.numInstallPending <= 0 {
			l.isInterInstalled = true
			l.log.Debugf("lv %d: inter-group key installed", l.id)
			l.pushToDevices()
		}
	} else {
		// Already steady-state: this is a rekey from a peer, propagate
		// immediately rather than waiting on a fresh install_pending
		// count.
		l.pushToDevices()
	}
	return wire.OK
}

// initiateInterGroupInstall implements spec section 4.5.2. It runs at
// most once per LV lifetime: the contribution is drawn fresh only the
// first time either role reports pk_installed on both sides.
func (l *LV) initiateInterGroupInstall() {
	if l.contributed {
		return
	}
	l.contributed = true

	token := wire.Token(l.rng.Next())
	nonce := wire.Nonce(l.rng.Next())

	keyPart := wire.Key(token) ^ l.as.PrivateKey()
	l.interGroupKey ^= keyPart
	l.groupSecretToken ^= token
	l.interSessNonce = nonce

	encKey := uint32(keyPart) ^ uint32(l.dev.PK())
	encSt := uint32(l.groupSecretToken) ^ uint32(l.dev.PK())
	prefix := wire.EncodeLongPrefix(wire.InterKeyInstall, l.id, encKey, encSt)
	sign := wire.KeyedSign(prefix, uint32(l.dev.SecretToken()))
	l.publishLVBroadcast(wire.EncodeLong(wire.InterKeyInstall, l.id, encKey, encSt, sign))

	if !l.isInterInstalled {
		l.numInstallPending--
		if l.numInstallPending <= 0 {
			l.isInterInstalled = true
			l.log.Debugf("lv %d: inter-group key installed (own contribution closed it)", l.id)
			l.pushToDevices()
		}
	}
}

// pushToDevices implements spec section 4.5.3.
func (l *LV) pushToDevices() {
	encKey := uint32(l.interGroupKey) ^ uint32(l.as.PrivateKey())
	encSt := uint32(l.groupSecretToken) ^ uint32(l.as.PrivateKey())
	prefix := wire.EncodeLongPrefix(wire.LvSupKeyInstall, l.id, encKey, encSt)
	sign := wire.KeyedSign(prefix, uint32(l.as.SecretToken()))
	l.publishDevBroadcast(wire.EncodeLong(wire.LvSupKeyInstall, l.id, encKey, encSt, sign))
	l.log.Debugf("lv %d: pushed LV_SUP_KEY_INSTALL to own devices", l.id)
}
