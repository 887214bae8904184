// Package device implements the Device automaton (spec sections 3.1 and
// 4.3): a node that joins exactly one Authentication Server, installs
// and updates an intra-group key and secret token, and optionally
// receives an inter-group key pushed down by a Local Verifier.
package device

import (
	"sync"

	"github.com/pion/logging"

	"github.com/phemap/groupkey/pkg/chain"
	"github.com/phemap/groupkey/pkg/wire"
)

// State is a Device automaton state.
type State int

const (
	// WaitStartPk is the initial state: the device has not yet
	// installed an intra-group key.
	WaitStartPk State = iota
	// WaitForUpdate is entered once an intra-group key has been
	// installed; the device accepts rekeys and supergroup pushes.
	WaitForUpdate
)

func (s State) String() string {
	switch s {
	case WaitStartPk:
		return "WaitStartPk"
	case WaitForUpdate:
		return "WaitForUpdate"
	default:
		return "Unknown"
	}
}

// Device holds the state of a single device in the federation (spec
// section 3.1).
//
// Invariant: is_pk_installed <=> state == WaitForUpdate, EXCEPT
// transiently after an update/supergroup-class failure, where the
// policy in spec section 3.1 keeps is_pk_installed true while resetting
// state to WaitStartPk (install failures clear installed status, update
// failures do not; see the design note on reinit), and after
// StartSession or EndSession, which return to WaitStartPk without
// clearing is_pk_installed.
type Device struct {
	id    wire.Id
	asID  wire.Id
	chain chain.LinkSource
	log   logging.LeveledLogger

	mu sync.Mutex

	state          State
	isPkInstalled  bool
	pk             wire.Key
	secretToken    wire.Token
	interGroupKey  wire.Key
	interGroupTok  wire.Token
	hasInterGroup  bool
	outbound       []byte
	outboundReady  bool
}

// Option configures a Device at construction time.
type Option func(*Device)

// WithLogger overrides the device's logger. By default a Device logs
// through logging.NewDefaultLoggerFactory()'s "phemap-gk/device" logger.
func WithLogger(l logging.LeveledLogger) Option {
	return func(d *Device) { d.log = l }
}

// New creates a Device with id id expecting to be managed by the
// Authentication Server asID, drawing PUF-chain material from src.
func New(id, asID wire.Id, src chain.LinkSource, opts ...Option) *Device {
	d := &Device{
		id:    id,
		asID:  asID,
		chain: src,
		state: WaitStartPk,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = logging.NewDefaultLoggerFactory().NewLogger("phemap-gk/device")
	}
	return d
}

// ID returns the device's own identifier.
func (d *Device) ID() wire.Id { return d.id }

// ASID returns the identifier of the AS this device expects to manage it.
func (d *Device) ASID() wire.Id { return d.asID }

// State returns the device's current automaton state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// IsPkInstalled reports whether the intra-group key has been installed.
func (d *Device) IsPkInstalled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isPkInstalled
}

// PK returns the current intra-group key.
func (d *Device) PK() wire.Key {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pk
}

// SecretToken returns the current intra-group secret token.
func (d *Device) SecretToken() wire.Token {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.secretToken
}

// InterGroupKey returns the inter-group key, if one has been installed
// by a Local Verifier via LV_SUP_KEY_INSTALL.
func (d *Device) InterGroupKey() (key wire.Key, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.interGroupKey, d.hasInterGroup
}

// InterGroupToken returns the inter-group secret token, if one has been
// installed.
func (d *Device) InterGroupToken() (tok wire.Token, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.interGroupTok, d.hasInterGroup
}

// TakeOutbound drains the single-slot outbound buffer. The transport is
// expected to call this after observing PendingOutbound, per the
// "publish into a slot, the transport drains it" output model (spec
// section 5).
func (d *Device) TakeOutbound() ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.outboundReady {
		return nil, false
	}
	pkt := d.outbound
	d.outbound = nil
	d.outboundReady = false
	return pkt, true
}

// PendingOutbound reports whether an undrained packet is buffered.
func (d *Device) PendingOutbound() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outboundReady
}

func (d *Device) publish(pkt []byte) {
	// Single-slot buffer: a write before the transport drains the
	// previous one overwrites it (spec section 5).
	d.outbound = pkt
	d.outboundReady = true
}

// StartSession forms a START_SESS packet, buffers it for the transport,
// and (re-)enters WaitStartPk. Calling it while already in WaitStartPk
// is a no-op state-wise; it simply re-sends.
func (d *Device) StartSession() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	link := d.chain.NextLink(d.id)
	pkt := wire.EncodeShort(wire.StartSess, d.id, link)
	d.publish(pkt)
	d.state = WaitStartPk
	d.log.Debugf("device %d: START_SESS -> as %d", d.id, d.asID)
	return pkt
}

// EndSession forms an END_SESS packet, buffers it for the transport, and
// returns the device to WaitStartPk.
func (d *Device) EndSession() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	link := d.chain.NextLink(d.id)
	pkt := wire.EncodeShort(wire.EndSess, d.id, link)
	d.publish(pkt)
	d.state = WaitStartPk
	d.log.Debugf("device %d: END_SESS -> as %d", d.id, d.asID)
	return pkt
}

// Step feeds an inbound packet into the automaton and returns the
// resulting Ret code (spec sections 4.3 and 6.3). The packet's sender
// Id, carried at a fixed offset in every packet shape, is read from pkt
// itself rather than passed out of band.
func (d *Device) Step(pkt []byte) wire.Ret {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case WaitStartPk:
		return d.handleInstall(pkt)
	case WaitForUpdate:
		typ, err := wire.PeekType(pkt)
		if err != nil {
			return d.reinit(false)
		}
		switch typ {
		case wire.UpdateKey:
			sender, err := wire.PeekSender(pkt)
			if err != nil {
				return d.reinit(false)
			}
			if sender != d.asID {
				d.log.Warnf("device %d: UPDATE_KEY from unexpected sender %d (want %d)", d.id, sender, d.asID)
				return wire.ConnWait
			}
			return d.handleUpdate(pkt)
		case wire.LvSupKeyInstall:
			return d.handleSupergroup(pkt)
		default:
			return d.reinit(false)
		}
	default:
		return d.reinit(true)
	}
}

// reinit resets the device to WaitStartPk. clearInstalled follows the
// policy documented on Device: install-class failures (observed while in
// WaitStartPk) clear is_pk_installed; update and supergroup-class
// failures (observed while in WaitForUpdate, including packets of an
// unrecognised type or shape) leave a previously-confirmed install
// status alone.
func (d *Device) reinit(clearInstalled bool) wire.Ret {
	d.state = WaitStartPk
	if clearInstalled {
		d.isPkInstalled = false
	}
	d.log.Warnf("device %d: REINIT (clearInstalled=%v)", d.id, clearInstalled)
	return wire.Reinit
}

// handleInstall implements spec section 4.3.1.
func (d *Device) handleInstall(pkt []byte) wire.Ret {
	typ, sender, f1, f2, sig, err := wire.DecodeLong(pkt)
	if err != nil || typ != wire.StartPk {
		return d.reinit(true)
	}

	n1 := d.chain.NextLink(d.id) // noise, shared by key share and secret token
	n2 := d.chain.NextLink(d.id) // device's own contribution share
	n3 := d.chain.NextLink(d.id) // signing key

	prefix := wire.EncodeLongPrefix(typ, sender, f1, f2)
	if wire.KeyedSign(prefix, uint32(n3)) != sig {
		return d.reinit(true)
	}

	d.pk = wire.Key(f1) ^ wire.Key(n2) ^ wire.Key(n1)
	d.secretToken = wire.Token(f2) ^ wire.Token(n1)

	confLink := d.chain.NextLink(d.id)
	d.publish(wire.EncodeShort(wire.PkConf, d.id, confLink))

	d.state = WaitForUpdate
	d.isPkInstalled = true
	d.log.Debugf("device %d: INSTALL_OK, pk installed", d.id)
	return wire.InstallOK
}

// handleUpdate implements spec section 4.3.2.
//
// Design note: no UPDATE_CONF is sent here. The AS's join flow waits in
// WaitStartConf only for the joiner's PK_CONF, and its leave flow waits
// for no confirmation at all, so prior members are never asked to
// confirm a rekey.
func (d *Device) handleUpdate(pkt []byte) wire.Ret {
	typ, sender, f1, f2, sig, err := wire.DecodeLong(pkt)
	if err != nil || typ != wire.UpdateKey {
		return d.reinit(false)
	}

	n1 := d.chain.NextLink(d.id) // noise, shared by key and secret token
	n2 := d.chain.NextLink(d.id) // signing key

	prefix := wire.EncodeLongPrefix(typ, sender, f1, f2)
	if wire.KeyedSign(prefix, uint32(n2)) != sig {
		return d.reinit(false)
	}

	d.pk ^= wire.Key(f1) ^ wire.Key(n1)
	d.secretToken = wire.Token(f2) ^ wire.Token(n1)
	d.log.Debugf("device %d: UPDATE_KEY applied", d.id)
	return wire.OK
}

// handleSupergroup implements spec section 4.3.3. The signing key is the
// already-installed intra secret_token, not a PUF link.
func (d *Device) handleSupergroup(pkt []byte) wire.Ret {
	typ, sender, f1, f2, sig, err := wire.DecodeLong(pkt)
	if err != nil || typ != wire.LvSupKeyInstall {
		return d.reinit(false)
	}

	prefix := wire.EncodeLongPrefix(typ, sender, f1, f2)
	if wire.KeyedSign(prefix, uint32(d.secretToken)) != sig {
		return d.reinit(false)
	}

	d.interGroupKey = wire.Key(f1) ^ d.pk
	d.interGroupTok = wire.Token(f2) ^ wire.Token(d.pk)
	d.hasInterGroup = true
	d.log.Debugf("device %d: inter-group key installed via LV", d.id)
	return wire.OK
}
