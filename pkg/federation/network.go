// Package federation wires a small, fully in-memory instance of the
// protocol together for end-to-end exercises: one upper-tier
// Authentication Server, a handful of directly-managed devices, and
// any number of Local Verifiers each managing their own subordinate
// devices. It exists for demos and integration tests: the protocol
// itself has no notion of a "federation" object, this is glue.
package federation

import (
	"fmt"
	"sync"

	"github.com/pion/logging"

	"github.com/phemap/groupkey/pkg/authserver"
	"github.com/phemap/groupkey/pkg/chain"
	"github.com/phemap/groupkey/pkg/device"
	"github.com/phemap/groupkey/pkg/lv"
	"github.com/phemap/groupkey/pkg/wire"
)

// Config describes the topology to build.
type Config struct {
	// ASID is the upper-tier Authentication Server's identifier.
	ASID wire.Id
	// DeviceIDs are devices managed directly by the upper AS.
	DeviceIDs []wire.Id
	// LVIDs are Local Verifiers; each is simultaneously a device of the
	// upper AS and an AS over its own LVDevices[id] entry.
	LVIDs []wire.Id
	// LVDevices maps each LV id to the ids of the devices it manages.
	LVDevices map[wire.Id][]wire.Id

	// Seed seeds a chain.HKDFChain shared (by value, not by instance)
	// across every node: two independently-constructed HKDFChains with
	// the same seed derive the same next_link(id) sequence for a given
	// id, which is exactly the synchronization the protocol assumes
	// between peers (spec section 4.1).
	Seed []byte
	// RNG supplies fresh randomness to the upper AS and to every LV.
	// Tests typically pass a chain.QueueRNG for determinism; demos can
	// pass a chain.CryptoRNG.
	RNG chain.RNG
	// NewTimer creates a fresh WaitStartConf watchdog for the upper AS
	// and for each LV. Defaults to authserver.NewNoopTimer if nil.
	NewTimer func() authserver.Timer

	LoggerFactory logging.LoggerFactory
}

// Federation is a constructed topology, ready to be driven with Pump
// or Run.
type Federation struct {
	mu sync.Mutex

	asID wire.Id
	as   *authserver.AuthServer

	devices map[wire.Id]*device.Device

	lvs       map[wire.Id]*lv.LV
	lvDevices map[wire.Id]map[wire.Id]*device.Device

	log logging.LeveledLogger
}

// New builds a Federation from cfg. Every device, the AS, and every LV
// is constructed but nothing has been driven yet: call a Start* method
// and then Run to carry out a scenario.
func New(cfg Config) (*Federation, error) {
	if cfg.RNG == nil {
		return nil, ErrNilRNG
	}
	newTimer := cfg.NewTimer
	if newTimer == nil {
		newTimer = func() authserver.Timer { return authserver.NewNoopTimer() }
	}
	loggerFactory := cfg.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	mkChain := func() chain.LinkSource { return chain.NewHKDFChain(cfg.Seed) }

	enrolled := make([]wire.Id, 0, len(cfg.DeviceIDs)+len(cfg.LVIDs))
	enrolled = append(enrolled, cfg.DeviceIDs...)
	enrolled = append(enrolled, cfg.LVIDs...)

	as, err := authserver.New(cfg.ASID, enrolled, mkChain(), cfg.RNG, newTimer(),
		authserver.WithLogger(loggerFactory.NewLogger("phemap-gk/as")))
	if err != nil {
		return nil, fmt.Errorf("federation: building upper AS: %w", err)
	}

	devices := make(map[wire.Id]*device.Device, len(cfg.DeviceIDs))
	for _, id := range cfg.DeviceIDs {
		devices[id] = device.New(id, cfg.ASID, mkChain(),
			device.WithLogger(loggerFactory.NewLogger("phemap-gk/device")))
	}

	lvs := make(map[wire.Id]*lv.LV, len(cfg.LVIDs))
	lvDevices := make(map[wire.Id]map[wire.Id]*device.Device, len(cfg.LVIDs))
	for _, lvID := range cfg.LVIDs {
		peers := make([]wire.Id, 0, len(cfg.LVIDs)-1)
		for _, other := range cfg.LVIDs {
			if other != lvID {
				peers = append(peers, other)
			}
		}
		local := cfg.LVDevices[lvID]
		l, err := lv.New(lvID, cfg.ASID, mkChain(), local, mkChain(), cfg.RNG, peers, newTimer(),
			lv.WithLogger(loggerFactory.NewLogger("phemap-gk/lv")))
		if err != nil {
			return nil, fmt.Errorf("federation: building lv %d: %w", lvID, err)
		}
		lvs[lvID] = l

		lvDevices[lvID] = make(map[wire.Id]*device.Device, len(local))
		for _, did := range local {
			lvDevices[lvID][did] = device.New(did, lvID, mkChain(),
				device.WithLogger(loggerFactory.NewLogger("phemap-gk/device")))
		}
	}

	return &Federation{
		asID:      cfg.ASID,
		as:        as,
		devices:   devices,
		lvs:       lvs,
		lvDevices: lvDevices,
		log:       loggerFactory.NewLogger("phemap-gk/federation"),
	}, nil
}

// AS returns the upper-tier Authentication Server.
func (f *Federation) AS() *authserver.AuthServer { return f.as }

// Device returns a directly-managed device by id, if any.
func (f *Federation) Device(id wire.Id) (*device.Device, bool) {
	d, ok := f.devices[id]
	return d, ok
}

// LV returns a Local Verifier by id, if any.
func (f *Federation) LV(id wire.Id) (*lv.LV, bool) {
	l, ok := f.lvs[id]
	return l, ok
}

// LVDevice returns a device managed by the given LV, if any.
func (f *Federation) LVDevice(lvID, devID wire.Id) (*device.Device, bool) {
	byID, ok := f.lvDevices[lvID]
	if !ok {
		return nil, false
	}
	d, ok := byID[devID]
	return d, ok
}

// deliverUpstream hands pkt (addressed to the upper AS, the only thing
// sending START_SESS/END_SESS/PK_CONF upward) to the AS automaton. The
// AS's own IsEnrolled/sender-matching distinguishes plain devices from
// LVs transparently, since both are just enrolled Ids to it.
func (f *Federation) deliverUpstream(pkt []byte) {
	f.as.Step(pkt)
}

// deliverToUpperMember routes a packet emitted by the upper AS (unicast
// or broadcast) to whichever node owns dest: a plain device or an LV
// (fed through its composite Step, which reclassifies by sender).
func (f *Federation) deliverToUpperMember(dest wire.Id, pkt []byte) {
	if d, ok := f.devices[dest]; ok {
		d.Step(pkt)
		return
	}
	if l, ok := f.lvs[dest]; ok {
		l.Step(pkt)
		return
	}
	f.log.Warnf("federation: packet for unknown upper-tier member %d dropped", dest)
}

// Pump drains every outbound slot across every node exactly once and
// delivers each packet, returning the number of packets delivered. A
// full scenario generally needs several Pump calls (or Run) since a
// delivery can itself produce new outbound packets.
func (f *Federation) Pump() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	delivered := 0

	for _, d := range f.devices {
		if pkt, ok := d.TakeOutbound(); ok {
			f.deliverUpstream(pkt)
			delivered++
		}
	}
	for _, l := range f.lvs {
		if pkt, ok := l.Device().TakeOutbound(); ok {
			f.deliverUpstream(pkt)
			delivered++
		}
	}

	for {
		dest, pkt, ok := f.as.DrainNextUnicast()
		if !ok {
			break
		}
		f.deliverToUpperMember(dest, pkt)
		delivered++
	}
	if pkt, ok := f.as.TakeBroadcast(); ok {
		for id := range f.devices {
			if f.as.IsMember(id) {
				f.devices[id].Step(pkt)
				delivered++
			}
		}
		for id := range f.lvs {
			if f.as.IsMember(id) {
				f.lvs[id].Step(pkt)
				delivered++
			}
		}
	}

	for lvID, l := range f.lvs {
		locals := f.lvDevices[lvID]

		for _, dv := range locals {
			if pkt, ok := dv.TakeOutbound(); ok {
				l.Step(pkt)
				delivered++
			}
		}
		for did, dv := range locals {
			if pkt, ok := l.AuthServer().TakeUnicast(did); ok {
				dv.Step(pkt)
				delivered++
			}
		}
		if pkt, ok := l.AuthServer().TakeBroadcast(); ok {
			for did, dv := range locals {
				if l.AuthServer().IsMember(did) {
					dv.Step(pkt)
					delivered++
				}
			}
		}
		if pkt, ok := l.TakeDevBroadcast(); ok {
			for _, dv := range locals {
				dv.Step(pkt)
				delivered++
			}
		}
		if pkt, ok := l.TakeLVBroadcast(); ok {
			for peerID, peer := range f.lvs {
				if peerID != lvID {
					peer.Step(pkt)
					delivered++
				}
			}
		}
	}

	return delivered
}

// Run calls Pump repeatedly until a round delivers nothing or
// maxRounds is reached, whichever comes first, returning the total
// number of packets delivered. maxRounds guards against a misconfigured
// scenario looping forever (it never should, in a correctly driven
// protocol run).
func (f *Federation) Run(maxRounds int) int {
	total := 0
	for i := 0; i < maxRounds; i++ {
		n := f.Pump()
		total += n
		if n == 0 {
			break
		}
	}
	return total
}

// StartDevice issues START_SESS for a directly-managed device and pumps
// the resulting exchange to quiescence.
func (f *Federation) StartDevice(id wire.Id) error {
	d, ok := f.Device(id)
	if !ok {
		return fmt.Errorf("federation: unknown device %d", id)
	}
	d.StartSession()
	f.Run(32)
	return nil
}

// EndDevice issues END_SESS for a directly-managed device and pumps the
// resulting rekey to quiescence.
func (f *Federation) EndDevice(id wire.Id) error {
	d, ok := f.Device(id)
	if !ok {
		return fmt.Errorf("federation: unknown device %d", id)
	}
	d.EndSession()
	f.Run(32)
	return nil
}

// StartLV issues START_SESS for a Local Verifier's own upstream Device
// role (joining the upper AS's group) and pumps to quiescence.
func (f *Federation) StartLV(id wire.Id) error {
	l, ok := f.LV(id)
	if !ok {
		return fmt.Errorf("federation: unknown lv %d", id)
	}
	l.Device().StartSession()
	f.Run(32)
	return nil
}

// StartLVDevice issues START_SESS for a device managed by the given LV
// and pumps to quiescence.
func (f *Federation) StartLVDevice(lvID, devID wire.Id) error {
	d, ok := f.LVDevice(lvID, devID)
	if !ok {
		return fmt.Errorf("federation: unknown device %d under lv %d", devID, lvID)
	}
	d.StartSession()
	f.Run(32)
	return nil
}
