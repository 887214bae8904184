// Package transport provides in-memory delivery for exercising the
// automata in pkg/device, pkg/authserver and pkg/lv without real
// network I/O: a point-to-point Pipe backed by pion's virtual-network
// Bridge, and an Id-addressed Network for topologies of more than two
// nodes. pkg/federation does not use either; it calls each node's Step
// directly.
package transport

import (
	"net"

	"github.com/pion/transport/v3/test"
)

// Pipe provides bidirectional in-memory byte delivery between two
// endpoints, via pion's test.Bridge "virtual network" pattern. It is
// the two-party building block: pair it with a raw-byte read loop on
// each side to exercise a Device/AuthServer pair or two peer LVs
// without touching the real network stack.
type Pipe struct {
	bridge *test.Bridge
}

// NewPipe creates a new Pipe. Nothing is delivered until Tick or
// Process is called.
func NewPipe() *Pipe {
	return &Pipe{bridge: test.NewBridge()}
}

// Conn0 returns the connection for endpoint 0.
func (p *Pipe) Conn0() net.Conn { return p.bridge.GetConn0() }

// Conn1 returns the connection for endpoint 1.
func (p *Pipe) Conn1() net.Conn { return p.bridge.GetConn1() }

// Tick delivers one queued packet in each direction, if available, and
// returns the number delivered (0, 1 or 2).
func (p *Pipe) Tick() int { return p.bridge.Tick() }

// Process drains every queued packet in both directions and returns
// the total delivered.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			return count
		}
		count += n
	}
}

// Close closes both endpoints.
func (p *Pipe) Close() error {
	err0 := p.bridge.GetConn0().Close()
	err1 := p.bridge.GetConn1().Close()
	if err0 != nil {
		return err0
	}
	return err1
}
