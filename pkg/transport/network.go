package transport

import (
	"sync"

	"github.com/pion/logging"

	"github.com/phemap/groupkey/pkg/wire"
)

// Network is an in-memory, Id-addressed router for a federation of more
// than two nodes (the AS/device/LV topologies in pkg/federation don't
// fit pion test.Bridge's point-to-point shape). It mirrors the core
// automata's own output model (spec section 5): a single slot per
// destination, last write wins, the consumer drains explicitly.
type Network struct {
	mu  sync.Mutex
	log logging.LeveledLogger

	slots map[wire.Id][]byte
	queue []wire.Id
}

// Option configures a Network at construction time.
type Option func(*Network)

// WithLogger overrides the Network's logger.
func WithLogger(l logging.LeveledLogger) Option {
	return func(n *Network) { n.log = l }
}

// NewNetwork creates an empty Network.
func NewNetwork(opts ...Option) *Network {
	n := &Network{slots: make(map[wire.Id][]byte)}
	for _, opt := range opts {
		opt(n)
	}
	if n.log == nil {
		n.log = logging.NewDefaultLoggerFactory().NewLogger("phemap-gk/transport")
	}
	return n
}

// Send buffers pkt for dest, overwriting any undelivered packet
// already queued for it (single-slot, last write wins).
func (n *Network) Send(dest wire.Id, pkt []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.slots[dest]; !exists {
		n.queue = append(n.queue, dest)
	}
	n.slots[dest] = pkt
	n.log.Tracef("transport: queued %d byte(s) for %d", len(pkt), dest)
}

// Broadcast buffers pkt for every Id in dests.
func (n *Network) Broadcast(dests []wire.Id, pkt []byte) {
	for _, d := range dests {
		n.Send(d, pkt)
	}
}

// Deliver drains the slot addressed to dest, if any.
func (n *Network) Deliver(dest wire.Id) ([]byte, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	pkt, ok := n.slots[dest]
	if !ok {
		return nil, false
	}
	delete(n.slots, dest)
	for i, id := range n.queue {
		if id == dest {
			n.queue = append(n.queue[:i], n.queue[i+1:]...)
			break
		}
	}
	return pkt, true
}

// Pending reports whether dest has an undelivered packet buffered.
func (n *Network) Pending(dest wire.Id) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.slots[dest]
	return ok
}

// DrainAny pops and returns the oldest still-queued (dest, pkt) pair in
// emission order, for a caller that wants to pump the whole network
// dry without polling every known Id.
func (n *Network) DrainAny() (dest wire.Id, pkt []byte, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.queue) == 0 {
		return 0, nil, false
	}
	dest = n.queue[0]
	n.queue = n.queue[1:]
	pkt, ok = n.slots[dest]
	delete(n.slots, dest)
	return dest, pkt, ok
}
