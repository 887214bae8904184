package transport_test

import (
	"testing"

	"github.com/phemap/groupkey/pkg/transport"
	"github.com/phemap/groupkey/pkg/wire"
)

func TestNetworkSingleSlotOverwrite(t *testing.T) {
	n := transport.NewNetwork()

	n.Send(5, []byte("first"))
	n.Send(5, []byte("second"))

	if !n.Pending(5) {
		t.Fatal("expected a pending packet for id 5")
	}
	pkt, ok := n.Deliver(5)
	if !ok {
		t.Fatal("Deliver returned false")
	}
	if string(pkt) != "second" {
		t.Fatalf("got %q, want %q (last write should win)", pkt, "second")
	}
	if n.Pending(5) {
		t.Fatal("slot should be empty after Deliver")
	}
	if _, ok := n.Deliver(5); ok {
		t.Fatal("second Deliver should report nothing buffered")
	}
}

func TestNetworkBroadcastAndDrainAny(t *testing.T) {
	n := transport.NewNetwork()
	dests := []wire.Id{1, 2, 3}
	n.Broadcast(dests, []byte("UPDATE_KEY"))

	seen := make(map[wire.Id]bool)
	for i := 0; i < len(dests); i++ {
		dest, pkt, ok := n.DrainAny()
		if !ok {
			t.Fatalf("DrainAny stopped early at iteration %d", i)
		}
		if string(pkt) != "UPDATE_KEY" {
			t.Fatalf("pkt = %q", pkt)
		}
		seen[dest] = true
	}
	for _, d := range dests {
		if !seen[d] {
			t.Fatalf("destination %d never drained", d)
		}
	}
	if _, _, ok := n.DrainAny(); ok {
		t.Fatal("DrainAny should report empty after full drain")
	}
}
