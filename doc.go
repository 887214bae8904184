// Package groupkey is the module root for a hierarchical group-key
// distribution protocol built atop a PHEMAP-style PUF chain-of-tokens
// authentication primitive.
//
// The protocol establishes two layers of symmetric group keys across a
// federation of nodes:
//
//   - an intra-group key, shared by an Authentication Server and the
//     devices it directly manages (see package device and package
//     authserver), and
//   - an inter-group key, shared across the whole federation and
//     cooperatively constructed by Local Verifiers (see package lv).
//
// The wire format, message types and keyed-signature construction live in
// package wire. The PUF-chain and RNG collaborator contracts the core
// consumes (and never implements) live in package chain. Package
// transport models the "publish into a slot, the transport drains it"
// output pattern used throughout, including a small in-memory Pipe
// useful for tests and demos. Package federation wires a small network
// of devices, an AS and two LVs together for end-to-end exercises; see
// cmd/phemap-sim for a runnable demonstration.
//
// # Minimal example
//
//	chainSrc := chain.NewMock(0xef0000ac)
//	rng := chain.NewMockRNG(0x00cafe00)
//
//	srv, _ := authserver.New(1, []wire.Id{10}, chainSrc, rng, authserver.NewNoopTimer())
//	dev := device.New(10, 1, chainSrc)
//
//	startSess := dev.StartSession()
//	ret := srv.Step(startSess)                  // ret == wire.OK (awaiting confirmation)
//	startPk, _ := srv.TakeUnicast(10)
//	ret = dev.Step(startPk)                     // ret == wire.InstallOK
//	pkConf, _ := dev.TakeOutbound()
//	ret = srv.Step(pkConf)                      // ret == wire.InstallOK
//
// Every packet carries its own sender Id at a fixed wire offset, so
// Step never needs it passed separately. This is what lets an LV
// classify inbound packets by sender and dispatch to the right role.
package groupkey
