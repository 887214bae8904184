// phemap-sim runs a small in-memory federation of the group-key
// protocol and drives it through install, join, leave, and inter-group
// key installation so the wire traces and convergence invariants can be
// eyeballed without real network hardware.
//
// Usage:
//
//	phemap-sim [options]
//
// Options:
//
//	-devices     number of devices enrolled directly under the AS (default: 2)
//	-lvs         number of Local Verifiers (default: 2)
//	-lv-devices  number of devices enrolled under each LV (default: 1)
//	-seed        PUF chain seed (default: "phemap-sim")
//	-verbose     enable debug-level logging (default: false)
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pion/logging"

	"github.com/phemap/groupkey/pkg/chain"
	"github.com/phemap/groupkey/pkg/federation"
	"github.com/phemap/groupkey/pkg/wire"
)

func main() {
	numDevices := flag.Int("devices", 2, "number of devices enrolled directly under the AS")
	numLVs := flag.Int("lvs", 2, "number of Local Verifiers")
	lvDevices := flag.Int("lv-devices", 1, "number of devices enrolled under each LV")
	seed := flag.String("seed", "phemap-sim", "PUF chain seed")
	verbose := flag.Bool("verbose", false, "enable debug-level logging")
	flag.Parse()

	loggerFactory := logging.NewDefaultLoggerFactory()
	if *verbose {
		loggerFactory.DefaultLogLevel = logging.LogLevelDebug
	} else {
		loggerFactory.DefaultLogLevel = logging.LogLevelInfo
	}

	cfg := buildConfig(*numDevices, *numLVs, *lvDevices, *seed, loggerFactory)

	f, err := federation.New(cfg)
	if err != nil {
		log.Fatalf("phemap-sim: building federation: %v", err)
	}

	fmt.Printf("phemap-sim: %d device(s), %d lv(s) with %d device(s) each\n", *numDevices, *numLVs, *lvDevices)

	for _, id := range cfg.DeviceIDs {
		if err := f.StartDevice(id); err != nil {
			log.Fatalf("phemap-sim: starting device %d: %v", id, err)
		}
	}
	for _, id := range cfg.LVIDs {
		if err := f.StartLV(id); err != nil {
			log.Fatalf("phemap-sim: starting lv %d: %v", id, err)
		}
	}
	fmt.Printf("as: state=%v num_part=%d private_key=%#010x\n", f.AS().State(), f.AS().NumPart(), f.AS().PrivateKey())

	for lvID, ids := range cfg.LVDevices {
		for _, devID := range ids {
			if err := f.StartLVDevice(lvID, devID); err != nil {
				log.Fatalf("phemap-sim: starting lv device %d/%d: %v", lvID, devID, err)
			}
		}
	}

	for _, lvID := range cfg.LVIDs {
		l, _ := f.LV(lvID)
		fmt.Printf("lv %d: inter_installed=%v inter_group_key=%#010x\n", lvID, l.IsInterInstalled(), l.InterGroupKey())
	}

	if len(cfg.DeviceIDs) > 0 {
		leaver := cfg.DeviceIDs[0]
		fmt.Printf("device %d leaving\n", leaver)
		if err := f.EndDevice(leaver); err != nil {
			log.Fatalf("phemap-sim: ending device %d: %v", leaver, err)
		}
		fmt.Printf("as: state=%v num_part=%d private_key=%#010x\n", f.AS().State(), f.AS().NumPart(), f.AS().PrivateKey())
	}

	os.Exit(0)
}

func buildConfig(numDevices, numLVs, lvDevices int, seed string, loggerFactory *logging.DefaultLoggerFactory) federation.Config {
	const (
		asID     wire.Id = 1
		deviceBase       = 10
		lvBase           = 900
	)

	deviceIDs := make([]wire.Id, numDevices)
	for i := 0; i < numDevices; i++ {
		deviceIDs[i] = wire.Id(deviceBase + i + 1)
	}

	lvIDs := make([]wire.Id, numLVs)
	lvDeviceMap := make(map[wire.Id][]wire.Id, numLVs)
	for i := 0; i < numLVs; i++ {
		lvID := wire.Id(lvBase + i + 1)
		lvIDs[i] = lvID
		owned := make([]wire.Id, lvDevices)
		for j := 0; j < lvDevices; j++ {
			owned[j] = wire.Id(int(lvID)*100 + j + 1)
		}
		lvDeviceMap[lvID] = owned
	}

	return federation.Config{
		ASID:          asID,
		DeviceIDs:     deviceIDs,
		LVIDs:         lvIDs,
		LVDevices:     lvDeviceMap,
		Seed:          []byte(seed),
		RNG:           chain.NewCryptoRNG(),
		LoggerFactory: loggerFactory,
	}
}
