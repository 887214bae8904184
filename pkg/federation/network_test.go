package federation_test

import (
	"testing"

	"github.com/phemap/groupkey/pkg/authserver"
	"github.com/phemap/groupkey/pkg/chain"
	"github.com/phemap/groupkey/pkg/federation"
	"github.com/phemap/groupkey/pkg/wire"
)

// newFixture builds one upper AS (id 1), two directly-managed devices
// (11, 12), and two LVs (21, 22) each managing one downstream device
// (211 under 21, 221 under 22). It mirrors spec section 8 scenarios 5
// and 6: a federation where both LVs converge on the upper group's key
// and then cooperate to build a shared inter-group key.
func newFixture(t *testing.T) *federation.Federation {
	t.Helper()
	f, err := federation.New(federation.Config{
		ASID:      1,
		DeviceIDs: []wire.Id{11, 12},
		LVIDs:     []wire.Id{21, 22},
		LVDevices: map[wire.Id][]wire.Id{
			21: {211},
			22: {221},
		},
		Seed: []byte("federation-fixture-seed"),
		RNG:  chain.NewCryptoRNG(),
	})
	if err != nil {
		t.Fatalf("federation.New: %v", err)
	}
	return f
}

// TestFederationBootstrapConverges drives every directly-managed device
// and both LVs' upstream joins through the upper AS, then checks that
// everyone enrolled under it agrees on the same intra-group key.
func TestFederationBootstrapConverges(t *testing.T) {
	f := newFixture(t)

	if err := f.StartDevice(11); err != nil {
		t.Fatalf("StartDevice(11): %v", err)
	}
	if err := f.StartDevice(12); err != nil {
		t.Fatalf("StartDevice(12): %v", err)
	}
	if err := f.StartLV(21); err != nil {
		t.Fatalf("StartLV(21): %v", err)
	}
	if err := f.StartLV(22); err != nil {
		t.Fatalf("StartLV(22): %v", err)
	}

	if f.AS().State() != authserver.WaitForUpdates {
		t.Fatalf("as state = %v, want WaitForUpdates", f.AS().State())
	}
	if f.AS().NumPart() != 4 {
		t.Fatalf("as num_part = %d, want 4 (2 devices + 2 lvs)", f.AS().NumPart())
	}

	dev11, _ := f.Device(11)
	dev12, _ := f.Device(12)
	lv21, _ := f.LV(21)
	lv22, _ := f.LV(22)

	want := f.AS().PrivateKey()
	if dev11.PK() != want || dev12.PK() != want {
		t.Fatalf("directly-managed devices disagree with as: as=%#x d11=%#x d12=%#x", want, dev11.PK(), dev12.PK())
	}
	if lv21.Device().PK() != want || lv22.Device().PK() != want {
		t.Fatalf("lvs disagree with as: as=%#x lv21=%#x lv22=%#x", want, lv21.Device().PK(), lv22.Device().PK())
	}
}

// TestFederationInterGroupInstall continues the scenario: once both LVs
// hold the upper group's key, enrolling their own downstream devices
// triggers each LV's inter-group contribution (spec section 4.5.2), and
// once both contributions are integrated (section 4.5.1) every LV and
// every downstream device converges on an identical inter-group key.
func TestFederationInterGroupInstall(t *testing.T) {
	f := newFixture(t)

	for _, id := range []wire.Id{11, 12} {
		if err := f.StartDevice(id); err != nil {
			t.Fatalf("StartDevice(%d): %v", id, err)
		}
	}
	for _, id := range []wire.Id{21, 22} {
		if err := f.StartLV(id); err != nil {
			t.Fatalf("StartLV(%d): %v", id, err)
		}
	}

	lv21, _ := f.LV(21)
	lv22, _ := f.LV(22)
	if !lv21.Device().IsPkInstalled() || !lv22.Device().IsPkInstalled() {
		t.Fatal("both lvs should hold the upper group's key before enrolling downstream devices")
	}

	if err := f.StartLVDevice(21, 211); err != nil {
		t.Fatalf("StartLVDevice(21, 211): %v", err)
	}
	if err := f.StartLVDevice(22, 221); err != nil {
		t.Fatalf("StartLVDevice(22, 221): %v", err)
	}

	if !lv21.IsInterInstalled() {
		t.Fatal("lv 21: inter-group key not installed")
	}
	if !lv22.IsInterInstalled() {
		t.Fatal("lv 22: inter-group key not installed")
	}
	if lv21.InterGroupKey() != lv22.InterGroupKey() {
		t.Fatalf("inter-group key mismatch: lv21=%#x lv22=%#x", lv21.InterGroupKey(), lv22.InterGroupKey())
	}
	if lv21.GroupSecretToken() != lv22.GroupSecretToken() {
		t.Fatalf("inter-group secret token mismatch: lv21=%#x lv22=%#x", lv21.GroupSecretToken(), lv22.GroupSecretToken())
	}

	dev211, _ := f.LVDevice(21, 211)
	dev221, _ := f.LVDevice(22, 221)
	tok211, ok211 := dev211.InterGroupToken()
	tok221, ok221 := dev221.InterGroupToken()
	if !ok211 || !ok221 {
		t.Fatal("inter-group token not installed on one or both downstream devices")
	}
	if tok211 != tok221 {
		t.Fatalf("downstream inter-group token mismatch: dev211=%#x dev221=%#x", tok211, tok221)
	}
}

// TestFederationLeaveRekeys exercises a directly-managed device leaving:
// the survivor must pick up the rekey without a fresh confirmation round
// (spec section 4.4.4).
func TestFederationLeaveRekeys(t *testing.T) {
	f := newFixture(t)

	if err := f.StartDevice(11); err != nil {
		t.Fatalf("StartDevice(11): %v", err)
	}
	if err := f.StartDevice(12); err != nil {
		t.Fatalf("StartDevice(12): %v", err)
	}

	dev12, _ := f.Device(12)
	preLeaveKey := dev12.PK()

	if err := f.EndDevice(11); err != nil {
		t.Fatalf("EndDevice(11): %v", err)
	}

	if f.AS().IsMember(11) {
		t.Fatal("device 11 should no longer be a member after leaving")
	}
	if dev12.PK() == preLeaveKey {
		t.Fatal("surviving device's key should have rotated after the leave")
	}
	if f.AS().PrivateKey() != dev12.PK() {
		t.Fatalf("post-leave key mismatch: as=%#x dev12=%#x", f.AS().PrivateKey(), dev12.PK())
	}
}
