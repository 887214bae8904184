package device_test

import (
	"testing"

	"github.com/phemap/groupkey/pkg/chain"
	"github.com/phemap/groupkey/pkg/device"
	"github.com/phemap/groupkey/pkg/wire"
)

const (
	testASID = wire.Id(9)
	testID   = wire.Id(5)
)

func seq(links ...wire.Link) *chain.Sequence {
	return chain.NewSequence(map[wire.Id][]wire.Link{testID: links})
}

func signedStartPk(f1, f2 uint32, signKey wire.Link) []byte {
	prefix := wire.EncodeLongPrefix(wire.StartPk, testASID, f1, f2)
	sig := wire.KeyedSign(prefix, uint32(signKey))
	return wire.EncodeLong(wire.StartPk, testASID, f1, f2, sig)
}

func TestInstallDeterminism(t *testing.T) {
	n1, n2, n3, confLink := wire.Link(0x1111), wire.Link(0x2222), wire.Link(0x3333), wire.Link(0x4444)
	dev := device.New(testID, testASID, seq(n1, n2, n3, confLink))

	var f1, f2 uint32 = 0xAAAA0001, 0xBBBB0002
	pkt := signedStartPk(f1, f2, n3)

	if ret := dev.Step(pkt); ret != wire.InstallOK {
		t.Fatalf("got %v, want InstallOK", ret)
	}
	if dev.State() != device.WaitForUpdate || !dev.IsPkInstalled() {
		t.Fatalf("state=%v installed=%v", dev.State(), dev.IsPkInstalled())
	}

	wantPK := wire.Key(f1) ^ wire.Key(n2) ^ wire.Key(n1)
	wantToken := wire.Token(f2) ^ wire.Token(n1)
	if dev.PK() != wantPK {
		t.Fatalf("pk = %#x, want %#x", dev.PK(), wantPK)
	}
	if dev.SecretToken() != wantToken {
		t.Fatalf("secret_token = %#x, want %#x", dev.SecretToken(), wantToken)
	}

	out, ok := dev.TakeOutbound()
	if !ok {
		t.Fatal("no PK_CONF buffered")
	}
	typ, sender, link, err := wire.DecodeShort(out)
	if err != nil {
		t.Fatalf("decode PK_CONF: %v", err)
	}
	if typ != wire.PkConf || sender != testID || link != confLink {
		t.Fatalf("PK_CONF = (%v, %v, %#x)", typ, sender, link)
	}
}

func TestInstallBadSignatureClearsInstalled(t *testing.T) {
	n1, n2, n3, confLink := wire.Link(1), wire.Link(2), wire.Link(3), wire.Link(4)
	dev := device.New(testID, testASID, seq(n1, n2, n3, confLink))

	prefix := wire.EncodeLongPrefix(wire.StartPk, testASID, 0x10, 0x20)
	badSig := wire.KeyedSign(prefix, uint32(n3)) + 1
	pkt := wire.EncodeLong(wire.StartPk, testASID, 0x10, 0x20, badSig)

	if ret := dev.Step(pkt); ret != wire.Reinit {
		t.Fatalf("got %v, want Reinit", ret)
	}
	if dev.State() != device.WaitStartPk || dev.IsPkInstalled() {
		t.Fatalf("state=%v installed=%v, want WaitStartPk/false", dev.State(), dev.IsPkInstalled())
	}
}

func TestUpdateBadSignaturePreservesInstalled(t *testing.T) {
	n1, n2, n3, confLink := wire.Link(1), wire.Link(2), wire.Link(3), wire.Link(4)
	updN1, updN2 := wire.Link(5), wire.Link(6)
	dev := device.New(testID, testASID, seq(n1, n2, n3, confLink, updN1, updN2))

	installPkt := signedStartPk(0x10, 0x20, n3)
	if ret := dev.Step(installPkt); ret != wire.InstallOK {
		t.Fatalf("install: got %v, want InstallOK", ret)
	}
	pkBefore := dev.PK()

	prefix := wire.EncodeLongPrefix(wire.UpdateKey, testASID, 0x30, 0x40)
	badSig := wire.KeyedSign(prefix, uint32(updN2)) + 1
	updatePkt := wire.EncodeLong(wire.UpdateKey, testASID, 0x30, 0x40, badSig)

	if ret := dev.Step(updatePkt); ret != wire.Reinit {
		t.Fatalf("update: got %v, want Reinit", ret)
	}
	if dev.State() != device.WaitStartPk {
		t.Fatalf("state = %v, want WaitStartPk", dev.State())
	}
	if !dev.IsPkInstalled() {
		t.Fatal("install-class flag should survive an update-class failure")
	}
	if dev.PK() != pkBefore {
		t.Fatalf("pk changed on a failed update: %#x -> %#x", pkBefore, dev.PK())
	}
}

func TestUnexpectedTypeDuringWaitForUpdatePreservesInstalled(t *testing.T) {
	n1, n2, n3, confLink := wire.Link(1), wire.Link(2), wire.Link(3), wire.Link(4)
	dev := device.New(testID, testASID, seq(n1, n2, n3, confLink))

	installPkt := signedStartPk(0x10, 0x20, n3)
	if ret := dev.Step(installPkt); ret != wire.InstallOK {
		t.Fatalf("install: got %v, want InstallOK", ret)
	}

	stray := wire.EncodeLong(wire.StartPk, testASID, 1, 2, 3)
	if ret := dev.Step(stray); ret != wire.Reinit {
		t.Fatalf("got %v, want Reinit", ret)
	}
	if !dev.IsPkInstalled() {
		t.Fatal("an unrecognised message in WaitForUpdate should not clear install status")
	}
}

func TestSupergroupInstall(t *testing.T) {
	n1, n2, n3, confLink := wire.Link(1), wire.Link(2), wire.Link(3), wire.Link(4)
	dev := device.New(testID, testASID, seq(n1, n2, n3, confLink))

	installPkt := signedStartPk(0x10, 0x20, n3)
	if ret := dev.Step(installPkt); ret != wire.InstallOK {
		t.Fatalf("install: got %v, want InstallOK", ret)
	}

	var f1, f2 uint32 = 0x5000, 0x6000
	prefix := wire.EncodeLongPrefix(wire.LvSupKeyInstall, 77, f1, f2)
	sig := wire.KeyedSign(prefix, uint32(dev.SecretToken()))
	pkt := wire.EncodeLong(wire.LvSupKeyInstall, 77, f1, f2, sig)

	if ret := dev.Step(pkt); ret != wire.OK {
		t.Fatalf("got %v, want OK", ret)
	}
	gotKey, ok := dev.InterGroupKey()
	if !ok {
		t.Fatal("inter-group key not marked installed")
	}
	if want := wire.Key(f1) ^ dev.PK(); gotKey != want {
		t.Fatalf("inter-group key = %#x, want %#x", gotKey, want)
	}
	gotTok, ok := dev.InterGroupToken()
	if !ok {
		t.Fatal("inter-group token not marked installed")
	}
	if want := wire.Token(f2) ^ wire.Token(dev.PK()); gotTok != want {
		t.Fatalf("inter-group token = %#x, want %#x", gotTok, want)
	}
}

func TestUpdateFromUnexpectedSenderReturnsConnWait(t *testing.T) {
	n1, n2, n3, confLink := wire.Link(1), wire.Link(2), wire.Link(3), wire.Link(4)
	dev := device.New(testID, testASID, seq(n1, n2, n3, confLink))

	installPkt := signedStartPk(0x10, 0x20, n3)
	if ret := dev.Step(installPkt); ret != wire.InstallOK {
		t.Fatalf("install: got %v, want InstallOK", ret)
	}
	pkBefore := dev.PK()

	impostor := wire.EncodeLong(wire.UpdateKey, 777, 1, 2, 3)
	if ret := dev.Step(impostor); ret != wire.ConnWait {
		t.Fatalf("got %v, want ConnWait", ret)
	}
	if dev.State() != device.WaitForUpdate {
		t.Fatalf("state = %v, want WaitForUpdate", dev.State())
	}
	if dev.PK() != pkBefore {
		t.Fatal("pk must not change on an unauthenticated sender")
	}
}
