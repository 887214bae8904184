package wire

import "testing"

func TestShortRoundTrip(t *testing.T) {
	buf := EncodeShort(StartSess, Id(10), Link(0xef0000ac))
	if len(buf) != ShortPacketSize {
		t.Fatalf("short packet size = %d, want %d", len(buf), ShortPacketSize)
	}
	typ, sender, link, err := DecodeShort(buf)
	if err != nil {
		t.Fatalf("DecodeShort: %v", err)
	}
	if typ != StartSess || sender != 10 || link != 0xef0000ac {
		t.Fatalf("got (%v, %v, %#x)", typ, sender, link)
	}
}

func TestLongRoundTrip(t *testing.T) {
	prefix := EncodeLongPrefix(StartPk, Id(1), 0x11111111, 0x22222222)
	sig := KeyedSign(prefix, 0xef0000ac)
	buf := EncodeLong(StartPk, Id(1), 0x11111111, 0x22222222, sig)
	if len(buf) != LongPacketSize {
		t.Fatalf("long packet size = %d, want %d", len(buf), LongPacketSize)
	}

	typ, sender, f1, f2, gotSig, err := DecodeLong(buf)
	if err != nil {
		t.Fatalf("DecodeLong: %v", err)
	}
	if typ != StartPk || sender != 1 || f1 != 0x11111111 || f2 != 0x22222222 || gotSig != sig {
		t.Fatalf("round trip mismatch: %v %v %#x %#x %#x", typ, sender, f1, f2, gotSig)
	}
}

func TestDecodeShortBadLength(t *testing.T) {
	if _, _, _, err := DecodeShort(make([]byte, 6)); err != ErrBadLength {
		t.Fatalf("expected ErrBadLength, got %v", err)
	}
}

func TestDecodeLongBadLength(t *testing.T) {
	if _, _, _, _, _, err := DecodeLong(make([]byte, 14)); err != ErrBadLength {
		t.Fatalf("expected ErrBadLength, got %v", err)
	}
}

func TestPeekTypeEmpty(t *testing.T) {
	if _, err := PeekType(nil); err != ErrEmptyPacket {
		t.Fatalf("expected ErrEmptyPacket, got %v", err)
	}
}

func TestMsgTypeIsShort(t *testing.T) {
	short := []MsgType{StartSess, EndSess, PkConf, UpdateConf}
	for _, typ := range short {
		if !typ.IsShort() {
			t.Errorf("%v.IsShort() = false, want true", typ)
		}
	}
	long := []MsgType{StartPk, UpdateKey, InterKeyInstall, LvSupKeyInstall}
	for _, typ := range long {
		if typ.IsShort() {
			t.Errorf("%v.IsShort() = true, want false", typ)
		}
	}
}

func TestMsgTypeIsLong(t *testing.T) {
	long := []MsgType{StartPk, UpdateKey, InterKeyInstall, LvSupKeyInstall}
	for _, typ := range long {
		if !typ.IsLong() {
			t.Errorf("%v.IsLong() = false, want true", typ)
		}
	}
	short := []MsgType{StartSess, EndSess, PkConf, UpdateConf}
	for _, typ := range short {
		if typ.IsLong() {
			t.Errorf("%v.IsLong() = true, want false", typ)
		}
	}
}

func TestDecodeShortUnknownType(t *testing.T) {
	buf := EncodeShort(StartPk, Id(1), 0xef0000ac)
	if _, _, _, err := DecodeShort(buf); err != ErrUnknownType {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestDecodeLongUnknownType(t *testing.T) {
	buf := EncodeLong(StartSess, Id(1), 0x11111111, 0x22222222, 0x33333333)
	if _, _, _, _, _, err := DecodeLong(buf); err != ErrUnknownType {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}
