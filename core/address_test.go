package core

import "testing"

func TestParseAddressHexRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	parsed, err := ParseAddress(kp.Address.Hex())
	if err != nil {
		t.Fatalf("ParseAddress failed: %v", err)
	}
	if parsed != kp.Address {
		t.Fatalf("expected round-trip address to match")
	}
}

func TestParseAddressBase58RoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	parsed, err := ParseAddress(kp.Address.String())
	if err != nil {
		t.Fatalf("ParseAddress failed: %v", err)
	}
	if parsed != kp.Address {
		t.Fatalf("expected base58 round-trip address to match")
	}
}

func TestAddressMarshalTextRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	text, err := kp.Address.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}
	var out Address
	if err := out.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if out != kp.Address {
		t.Fatalf("expected unmarshaled address to match original")
	}
}

func TestHashMarshalTextRoundTrip(t *testing.T) {
	h := Sum256([]byte("block"))
	text, err := h.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}
	var out Hash
	if err := out.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if out != h {
		t.Fatalf("expected unmarshaled hash to match original")
	}
}

func TestParseAddressWrongLength(t *testing.T) {
	if _, err := ParseAddress("0x1234"); err == nil {
		t.Fatalf("expected error for wrong-length address")
	}
}

func TestAddressIsZero(t *testing.T) {
	if !AddressZero.IsZero() {
		t.Fatalf("expected AddressZero.IsZero() to be true")
	}
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	if kp.Address.IsZero() {
		t.Fatalf("expected generated address to not be zero")
	}
}
