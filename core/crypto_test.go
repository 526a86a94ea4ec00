package core

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	hash := Sum256([]byte("hello bt2c"))
	sig, err := Sign(kp.Private, hash)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	ok, err := Verify(kp.Address, hash, sig)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected signature to verify")
	}
}

func TestVerifyRejectsWrongAddress(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	other, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	hash := Sum256([]byte("payload"))
	sig, err := Sign(kp.Private, hash)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	ok, err := Verify(other.Address, hash, sig)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Fatalf("expected verification to fail against the wrong address")
	}
}

func TestVerifyRejectsWrongLengthSignature(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	if _, err := Verify(kp.Address, Sum256(nil), []byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for malformed signature length")
	}
}

func TestSum256Deterministic(t *testing.T) {
	if Sum256([]byte("a")) != Sum256([]byte("a")) {
		t.Fatalf("expected deterministic hash")
	}
	if Sum256([]byte("a")) == Sum256([]byte("b")) {
		t.Fatalf("expected different hashes for different input")
	}
}

func TestDeterministicKeyFromMnemonicIsReproducible(t *testing.T) {
	mnemonic, err := NewDevMnemonic()
	if err != nil {
		t.Fatalf("NewDevMnemonic failed: %v", err)
	}
	kp1, err := DeterministicKeyFromMnemonic(mnemonic, 0)
	if err != nil {
		t.Fatalf("DeterministicKeyFromMnemonic failed: %v", err)
	}
	kp2, err := DeterministicKeyFromMnemonic(mnemonic, 0)
	if err != nil {
		t.Fatalf("DeterministicKeyFromMnemonic failed: %v", err)
	}
	if kp1.Address != kp2.Address {
		t.Fatalf("expected the same mnemonic+account to derive the same address")
	}

	kp3, err := DeterministicKeyFromMnemonic(mnemonic, 1)
	if err != nil {
		t.Fatalf("DeterministicKeyFromMnemonic failed: %v", err)
	}
	if kp3.Address == kp1.Address {
		t.Fatalf("expected different account indices to derive different addresses")
	}
}

func TestDeterministicKeyFromMnemonicRejectsInvalid(t *testing.T) {
	if _, err := DeterministicKeyFromMnemonic("not a real mnemonic", 0); err == nil {
		t.Fatalf("expected error for invalid mnemonic")
	}
}
