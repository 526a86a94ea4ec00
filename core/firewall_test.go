package core

import "testing"

func TestFirewallAllowsUpToPerMinuteBudget(t *testing.T) {
	fw, err := NewFirewall(3, 16)
	if err != nil {
		t.Fatalf("NewFirewall failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if !fw.Allow("peer-a") {
			t.Fatalf("expected message %d within the per-minute budget to be allowed", i)
		}
	}
	if fw.Allow("peer-a") {
		t.Fatalf("expected a message past the per-minute budget to be rate-limited")
	}
}

func TestFirewallTracksPeersIndependently(t *testing.T) {
	fw, err := NewFirewall(1, 16)
	if err != nil {
		t.Fatalf("NewFirewall failed: %v", err)
	}
	if !fw.Allow("peer-a") {
		t.Fatalf("expected peer-a's first message to be allowed")
	}
	if fw.Allow("peer-a") {
		t.Fatalf("expected peer-a's second message to be rate-limited")
	}
	if !fw.Allow("peer-b") {
		t.Fatalf("expected peer-b to have its own independent budget")
	}
}

func TestFirewallAddressBlockList(t *testing.T) {
	fw, err := NewFirewall(100, 16)
	if err != nil {
		t.Fatalf("NewFirewall failed: %v", err)
	}
	blocked := Address{0xAA}
	if fw.IsAddressBlocked(blocked) {
		t.Fatalf("expected address to start unblocked")
	}
	fw.BlockAddress(blocked)
	if !fw.IsAddressBlocked(blocked) {
		t.Fatalf("expected address to be blocked after BlockAddress")
	}
	fw.UnblockAddress(blocked)
	if fw.IsAddressBlocked(blocked) {
		t.Fatalf("expected address to be unblocked after UnblockAddress")
	}
}

func TestFirewallIPBlockList(t *testing.T) {
	fw, err := NewFirewall(100, 16)
	if err != nil {
		t.Fatalf("NewFirewall failed: %v", err)
	}
	if fw.IsIPBlocked("203.0.113.5") {
		t.Fatalf("expected ip to start unblocked")
	}
	fw.BlockIP("203.0.113.5")
	if !fw.IsIPBlocked("203.0.113.5") {
		t.Fatalf("expected ip to be blocked after BlockIP")
	}
	fw.UnblockIP("203.0.113.5")
	if fw.IsIPBlocked("203.0.113.5") {
		t.Fatalf("expected ip to be unblocked after UnblockIP")
	}
}

func TestFirewallCheckTxRejectsBlockedSenderOrRecipient(t *testing.T) {
	fw, err := NewFirewall(100, 16)
	if err != nil {
		t.Fatalf("NewFirewall failed: %v", err)
	}
	sender := Address{0x01}
	recipient := Address{0x02}
	tx := &Transaction{Sender: sender, Recipient: recipient}

	if err := fw.CheckTx(tx); err != nil {
		t.Fatalf("expected an unblocked transfer to pass, got %v", err)
	}

	fw.BlockAddress(sender)
	if err := fw.CheckTx(tx); err != ErrAddrBlocked {
		t.Fatalf("expected ErrAddrBlocked for a blocked sender, got %v", err)
	}
	fw.UnblockAddress(sender)

	fw.BlockAddress(recipient)
	if err := fw.CheckTx(tx); err != ErrAddrBlocked {
		t.Fatalf("expected ErrAddrBlocked for a blocked recipient, got %v", err)
	}
}

func TestFirewallListRules(t *testing.T) {
	fw, err := NewFirewall(100, 16)
	if err != nil {
		t.Fatalf("NewFirewall failed: %v", err)
	}
	fw.BlockAddress(Address{0x01})
	fw.BlockIP("198.51.100.7")

	rules := fw.ListRules()
	if len(rules.Addresses) != 1 || rules.Addresses[0] != (Address{0x01}) {
		t.Fatalf("expected one blocked address in ListRules, got %+v", rules.Addresses)
	}
	if len(rules.IPs) != 1 || rules.IPs[0] != "198.51.100.7" {
		t.Fatalf("expected one blocked ip in ListRules, got %+v", rules.IPs)
	}
}
