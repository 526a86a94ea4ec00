package core

import (
	"testing"
	"time"
)

func TestProducerProduceExtendsHeadAndSignsBlock(t *testing.T) {
	c, _ := newTestContext(t)
	self, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	c.Self = self
	sm := NewStateMachine(c)
	m := NewMempool(c)
	prod := NewProducer(c, m)

	genesis := buildBlock(t, c, 0, Hash{}, AddressZero, NewAmountFromWhole(0), nil)
	diff, err := sm.ApplyBlock(genesis)
	if err != nil {
		t.Fatalf("ApplyBlock(genesis) failed: %v", err)
	}
	if err := sm.Commit(diff); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	genesisAt := genesis.Timestamp
	signed, err := prod.Produce(genesis, genesisAt, time.Now())
	if err != nil {
		t.Fatalf("Produce failed: %v", err)
	}
	if signed.Block.Height != genesis.Height+1 {
		t.Fatalf("expected produced block to extend head height")
	}
	if signed.Block.PreviousHash != genesis.Hash {
		t.Fatalf("expected produced block's previous_hash to equal the head's hash")
	}
	ok, err := Verify(self.Address, signed.Block.Hash, signed.Signature)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected the produced block's signature to verify against the producer's address")
	}

	diff1, err := sm.ApplyBlock(&signed.Block)
	if err != nil {
		t.Fatalf("ApplyBlock(produced) failed: %v", err)
	}
	if err := sm.Commit(diff1); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if !sm.GetBalance(self.Address).IsZero() {
		t.Fatalf("expected the block-1 reward to land in stake during the distribution window, not balance")
	}
	if sm.GetStake(self.Address).IsZero() {
		t.Fatalf("expected the producer to be auto-staked the block reward within the distribution window")
	}
}

func TestProducerWithoutIdentityErrors(t *testing.T) {
	c, _ := newTestContext(t)
	m := NewMempool(c)
	prod := NewProducer(c, m)
	genesis := buildBlock(t, c, 0, Hash{}, AddressZero, NewAmountFromWhole(0), nil)
	if _, err := prod.Produce(genesis, genesis.Timestamp, time.Now()); err == nil {
		t.Fatalf("expected an error when the node has no validator identity")
	}
}

func TestProducerInjectsDistributionBonusOnlyWithinWindow(t *testing.T) {
	c, store := newTestContext(t)
	self, _ := GenerateKeyPair()
	c.Self = self
	m := NewMempool(c)
	prod := NewProducer(c, m)

	staker, _ := GenerateKeyPair()
	if err := store.Commit(&Batch{Accounts: []Account{{Address: staker.Address, Balance: NewAmountFromWhole(10)}}}); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	stakeTx := signedTx(t, staker, TxStake, staker.Address, NewAmountFromWhole(2), c.Params.BaseFee, 0, nil)
	if err := m.Admit(stakeTx, stakeTx.Timestamp); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}

	genesisAt := time.Now()
	genesis := buildBlock(t, c, 0, Hash{}, AddressZero, NewAmountFromWhole(0), nil)
	sm := NewStateMachine(c)
	diff, err := sm.ApplyBlock(genesis)
	if err != nil {
		t.Fatalf("ApplyBlock(genesis) failed: %v", err)
	}
	if err := sm.Commit(diff); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	withinWindow, err := prod.Produce(genesis, genesisAt, genesisAt.Add(time.Minute))
	if err != nil {
		t.Fatalf("Produce failed: %v", err)
	}
	foundBonus := false
	for _, tx := range withinWindow.Block.Transactions {
		if tx.Kind == TxReward && tx.Recipient == staker.Address && string(tx.Payload) == string(payloadAutoStake) {
			foundBonus = true
		}
	}
	if !foundBonus {
		t.Fatalf("expected a distribution bonus for a new staker within the distribution window")
	}

	outsideWindow, err := prod.Produce(genesis, genesisAt, genesisAt.Add(c.Params.DistributionDuration+time.Minute))
	if err != nil {
		t.Fatalf("Produce failed: %v", err)
	}
	for _, tx := range outsideWindow.Block.Transactions {
		if tx.Kind == TxReward && tx.Recipient == staker.Address && string(tx.Payload) == string(payloadAutoStake) {
			t.Fatalf("expected no distribution bonus once the distribution window has closed")
		}
	}
}
