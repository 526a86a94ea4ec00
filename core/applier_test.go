package core

import "testing"

func newTestApplier(t *testing.T, c *Context) (*Applier, *StateMachine, *Mempool) {
	t.Helper()
	sm := NewStateMachine(c)
	mempool := NewMempool(c)
	reg := NewValidatorRegistry(c)
	forks := NewForkManager()
	return NewApplier(c, sm, mempool, reg, forks), sm, mempool
}

func commitGenesisWithValidator(t *testing.T, c *Context, sm *StateMachine, validator *KeyPair) *Block {
	t.Helper()
	bonus := systemCreditTx(validator.Address, c.Params.MinStake, payloadAutoStake)
	genesis := buildBlock(t, c, 0, Hash{}, AddressZero, NewAmountFromWhole(0), []Transaction{bonus})
	diff, err := sm.ApplyBlock(genesis)
	if err != nil {
		t.Fatalf("ApplyBlock(genesis) failed: %v", err)
	}
	if err := sm.Commit(diff); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	return genesis
}

func TestApplierCommitsValidBlockExtendingHead(t *testing.T) {
	c, store := newTestContext(t)
	applier, sm, mempool := newTestApplier(t, c)
	validator, _ := GenerateKeyPair()
	genesis := commitGenesisWithValidator(t, c, sm, validator)

	reward := BlockReward(&c.Params, 1)
	block := buildBlock(t, c, 1, genesis.Hash, validator.Address, reward, nil)
	sig, err := Sign(validator.Private, block.Hash)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	result, err := applier.ApplyIncoming(*block, sig)
	if err != nil {
		t.Fatalf("ApplyIncoming failed: %v", err)
	}
	if result != ResultCommitted {
		t.Fatalf("expected ResultCommitted, got %v", result)
	}
	head, err := store.Head()
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if head.Hash != block.Hash {
		t.Fatalf("expected the committed block to become the new head")
	}
	_ = mempool
}

func TestApplierRejectsBadSignature(t *testing.T) {
	c, _ := newTestContext(t)
	applier, sm, _ := newTestApplier(t, c)
	validator, _ := GenerateKeyPair()
	genesis := commitGenesisWithValidator(t, c, sm, validator)

	reward := BlockReward(&c.Params, 1)
	block := buildBlock(t, c, 1, genesis.Hash, validator.Address, reward, nil)
	other, _ := GenerateKeyPair()
	badSig, err := Sign(other.Private, block.Hash)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	result, err := applier.ApplyIncoming(*block, badSig)
	if err == nil {
		t.Fatalf("expected an error for a block signed by the wrong key")
	}
	if result != ResultRejected {
		t.Fatalf("expected ResultRejected, got %v", result)
	}
}

func TestApplierRejectsInactiveValidator(t *testing.T) {
	c, _ := newTestContext(t)
	applier, sm, _ := newTestApplier(t, c)
	genesis := buildBlock(t, c, 0, Hash{}, AddressZero, NewAmountFromWhole(0), nil)
	diff, err := sm.ApplyBlock(genesis)
	if err != nil {
		t.Fatalf("ApplyBlock(genesis) failed: %v", err)
	}
	if err := sm.Commit(diff); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	unregistered, _ := GenerateKeyPair()
	reward := BlockReward(&c.Params, 1)
	block := buildBlock(t, c, 1, genesis.Hash, unregistered.Address, reward, nil)
	sig, err := Sign(unregistered.Private, block.Hash)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	result, err := applier.ApplyIncoming(*block, sig)
	if err == nil {
		t.Fatalf("expected an error for a block from a non-active validator")
	}
	if result != ResultRejected {
		t.Fatalf("expected ResultRejected, got %v", result)
	}
}

func TestApplierBuffersNonExtendingValidBlock(t *testing.T) {
	c, _ := newTestContext(t)
	applier, sm, _ := newTestApplier(t, c)
	validator, _ := GenerateKeyPair()
	genesis := commitGenesisWithValidator(t, c, sm, validator)

	reward := BlockReward(&c.Params, 1)
	headBlock := buildBlock(t, c, 1, genesis.Hash, validator.Address, reward, nil)
	sig, err := Sign(validator.Private, headBlock.Hash)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if result, err := applier.ApplyIncoming(*headBlock, sig); err != nil || result != ResultCommitted {
		t.Fatalf("expected head block to commit cleanly, got %v %v", result, err)
	}

	reward2 := BlockReward(&c.Params, 2)
	unknownParent := Hash{0xEE}
	sideBlock := buildBlock(t, c, 2, unknownParent, validator.Address, reward2, nil)
	sideSig, err := Sign(validator.Private, sideBlock.Hash)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	result, err := applier.ApplyIncoming(*sideBlock, sideSig)
	if err != nil {
		t.Fatalf("expected a structurally valid, non-extending block to be buffered without error, got %v", err)
	}
	if result != ResultBuffered {
		t.Fatalf("expected ResultBuffered, got %v", result)
	}
}

func TestApplierRecordsDoubleSignForConflictingBlockAtSameHeight(t *testing.T) {
	c, store := newTestContext(t)
	applier, sm, _ := newTestApplier(t, c)
	validator, _ := GenerateKeyPair()
	genesis := commitGenesisWithValidator(t, c, sm, validator)

	reward := BlockReward(&c.Params, 1)
	blockA := buildBlock(t, c, 1, genesis.Hash, validator.Address, reward, nil)
	sigA, err := Sign(validator.Private, blockA.Hash)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if result, err := applier.ApplyIncoming(*blockA, sigA); err != nil || result != ResultCommitted {
		t.Fatalf("expected blockA to commit cleanly, got %v %v", result, err)
	}

	credit := systemCreditTx(Address{0x77}, NewAmountFromWhole(1), nil)
	blockB := buildBlock(t, c, 1, genesis.Hash, validator.Address, reward, []Transaction{credit})
	sigB, err := Sign(validator.Private, blockB.Hash)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	result, err := applier.ApplyIncoming(*blockB, sigB)
	if err == nil {
		t.Fatalf("expected a conflicting block from the same validator at the same height to error")
	}
	if result != ResultRejected {
		t.Fatalf("expected ResultRejected, got %v", result)
	}

	evidence := store.Evidence()
	if len(evidence) != 1 || evidence[0].Kind != EvidenceDoubleSign {
		t.Fatalf("expected one double-sign evidence record, got %+v", evidence)
	}
	v, ok := store.GetValidator(validator.Address)
	if !ok {
		t.Fatalf("expected validator record to exist")
	}
	if v.Stake.Cmp(c.Params.MinStake) >= 0 {
		t.Fatalf("expected the double-signing validator's stake to be slashed below its original stake")
	}
}

func TestForkManagerBufferAndChainWeight(t *testing.T) {
	fm := NewForkManager()
	parent := Hash{1}
	b1 := Block{PreviousHash: parent, ProducerStake: NewAmountFromWhole(5)}
	b2 := Block{PreviousHash: parent, ProducerStake: NewAmountFromWhole(3)}
	fm.Buffer(b1)
	fm.Buffer(b2)

	buffered := fm.buffered[parent]
	if len(buffered) != 2 {
		t.Fatalf("expected both blocks buffered under their shared previous_hash, got %d", len(buffered))
	}
	weight := chainWeight(buffered)
	if weight.Cmp(NewAmountFromWhole(8)) != 0 {
		t.Fatalf("expected cumulative weight 8, got %s", weight)
	}
}
