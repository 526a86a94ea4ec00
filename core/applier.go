package core

import (
	"bytes"
	"sync"

	"go.uber.org/multierr"
)

// ForkManager buffers blocks that arrive on a shorter or divergent branch
// and resolves fork-choice by cumulative producer-stake-at-production-time,
// tie-breaking on smaller hash. It replaces the source's global singleton
// with an instance threaded through the Applier's Context.
type ForkManager struct {
	mu       sync.Mutex
	buffered map[Hash][]Block // keyed by previous_hash
}

// NewForkManager constructs an empty ForkManager.
func NewForkManager() *ForkManager { return &ForkManager{buffered: make(map[Hash][]Block)} }

// Buffer stores a valid-but-not-extending-head block for later fork-choice.
func (fm *ForkManager) Buffer(b Block) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.buffered[b.PreviousHash] = append(fm.buffered[b.PreviousHash], b)
}

// chainWeight sums producer stake over a branch.
func chainWeight(blocks []Block) Amount {
	total := AmountZero
	for _, b := range blocks {
		if sum, err := total.Add(b.ProducerStake); err == nil {
			total = sum
		}
	}
	return total
}

// Applier verifies incoming blocks end-to-end and commits their effects
// through the State Machine and Store, purging sealed transactions from the
// Mempool on success.
type Applier struct {
	c       *Context
	sm      *StateMachine
	mempool *Mempool
	reg     *ValidatorRegistry
	forks   *ForkManager
}

// NewApplier constructs an Applier bound to its collaborators.
func NewApplier(c *Context, sm *StateMachine, mempool *Mempool, reg *ValidatorRegistry, forks *ForkManager) *Applier {
	return &Applier{c: c, sm: sm, mempool: mempool, reg: reg, forks: forks}
}

// ApplyResult reports what ApplyIncoming did with a block.
type ApplyResult uint8

const (
	ResultCommitted ApplyResult = iota
	ResultBuffered
	ResultRejected
)

// ApplyIncoming runs the full structural, transactional, and economic
// verification pipeline on block, then either commits it (when it extends
// the current head), buffers it (when valid but on a non-extending
// branch, triggering fork-choice), or rejects it outright.
//
// A structural mismatch causes rejection; no peer score is kept. A
// conflicting block at the same height from the same validator that the
// local node already committed produces Evidence{double_sign} instead of a
// plain rejection.
func (a *Applier) ApplyIncoming(block Block, signature []byte) (ApplyResult, error) {
	if err := a.verifyStructural(&block, signature); err != nil {
		if conflict := a.detectDoubleSign(&block); conflict != nil {
			return ResultRejected, a.recordDoubleSign(*conflict, block)
		}
		return ResultRejected, err
	}

	head, err := a.c.Store.Head()
	hasHead := err == nil
	if err != nil && err != ErrNotFound {
		return ResultRejected, WrapError(CategoryTransientIO, "applier: read head", err)
	}

	if hasHead && block.PreviousHash != head.Hash {
		if existing, err := a.c.Store.GetBlockByHeight(block.Height); err == nil && existing.Validator == block.Validator && existing.Hash != block.Hash {
			return ResultRejected, a.recordDoubleSign(existing, block)
		}
		a.forks.Buffer(block)
		return ResultBuffered, a.runForkChoice(head)
	}

	diff, err := a.sm.ApplyBlock(&block)
	if err != nil {
		return ResultRejected, err
	}
	if err := a.sm.Commit(diff); err != nil {
		return ResultRejected, err
	}
	a.mempool.PurgeSealed(&block)
	a.c.Log.WithField("height", block.Height).WithField("hash", block.Hash.Hex()).Info("committed block")
	return ResultCommitted, nil
}

// verifyStructural checks hash recomputation, block signature, validator
// activeness, that validator matches the Selector's choice (when the
// previous block is known locally), merkle_root, each transaction's hash,
// signature and nonce, and the scheduled reward. previous_hash/height
// continuity is not checked here; ApplyBlock checks it.
func (a *Applier) verifyStructural(block *Block, signature []byte) error {
	var errs []error

	if BlockHash(block) != block.Hash {
		errs = append(errs, NewError(CategoryMalformed, "applier: hash does not match recomputation"))
	}

	ok, err := Verify(block.Validator, block.Hash, signature)
	if err != nil || !ok {
		errs = append(errs, NewError(CategoryMalformed, "applier: block signature does not verify"))
	}

	v, exists := a.c.Store.GetValidator(block.Validator)
	if !exists || v.Status != ValidatorActive {
		errs = append(errs, NewError(CategoryMalformed, "applier: validator is not active"))
	}

	if block.Height > 0 {
		prevBlock, err := a.c.Store.GetBlockByHash(block.PreviousHash)
		if err == nil {
			seed := prevBlock.Hash
			expected, selErr := SelectProducer(block.Height, seed, a.c.Store.ListValidators())
			if selErr == nil && expected != block.Validator {
				errs = append(errs, NewError(CategoryMalformed, "applier: validator does not match selector"))
			}
		}
	}

	root, err := ComputeMerkleRootForBlock(block.Transactions)
	if err != nil || root != block.MerkleRoot {
		errs = append(errs, NewError(CategoryMalformed, "applier: merkle_root mismatch"))
	}
	for i := range block.Transactions {
		tx := &block.Transactions[i]
		if TxHash(tx) != tx.Hash {
			errs = append(errs, NewError(CategoryMalformed, "applier: tx hash mismatch"))
			continue
		}
		if tx.Kind == TxReward || tx.Kind == TxGenesis {
			continue
		}
		okTx, errTx := Verify(tx.Sender, tx.Hash, tx.Signature)
		if errTx != nil || !okTx {
			errs = append(errs, NewError(CategoryMalformed, "applier: tx signature does not verify"))
		}
		if a.c.Store.HasNonce(tx.Sender, tx.Nonce) {
			errs = append(errs, NewError(CategoryReplay, "applier: tx nonce already seen"))
		}
	}

	expectedReward := BlockReward(&a.c.Params, block.Height)
	if block.Reward.Cmp(expectedReward) != 0 {
		errs = append(errs, NewError(CategoryMalformed, "applier: reward does not match halving schedule"))
	}

	if len(errs) > 0 {
		return multierr.Combine(errs...)
	}
	return nil
}

// detectDoubleSign looks for an already-committed block at the same height
// from the same validator with a different hash. Buffered blocks are not
// searched.
func (a *Applier) detectDoubleSign(block *Block) *Block {
	if existing, err := a.c.Store.GetBlockByHeight(block.Height); err == nil {
		if existing.Validator == block.Validator && existing.Hash != block.Hash {
			return &existing
		}
	}
	return nil
}

func (a *Applier) recordDoubleSign(existing, incoming Block) error {
	ev := Evidence{
		Validator:  existing.Validator,
		Kind:       EvidenceDoubleSign,
		BlockHash1: existing.Hash,
		BlockHash2: incoming.Hash,
		Height:     existing.Height,
		Timestamp:  incoming.Timestamp,
	}
	batch := &Batch{EvidenceAdds: []Evidence{ev}}
	if v, exists := a.c.Store.GetValidator(existing.Validator); exists {
		slashed, err := a.reg.Slash(v, EvidenceDoubleSign, incoming.Timestamp)
		if err == nil {
			batch.Validators = append(batch.Validators, slashed)
		}
	}
	if err := a.c.Store.Commit(batch); err != nil {
		return err
	}
	return NewError(CategoryConflict, "applier: conflicting block from same validator at same height")
}

// runForkChoice sums the producer stake of the blocks buffered on
// head.PreviousHash and compares it with head's ProducerStake; an equal
// weight goes to the smaller hash. A branch deeper than MAX_REORG_DEPTH is
// declined and stays buffered. A winning branch is only logged: this method
// does not rewrite committed state and does not request blocks from peers.
func (a *Applier) runForkChoice(head Block) error {
	a.forks.mu.Lock()
	defer a.forks.mu.Unlock()

	best := a.forks.buffered[head.PreviousHash]
	if len(best) == 0 {
		return nil
	}
	sideWeight := chainWeight(best)
	// The canonical branch's own weight over the same divergence window is
	// exactly the current head's ProducerStake, since both branches share
	// every ancestor up to PreviousHash.
	if sideWeight.Cmp(head.ProducerStake) < 0 {
		return nil
	}
	if sideWeight.Cmp(head.ProducerStake) == 0 {
		if bytes.Compare(best[0].Hash[:], head.Hash[:]) >= 0 {
			return nil
		}
	}
	if uint64(len(best)) > a.c.Params.MaxReorgDepth {
		a.c.Log.WithField("depth", len(best)).Warn("fork exceeds max reorg depth, deferring to sync-from-peer")
		return nil
	}
	// The winning branch is reported only; committed state is left as it is.
	a.c.Log.WithField("height", head.Height+1).Info("fork-choice selected alternate branch, requesting sync")
	return nil
}
