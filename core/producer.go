package core

import "time"

// SignedBlock pairs a candidate block with the producer's signature over
// its hash. The signature travels alongside the block at the Network layer
// rather than as a Block field, since the Applier must verify it against
// block.Validator before trusting anything else in the block.
type SignedBlock struct {
	Block     Block
	Signature []byte
}

// Producer assembles, signs, and submits candidate blocks when this node is
// selected. It never commits directly: it hands the signed block to an
// Applier for verification and commit, exactly like a block arriving from a
// peer, so the local and remote paths share one code path.
type Producer struct {
	c       *Context
	mempool *Mempool
}

// NewProducer constructs a Producer bound to c and mempool.
func NewProducer(c *Context, mempool *Mempool) *Producer { return &Producer{c: c, mempool: mempool} }

// Produce assembles a candidate block at head.Height+1, injecting
// distribution-period bonuses for newly staking validators ahead of the
// selected transactions, and signs it with the node's validator key.
func (p *Producer) Produce(head *Block, genesisAt time.Time, now time.Time) (*SignedBlock, error) {
	if p.c.Self == nil {
		return nil, NewError(CategoryFatal, "producer: node has no validator identity")
	}

	txs := p.mempool.SelectBatch(p.c.Params.MaxBlockBytes)
	txs = p.injectDistributionBonuses(txs, genesisAt, now)

	reward := BlockReward(&p.c.Params, head.Height+1)
	rewardTx := Transaction{
		Kind:      TxReward,
		Sender:    AddressZero,
		Recipient: p.c.Self.Address,
		Amount:    reward,
		Timestamp: now,
	}
	if WithinDistributionPeriod(&p.c.Params, genesisAt.Unix(), now.Unix()) {
		rewardTx.Payload = payloadAutoStake
	}
	rewardTx.Hash = TxHash(&rewardTx)
	txs = append(txs, rewardTx)

	producerStake := AmountZero
	if v, ok := p.c.Store.GetValidator(p.c.Self.Address); ok {
		producerStake = v.Stake
	}

	block := Block{
		Height:        head.Height + 1,
		PreviousHash:  head.Hash,
		Timestamp:     now,
		Validator:     p.c.Self.Address,
		Transactions:  txs,
		Reward:        reward,
		ProducerStake: producerStake,
	}
	root, err := ComputeMerkleRootForBlock(block.Transactions)
	if err != nil {
		return nil, WrapError(CategoryFatal, "producer: merkle root", err)
	}
	block.MerkleRoot = root
	block.Hash = BlockHash(&block)

	sig, err := Sign(p.c.Self.Private, block.Hash)
	if err != nil {
		return nil, WrapError(CategoryFatal, "producer: sign block", err)
	}

	p.c.Log.WithFields(map[string]interface{}{
		"height": block.Height,
		"txs":    len(block.Transactions),
		"reward": reward.String(),
	}).Info("produced block")

	return &SignedBlock{Block: block, Signature: sig}, nil
}

// injectDistributionBonuses scans the selected stake transactions for
// senders with no existing validator record; if now falls within
// DISTRIBUTION_DURATION of genesis, a matching system reward tx for
// EARLY_VALIDATOR_REWARD (auto-staked) is appended for each one, ahead of
// the stake transactions they accompany.
func (p *Producer) injectDistributionBonuses(txs []Transaction, genesisAt, now time.Time) []Transaction {
	if !WithinDistributionPeriod(&p.c.Params, genesisAt.Unix(), now.Unix()) {
		return txs
	}
	seen := make(map[Address]bool)
	var bonuses []Transaction
	for _, tx := range txs {
		if tx.Kind != TxStake {
			continue
		}
		if seen[tx.Sender] {
			continue
		}
		seen[tx.Sender] = true
		if _, exists := p.c.Store.GetValidator(tx.Sender); exists {
			continue
		}
		bonus := Transaction{
			Kind:      TxReward,
			Sender:    AddressZero,
			Recipient: tx.Sender,
			Amount:    p.c.Params.EarlyValidator,
			Timestamp: now,
			Payload:   payloadAutoStake,
		}
		bonus.Hash = TxHash(&bonus)
		bonuses = append(bonuses, bonus)
	}
	return append(bonuses, txs...)
}
