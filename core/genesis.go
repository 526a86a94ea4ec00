package core

import "time"

// BuildGenesisBlock constructs the height-0 block. devAddress receives the
// one-shot DEVELOPER_REWARD plus EARLY_VALIDATOR_REWARD as a single genesis
// credit landing directly in staked balance — "automatically staked on
// receipt" is a protocol-level effect, not a separately signed stake
// transaction, so the developer is already an ACTIVE validator the instant
// the genesis block commits and can produce block 1 itself. This is the
// first-registrant interpretation the spec fixes among the source's
// inconsistent variants. extra may carry additional genesis-time balance
// credits (e.g. a pre-sale allocation); they are appended after the
// developer bonus.
func BuildGenesisBlock(p *NetworkParams, devAddress Address, at time.Time, extra []Transaction) (*Block, error) {
	bonus, err := p.DeveloperReward.Add(p.EarlyValidator)
	if err != nil {
		return nil, WrapError(CategoryFatal, "genesis: bonus overflow", err)
	}
	devTx := Transaction{
		Kind:      TxGenesis,
		Sender:    AddressZero,
		Recipient: devAddress,
		Amount:    bonus,
		Timestamp: at,
		Payload:   payloadAutoStake,
	}
	devTx.Hash = TxHash(&devTx)

	txs := append([]Transaction{devTx}, extra...)
	for i := range txs {
		if txs[i].Hash.IsZero() {
			txs[i].Hash = TxHash(&txs[i])
		}
	}

	block := &Block{
		Height:       0,
		PreviousHash: Hash{},
		Timestamp:    at,
		Validator:    AddressZero,
		Transactions: txs,
		Reward:       AmountZero,
	}
	root, err := ComputeMerkleRootForBlock(block.Transactions)
	if err != nil {
		return nil, WrapError(CategoryFatal, "genesis: merkle root", err)
	}
	block.MerkleRoot = root
	block.Hash = BlockHash(block)
	return block, nil
}
