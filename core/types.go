package core

import "time"

// TxKind is a tagged variant over transaction kinds. The State Machine
// dispatches on this tag with an exhaustive switch rather than a runtime
// type hierarchy.
type TxKind uint8

const (
	TxTransfer TxKind = iota
	TxStake
	TxUnstake
	TxReward
	TxGenesis
)

func (k TxKind) String() string {
	switch k {
	case TxTransfer:
		return "transfer"
	case TxStake:
		return "stake"
	case TxUnstake:
		return "unstake"
	case TxReward:
		return "reward"
	case TxGenesis:
		return "genesis"
	default:
		return "unknown"
	}
}

// Transaction is the ledger's atomic unit of account movement.
type Transaction struct {
	Kind      TxKind
	Sender    Address
	Recipient Address
	Amount    Amount
	Fee       Amount
	Nonce     uint64
	Timestamp time.Time
	Signature []byte // 65-byte recoverable ECDSA signature, absent for reward/genesis
	Payload   []byte // opaque memo, length-prefixed on the wire

	// Hash is cached once computed; it is never part of the canonical
	// encoding used to derive itself.
	Hash Hash
}

// Block is an ordered batch of transactions plus a header committing to the
// previous block and its producer.
type Block struct {
	Height       uint64
	PreviousHash Hash
	Timestamp    time.Time
	Validator    Address
	Transactions []Transaction
	MerkleRoot   Hash
	Reward       Amount
	// Nonce is a PoW-style header field retained for structural parity
	// with the wire format; BT2C selects producers by stake, so it is
	// always zero and never checked for work.
	Nonce uint64
	Hash  Hash

	// ProducerStake records the validator's stake at the moment this
	// block was produced, for fork-choice's cumulative-stake weighting.
	// It is not covered by block_hash — recomputing it from a historical
	// snapshot rather than the live registry is a fork-choice concern,
	// not a block-identity one.
	ProducerStake Amount
}

// ValidatorStatus is the validator lifecycle state.
type ValidatorStatus uint8

const (
	ValidatorActive ValidatorStatus = iota
	ValidatorInactive
	ValidatorJailed
	ValidatorTombstoned
)

func (s ValidatorStatus) String() string {
	switch s {
	case ValidatorActive:
		return "ACTIVE"
	case ValidatorInactive:
		return "INACTIVE"
	case ValidatorJailed:
		return "JAILED"
	case ValidatorTombstoned:
		return "TOMBSTONED"
	default:
		return "UNKNOWN"
	}
}

// Validator is an address with sufficient stake eligible to produce blocks.
type Validator struct {
	Address        Address
	Stake          Amount
	Status         ValidatorStatus
	Reputation     uint64
	JoinedAt       time.Time
	LastBlockAt    time.Time
	TotalBlocks    uint64
	RewardsEarned  Amount
	CommissionRate float64 // 0..1

	JailedUntil time.Time

	// DoubleSignCount tracks how many double-sign events have landed
	// within TombstoneWindow; a second occurrence inside the window
	// tombstones the validator permanently.
	DoubleSignCount   int
	LastDoubleSignAt  time.Time
}

// UnstakeStatus is the lifecycle state of an UnstakeEntry.
type UnstakeStatus uint8

const (
	UnstakePending UnstakeStatus = iota
	UnstakeProcessed
	UnstakeCancelled
)

func (s UnstakeStatus) String() string {
	switch s {
	case UnstakePending:
		return "pending"
	case UnstakeProcessed:
		return "processed"
	case UnstakeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// UnstakeEntry is a queued withdrawal of staked funds back to balance.
type UnstakeEntry struct {
	Validator     Address
	Amount        Amount
	RequestedAt   time.Time
	QueuePosition uint64
	Status        UnstakeStatus
}

// EvidenceKind distinguishes the two provable-misbehavior categories.
type EvidenceKind uint8

const (
	EvidenceDoubleSign EvidenceKind = iota
	EvidenceUnavailability
)

func (k EvidenceKind) String() string {
	switch k {
	case EvidenceDoubleSign:
		return "double_sign"
	case EvidenceUnavailability:
		return "unavailability"
	default:
		return "unknown"
	}
}

// Evidence records a provable act of validator misbehavior.
type Evidence struct {
	Validator   Address
	Kind        EvidenceKind
	BlockHash1  Hash
	BlockHash2  Hash // zero for unavailability evidence
	Height      uint64
	Timestamp   time.Time
	Processed   bool
}

// Account is the authoritative balance/stake/nonce record for an address.
// Created lazily on first credit; never destroyed.
type Account struct {
	Address   Address
	Balance   Amount
	Staked    Amount
	NextNonce uint64
}
