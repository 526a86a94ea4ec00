package core

import (
	"testing"
	"time"
)

func sampleTx() Transaction {
	tx := Transaction{
		Kind:      TxTransfer,
		Sender:    Address{1},
		Recipient: Address{2},
		Amount:    NewAmountFromWhole(10),
		Fee:       NewAmountFromMantissa(1000),
		Nonce:     7,
		Timestamp: time.Unix(1700000000, 0),
		Payload:   []byte("memo"),
	}
	tx.Hash = TxHash(&tx)
	return tx
}

func TestTxHashDeterministic(t *testing.T) {
	tx := sampleTx()
	h1 := TxHash(&tx)
	h2 := TxHash(&tx)
	if h1 != h2 {
		t.Fatalf("expected deterministic tx hash")
	}
}

func TestTxHashChangesWithField(t *testing.T) {
	tx := sampleTx()
	base := TxHash(&tx)
	tx.Nonce++
	if TxHash(&tx) == base {
		t.Fatalf("expected hash to change when nonce changes")
	}
}

func TestTxHashExcludesSignatureAndCachedHash(t *testing.T) {
	tx := sampleTx()
	base := TxHash(&tx)
	tx.Signature = []byte{0xde, 0xad, 0xbe, 0xef}
	if TxHash(&tx) != base {
		t.Fatalf("tx hash must not depend on the signature field")
	}
}

func TestBlockHashDeterministicAndSensitive(t *testing.T) {
	tx := sampleTx()
	block := Block{
		Height:       1,
		PreviousHash: Hash{9},
		Timestamp:    time.Unix(1700000300, 0),
		Validator:    Address{3},
		Transactions: []Transaction{tx},
		Reward:       NewAmountFromWhole(21),
	}
	root, err := ComputeMerkleRootForBlock(block.Transactions)
	if err != nil {
		t.Fatalf("merkle root failed: %v", err)
	}
	block.MerkleRoot = root

	h1 := BlockHash(&block)
	h2 := BlockHash(&block)
	if h1 != h2 {
		t.Fatalf("expected deterministic block hash")
	}

	block.Height = 2
	if BlockHash(&block) == h1 {
		t.Fatalf("expected hash to change when height changes")
	}
}

func TestComputeMerkleRootForEmptyBlock(t *testing.T) {
	root, err := ComputeMerkleRootForBlock(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if root != Sum256(nil) {
		t.Fatalf("expected empty block root to equal Sum256(nil)")
	}
}

func TestDecodeLenPrefixedRoundTrip(t *testing.T) {
	encoded := encodeLenPrefixed(nil, []byte("hello"))
	data, rest, err := decodeLenPrefixed(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("expected 'hello', got %q", data)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no remaining bytes, got %d", len(rest))
	}
}

func TestDecodeLenPrefixedTruncated(t *testing.T) {
	if _, _, err := decodeLenPrefixed([]byte{0, 0}); err == nil {
		t.Fatalf("expected error for truncated length prefix")
	}
	if _, _, err := decodeLenPrefixed([]byte{0, 0, 0, 10, 1, 2}); err == nil {
		t.Fatalf("expected error for truncated length-prefixed field")
	}
}
