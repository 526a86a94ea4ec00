package core

import (
	"encoding/binary"
	"fmt"
)

// encodeUint64BE appends v as 8 big-endian bytes to dst.
func encodeUint64BE(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

// encodeLenPrefixed appends data prefixed with its length as a big-endian
// uint32, per the "length-prefixed bytes" convention; the transaction
// hash encoding uses it for the nonce bytes and the payload.
func encodeLenPrefixed(dst []byte, data []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, data...)
}

func decodeLenPrefixed(src []byte) (data []byte, rest []byte, err error) {
	if len(src) < 4 {
		return nil, nil, fmt.Errorf("encoding: truncated length prefix")
	}
	n := binary.BigEndian.Uint32(src[:4])
	src = src[4:]
	if uint64(len(src)) < uint64(n) {
		return nil, nil, fmt.Errorf("encoding: truncated length-prefixed field")
	}
	return src[:n], src[n:], nil
}

// EncodeTxForHash produces the canonical byte layout covered by tx_hash:
// type (u8) ‖ sender (20 B) ‖ recipient (20 B) ‖ amount (u64 BE) ‖
// fee (u64 BE) ‖ nonce (length-prefixed bytes) ‖ timestamp (u64 BE) ‖
// payload (length-prefixed bytes). hash and signature are never included.
func EncodeTxForHash(tx *Transaction) []byte {
	out := make([]byte, 0, 1+20+20+8+8+4+8+8+4+len(tx.Payload))
	out = append(out, byte(tx.Kind))
	out = append(out, tx.Sender[:]...)
	out = append(out, tx.Recipient[:]...)
	out = encodeUint64BE(out, uint64(tx.Amount.Mantissa()))
	out = encodeUint64BE(out, uint64(tx.Fee.Mantissa()))
	out = encodeLenPrefixed(out, encodeUint64BE(nil, tx.Nonce))
	out = encodeUint64BE(out, uint64(tx.Timestamp.Unix()))
	out = encodeLenPrefixed(out, tx.Payload)
	return out
}

// TxHash computes tx_hash(tx): SHA3-256 over the canonical encoding.
func TxHash(tx *Transaction) Hash {
	return Sum256(EncodeTxForHash(tx))
}

// EncodeBlockHeaderForHash produces the canonical block-header byte layout:
// height (u64 BE) ‖ previous_hash (32 B) ‖ timestamp (u64 BE) ‖
// validator (20 B) ‖ merkle_root (32 B) ‖ reward (u64 BE, fixed-point 10^-8).
func EncodeBlockHeaderForHash(b *Block) []byte {
	out := make([]byte, 0, 8+32+8+20+32+8)
	out = encodeUint64BE(out, b.Height)
	out = append(out, b.PreviousHash[:]...)
	out = encodeUint64BE(out, uint64(b.Timestamp.Unix()))
	out = append(out, b.Validator[:]...)
	out = append(out, b.MerkleRoot[:]...)
	out = encodeUint64BE(out, uint64(b.Reward.Mantissa()))
	return out
}

// BlockHash computes block_hash(block): SHA3-256 over the header fields.
func BlockHash(b *Block) Hash {
	return Sum256(EncodeBlockHeaderForHash(b))
}

// ComputeMerkleRootForBlock computes merkle_root(txs): the binary SHA3-256
// Merkle tree over tx_hash(tx) for every transaction, in listed order.
func ComputeMerkleRootForBlock(txs []Transaction) (Hash, error) {
	if len(txs) == 0 {
		// An empty block still needs a well-defined root: the hash of
		// the empty byte string, matching how an empty Merkle tree is
		// conventionally rooted.
		return Sum256(nil), nil
	}
	leaves := make([]Hash, len(txs))
	for i := range txs {
		leaves[i] = TxHash(&txs[i])
	}
	return MerkleRoot(leaves)
}
