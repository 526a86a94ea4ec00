package core

import (
	"bytes"
	"errors"
)

// BuildMerkleTree returns the level-by-level nodes of a binary SHA3-256
// Merkle tree built over leaves, which are already-hashed transaction
// digests (tx_hash values), not raw transaction bytes. Odd final nodes at
// each level are duplicated rather than left unpaired. The last slice
// contains the single root hash.
func BuildMerkleTree(leaves []Hash) ([][]Hash, error) {
	if len(leaves) == 0 {
		return nil, errors.New("merkle: no leaves")
	}

	level := make([]Hash, len(leaves))
	copy(level, leaves)
	tree := [][]Hash{level}

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = hashPair(level[i], level[i+1])
		}
		tree = append(tree, next)
		level = next
	}

	return tree, nil
}

// MerkleRoot computes the SHA3-256 Merkle root over leaf digests, per the
// fixed binary-tree-with-duplication rule used for block.merkle_root.
func MerkleRoot(leaves []Hash) (Hash, error) {
	tree, err := BuildMerkleTree(leaves)
	if err != nil {
		return Hash{}, err
	}
	return tree[len(tree)-1][0], nil
}

func hashPair(a, b Hash) Hash {
	buf := make([]byte, 0, 64)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	return Sum256(buf)
}

// MerkleProof returns a Merkle proof for the leaf at the given index along
// with the tree's root hash. The proof slice is ordered from leaf level
// upwards.
func MerkleProof(leaves []Hash, index uint32) ([]Hash, Hash, error) {
	if len(leaves) == 0 {
		return nil, Hash{}, errors.New("merkle: no leaves")
	}
	if int(index) >= len(leaves) {
		return nil, Hash{}, errors.New("merkle: index out of range")
	}

	tree, err := BuildMerkleTree(leaves)
	if err != nil {
		return nil, Hash{}, err
	}

	proof := make([]Hash, 0, len(tree)-1)
	idx := int(index)
	for i := 0; i < len(tree)-1; i++ {
		level := tree[i]
		if idx%2 == 0 {
			if idx+1 < len(level) {
				proof = append(proof, level[idx+1])
			} else {
				// Odd level: the last node is paired with its own duplicate.
				proof = append(proof, level[idx])
			}
		} else {
			proof = append(proof, level[idx-1])
		}
		idx /= 2
	}

	root := tree[len(tree)-1][0]
	return proof, root, nil
}

// VerifyMerklePath checks whether the supplied proof reconstructs root for
// the given leaf digest and index. Proof hashes must be ordered from leaf
// level upwards, matching the order MerkleProof returns.
func VerifyMerklePath(root Hash, leaf Hash, proof []Hash, index uint32) bool {
	hash := leaf
	for _, p := range proof {
		if index%2 == 0 {
			hash = hashPair(hash, p)
		} else {
			hash = hashPair(p, hash)
		}
		index /= 2
	}
	return bytes.Equal(hash[:], root[:])
}
