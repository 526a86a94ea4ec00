package core

import "testing"

func leafFromByte(b byte) Hash {
	var h Hash
	h[0] = b
	return Sum256(h[:])
}

func TestMerkleRootSingleLeaf(t *testing.T) {
	leaf := leafFromByte(1)
	root, err := MerkleRoot([]Hash{leaf})
	if err != nil {
		t.Fatalf("MerkleRoot failed: %v", err)
	}
	if root != leaf {
		t.Fatalf("single-leaf root should equal the leaf itself")
	}
}

func TestMerkleRootEmptyLeavesErrors(t *testing.T) {
	if _, err := MerkleRoot(nil); err == nil {
		t.Fatalf("expected error for empty leaf set")
	}
}

func TestMerkleRootOddCountDuplicatesLast(t *testing.T) {
	leaves := []Hash{leafFromByte(1), leafFromByte(2), leafFromByte(3)}
	rootOdd, err := MerkleRoot(leaves)
	if err != nil {
		t.Fatalf("MerkleRoot failed: %v", err)
	}
	leavesWithDup := append(append([]Hash{}, leaves...), leaves[len(leaves)-1])
	rootDup, err := MerkleRoot(leavesWithDup)
	if err != nil {
		t.Fatalf("MerkleRoot failed: %v", err)
	}
	if rootOdd != rootDup {
		t.Fatalf("odd-length root should match explicit duplicate-last root")
	}
}

func TestMerkleProofRoundTrip(t *testing.T) {
	leaves := []Hash{leafFromByte(1), leafFromByte(2), leafFromByte(3), leafFromByte(4), leafFromByte(5)}
	for i := range leaves {
		proof, root, err := MerkleProof(leaves, uint32(i))
		if err != nil {
			t.Fatalf("MerkleProof(%d) failed: %v", i, err)
		}
		if !VerifyMerklePath(root, leaves[i], proof, uint32(i)) {
			t.Fatalf("VerifyMerklePath failed for leaf %d", i)
		}
	}
}

func TestVerifyMerklePathRejectsWrongLeaf(t *testing.T) {
	leaves := []Hash{leafFromByte(1), leafFromByte(2), leafFromByte(3)}
	proof, root, err := MerkleProof(leaves, 0)
	if err != nil {
		t.Fatalf("MerkleProof failed: %v", err)
	}
	if VerifyMerklePath(root, leafFromByte(99), proof, 0) {
		t.Fatalf("expected verification failure for wrong leaf")
	}
}

func TestMerkleProofIndexOutOfRange(t *testing.T) {
	leaves := []Hash{leafFromByte(1)}
	if _, _, err := MerkleProof(leaves, 5); err == nil {
		t.Fatalf("expected out-of-range error")
	}
}
