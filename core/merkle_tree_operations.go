package core

// merkle_tree_operations.go – the membership commitment for aggregated
// cross-shard envelopes (spec §12 supplemented feature, AggCSMsg). An
// AggCSMsg batches many inner CoreTxs under one threshold signature; this
// is a structurally different proof problem from mpt.go's sparse 160-bit
// account trie (which proves one account's balance against a state root),
// so it gets its own flat/dense binary tree over the batch's inner tx
// hashes, letting a single inner transaction prove its membership in the
// batch without needing the other members' payloads.

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
)

// BuildMerkleTree returns the level-by-level nodes of a Merkle tree built from
// the provided leaves. Each leaf is hashed using SHA-256. The last slice
// contains the single root hash.
func BuildMerkleTree(leaves [][]byte) ([][][32]byte, error) {
	if len(leaves) == 0 {
		return nil, errors.New("no leaves")
	}

	// first level: hashed leaves
	level := make([][32]byte, len(leaves))
	for i, l := range leaves {
		level[i] = sha256.Sum256(l)
	}

	tree := [][][32]byte{level}

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][32]byte, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = sha256.Sum256(append(level[i][:], level[i+1][:]...))
		}
		tree = append(tree, next)
		level = next
	}

	return tree, nil
}

// MerkleProof returns a Merkle proof for the leaf at the given index along with
// the tree's root hash. The proof slice is ordered from leaf level upwards.
func MerkleProof(leaves [][]byte, index uint32) ([][]byte, [32]byte, error) {
	if len(leaves) == 0 {
		return nil, [32]byte{}, errors.New("no leaves")
	}
	if int(index) >= len(leaves) {
		return nil, [32]byte{}, errors.New("index out of range")
	}

	tree, err := BuildMerkleTree(leaves)
	if err != nil {
		return nil, [32]byte{}, err
	}

	proof := make([][]byte, 0, len(tree)-1)
	idx := int(index)
	for i := 0; i < len(tree)-1; i++ {
		level := tree[i]
		if idx%2 == 0 && idx+1 < len(level) {
			proof = append(proof, level[idx+1][:])
		} else if idx%2 == 0 {
			// last node of an odd-sized level is paired with itself
			proof = append(proof, level[idx][:])
		} else {
			proof = append(proof, level[idx-1][:])
		}
		idx /= 2
	}

	root := tree[len(tree)-1][0]
	return proof, root, nil
}

// VerifyMerklePath checks whether the supplied proof reconstructs the provided
// root for the given leaf and index. Proof hashes must be ordered from leaf
// upwards.
func VerifyMerklePath(root [32]byte, leaf []byte, proof [][]byte, index uint32) bool {
	h := sha256.Sum256(leaf)
	hash := h[:]
	for _, p := range proof {
		if index%2 == 0 {
			pair := append(hash, p...)
			sum := sha256.Sum256(pair)
			hash = sum[:]
		} else {
			pair := append(p, hash...)
			sum := sha256.Sum256(pair)
			hash = sum[:]
		}
		index /= 2
	}
	return bytes.Equal(hash, root[:])
}

//---------------------------------------------------------------------
// AggCSMsg construction and membership verification
//---------------------------------------------------------------------

func aggLeaves(txs []CoreTx) [][]byte {
	leaves := make([][]byte, len(txs))
	for i, tx := range txs {
		h := tx.TxHash
		leaves[i] = h[:]
	}
	return leaves
}

// NewAggCSMsg batches txs under a single dense Merkle root, letting a
// verifier check any one inner transaction's membership via
// AggMembershipProof instead of re-hashing the whole batch.
func NewAggCSMsg(txs []CoreTx, sig CSProofEntry) (AggCSMsg, error) {
	if len(txs) == 0 {
		return AggCSMsg{}, errors.New("agg_csmsg: empty batch")
	}
	_, root, err := MerkleProof(aggLeaves(txs), 0)
	if err != nil {
		return AggCSMsg{}, fmt.Errorf("agg_csmsg: build root: %w", err)
	}
	return AggCSMsg{Txs: txs, Root: Hash(root), CSProof: sig}, nil
}

// AggMembershipProof returns the Merkle proof for the inner transaction at
// index within agg, for a verifier that holds only that one transaction and
// agg.Root.
func AggMembershipProof(agg AggCSMsg, index int) ([][]byte, error) {
	if index < 0 || index >= len(agg.Txs) {
		return nil, fmt.Errorf("agg_csmsg: index %d out of range for %d txs", index, len(agg.Txs))
	}
	proof, _, err := MerkleProof(aggLeaves(agg.Txs), uint32(index))
	return proof, err
}

// VerifyAggMembership checks that tx is the inner transaction at index within
// an aggregated batch committed to by root.
func VerifyAggMembership(root Hash, tx CoreTx, index int, proof [][]byte) bool {
	return VerifyMerklePath([32]byte(root), tx.TxHash[:], proof, uint32(index))
}
