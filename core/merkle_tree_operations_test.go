package core

import "testing"

func TestMerkleProofRoundTrip(t *testing.T) {
	leaves := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d"), []byte("e")}
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
	leaves := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	proof, root, err := MerkleProof(leaves, 1)
	if err != nil {
		t.Fatalf("MerkleProof failed: %v", err)
	}
	if VerifyMerklePath(root, []byte("not-b"), proof, 1) {
		t.Fatalf("expected verification to fail for substituted leaf")
	}
}

func newAggTestTx(counter uint64) CoreTx {
	var sender, receiver Address
	sender[0] = byte(counter)
	receiver[0] = byte(counter + 1)
	tx := NewCoreTx(counter, sender, receiver, 1, 0, nil)
	return *tx
}

func TestAggCSMsgMembership(t *testing.T) {
	txs := []CoreTx{newAggTestTx(1), newAggTestTx(2), newAggTestTx(3)}
	agg, err := NewAggCSMsg(txs, CSProofEntry{})
	if err != nil {
		t.Fatalf("NewAggCSMsg failed: %v", err)
	}

	for i, tx := range txs {
		proof, err := AggMembershipProof(agg, i)
		if err != nil {
			t.Fatalf("AggMembershipProof(%d) failed: %v", i, err)
		}
		if !VerifyAggMembership(agg.Root, tx, i, proof) {
			t.Fatalf("expected inner tx %d to verify against agg root", i)
		}
	}
}

func TestAggCSMsgMembershipRejectsSwap(t *testing.T) {
	txs := []CoreTx{newAggTestTx(1), newAggTestTx(2)}
	agg, err := NewAggCSMsg(txs, CSProofEntry{})
	if err != nil {
		t.Fatalf("NewAggCSMsg failed: %v", err)
	}
	proof, err := AggMembershipProof(agg, 0)
	if err != nil {
		t.Fatalf("AggMembershipProof failed: %v", err)
	}
	swapped := newAggTestTx(99)
	if VerifyAggMembership(agg.Root, swapped, 0, proof) {
		t.Fatalf("expected verification to fail for swapped-in transaction")
	}
}
