package core

import "testing"

func TestMPTInsertGetRoundTrip(t *testing.T) {
	trie := NewMPT()
	var addr Address
	addr[0] = 0xAB

	if got := trie.Get(addr); got != nil {
		t.Fatalf("expected nil for absent key, got %v", got)
	}

	trie.Insert(addr, []byte("hello"))
	if got := trie.Get(addr); string(got) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", got)
	}
}

func TestMPTRootChangesOnInsert(t *testing.T) {
	trie := NewMPT()
	empty := trie.Root()

	var addr Address
	addr[0] = 0x01
	trie.Insert(addr, []byte("value"))
	after := trie.Root()

	if empty == after {
		t.Fatalf("expected root to change after insert")
	}
}

func TestMPTProofVerifiesInclusion(t *testing.T) {
	trie := NewMPT()
	var a, b Address
	a[0], b[0] = 0x01, 0x02
	trie.Insert(a, []byte("alpha"))
	trie.Insert(b, []byte("beta"))

	proof := trie.GetProof(a)
	value, ok := VerifyProof(trie.Root(), a, proof)
	if !ok {
		t.Fatalf("expected inclusion proof for a to verify")
	}
	if string(value) != "alpha" {
		t.Fatalf("expected proven value %q, got %q", "alpha", value)
	}
}

func TestMPTProofVerifiesAbsence(t *testing.T) {
	trie := NewMPT()
	var a, missing Address
	a[0] = 0x01
	missing[0] = 0x99
	trie.Insert(a, []byte("alpha"))

	proof := trie.GetProof(missing)
	value, ok := VerifyProof(trie.Root(), missing, proof)
	if !ok {
		t.Fatalf("expected non-inclusion proof to verify")
	}
	if value != nil {
		t.Fatalf("expected nil value for absent key, got %v", value)
	}
}

func TestMPTDeleteRemovesValue(t *testing.T) {
	trie := NewMPT()
	var addr Address
	addr[0] = 0x05
	trie.Insert(addr, []byte("gone-soon"))
	trie.Delete(addr)

	if got := trie.Get(addr); got != nil {
		t.Fatalf("expected nil after delete, got %v", got)
	}
}

func TestMPTGetProofBatch(t *testing.T) {
	trie := NewMPT()
	var a, b Address
	a[0], b[0] = 0x10, 0x20
	trie.Insert(a, []byte("one"))
	trie.Insert(b, []byte("two"))

	proofs := trie.GetProofBatch([]Address{a, b})
	if len(proofs) != 2 {
		t.Fatalf("expected 2 proofs, got %d", len(proofs))
	}
	root := trie.Root()
	for _, addr := range []Address{a, b} {
		if _, ok := VerifyProof(root, addr, proofs[addr]); !ok {
			t.Fatalf("expected batch proof for %x to verify", addr)
		}
	}
}
