package core

import "testing"

func TestMStoreGetMaterializesInitBalance(t *testing.T) {
	s := NewMStore()
	var addr Address
	addr[0] = 0x01

	acct := s.Get(addr)
	if acct.Balance != INIT_BALANCE {
		t.Fatalf("expected INIT_BALANCE, got %d", acct.Balance)
	}

	acct.Balance += 10
	s.Set(addr, acct)
	if got := s.Get(addr); got.Balance != INIT_BALANCE+10 {
		t.Fatalf("expected updated balance, got %d", got.Balance)
	}
}

func TestTStorePromotesFullToAct(t *testing.T) {
	s := NewTStore()
	var addr Address
	addr[0] = 0x02

	acct := NewAccount()
	acct.Balance = 500
	s.full.Insert(addr, encodeAccount(acct))

	got := s.Get(addr)
	if got.Balance != 500 {
		t.Fatalf("expected promoted balance 500, got %d", got.Balance)
	}
	if s.act.Get(addr) == nil {
		t.Fatalf("expected addr promoted into act tier")
	}
}

func TestTStoreFlushEpochMovesActToFull(t *testing.T) {
	s := NewTStore()
	var addr Address
	addr[0] = 0x03

	acct := NewAccount()
	acct.Balance = 42
	s.Set(addr, acct)

	s.FlushEpoch([]Address{addr})
	if raw := s.full.Get(addr); raw == nil {
		t.Fatalf("expected addr flushed into full tier")
	}
}

func TestMigrationRoundTrip(t *testing.T) {
	source := NewTStore()
	dest := NewTStore()

	var addr Address
	addr[0] = 0x09
	acct := NewAccount()
	acct.Balance = 777
	source.Set(addr, acct)

	payload := source.PrepareMigration(1, 1, 0, []Address{addr})
	if len(payload.ActiveProofs) != 1 {
		t.Fatalf("expected 1 active proof, got %d", len(payload.ActiveProofs))
	}

	sourceActRoot := source.ActRoot()
	invalid := dest.ReceiveMigration(payload, sourceActRoot, source.FullRoot())
	if len(invalid) != 0 {
		t.Fatalf("expected no invalid proofs, got %v", invalid)
	}

	got := dest.Get(addr)
	if got.Balance != 777 {
		t.Fatalf("expected migrated balance 777, got %d", got.Balance)
	}

	source.CommitMigrationSend(payload, nil)
	if source.act.Get(addr) != nil {
		t.Fatalf("expected addr removed from source act tier after commit")
	}
}

func TestReceiveMigrationRejectsBadProof(t *testing.T) {
	source := NewTStore()
	dest := NewTStore()

	var addr Address
	addr[0] = 0x0A
	acct := NewAccount()
	source.Set(addr, acct)

	payload := source.PrepareMigration(1, 1, 0, []Address{addr})

	var wrongRoot Hash
	wrongRoot[0] = 0xFF
	invalid := dest.ReceiveMigration(payload, wrongRoot, source.FullRoot())
	if len(invalid) != 1 || invalid[0] != addr {
		t.Fatalf("expected addr reported invalid, got %v", invalid)
	}
}
