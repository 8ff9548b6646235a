package core

import "testing"

func TestAccountManagerCreateAndBalance(t *testing.T) {
	am := NewAccountManager(NewMStore())
	var addr Address
	copy(addr[:], []byte("address-1-000000"))

	if err := am.CreateAccount(addr); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	bal, err := am.Balance(addr)
	if err != nil {
		t.Fatalf("Balance returned error: %v", err)
	}
	if bal != INIT_BALANCE {
		t.Fatalf("expected balance %d, got %d", int64(INIT_BALANCE), bal)
	}

	var other Address
	other[0] = 0xEE
	if err := am.Transfer(addr, other, 1); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if err := am.CreateAccount(addr); err == nil {
		t.Fatalf("expected error when creating an already-initialized account")
	}
}

func TestAccountManagerTransferAndDelete(t *testing.T) {
	am := NewAccountManager(NewMStore())

	var src, dst Address
	copy(src[:], []byte("source-address-000"))
	copy(dst[:], []byte("dest-address-00000"))

	if err := am.CreateAccount(src); err != nil {
		t.Fatalf("CreateAccount src failed: %v", err)
	}
	if err := am.CreateAccount(dst); err != nil {
		t.Fatalf("CreateAccount dst failed: %v", err)
	}

	if err := am.Transfer(src, dst, 40); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	srcBal, _ := am.Balance(src)
	dstBal, _ := am.Balance(dst)
	if srcBal != INIT_BALANCE-40 {
		t.Fatalf("src expected %d, got %d", INIT_BALANCE-40, srcBal)
	}
	if dstBal != INIT_BALANCE+40 {
		t.Fatalf("dst expected %d, got %d", INIT_BALANCE+40, dstBal)
	}

	if err := am.DeleteAccount(src); err != nil {
		t.Fatalf("DeleteAccount failed: %v", err)
	}
	resetBal, _ := am.Balance(src)
	if resetBal != INIT_BALANCE {
		t.Fatalf("source account expected reset to %d, got %d", int64(INIT_BALANCE), resetBal)
	}
}

func TestAccountManagerInsufficientBalance(t *testing.T) {
	am := NewAccountManager(NewMStore())
	var src, dst Address
	copy(src[:], []byte("src-2"))
	copy(dst[:], []byte("dst-2"))

	if err := am.Transfer(src, dst, INIT_BALANCE+1); err == nil {
		t.Fatalf("expected insufficient balance error")
	}
}
