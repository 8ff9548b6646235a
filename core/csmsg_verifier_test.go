package core

import (
	"testing"
	"time"
)

func newTestVerifier(mode AppendMode, self ShardID, selfAddr Address, committee []Address) (*CSMsgVerifier, chan GeneralTx) {
	coord := NewShardCoordinator(self, fixedShardPolicy{}, committee)
	out := make(chan GeneralTx, 4)
	v := NewCSMsgVerifier(coord, mode, selfAddr, committee, nil, nil, out)
	return v, out
}

func TestAppendDualOpportunisticPackagerAppendsImmediately(t *testing.T) {
	committee := []Address{{1}, {2}, {3}, {4}, {5}}
	var txHash Hash
	txHash[0] = 0x11
	packagers := OpportunisticPackagers(txHash, committee)
	self := packagers[0]

	v, out := newTestVerifier(AppendDualMode, 0, self, committee)
	defer v.coord.CSStore().Close()

	tx := *NewCoreTx(1, Address{9}, Address{10}, 5, 0, nil)
	id := MsgID{Source: 1, Sequence: 1}
	v.coord.CSStore().AddSig(id, self, []byte("share")) // message is Validating, as processMsg leaves it
	v.appendDual(id, txHash, tx)

	select {
	case got := <-out:
		if got.Kind != KindTransfer || got.Transfer.Counter != tx.Counter {
			t.Fatalf("unexpected delivered tx: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected opportunistic packager to deliver immediately")
	}
}

func TestAppendDualNonPackagerFallsBackAfterTimeout(t *testing.T) {
	committee := []Address{{1}, {2}, {3}, {4}, {5}}
	var txHash Hash
	txHash[0] = 0x22
	packagers := OpportunisticPackagers(txHash, committee)

	var nonPackager Address
	for _, c := range committee {
		if !IsOpportunisticPackager(txHash, committee, c) {
			nonPackager = c
			break
		}
	}
	if nonPackager == (Address{}) {
		t.Fatalf("expected at least one non-packager in committee, packagers=%v", packagers)
	}

	v, out := newTestVerifier(AppendDualMode, 0, nonPackager, committee)
	defer v.coord.CSStore().Close()

	tx := *NewCoreTx(2, Address{9}, Address{10}, 5, 0, nil)
	id := MsgID{Source: 1, Sequence: 2}

	start := time.Now()
	v.appendDual(id, txHash, tx)
	if time.Since(start) < TIMER_RESOLUTION {
		t.Fatalf("expected non-packager to wait at least TIMER_RESOLUTION before self-appending")
	}

	select {
	case got := <-out:
		if got.Transfer.Counter != tx.Counter {
			t.Fatalf("unexpected delivered tx: %+v", got)
		}
	default:
		t.Fatalf("expected fallback self-append to deliver the transaction")
	}
}

func TestAppendSerialFirstInPermutationAppendsImmediately(t *testing.T) {
	committee := []Address{{1}, {2}, {3}, {4}}
	var txHash Hash
	txHash[0] = 0x33
	perm := keyedPermutation(txHash, len(committee))
	self := committee[perm[0]]

	v, out := newTestVerifier(AppendSerialMode, 0, self, committee)
	defer v.coord.CSStore().Close()

	tx := *NewCoreTx(3, Address{9}, Address{10}, 5, 0, nil)
	id := MsgID{Source: 1, Sequence: 3}
	v.coord.CSStore().AddSig(id, self, []byte("share")) // message is Validating, as processMsg leaves it
	v.appendSerial(id, txHash, tx)

	select {
	case got := <-out:
		if got.Transfer.Counter != tx.Counter {
			t.Fatalf("unexpected delivered tx: %+v", got)
		}
	default:
		t.Fatalf("expected first-in-permutation leader to append immediately")
	}
}
