package core

import "testing"

// fixedShardPolicy assigns addr[0] == 0 to shard 0 and everything else to
// shard 1, giving tests deterministic control over which transfers cross a
// shard boundary.
type fixedShardPolicy struct{}

func (fixedShardPolicy) AssignShard(addr Address) ShardID {
	if addr[0] == 0 {
		return 0
	}
	return 1
}

func TestSampleBrokersDeterministicByEpoch(t *testing.T) {
	var pool [100]Address
	for i := range pool {
		pool[i][0] = byte(i)
	}
	a := sampleBrokers(pool[:], 7)
	b := sampleBrokers(pool[:], 7)
	c := sampleBrokers(pool[:], 8)

	if len(a) != BROKER_NUM {
		t.Fatalf("expected sampled pool of size %d, got %d", BROKER_NUM, len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected identical sampling for the same epoch, differed at %d", i)
		}
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("expected different epochs to (almost certainly) sample differently")
	}
}

func TestSampleBrokersCapsAtAvailableCount(t *testing.T) {
	pool := []Address{{1}, {2}, {3}}
	out := sampleBrokers(pool, 1)
	if len(out) != len(pool) {
		t.Fatalf("expected sample capped at pool size %d, got %d", len(pool), len(out))
	}
}

func TestBrokerManagerIsBroker(t *testing.T) {
	var broker Address
	broker[0] = 0x42
	m := NewBrokerManager([]Address{broker}, 0)

	if !m.IsBroker(broker) {
		t.Fatalf("expected broker address to be recognized")
	}
	var other Address
	other[0] = 0x43
	if m.IsBroker(other) {
		t.Fatalf("expected non-broker address to be rejected")
	}
}

func TestBrokerConvertTxSameShardPassesThrough(t *testing.T) {
	var sender, receiver Address
	sender[0], receiver[0] = 0, 0 // both shard 0

	manager := NewBrokerManager(nil, 0)
	b := NewBroker(fixedShardPolicy{}, manager)
	defer b.Close()

	tx := *NewCoreTx(1, sender, receiver, 100, 0, nil)
	out, target, err := b.ConvertTx(tx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target != 0 {
		t.Fatalf("expected same-shard target 0, got %d", target)
	}
	if out.InvolvedShardNum != 1 {
		t.Fatalf("expected single-leg transfer, got involved=%d", out.InvolvedShardNum)
	}
}

func TestBrokerConvertTxCrossShardSplitsIntoTwoLegs(t *testing.T) {
	var sender, receiver, broker Address
	sender[0] = 0  // shard 0
	receiver[0] = 1 // shard 1
	broker[0] = 9   // also shard 1, but registered as broker

	manager := NewBrokerManager([]Address{broker}, 0)
	b := NewBroker(fixedShardPolicy{}, manager)
	defer b.Close()

	tx := *NewCoreTx(7, sender, receiver, 50, 0, nil)
	out, target, err := b.ConvertTx(tx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target != 0 {
		t.Fatalf("expected phase-1 target shard 0 (sender shard), got %d", target)
	}
	if out.InvolvedShardNum != 2 {
		t.Fatalf("expected two-leg relay, got involved=%d", out.InvolvedShardNum)
	}
	if out.Receiver != broker {
		t.Fatalf("expected phase-1 leg routed through broker, got receiver %x", out.Receiver)
	}
}

func TestBrokerProcessTx1NotFoundIsIdempotentDrop(t *testing.T) {
	manager := NewBrokerManager(nil, 0)
	b := NewBroker(fixedShardPolicy{}, manager)
	defer b.Close()

	var sender, receiver Address
	sender[0], receiver[0] = 0, 1
	tx1 := *NewCoreTx(99, sender, receiver, 10, 0, nil)

	_, _, err := b.ProcessTx1(tx1)
	if err != ErrTx1NotFound {
		t.Fatalf("expected ErrTx1NotFound, got %v", err)
	}
}

func TestBrokerProcessTx1CompletesSecondLeg(t *testing.T) {
	var sender, receiver, broker Address
	sender[0] = 0
	receiver[0] = 1
	broker[0] = 9

	manager := NewBrokerManager([]Address{broker}, 0)
	b := NewBroker(fixedShardPolicy{}, manager)
	defer b.Close()

	tx := *NewCoreTx(3, sender, receiver, 25, 0, nil)
	leg1, _, err := b.ConvertTx(tx)
	if err != nil {
		t.Fatalf("unexpected error converting tx: %v", err)
	}

	leg2, target, err := b.ProcessTx1(leg1)
	if err != nil {
		t.Fatalf("unexpected error processing tx1: %v", err)
	}
	if target != 1 {
		t.Fatalf("expected phase-2 target shard 1 (receiver shard), got %d", target)
	}
	if leg2.Receiver != receiver {
		t.Fatalf("expected phase-2 leg to reach final receiver, got %x", leg2.Receiver)
	}
}
