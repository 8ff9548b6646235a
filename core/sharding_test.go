package core

import (
	"testing"

	"synnergy-network/pkg/netconf"
)

func TestHashShardPolicyDeterministic(t *testing.T) {
	p := NewHashShardPolicy(4)
	var addr Address
	addr[0] = 0x42
	a := p.AssignShard(addr)
	b := p.AssignShard(addr)
	if a != b {
		t.Fatalf("expected deterministic assignment, got %d then %d", a, b)
	}
}

func TestGraphShardPolicyOverridesTakePriority(t *testing.T) {
	p := NewGraphShardPolicy([]ShardID{0, 1, 2}, ShardBits)
	var addr Address
	addr[0] = 0x07

	p.LoadOverrides([]netconf.AccountShardEntry{
		{Address: [20]byte(addr), Shard: 2},
	})

	if got := p.AssignShard(addr); got != 2 {
		t.Fatalf("expected override shard 2, got %d", got)
	}
}

func TestOpportunisticPackagersDeterministicAndBounded(t *testing.T) {
	committee := []Address{{1}, {2}, {3}, {4}, {5}}
	var txHash Hash
	txHash[0] = 0x9

	first := OpportunisticPackagers(txHash, committee)
	second := OpportunisticPackagers(txHash, committee)
	if len(first) != OPT_APPENDING {
		t.Fatalf("expected %d packagers, got %d", OPT_APPENDING, len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("expected deterministic packager selection")
		}
	}
	if !IsOpportunisticPackager(txHash, committee, first[0]) {
		t.Fatalf("expected first[0] to be reported as opportunistic packager")
	}
}

func TestAssignedSendersAndReceiversDeterministicAndBounded(t *testing.T) {
	committee := []Address{{1}, {2}, {3}, {4}, {5}, {6}, {7}}
	var txHash Hash
	txHash[0] = 0x5a

	const csSenderNums = 5 // e.g. 2f+1 for f=2
	const csRevNums = 3    // e.g. f+1 for f=2

	senders := AssignedSenders(txHash, committee, csSenderNums)
	if len(senders) != csSenderNums {
		t.Fatalf("expected %d assigned senders, got %d", csSenderNums, len(senders))
	}
	if !IsAssignedSender(txHash, committee, csSenderNums, senders[0]) {
		t.Fatalf("expected senders[0] to be reported as an assigned sender")
	}

	receivers := AssignedReceivers(txHash, committee, csRevNums)
	if len(receivers) != csRevNums {
		t.Fatalf("expected %d assigned receivers, got %d", csRevNums, len(receivers))
	}
	if !IsAssignedReceiver(txHash, committee, csRevNums, receivers[0]) {
		t.Fatalf("expected receivers[0] to be reported as an assigned receiver")
	}

	var outsider Address
	for _, c := range committee {
		if !IsAssignedSender(txHash, committee, csSenderNums, c) {
			outsider = c
			break
		}
	}
	if outsider == (Address{}) {
		t.Fatalf("expected at least one non-sender in committee, senders=%v", senders)
	}
	if IsAssignedSender(txHash, committee, csSenderNums, outsider) {
		t.Fatalf("expected outsider to be rejected as assigned sender")
	}
}
