package core

import "testing"

func TestRecordAndGetCSMsg(t *testing.T) {
	rec := CSMsgRecord{
		Source:      5,
		Target:      6,
		Sequence:    101,
		InnerTxHash: Hash{0x01},
		Status:      "appended",
	}
	if err := RecordCSMsg(rec); err != nil {
		t.Fatalf("unexpected error recording csmsg: %v", err)
	}

	got, err := GetCSMsgRecord(MsgID{Source: 5, Sequence: 101})
	if err != nil {
		t.Fatalf("unexpected error fetching record: %v", err)
	}
	if got.Status != "appended" || got.Target != 6 {
		t.Fatalf("unexpected record contents: %+v", got)
	}
	if got.AuditID == "" {
		t.Fatalf("expected audit ID to be populated")
	}
}

func TestGetCSMsgRecordMissing(t *testing.T) {
	if _, err := GetCSMsgRecord(MsgID{Source: 99, Sequence: 99999}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListCSMsgRecordsFrom(t *testing.T) {
	source := ShardID(12)
	for i := uint64(1); i <= 3; i++ {
		rec := CSMsgRecord{Source: source, Target: 1, Sequence: i, Status: "appended"}
		if err := RecordCSMsg(rec); err != nil {
			t.Fatalf("unexpected error recording csmsg %d: %v", i, err)
		}
	}

	recs, err := ListCSMsgRecordsFrom(source)
	if err != nil {
		t.Fatalf("unexpected error listing records: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
}
