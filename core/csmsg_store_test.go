package core

import (
	"context"
	"testing"
	"time"
)

func TestCSMsgStoreAddSigReachesQuorum(t *testing.T) {
	s := NewCSMsgStore(2)
	defer s.Close()

	id := MsgID{Source: 1, Sequence: 1}
	var a1, a2 Address
	a1[0], a2[0] = 1, 2

	accepted, sigs := s.AddSig(id, a1, []byte("sig1"))
	if !accepted || sigs != nil {
		t.Fatalf("expected accepted without quorum yet, got accepted=%v sigs=%v", accepted, sigs)
	}

	accepted, sigs = s.AddSig(id, a2, []byte("sig2"))
	if !accepted || len(sigs) != 2 {
		t.Fatalf("expected quorum reached with 2 sigs, got accepted=%v sigs=%v", accepted, sigs)
	}
}

func TestCSMsgStoreAddSigDedupsSameAuthor(t *testing.T) {
	s := NewCSMsgStore(2)
	defer s.Close()

	id := MsgID{Source: 1, Sequence: 2}
	var a1 Address
	a1[0] = 1

	s.AddSig(id, a1, []byte("sig1"))
	accepted, sigs := s.AddSig(id, a1, []byte("sig1-replay"))
	if !accepted || sigs != nil {
		t.Fatalf("expected replayed share acknowledged without reaching quorum, got accepted=%v sigs=%v", accepted, sigs)
	}
}

func TestCSMsgStoreUpdateAppendedLocalRequiresPriorState(t *testing.T) {
	s := NewCSMsgStore(1)
	defer s.Close()

	id := MsgID{Source: 1, Sequence: 3}
	if s.UpdateAppended(id, OriginLocal) {
		t.Fatalf("expected local append to fail without prior validating state")
	}

	var a1 Address
	a1[0] = 1
	s.AddSig(id, a1, []byte("sig"))
	if !s.UpdateAppended(id, OriginLocal) {
		t.Fatalf("expected local append to succeed once validating")
	}
}

func TestCSMsgStoreUpdateAppendedRemoteIsUnconditional(t *testing.T) {
	s := NewCSMsgStore(1)
	defer s.Close()

	id := MsgID{Source: 1, Sequence: 4}
	if !s.UpdateAppended(id, OriginRemote) {
		t.Fatalf("expected remote append to always succeed")
	}
	if !s.CanExecute(id) {
		t.Fatalf("expected appended-but-not-executed message to remain executable")
	}
}

func TestCSMsgStoreNotifyAppendedWakesOnAppend(t *testing.T) {
	s := NewCSMsgStore(1)
	defer s.Close()

	id := MsgID{Source: 1, Sequence: 5}
	done := make(chan bool, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- s.NotifyAppended(ctx, id)
	}()

	time.Sleep(20 * time.Millisecond)
	s.UpdateAppended(id, OriginRemote)

	select {
	case ok := <-done:
		if !ok {
			t.Fatalf("expected NotifyAppended to return true after append")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for NotifyAppended")
	}
}

func TestCSMsgStoreUpdateExecutedBlocksFurtherExecution(t *testing.T) {
	s := NewCSMsgStore(1)
	defer s.Close()

	id := MsgID{Source: 1, Sequence: 6}
	if !s.CanExecute(id) {
		t.Fatalf("expected a never-seen message to be executable")
	}
	s.UpdateExecuted(id)
	if s.CanExecute(id) {
		t.Fatalf("expected executed message to no longer be executable")
	}
}
