package core

// csmsg_store.go – per-message status FSM and signature aggregator
// (spec §4.1). Grounded directly on original_source/worker/src/csmsg_store.rs's
// single-owner-actor design: one goroutine owns the three maps (status,
// partial signatures, notify waiters) and every caller communicates through
// a bounded command channel, exactly mirroring the Rust tokio actor's
// mpsc-command / oneshot-reply shape. This removes the need for
// fine-grained locking, matching the teacher's network.go/connection_pool.go
// convention of one owner goroutine per stateful component.

import "context"

// CSMsgStatus is the monotone per-message lifecycle state.
type CSMsgStatus int

const (
	StatusAbsent CSMsgStatus = iota
	StatusValidating
	StatusValidated
	StatusAppended
	StatusExecuted
)

// AppendOrigin distinguishes a locally-initiated append attempt (subject
// to the Appended/Executed guard) from a remote append observed via the
// destination shard's own DAG (applied unconditionally).
type AppendOrigin int

const (
	OriginLocal AppendOrigin = iota
	OriginRemote
)

type csmsgState struct {
	status      CSMsgStatus
	partialSigs [][]byte
	seen        *QuorumTracker // dedups partial signatures by contributing validator address
	notifyList  []chan bool
}

type csmsgOp int

const (
	opAddSig csmsgOp = iota
	opUpdateAppended
	opNotifyAppended
	opCanExecute
	opUpdateExecuted
)

type csmsgCmd struct {
	op     csmsgOp
	id     MsgID
	author Address
	sig    []byte
	origin AppendOrigin
	reply  chan csmsgReply
}

type csmsgReply struct {
	accepted   bool
	sigs       [][]byte
	updated    bool
	canExecute bool
	waitCh     chan bool
}

// CSMsgStore is the single-owner actor tracking CSMsg status and partial
// threshold-signature sets, keyed by (source shard, csmsg sequence).
type CSMsgStore struct {
	cmdCh             chan csmsgCmd
	states            map[MsgID]*csmsgState
	validityThreshold int // f+1
	done              chan struct{}
}

// NewCSMsgStore starts the owning goroutine. validityThreshold is f+1: the
// number of partial signatures sufficient to prove at least one honest
// endorsement (spec GLOSSARY).
func NewCSMsgStore(validityThreshold int) *CSMsgStore {
	s := &CSMsgStore{
		cmdCh:             make(chan csmsgCmd, 100),
		states:            make(map[MsgID]*csmsgState),
		validityThreshold: validityThreshold,
		done:              make(chan struct{}),
	}
	go s.run()
	return s
}

// Close stops the owner goroutine. Safe to call once.
func (s *CSMsgStore) Close() { close(s.done) }

func (s *CSMsgStore) run() {
	for {
		select {
		case <-s.done:
			return
		case cmd := <-s.cmdCh:
			s.handle(cmd)
		}
	}
}

func (s *CSMsgStore) call(cmd csmsgCmd) csmsgReply {
	reply := make(chan csmsgReply, 1)
	cmd.reply = reply
	s.cmdCh <- cmd
	return <-reply
}

// AddSig records a partial threshold signature contributed by author for
// id, ignoring a repeat contribution from a validator already on record
// (the duplicate-suppression spec §4.1 requires, matching a byzantine
// validator replaying its own share to inflate the count). On first
// reaching the validity threshold it transitions Validating -> Validated
// and returns the full accumulated signature set.
func (s *CSMsgStore) AddSig(id MsgID, author Address, sig []byte) (accepted bool, sigsIfQuorum [][]byte) {
	r := s.call(csmsgCmd{op: opAddSig, id: id, author: author, sig: sig})
	return r.accepted, r.sigs
}

// UpdateAppended attempts (Local) or forces (Remote) the Appended
// transition. Local succeeds only from {Validating, Validated} and is a
// no-op once already Appended/Executed; Remote applies unconditionally and
// purges any partial-sig state.
func (s *CSMsgStore) UpdateAppended(id MsgID, origin AppendOrigin) bool {
	r := s.call(csmsgCmd{op: opUpdateAppended, id: id, origin: origin})
	return r.updated
}

// NotifyAppended blocks until id transitions to Appended, ctx is
// cancelled, or it is already Appended/Executed (returns true instantly).
func (s *CSMsgStore) NotifyAppended(ctx context.Context, id MsgID) bool {
	r := s.call(csmsgCmd{op: opNotifyAppended, id: id})
	if r.updated {
		return true
	}
	select {
	case v := <-r.waitCh:
		return v
	case <-ctx.Done():
		return false
	}
}

// CanExecute reports whether id has not yet been executed.
func (s *CSMsgStore) CanExecute(id MsgID) bool {
	r := s.call(csmsgCmd{op: opCanExecute, id: id})
	return r.canExecute
}

// UpdateExecuted marks id Executed; subsequent CanExecute calls return false.
func (s *CSMsgStore) UpdateExecuted(id MsgID) {
	s.call(csmsgCmd{op: opUpdateExecuted, id: id})
}

func (s *CSMsgStore) wakeWaiters(st *csmsgState, v bool) {
	for _, w := range st.notifyList {
		w <- v
	}
	st.notifyList = nil
}

func (s *CSMsgStore) handle(cmd csmsgCmd) {
	switch cmd.op {
	case opAddSig:
		st, ok := s.states[cmd.id]
		if !ok {
			st = &csmsgState{status: StatusValidating, seen: NewQuorumTracker(s.validityThreshold, s.validityThreshold)}
			s.states[cmd.id] = st
		}
		if st.status != StatusValidating {
			cmd.reply <- csmsgReply{accepted: false}
			return
		}
		if st.seen.AddVote(cmd.author) == len(st.partialSigs) {
			// author already contributed a share for this message; drop the
			// duplicate rather than double-counting it toward quorum.
			cmd.reply <- csmsgReply{accepted: true}
			return
		}
		st.partialSigs = append(st.partialSigs, cmd.sig)
		if len(st.partialSigs) >= s.validityThreshold {
			st.status = StatusValidated
			sigs := make([][]byte, len(st.partialSigs))
			copy(sigs, st.partialSigs)
			cmd.reply <- csmsgReply{accepted: true, sigs: sigs}
			return
		}
		cmd.reply <- csmsgReply{accepted: true}

	case opUpdateAppended:
		st, ok := s.states[cmd.id]
		if cmd.origin == OriginRemote {
			if !ok {
				st = &csmsgState{}
				s.states[cmd.id] = st
			}
			st.status = StatusAppended
			st.partialSigs = nil
			s.wakeWaiters(st, true)
			cmd.reply <- csmsgReply{updated: true}
			return
		}
		if !ok {
			cmd.reply <- csmsgReply{updated: false}
			return
		}
		switch st.status {
		case StatusValidating, StatusValidated:
			st.status = StatusAppended
			s.wakeWaiters(st, true)
			cmd.reply <- csmsgReply{updated: true}
		default:
			cmd.reply <- csmsgReply{updated: false}
		}

	case opNotifyAppended:
		st, ok := s.states[cmd.id]
		if ok && (st.status == StatusAppended || st.status == StatusExecuted) {
			cmd.reply <- csmsgReply{updated: true}
			return
		}
		if !ok {
			st = &csmsgState{status: StatusValidating}
			s.states[cmd.id] = st
		}
		wait := make(chan bool, 1)
		st.notifyList = append(st.notifyList, wait)
		cmd.reply <- csmsgReply{waitCh: wait}

	case opCanExecute:
		st, ok := s.states[cmd.id]
		cmd.reply <- csmsgReply{canExecute: !ok || st.status != StatusExecuted}

	case opUpdateExecuted:
		st, ok := s.states[cmd.id]
		if !ok {
			st = &csmsgState{}
			s.states[cmd.id] = st
		}
		st.status = StatusExecuted
		cmd.reply <- csmsgReply{}
	}
}
