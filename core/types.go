package core

// types.go – the cross-shard transaction lifecycle's data model (spec §3).
// Balances are fixed-point integers (micro-units) rather than the source's
// f64: see DESIGN.md's Open Question decision — this keeps the conservation
// invariants in spec §8 exact rather than approximate under floating point.

import (
	"crypto/sha512"
	"encoding/binary"
	"encoding/json"
	"time"
)

// INIT_BALANCE is the fixed balance new accounts are lazily created with.
const INIT_BALANCE int64 = 1_000_000_000 // 1e9 micro-units

// OPT_APPENDING is the number of permuted indices flagged as opportunistic
// packagers in the dual-mode append protocol (spec §4.2).
const OPT_APPENDING = 2

// TIMER_RESOLUTION is the pessimistic-append / serial-mode fallback wait.
const TIMER_RESOLUTION = 2500 * time.Millisecond

// defaultSyncRetryDelay and defaultSyncRetryNodes are the BatchFetcher
// retry-then-broadcast defaults from spec §6's parameters.json.
const (
	defaultSyncRetryDelay = 5000 * time.Millisecond
	defaultSyncRetryNodes = 3
)

// noShard is the "unset" sentinel for SourceShard on a transaction that has
// not yet been relayed (spec §3: "sentinel MAX").
const noShard ShardID = ^ShardID(0)

//---------------------------------------------------------------------
// RWSet / Frame
//---------------------------------------------------------------------

// RWSet is a single balance delta: positive credits, negative debits.
type RWSet struct {
	Addr  Address `json:"addr"`
	Value int64   `json:"value"`
}

// Frame is the portion of a transaction's effect one shard must apply.
type Frame struct {
	ShardID ShardID `json:"shard_id"`
	RWSet   []RWSet `json:"rwset"`
}

//---------------------------------------------------------------------
// CSProofEntry / CoreTx
//---------------------------------------------------------------------

// CSProofEntry is one shard's threshold-signed endorsement of a relayed
// transaction, accumulated in CoreTx.CSProof as the transaction crosses
// shard boundaries.
type CSProofEntry struct {
	Shard ShardID `json:"shard"`
	Sig   []byte  `json:"sig"`
}

// CoreTx is the shared envelope for intra- and cross-shard transfers
// (spec §3 "Transaction"). Named CoreTx rather than Transaction to avoid
// colliding with unrelated legacy naming, grounded on the Rust original's
// own `CoreTx` struct name.
type CoreTx struct {
	// identity
	Counter   uint64 `json:"counter"`
	Sample    bool   `json:"sample"`
	TxHash    Hash   `json:"tx_hash"`
	Signature []byte `json:"signature"`

	// economic
	Sender      Address `json:"sender"`
	Receiver    Address `json:"receiver"`
	Amount      int64   `json:"amount"`
	Nonce       uint64  `json:"nonce"`
	TimestampUs int64   `json:"timestamp_us"`

	// payload
	Payload     []Frame `json:"payload"`
	PayloadHash Hash    `json:"payload_hash"`

	// cross-shard bookkeeping
	Step             int            `json:"step"`
	InvolvedShardNum int            `json:"involved_shard_num"`
	SourceShard      ShardID        `json:"source_shard"`
	CSMsgSequence    uint64         `json:"csmsg_sequence"`
	CSProof          []CSProofEntry `json:"cs_proof"`

	// broker fields
	OriginalSender *Address `json:"original_sender,omitempty"`
	FinalReceiver  *Address `json:"final_receiver,omitempty"`

	// padding is zero-filled by NewCoreTx so the JSON-serialized size is
	// >= 512 bytes, for uniform wire accounting across benchmark runs
	// (spec §3).
	Padding []byte `json:"padding,omitempty"`
}

// NewCoreTx builds a same-shard (single frame) transfer with SourceShard
// unset (noShard) and Step 0, as produced by a client submission.
func NewCoreTx(counter uint64, sender, receiver Address, amount int64, nonce uint64, payload []Frame) *CoreTx {
	tx := &CoreTx{
		Counter:          counter,
		Sender:           sender,
		Receiver:         receiver,
		Amount:           amount,
		Nonce:            nonce,
		TimestampUs:      time.Now().UnixMicro(),
		Payload:          payload,
		Step:             0,
		InvolvedShardNum: len(payload),
		SourceShard:      noShard,
	}
	tx.PayloadHash = hashFrames(payload)
	tx.TxHash = tx.computeHash()
	if raw, err := json.Marshal(tx); err == nil && len(raw) < 512 {
		// JSON base64-encodes the padding: n bytes add more than 4n/3 characters.
		tx.Padding = make([]byte, (512-len(raw))*3/4+1)
	}
	return tx
}

// Terminal reports whether this transaction's payload is fully consumed
// (spec §9 Open Question: step == len(payload)-1 means terminal).
func (tx *CoreTx) Terminal() bool {
	return tx.Step >= len(tx.Payload)-1
}

// CurrentFrame returns the frame this shard must apply at the current step.
func (tx *CoreTx) CurrentFrame() Frame {
	if tx.Step >= len(tx.Payload) {
		return Frame{}
	}
	return tx.Payload[tx.Step]
}

// computeHash folds the economic + payload fields with SHA-512/256, per
// spec §3 ("payload_hash is the SHA-512/256 fold over frames and RWSets").
func (tx *CoreTx) computeHash() Hash {
	h := sha512.New512_256()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], tx.Counter)
	h.Write(buf[:])
	h.Write(tx.Sender[:])
	h.Write(tx.Receiver[:])
	binary.BigEndian.PutUint64(buf[:], uint64(tx.Amount))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], tx.Nonce)
	h.Write(buf[:])
	h.Write(tx.PayloadHash[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func hashFrames(frames []Frame) Hash {
	h := sha512.New512_256()
	var buf [8]byte
	for _, f := range frames {
		binary.BigEndian.PutUint16(buf[:2], uint16(f.ShardID))
		h.Write(buf[:2])
		for _, rw := range f.RWSet {
			h.Write(rw.Addr[:])
			binary.BigEndian.PutUint64(buf[:], uint64(rw.Value))
			h.Write(buf[:])
		}
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

//---------------------------------------------------------------------
// GeneralTx – TransferTx | AggTx sum type (supplemented from
// worker/src/messages.rs GeneralTransaction)
//---------------------------------------------------------------------

type GeneralTxKind uint8

const (
	KindTransfer GeneralTxKind = iota
	KindAgg
)

// AggCSMsg batches several inner CoreTxs under a single threshold
// signature, amortizing signature-verification cost for the broker-
// mediated sender path (spec §12 supplemented feature). Root commits to
// every inner tx's hash via a dense Merkle tree (merkle_tree_operations.go)
// so a verifier can check one inner transaction's membership without
// re-verifying the whole batch.
type AggCSMsg struct {
	Txs     []CoreTx     `json:"txs"`
	Root    Hash         `json:"root"`
	CSProof CSProofEntry `json:"cs_proof"`
}

// GeneralTx dispatches between a plain transfer and an aggregated batch at
// the executor's decode step.
type GeneralTx struct {
	Kind     GeneralTxKind `json:"kind"`
	Transfer *CoreTx       `json:"transfer,omitempty"`
	Agg      *AggCSMsg     `json:"agg,omitempty"`
}

//---------------------------------------------------------------------
// CSMsg – cross-shard envelope
//---------------------------------------------------------------------

// CSMsg is the cross-shard message envelope (spec §3).
type CSMsg struct {
	SourceShard   ShardID `json:"source_shard"`
	TargetShard   ShardID `json:"target_shard"`
	CSMsgSequence uint64  `json:"csmsg_sequence"`
	InnerTx       CoreTx  `json:"inner_tx"`
	InnerTxHash   Hash    `json:"inner_tx_hash"`
	ThresholdSig  []byte  `json:"threshold_sig"`
	Author        Address `json:"author"`
	Signature     []byte  `json:"signature"`
}

// MsgID is the CSMsgStore key: "[src-seq]".
type MsgID struct {
	Source   ShardID
	Sequence uint64
}

//---------------------------------------------------------------------
// Account
//---------------------------------------------------------------------

// Account is the unit of state the executor mutates (spec §3).
type Account struct {
	Nonce   int64 `json:"nonce"`
	Balance int64 `json:"balance"`
}

// NewAccount returns a freshly-created account at INIT_BALANCE.
func NewAccount() Account { return Account{Nonce: 0, Balance: INIT_BALANCE} }

//---------------------------------------------------------------------
// Migration payload (spec §4.4)
//---------------------------------------------------------------------

// MigrationPayload carries proofs for every account leaving source for
// target at an epoch boundary.
type MigrationPayload struct {
	SourceShard   ShardID                `json:"source_shard"`
	TargetShard   ShardID                `json:"target_shard"`
	Epoch         uint64                 `json:"epoch"`
	ActiveProofs  map[Address]MerklePath `json:"active_proofs"`
	DormantProofs map[Address]MerklePath `json:"dormant_proofs"`
}

//---------------------------------------------------------------------
// Batch / Header (worker/primary wire shapes, spec §6)
//---------------------------------------------------------------------

// Batch is the unit of transaction dissemination inside a shard
// (`WorkerMessage::Batch`).
type Batch struct {
	Digest   Hash        `json:"digest"`
	WorkerID uint32      `json:"worker_id"`
	Txs      []GeneralTx `json:"txs"`
}

// ComputeDigest hashes the batch's transaction payload.
func (b *Batch) ComputeDigest() Hash {
	h := sha512.New512_256()
	for _, tx := range b.Txs {
		if tx.Transfer != nil {
			h.Write(tx.Transfer.TxHash[:])
		}
		if tx.Agg != nil {
			for _, inner := range tx.Agg.Txs {
				h.Write(inner.TxHash[:])
			}
		}
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Header is the DAG-ordered unit the executor consumes: a height, and a
// payload map of batch digest -> authoring worker id (spec §4.6). Consensus
// itself is an external oracle; this is only the typed shape of what it
// hands the executor.
type Header struct {
	Height  uint64          `json:"height"`
	Payload map[Hash]uint32 `json:"payload"`
}

// DAGOracle is the narrow interface modeling the primary/worker boundary
// (spec §12 supplemented feature): the executor's input shape and the
// worker's synchronize/cleanup messages, without implementing consensus.
type DAGOracle interface {
	NextHeader() (Header, error)
	Synchronize(round uint64) error
	Cleanup(round uint64) error
}
