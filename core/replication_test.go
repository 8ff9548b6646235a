package core

import (
	"context"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

// fakePeerManager is an in-memory PeerManager test double: SendAsync to a
// peer whose id matches a registered handler delivers synchronously on that
// handler's inbound channel, modeling a direct point-to-point link without
// any real transport.
type fakePeerManager struct {
	mu       sync.Mutex
	inbound  map[string]chan InboundMsg
	handlers map[string]func(InboundMsg)
	samples  []string
}

func newFakePeerManager() *fakePeerManager {
	return &fakePeerManager{
		inbound:  make(map[string]chan InboundMsg),
		handlers: make(map[string]func(InboundMsg)),
	}
}

func (f *fakePeerManager) Peers() []PeerInfo { return nil }
func (f *fakePeerManager) Connect(addr string) error { return nil }
func (f *fakePeerManager) Disconnect(id NodeID) error { return nil }
func (f *fakePeerManager) Sample(n int) []string {
	if n >= len(f.samples) {
		return f.samples
	}
	return f.samples[:n]
}

func (f *fakePeerManager) SendAsync(peerID, proto string, code byte, payload []byte) error {
	f.mu.Lock()
	h := f.handlers[peerID]
	f.mu.Unlock()
	if h != nil {
		h(InboundMsg{PeerID: peerID, Code: code, Payload: payload})
	}
	return nil
}

func (f *fakePeerManager) Subscribe(proto string) <-chan InboundMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan InboundMsg, 16)
	f.inbound[proto] = ch
	return ch
}

func (f *fakePeerManager) Unsubscribe(proto string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.inbound, proto)
}

func (f *fakePeerManager) registerHandler(peerID string, h func(InboundMsg)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[peerID] = h
}

func TestKVBatchStorePutGet(t *testing.T) {
	store := NewKVBatchStore(NewInMemoryStore())
	b := &Batch{WorkerID: 1}
	b.Digest = b.ComputeDigest()

	if store.HasBatch(b.Digest) {
		t.Fatalf("expected batch absent before Put")
	}
	if err := store.PutBatch(b); err != nil {
		t.Fatalf("unexpected error putting batch: %v", err)
	}
	if !store.HasBatch(b.Digest) {
		t.Fatalf("expected batch present after Put")
	}
	got, err := store.GetBatch(b.Digest)
	if err != nil {
		t.Fatalf("unexpected error getting batch: %v", err)
	}
	if got.WorkerID != 1 {
		t.Fatalf("expected worker id 1, got %d", got.WorkerID)
	}
}

func TestReplicatorFetchOneServedFromLocalStore(t *testing.T) {
	store := NewKVBatchStore(NewInMemoryStore())
	b := &Batch{WorkerID: 2}
	b.Digest = b.ComputeDigest()
	_ = store.PutBatch(b)

	r := NewReplicator(&ReplicationConfig{}, log.New(), store, newFakePeerManager())
	got, err := r.FetchOne(context.Background(), b.Digest, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.WorkerID != 2 {
		t.Fatalf("expected worker id 2, got %d", got.WorkerID)
	}
}

func TestReplicatorFetchOneFromAuthorPeer(t *testing.T) {
	remoteStore := NewKVBatchStore(NewInMemoryStore())
	b := &Batch{WorkerID: 3}
	b.Digest = b.ComputeDigest()
	_ = remoteStore.PutBatch(b)

	pm := newFakePeerManager()
	remote := NewReplicator(&ReplicationConfig{}, log.New(), remoteStore, pm)
	pm.registerHandler("author", func(m InboundMsg) {
		remote.handleGetBatch("local", m.Payload)
	})

	localStore := NewKVBatchStore(NewInMemoryStore())
	local := NewReplicator(&ReplicationConfig{}, log.New(), localStore, pm)
	pm.registerHandler("local", func(m InboundMsg) {
		local.handleBatch(m.Payload)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := local.FetchOne(ctx, b.Digest, "author")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.WorkerID != 3 {
		t.Fatalf("expected worker id 3, got %d", got.WorkerID)
	}
}

func TestTxConvertorProcessAssemblesLocalBatches(t *testing.T) {
	store := NewKVBatchStore(NewInMemoryStore())
	b := &Batch{WorkerID: 5}
	b.Digest = b.ComputeDigest()
	_ = store.PutBatch(b)

	coord := NewShardCoordinator(0, NewHashShardPolicy(ShardBits), nil)
	exec := NewExecutor(ExecutorM, 0, coord, NewMStore(), nil, nil)
	convertor := NewTxConvertor(log.New(), store, nil, nil, exec)

	header := Header{Height: 1, Payload: map[Hash]uint32{b.Digest: b.WorkerID}}
	n, err := convertor.Process(context.Background(), header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 processed txs for an empty batch, got %d", n)
	}
}

func TestTxConvertorProcessErrorsWithoutFetcherOnMissingBatch(t *testing.T) {
	store := NewKVBatchStore(NewInMemoryStore())
	coord := NewShardCoordinator(0, NewHashShardPolicy(ShardBits), nil)
	exec := NewExecutor(ExecutorM, 0, coord, NewMStore(), nil, nil)
	convertor := NewTxConvertor(log.New(), store, nil, nil, exec)

	var missingDigest Hash
	missingDigest[0] = 0x7

	header := Header{Height: 2, Payload: map[Hash]uint32{missingDigest: 1}}
	if _, err := convertor.Process(context.Background(), header); err == nil {
		t.Fatalf("expected error when a batch is missing and no fetcher is configured")
	}
}
