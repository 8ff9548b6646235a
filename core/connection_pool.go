package core

// connection_pool.go – pooled outbound TCP connections (ConnPool) plus
// TCPPeerManager, the production PeerManager the replication layer
// (replication.go's Replicator/TxConvertor) sends and receives over.
// Grounded on original_source/worker/src/helper.rs and batch_fetcher.rs,
// whose `network::SimpleSender`/`lucky_broadcast` is a per-address unicast
// sender with random-subset retry broadcast — TCPPeerManager is this
// codebase's stand-in, built on net.Dial/net.Listen instead of tokio.

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"
)

// pooledConn represents a pooled network connection.
type pooledConn struct {
	net.Conn
	addr     string
	lastUsed time.Time
}

// ConnPool manages reusable network connections keyed by address.
type ConnPool struct {
	dialer    *Dialer
	mu        sync.Mutex
	conns     map[string][]*pooledConn
	maxIdle   int
	idleTTL   time.Duration
	closing   chan struct{}
	closeOnce sync.Once
}

// NewConnPool creates a connection pool using the supplied Dialer. maxIdle defines
// how many idle connections per address are kept. idleTTL specifies how long a
// connection may remain idle before being closed.
func NewConnPool(d *Dialer, maxIdle int, idleTTL time.Duration) *ConnPool {
	cp := &ConnPool{
		dialer:  d,
		conns:   make(map[string][]*pooledConn),
		maxIdle: maxIdle,
		idleTTL: idleTTL,
		closing: make(chan struct{}),
	}
	go cp.reaper()
	return cp
}

// Acquire returns a connection for addr from the pool or establishes a new one.
func (cp *ConnPool) Acquire(ctx context.Context, addr string) (net.Conn, error) {
	cp.mu.Lock()
	list := cp.conns[addr]
	n := len(list)
	if n > 0 {
		c := list[n-1]
		cp.conns[addr] = list[:n-1]
		cp.mu.Unlock()
		c.lastUsed = time.Now()
		return c, nil
	}
	cp.mu.Unlock()
	if cp.dialer == nil {
		return nil, errors.New("connpool: dialer not configured")
	}
	conn, err := cp.dialer.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &pooledConn{Conn: conn, addr: addr, lastUsed: time.Now()}, nil
}

// Release returns the connection to the pool. Connections not created via
// Acquire are simply closed.
func (cp *ConnPool) Release(conn net.Conn) {
	pc, ok := conn.(*pooledConn)
	if !ok {
		_ = conn.Close()
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.maxIdle > 0 && len(cp.conns[pc.addr]) < cp.maxIdle {
		pc.lastUsed = time.Now()
		cp.conns[pc.addr] = append(cp.conns[pc.addr], pc)
		return
	}
	_ = pc.Close()
}

// Close closes all connections and stops background cleanup.
func (cp *ConnPool) Close() {
	cp.closeOnce.Do(func() {
		close(cp.closing)
		cp.mu.Lock()
		defer cp.mu.Unlock()
		for _, list := range cp.conns {
			for _, c := range list {
				_ = c.Close()
			}
		}
		cp.conns = make(map[string][]*pooledConn)
	})
}

// Stats returns the total number of idle connections managed by the pool.
func (cp *ConnPool) Stats() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	count := 0
	for _, list := range cp.conns {
		count += len(list)
	}
	return count
}

//---------------------------------------------------------------------
// Wire framing: one protocol-tagged, length-prefixed message per frame
//---------------------------------------------------------------------

type wireFrame struct {
	proto   string
	code    byte
	payload []byte
}

func writeFrame(w io.Writer, f wireFrame) error {
	if len(f.proto) > 0xff {
		return fmt.Errorf("connpool: protocol id %q too long", f.proto)
	}
	hdr := make([]byte, 1+len(f.proto)+1+4)
	hdr[0] = byte(len(f.proto))
	copy(hdr[1:], f.proto)
	hdr[1+len(f.proto)] = f.code
	binary.BigEndian.PutUint32(hdr[2+len(f.proto):], uint32(len(f.payload)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(f.payload)
	return err
}

func readFrame(r io.Reader) (wireFrame, error) {
	var protoLen [1]byte
	if _, err := io.ReadFull(r, protoLen[:]); err != nil {
		return wireFrame{}, err
	}
	proto := make([]byte, protoLen[0])
	if _, err := io.ReadFull(r, proto); err != nil {
		return wireFrame{}, err
	}
	var rest [5]byte
	if _, err := io.ReadFull(r, rest[:]); err != nil {
		return wireFrame{}, err
	}
	code := rest[0]
	n := binary.BigEndian.Uint32(rest[1:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return wireFrame{}, err
	}
	return wireFrame{proto: string(proto), code: code, payload: payload}, nil
}

//---------------------------------------------------------------------
// TCPPeerManager – PeerManager over ConnPool
//---------------------------------------------------------------------

// TCPPeerManager is the production PeerManager implementation: outbound
// sends reuse ConnPool's pooled dials, and (when started with a listen
// address) an accept loop demultiplexes inbound frames by protocol id to
// whichever subscriber is listening, matching the shape replication.go's
// Replicator expects (Subscribe(protocolID) -> chan InboundMsg).
type TCPPeerManager struct {
	pool *ConnPool

	mu    sync.RWMutex
	peers map[NodeID]*PeerInfo

	listener net.Listener

	connMu  sync.Mutex
	inbound map[net.Conn]struct{}

	subMu sync.Mutex
	subs  map[string]chan InboundMsg

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewTCPPeerManager wires a manager over pool. If listenAddr is non-empty it
// also accepts inbound connections on it; a client-only role (e.g. one that
// only ever originates fetch requests) can pass "" to skip listening.
func NewTCPPeerManager(pool *ConnPool, listenAddr string) (*TCPPeerManager, error) {
	m := &TCPPeerManager{
		pool:    pool,
		peers:   make(map[NodeID]*PeerInfo),
		inbound: make(map[net.Conn]struct{}),
		subs:    make(map[string]chan InboundMsg),
		closing: make(chan struct{}),
	}
	if listenAddr != "" {
		ln, err := net.Listen("tcp", listenAddr)
		if err != nil {
			return nil, fmt.Errorf("connpool: listen %s: %w", listenAddr, err)
		}
		m.listener = ln
		m.wg.Add(1)
		go m.acceptLoop()
	}
	return m, nil
}

func (m *TCPPeerManager) acceptLoop() {
	defer m.wg.Done()
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			select {
			case <-m.closing:
				return
			default:
				continue
			}
		}
		m.wg.Add(1)
		go m.readConn(conn)
	}
}

func (m *TCPPeerManager) readConn(conn net.Conn) {
	m.connMu.Lock()
	m.inbound[conn] = struct{}{}
	m.connMu.Unlock()
	defer func() {
		m.connMu.Lock()
		delete(m.inbound, conn)
		m.connMu.Unlock()
	}()
	defer m.wg.Done()
	defer conn.Close()
	peerID := NodeID(conn.RemoteAddr().String())
	for {
		f, err := readFrame(conn)
		if err != nil {
			m.recordMiss(peerID)
			return
		}
		m.dispatch(string(peerID), f)
	}
}

func (m *TCPPeerManager) dispatch(peerID string, f wireFrame) {
	m.subMu.Lock()
	ch, ok := m.subs[f.proto]
	m.subMu.Unlock()
	if !ok {
		return
	}
	msg := InboundMsg{PeerID: peerID, Code: f.code, Payload: f.payload, Topic: f.proto, Ts: time.Now().Unix()}
	select {
	case ch <- msg:
	default: // subscriber backed up; drop rather than block the read loop
	}
}

func (m *TCPPeerManager) recordMiss(id NodeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[id]
	if !ok {
		return
	}
	p.Misses++
	p.Updated = time.Now().Unix()
}

// Peers returns the current roster snapshot.
func (m *TCPPeerManager) Peers() []PeerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PeerInfo, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, *p)
	}
	return out
}

// Connect dials addr once (priming the pool) and registers it in the
// roster. addr doubles as the peer id SendAsync/Disconnect expect.
func (m *TCPPeerManager) Connect(addr string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := m.pool.Acquire(ctx, addr)
	if err != nil {
		return fmt.Errorf("connpool: connect %s: %w", addr, err)
	}
	m.pool.Release(conn)
	m.mu.Lock()
	m.peers[NodeID(addr)] = &PeerInfo{Updated: time.Now().Unix()}
	m.mu.Unlock()
	return nil
}

// Disconnect drops id from the roster; pooled idle connections for it are
// reclaimed by ConnPool's own reaper rather than closed synchronously here.
func (m *TCPPeerManager) Disconnect(id NodeID) error {
	m.mu.Lock()
	delete(m.peers, id)
	m.mu.Unlock()
	return nil
}

// Sample returns up to n roster addresses chosen at random, mirroring
// batch_fetcher.rs's lucky_broadcast retry-to-a-random-subset behavior.
func (m *TCPPeerManager) Sample(n int) []string {
	m.mu.RLock()
	addrs := make([]string, 0, len(m.peers))
	for id := range m.peers {
		addrs = append(addrs, string(id))
	}
	m.mu.RUnlock()
	if n >= len(addrs) {
		return addrs
	}
	rand.Shuffle(len(addrs), func(i, j int) { addrs[i], addrs[j] = addrs[j], addrs[i] })
	return addrs[:n]
}

// SendAsync writes one framed message to peerID over a pooled connection,
// releasing it back to the pool once the write completes.
func (m *TCPPeerManager) SendAsync(peerID, proto string, code byte, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := m.pool.Acquire(ctx, peerID)
	if err != nil {
		m.recordMiss(NodeID(peerID))
		return fmt.Errorf("connpool: acquire %s: %w", peerID, err)
	}
	if err := writeFrame(conn, wireFrame{proto: proto, code: code, payload: payload}); err != nil {
		_ = conn.Close()
		m.recordMiss(NodeID(peerID))
		return fmt.Errorf("connpool: send to %s: %w", peerID, err)
	}
	m.pool.Release(conn)
	return nil
}

// Subscribe returns the channel inbound frames tagged with proto are
// delivered on, creating it if this is the first subscriber.
func (m *TCPPeerManager) Subscribe(proto string) <-chan InboundMsg {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	ch, ok := m.subs[proto]
	if !ok {
		ch = make(chan InboundMsg, 256)
		m.subs[proto] = ch
	}
	return ch
}

// Unsubscribe stops delivering proto's inbound frames and closes its channel.
func (m *TCPPeerManager) Unsubscribe(proto string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if ch, ok := m.subs[proto]; ok {
		delete(m.subs, proto)
		close(ch)
	}
}

// Close stops accepting inbound connections and releases pooled outbound
// ones. It does not close subscriber channels still in use by Subscribe
// callers that have not called Unsubscribe.
func (m *TCPPeerManager) Close() error {
	m.closeOnce.Do(func() {
		close(m.closing)
		if m.listener != nil {
			_ = m.listener.Close()
		}
		m.connMu.Lock()
		for conn := range m.inbound {
			_ = conn.Close()
		}
		m.connMu.Unlock()
	})
	m.pool.Close()
	m.wg.Wait()
	return nil
}

var _ PeerManager = (*TCPPeerManager)(nil)

// reaper closes idle connections after the configured TTL.
func (cp *ConnPool) reaper() {
	ticker := time.NewTicker(cp.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-cp.idleTTL)
			cp.mu.Lock()
			for addr, list := range cp.conns {
				i := 0
				for _, c := range list {
					if c.lastUsed.Before(cutoff) {
						_ = c.Close()
						continue
					}
					list[i] = c
					i++
				}
				cp.conns[addr] = list[:i]
			}
			cp.mu.Unlock()
		case <-cp.closing:
			return
		}
	}
}
