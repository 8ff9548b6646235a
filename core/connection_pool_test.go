package core

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"
)

// startTestServer starts a TCP server that accepts connections and returns listener and slice of accepted conns.
func startTestServer(t *testing.T) (net.Listener, *[]net.Conn) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	conns := &[]net.Conn{}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			*conns = append(*conns, c)
		}
	}()
	return ln, conns
}

func closeServer(ln net.Listener, conns *[]net.Conn) {
	ln.Close()
	for _, c := range *conns {
		c.Close()
	}
}

func TestConnPoolAcquireReuse(t *testing.T) {
	ln, conns := startTestServer(t)
	defer closeServer(ln, conns)

	d := NewDialer(50*time.Millisecond, 50*time.Millisecond)
	cp := NewConnPool(d, 2, time.Second)
	defer cp.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	c1, err := cp.Acquire(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("acquire1: %v", err)
	}
	cp.Release(c1)
	if got := cp.Stats(); got != 1 {
		t.Fatalf("expected 1 idle, got %d", got)
	}

	c2, err := cp.Acquire(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("acquire2: %v", err)
	}
	if c1 != c2 {
		t.Fatalf("expected to reuse connection")
	}
	cp.Release(c2)
	if got := cp.Stats(); got != 1 {
		t.Fatalf("expected 1 idle after reuse, got %d", got)
	}
}

func TestTCPPeerManagerSendAsyncDeliversFramedMessage(t *testing.T) {
	serverPool := newTestConnPool(t)
	defer serverPool.Close()
	server, err := NewTCPPeerManager(serverPool, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("server peer manager: %v", err)
	}
	defer server.Close()

	sub := server.Subscribe("test-proto/1")
	defer server.Unsubscribe("test-proto/1")

	clientPool := newTestConnPool(t)
	defer clientPool.Close()
	client, err := NewTCPPeerManager(clientPool, "")
	if err != nil {
		t.Fatalf("client peer manager: %v", err)
	}
	defer client.Close()

	addr := server.listener.Addr().String()
	if err := client.Connect(addr); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := client.SendAsync(addr, "test-proto/1", 7, []byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case msg := <-sub:
		if msg.Code != 7 || string(msg.Payload) != "hello" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected subscriber to receive the framed message")
	}
}

func TestTCPPeerManagerSampleRespectsRequestedSize(t *testing.T) {
	pool := newTestConnPool(t)
	defer pool.Close()
	m, err := NewTCPPeerManager(pool, "")
	if err != nil {
		t.Fatalf("peer manager: %v", err)
	}
	defer m.Close()

	for i := 0; i < 5; i++ {
		m.mu.Lock()
		m.peers[NodeID(fmt.Sprintf("peer-%d", i))] = &PeerInfo{}
		m.mu.Unlock()
	}
	if got := m.Sample(3); len(got) != 3 {
		t.Fatalf("expected 3 sampled peers, got %d", len(got))
	}
	if got := m.Sample(10); len(got) != 5 {
		t.Fatalf("expected sample capped at roster size 5, got %d", len(got))
	}
}

func newTestConnPool(t *testing.T) *ConnPool {
	t.Helper()
	return NewConnPool(NewDialer(time.Second, 30*time.Second), 4, time.Minute)
}

func TestConnPoolReaper(t *testing.T) {
	ln, conns := startTestServer(t)
	defer closeServer(ln, conns)

	d := NewDialer(50*time.Millisecond, 50*time.Millisecond)
	idle := 100 * time.Millisecond
	cp := NewConnPool(d, 2, idle)
	defer cp.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c, err := cp.Acquire(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	cp.Release(c)
	if got := cp.Stats(); got != 1 {
		t.Fatalf("expected 1 idle, got %d", got)
	}

	time.Sleep(3 * idle)
	if got := cp.Stats(); got != 0 {
		t.Fatalf("expected reaper to close idle connections, got %d", got)
	}
}
