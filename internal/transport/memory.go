package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// MemoryBackend is an in-process Backend backed by net.Pipe, letting
// tests exercise C4/C5 without opening real sockets. Listen on a port,
// then Dial that same port from another goroutine; the two ends are
// connected directly.
type MemoryBackend struct {
	mu       sync.Mutex
	pending  map[uint32]chan net.Conn
	closedCh chan struct{}
}

// NewMemoryBackend returns a ready-to-use in-memory Backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		pending:  make(map[uint32]chan net.Conn),
		closedCh: make(chan struct{}),
	}
}

func (m *MemoryBackend) acceptChan(port uint32) chan net.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.pending[port]
	if !ok {
		ch = make(chan net.Conn)
		m.pending[port] = ch
	}
	return ch
}

func (m *MemoryBackend) Dial(ctx context.Context, port uint32) (Conn, error) {
	client, server := net.Pipe()

	select {
	case m.acceptChan(port) <- server:
		return wrapConn(client), nil
	case <-ctx.Done():
		client.Close()
		server.Close()
		return nil, dialErr("memory", port, ctx.Err())
	case <-m.closedCh:
		client.Close()
		server.Close()
		return nil, dialErr("memory", port, fmt.Errorf("backend closed"))
	}
}

func (m *MemoryBackend) Listen(port uint32) (Listener, error) {
	return &memoryListener{backend: m, port: port}, nil
}

type memoryListener struct {
	backend *MemoryBackend
	port    uint32
}

func (l *memoryListener) Accept() (Conn, error) {
	select {
	case c := <-l.backend.acceptChan(l.port):
		return wrapConn(c), nil
	case <-l.backend.closedCh:
		return nil, fmt.Errorf("transport(memory): listener on port %d closed", l.port)
	}
}

func (l *memoryListener) Close() error { return nil }
func (l *memoryListener) Addr() net.Addr {
	return memoryAddr(fmt.Sprintf("memory:%d", l.port))
}

type memoryAddr string

func (a memoryAddr) Network() string { return "memory" }
func (a memoryAddr) String() string  { return string(a) }

func (m *MemoryBackend) Close() {
	close(m.closedCh)
}

// net.Pipe connections have no CloseWrite; wrapConn's fallback closes
// the whole connection on CloseWrite, which is adequate for tests that
// only need to observe "the writer is done", not a true TCP half-close.
