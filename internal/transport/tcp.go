package transport

import (
	"context"
	"fmt"
	"net"
)

// TCPBackend dials and listens on loopback TCP. It is the backend used
// outside a real enclave, for local development; the test suite uses
// MemoryBackend instead.
type TCPBackend struct {
	// Host is the address dialed; defaults to loopback. Listen always
	// binds 0.0.0.0.
	Host string
}

// NewTCPBackend returns a Backend bound to 0.0.0.0 for listeners and
// 127.0.0.1 for dials, matching the control-plane/data-plane processes
// running side by side on the same loopback interface in dev mode.
func NewTCPBackend() *TCPBackend {
	return &TCPBackend{Host: "127.0.0.1"}
}

func (b *TCPBackend) Dial(ctx context.Context, port uint32) (Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", b.Host, port))
	if err != nil {
		return nil, dialErr("tcp", port, err)
	}
	return wrapConn(conn), nil
}

func (b *TCPBackend) Listen(port uint32) (Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, fmt.Errorf("transport(tcp): listen port %d: %w", port, err)
	}
	return &tcpListener{ln: ln}, nil
}

type tcpListener struct {
	ln net.Listener
}

func (l *tcpListener) Accept() (Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return wrapConn(c), nil
}

func (l *tcpListener) Close() error   { return l.ln.Close() }
func (l *tcpListener) Addr() net.Addr { return l.ln.Addr() }
