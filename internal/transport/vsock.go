//go:build cage_vsock

package transport

import (
	"context"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// VsockBackend dials/listens on AF_VSOCK, the hypervisor-local socket
// address space used between host and enclave in production. It has no
// retrievable Go driver dependency in this module's corpus, so it talks
// to the kernel directly through golang.org/x/sys/unix, the same way the
// teacher's networking neighbor (slok-sbx) wraps raw netlink syscalls in
// a small typed Go layer instead of shelling out.
type VsockBackend struct {
	// ContextID is the peer CID used for Dial. Production enclaves dial
	// CIDHost; the host side dials CIDEnclave.
	ContextID uint32
}

func (b *VsockBackend) Dial(ctx context.Context, port uint32) (Conn, error) {
	fd, err := unix.Socket(unix.AF_VSOCK, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, dialErr("vsock", port, err)
	}

	sa := &unix.SockaddrVM{CID: b.ContextID, Port: port}

	errCh := make(chan error, 1)
	go func() { errCh <- unix.Connect(fd, sa) }()

	select {
	case <-ctx.Done():
		unix.Close(fd)
		return nil, dialErr("vsock", port, ctx.Err())
	case err := <-errCh:
		if err != nil {
			unix.Close(fd)
			return nil, dialErr("vsock", port, err)
		}
	}

	f := os.NewFile(uintptr(fd), fmt.Sprintf("vsock:%d:%d", b.ContextID, port))
	defer f.Close()

	conn, err := net.FileConn(f)
	if err != nil {
		return nil, dialErr("vsock", port, err)
	}
	return wrapConn(conn), nil
}

func (b *VsockBackend) Listen(port uint32) (Listener, error) {
	fd, err := unix.Socket(unix.AF_VSOCK, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("transport(vsock): socket: %w", err)
	}

	sa := &unix.SockaddrVM{CID: unix.VMADDR_CID_ANY, Port: port}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport(vsock): bind port %d: %w", port, err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport(vsock): listen port %d: %w", port, err)
	}

	f := os.NewFile(uintptr(fd), fmt.Sprintf("vsock-listener:%d", port))
	ln, err := net.FileListener(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("transport(vsock): file listener: %w", err)
	}

	return &tcpListener{ln: ln}, nil
}
