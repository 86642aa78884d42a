package splice

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipeConn struct {
	net.Conn
}

func (p pipeConn) CloseWrite() error { return p.Conn.Close() }

func TestPipe_EchoesBothDirections(t *testing.T) {
	clientLocal, clientRemote := net.Pipe()
	serverLocal, serverRemote := net.Pipe()

	// serverRemote acts as an echo server.
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := serverRemote.Read(buf)
			if n > 0 {
				if _, werr := serverRemote.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	done := make(chan error, 1)
	go func() {
		done <- Pipe(context.Background(), pipeConn{clientRemote}, pipeConn{serverLocal}, logrus.NewEntry(logrus.New()), 0)
	}()

	_, err := clientLocal.Write([]byte("ABC"))
	require.NoError(t, err)

	buf := make([]byte, 3)
	_, err = io.ReadFull(clientLocal, buf)
	require.NoError(t, err)
	assert.Equal(t, "ABC", string(buf))

	clientLocal.Close()
	serverRemote.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Pipe did not return after both sides closed")
	}
}

func TestPipe_OneSideErrorDoesNotBlockOther(t *testing.T) {
	aLocal, aRemote := net.Pipe()
	bLocal, bRemote := net.Pipe()

	aRemote.Close() // a's read side is already broken

	done := make(chan error, 1)
	go func() {
		done <- Pipe(context.Background(), pipeConn{aLocal}, pipeConn{bLocal}, logrus.NewEntry(logrus.New()), 0)
	}()

	bRemote.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Pipe did not return when one side was already closed")
	}
}
