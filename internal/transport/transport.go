// Package transport provides a uniform connect/listen abstraction over
// either TCP-to-loopback (development) or a hypervisor-local socket
// addressed by (context ID, port) (production), so the rest of the fabric
// never has to know which backing transport carries a given stream.
package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/cagemesh/fabric/internal/cagerr"
)

// Conn is a duplex byte stream with half-close, the minimum surface the
// splicer and the higher-level components need.
type Conn interface {
	net.Conn
	// CloseWrite shuts down the write half without tearing down reads.
	CloseWrite() error
}

// Reserved context IDs (SPEC_FULL.md §6 / source §4.1, §4.6). Platform
// reserves the enclave-side CID, host-side CID and DNS-forwarder CID;
// the parent CID is platform-supplied at deploy time.
const (
	CIDEnclave = 2021
	CIDHost    = 3
	CIDDNS     = 3
)

// Listener accepts Conns.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() net.Addr
}

// Backend is the dial/listen strategy. TCP and vsock each implement it;
// selecting between them is a runtime choice (Default), not a build-time
// fork of the call sites above it, so tests can always inject an
// in-memory double.
type Backend interface {
	Dial(ctx context.Context, port uint32) (Conn, error)
	Listen(port uint32) (Listener, error)
}

// halfCloser is implemented by *net.TCPConn and anything else exposing
// CloseWrite; wrappedConn uses it so a net.Conn satisfies Conn.
type halfCloser interface {
	CloseWrite() error
}

type wrappedConn struct {
	net.Conn
}

func (w wrappedConn) CloseWrite() error {
	if hc, ok := w.Conn.(halfCloser); ok {
		return hc.CloseWrite()
	}
	return w.Conn.Close()
}

func wrapConn(c net.Conn) Conn {
	if hc, ok := c.(Conn); ok {
		return hc
	}
	return wrappedConn{Conn: c}
}

// dialErr wraps a low-level dial failure as cagerr.ErrTransport so
// callers can distinguish it from parse/authorization failures without
// caring which backend is active.
func dialErr(backend string, port uint32, err error) error {
	return fmt.Errorf("transport(%s): dial port %d: %w: %v", backend, port, cagerr.ErrTransport, err)
}
