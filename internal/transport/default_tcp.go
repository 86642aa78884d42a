//go:build !cage_vsock

package transport

func newDefaultBackend(contextID uint32) Backend {
	// Built without the cage_vsock tag: always fall back to loopback TCP.
	// contextID is unused here — ports alone distinguish the peers in dev.
	_ = contextID
	return NewTCPBackend()
}
