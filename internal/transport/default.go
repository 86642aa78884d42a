package transport

import "os"

// Default returns the backend the current process should use to reach
// the peer identified by contextID: vsock when built with the
// cage_vsock tag and CAGE_SIMULATION is not "true", TCP loopback otherwise
// (contextID is meaningless for TCP and ignored there). This mirrors the
// source's #[cfg(feature = "enclave")] switch but as a runtime fallback
// within a vsock-capable binary, so the same binary can still be
// smoke-tested outside an enclave with CAGE_SIMULATION=true.
func Default(contextID uint32) Backend {
	if os.Getenv("CAGE_SIMULATION") == "true" {
		return NewTCPBackend()
	}
	return newDefaultBackend(contextID)
}
