package egress

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cagemesh/fabric/internal/cagecfg"
	"github.com/cagemesh/fabric/internal/dnscache"
	"github.com/cagemesh/fabric/internal/metrics"
	"github.com/cagemesh/fabric/internal/transport"
	"github.com/cagemesh/fabric/internal/wire"
)

func testConfig() *cagecfg.Config {
	return &cagecfg.Config{
		EgressPorts:       cagecfg.PortList{443},
		EgressAllowList:   cagecfg.StringList{"example.com"},
		HostForwarderPort: 4433,
	}
}

// TestBroker_EgressAllowed covers spec scenario 2: a cached hostname
// produces exactly one ExternalRequest frame at the mock host forwarder
// carrying the cached IP and the captured ClientHello bytes.
func TestBroker_EgressAllowed(t *testing.T) {
	cache := dnscache.New(nil)
	cache.Put("example.com", []string{"1.2.3.4"})

	backend := transport.NewMemoryBackend()
	defer backend.Close()

	forwarderLn, err := backend.Listen(4433)
	require.NoError(t, err)

	frameCh := make(chan wire.ExternalRequest, 1)
	go func() {
		conn, err := forwarderLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		req, err := wire.Decode(conn)
		if err != nil {
			return
		}
		frameCh <- req
	}()

	b := New(testConfig(), cache, backend, metrics.New(), nil)

	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()

	hello := buildClientHello("example.com")
	go func() {
		_, _ = clientSide.Write(hello)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.handle(ctx, serverSide)

	select {
	case req := <-frameCh:
		assert.Equal(t, "1.2.3.4", req.IP)
		assert.Equal(t, hello, req.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("mock forwarder never received a frame")
	}
}

// TestBroker_CacheMiss covers spec scenario 3: an SNI hostname with no
// C3 entry is denied and no frame reaches the host forwarder.
func TestBroker_CacheMiss(t *testing.T) {
	cache := dnscache.New(nil) // absent.com was never populated

	backend := transport.NewMemoryBackend()
	defer backend.Close()

	forwarderLn, err := backend.Listen(4433)
	require.NoError(t, err)

	accepted := make(chan struct{}, 1)
	go func() {
		if _, err := forwarderLn.Accept(); err == nil {
			accepted <- struct{}{}
		}
	}()

	cfg := testConfig()
	cfg.EgressAllowList = cagecfg.StringList{"absent.com"}
	b := New(cfg, cache, backend, metrics.New(), nil)

	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()

	hello := buildClientHello("absent.com")
	go func() {
		_, _ = clientSide.Write(hello)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.handle(ctx, serverSide)

	select {
	case <-accepted:
		t.Fatal("host forwarder should never have been dialed on a cache miss")
	case <-time.After(200 * time.Millisecond):
	}
}

// TestBroker_NoSNI covers spec scenario 4: a ClientHello without the SNI
// extension is dropped and no frame reaches the host forwarder.
func TestBroker_NoSNI(t *testing.T) {
	cache := dnscache.New(nil)

	backend := transport.NewMemoryBackend()
	defer backend.Close()

	forwarderLn, err := backend.Listen(4433)
	require.NoError(t, err)

	accepted := make(chan struct{}, 1)
	go func() {
		if _, err := forwarderLn.Accept(); err == nil {
			accepted <- struct{}{}
		}
	}()

	b := New(testConfig(), cache, backend, metrics.New(), nil)

	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()

	hello := buildClientHello() // no SNI extension at all
	go func() {
		_, _ = clientSide.Write(hello)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.handle(ctx, serverSide)

	select {
	case <-accepted:
		t.Fatal("host forwarder should never have been dialed with no SNI")
	case <-time.After(200 * time.Millisecond):
	}
}

// TestBroker_NotInAllowList covers the allow-list layer named in
// SPEC_FULL.md §1/§6: a hostname with a cached DNS answer is still
// denied if it isn't in EGRESS_ALLOW_LIST.
func TestBroker_NotInAllowList(t *testing.T) {
	cache := dnscache.New(nil)
	cache.Put("evil.com", []string{"9.9.9.9"})

	backend := transport.NewMemoryBackend()
	defer backend.Close()

	forwarderLn, err := backend.Listen(4433)
	require.NoError(t, err)

	accepted := make(chan struct{}, 1)
	go func() {
		if _, err := forwarderLn.Accept(); err == nil {
			accepted <- struct{}{}
		}
	}()

	cfg := testConfig() // allow list only has example.com
	b := New(cfg, cache, backend, metrics.New(), nil)

	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()

	hello := buildClientHello("evil.com")
	go func() {
		_, _ = clientSide.Write(hello)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.handle(ctx, serverSide)

	select {
	case <-accepted:
		t.Fatal("host forwarder should never have been dialed for a non-allow-listed hostname")
	case <-time.After(200 * time.Millisecond):
	}
}
