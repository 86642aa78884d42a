// Package egress implements C4, the in-enclave egress broker: it
// intercepts every outbound TLS handshake the workload attempts, reads
// the destination hostname out of the SNI extension, and authorizes the
// connection only against what C3 (internal/dnscache) has already seen
// resolved. Nothing the broker hasn't seen named by both the DNS cache
// and the allow list leaves the enclave.
package egress

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cagemesh/fabric/internal/cagecfg"
	"github.com/cagemesh/fabric/internal/cagerr"
	"github.com/cagemesh/fabric/internal/dnscache"
	"github.com/cagemesh/fabric/internal/metrics"
	"github.com/cagemesh/fabric/internal/ratelimit"
	"github.com/cagemesh/fabric/internal/splice"
	"github.com/cagemesh/fabric/internal/transport"
	"github.com/cagemesh/fabric/internal/wire"
)

// peekBufferSize is the maximum number of bytes read from the customer
// stream in one call before attempting to parse a ClientHello out of it
// (source §4.4: "reads up to 4096 bytes... in one read").
const peekBufferSize = 4096

// HandshakeDeadline bounds how long the broker waits for the initial
// ClientHello read, an implementation addition SPEC_FULL.md §5 permits
// but does not mandate.
const HandshakeDeadline = 5 * time.Second

// Broker is C4. It owns no state of its own beyond references to the
// shared DNS cache and the transport backend used to reach the host
// egress forwarder.
type Broker struct {
	cfg      *cagecfg.Config
	cache    *dnscache.Cache
	backend  transport.Backend
	limiter  *ratelimit.Limiter
	metrics  *metrics.Registry
	log      *logrus.Entry
	randomIP func([]string) string
}

// New builds a Broker. backend is used to dial the host egress
// forwarder (C1); the broker never listens through backend itself —
// its own listener is always a plain TCP accept inside the enclave.
func New(cfg *cagecfg.Config, cache *dnscache.Cache, backend transport.Backend, reg *metrics.Registry, log *logrus.Entry) *Broker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Broker{
		cfg:      cfg,
		cache:    cache,
		backend:  backend,
		limiter:  ratelimit.New(cfg.EgressRateLimit, 64),
		metrics:  reg,
		log:      log,
		randomIP: pickRandomIP,
	}
}

// ListenAndServe binds 0.0.0.0:<EgressBrokerPort> and serves until ctx
// is cancelled. A per-connection error never brings down the listener
// (source §4.4, §7 crash-resistant loop).
func (b *Broker) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("0.0.0.0:%d", b.cfg.EgressBrokerPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("egress: bind %s: %w", addr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	b.log.WithField("addr", addr).Info("egress: listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			b.log.WithError(err).Warn("egress: accept failed")
			continue
		}

		go b.handle(ctx, conn)
	}
}

// handle drives one connection through Accepted -> Peeking ->
// Parsed(hostname) -> Authorized(ip) -> Dialed -> Splicing -> Closed.
func (b *Broker) handle(ctx context.Context, customer net.Conn) {
	defer customer.Close()

	connID := uuid.NewString()
	log := b.log.WithField("conn_id", connID)

	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			b.outcome("rate_limited")
			return
		}
	}

	_ = customer.SetReadDeadline(time.Now().Add(HandshakeDeadline))
	start := time.Now()

	buf := make([]byte, peekBufferSize)
	n, err := customer.Read(buf)
	if err != nil && n == 0 {
		log.WithError(err).Debug("egress: handshake read failed")
		b.outcome("read_error")
		return
	}
	_ = customer.SetReadDeadline(time.Time{})
	captured := buf[:n]

	hostname, ok, perr := extractSNI(captured)
	if perr != nil {
		log.WithError(perr).Warn("egress: tls parse error")
		b.outcome("tls_parse_error")
		return
	}
	if !ok || hostname == "" {
		log.WithError(cagerr.ErrNoHostnameFound).Info("egress: no hostname found")
		b.outcome("no_hostname")
		return
	}
	log = log.WithField("hostname", hostname)

	if !b.cfg.AllowsHostname(hostname) {
		log.Warn("egress: hostname not in allow list")
		b.outcome("not_allowed")
		return
	}

	ips, ok := b.cache.Get(hostname)
	if !ok {
		log.WithError(&cagerr.MissingIPError{Host: hostname}).Info("egress: no cached dns answer")
		b.outcome("missing_ip")
		return
	}

	ip := b.randomIP(ips)
	log = log.WithField("ip", ip)
	if b.metrics != nil {
		b.metrics.EgressAuthorizeSecs.Observe(time.Since(start).Seconds())
	}

	hostConn, err := b.backend.Dial(ctx, b.cfg.HostForwarderPort)
	if err != nil {
		log.WithError(err).Warn("egress: dial host forwarder failed")
		b.outcome("dial_error")
		return
	}
	defer hostConn.Close()

	req := wire.ExternalRequest{IP: ip, Data: captured}
	if _, err := req.WriteTo(hostConn); err != nil {
		log.WithError(err).Warn("egress: write external request frame failed")
		b.outcome("frame_write_error")
		return
	}

	log.Debug("egress: splicing")
	b.outcome("splicing")

	if err := splice.Pipe(ctx, asHalfCloser(customer), asHalfCloser(hostConn), log, splice.DefaultIdleTimeout); err != nil && err != io.EOF {
		log.WithError(err).Debug("egress: splice ended with error")
	}
}

func (b *Broker) outcome(label string) {
	if b.metrics != nil {
		b.metrics.EgressConnections.WithLabelValues(label).Inc()
	}
}

// pickRandomIP chooses uniformly at random across the answer set
// (source §4.4 rationale: trivial client-side load spread, unbiased
// across DNS rotation). Callers must not invoke this with an empty
// slice; dnscache.Cache.Get never returns one.
func pickRandomIP(ips []string) string {
	if len(ips) == 1 {
		return ips[0]
	}
	return ips[rand.Intn(len(ips))]
}

type halfCloseConn struct {
	net.Conn
}

func (h halfCloseConn) CloseWrite() error {
	if hc, ok := h.Conn.(interface{ CloseWrite() error }); ok {
		return hc.CloseWrite()
	}
	return h.Conn.Close()
}

func asHalfCloser(c net.Conn) splice.HalfCloser {
	if hc, ok := c.(splice.HalfCloser); ok {
		return hc
	}
	return halfCloseConn{Conn: c}
}
