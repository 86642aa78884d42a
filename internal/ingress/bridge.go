// Package ingress implements C5, the host-side ingress bridge: a
// connection-oblivious splice between a public TCP port and the
// enclave's guest port over C1. It never inspects customer bytes —
// authorization for inbound traffic is the enclave's own TLS
// terminator's job, not this bridge's.
package ingress

import (
	"context"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cagemesh/fabric/internal/cagecfg"
	"github.com/cagemesh/fabric/internal/metrics"
	"github.com/cagemesh/fabric/internal/ratelimit"
	"github.com/cagemesh/fabric/internal/splice"
	"github.com/cagemesh/fabric/internal/transport"
)

// Bridge is C5.
type Bridge struct {
	cfg     *cagecfg.Config
	backend transport.Backend
	limiter *ratelimit.Limiter
	metrics *metrics.Registry
	log     *logrus.Entry
}

// New builds a Bridge. backend is used to dial the enclave's guest port
// over C1.
func New(cfg *cagecfg.Config, backend transport.Backend, reg *metrics.Registry, log *logrus.Entry) *Bridge {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bridge{
		cfg:     cfg,
		backend: backend,
		limiter: ratelimit.New(cfg.IngressRateLimit, 256),
		metrics: reg,
		log:     log,
	}
}

// ListenAndServe binds cfg.IngressAddr and serves until ctx is
// cancelled.
func (br *Bridge) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", br.cfg.IngressAddr)
	if err != nil {
		return fmt.Errorf("ingress: bind %s: %w", br.cfg.IngressAddr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	br.log.WithField("addr", br.cfg.IngressAddr).Info("ingress: listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			br.log.WithError(err).Warn("ingress: accept failed")
			continue
		}

		go br.handle(ctx, conn)
	}
}

func (br *Bridge) handle(ctx context.Context, customer net.Conn) {
	defer customer.Close()

	log := br.log.WithField("conn_id", uuid.NewString())

	if br.limiter != nil {
		if err := br.limiter.Wait(ctx); err != nil {
			br.outcome("rate_limited")
			return
		}
	}

	guestConn, err := br.backend.Dial(ctx, br.cfg.EnclaveGuestPort)
	if err != nil {
		log.WithError(err).Warn("ingress: dial enclave guest port failed")
		br.outcome("dial_error")
		// On dial failure: shut down the customer write side, then drop.
		if tc, ok := customer.(interface{ CloseWrite() error }); ok {
			_ = tc.CloseWrite()
		}
		return
	}
	defer guestConn.Close()

	br.outcome("splicing")
	if err := splice.Pipe(ctx, asHalfCloser(customer), guestConn, log, splice.DefaultIdleTimeout); err != nil {
		log.WithError(err).Debug("ingress: splice ended with error")
	}
}

func (br *Bridge) outcome(label string) {
	if br.metrics != nil {
		br.metrics.IngressConnections.WithLabelValues(label).Inc()
	}
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
