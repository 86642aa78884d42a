// Package e3 implements C6, the only other outbound connection the
// enclave is permitted besides the egress broker's relayed customer
// traffic: a TLS client to the remote crypto service ("E3") whose
// certificate verification is replaced entirely with an
// attestation-aware check (internal/attestation), never falling back
// to the public WebPKI trust store.
package e3

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cagemesh/fabric/internal/attestation"
	"github.com/cagemesh/fabric/internal/cagecfg"
	"github.com/cagemesh/fabric/internal/cagerr"
	"github.com/cagemesh/fabric/internal/metrics"
	"github.com/cagemesh/fabric/internal/tenant"
	"github.com/cagemesh/fabric/internal/transport"
)

// serverName is the hardcoded TLS server name E3 presents, mirroring
// the source client's hardcoded ServerName.
const serverName = "e3.cages-e3.internal"

// Client is C6.
type Client struct {
	httpClient *http.Client
	baseURL    string
	context    *tenant.CageContext
	metrics    *metrics.Registry
}

// New builds a Client that dials E3 over backend on cryptoPort and
// verifies its certificate against trust, never against WebPKI.
func New(cfg *cagecfg.Config, backend transport.Backend, trust *attestation.TrustStore, ctxVal *tenant.CageContext, reg *metrics.Registry) *Client {
	dial := func(ctx context.Context, _, _ string) (net.Conn, error) {
		return backend.Dial(ctx, cfg.CryptoPort)
	}

	tlsConfig := &tls.Config{
		ServerName: serverName,
		// Default chain verification is bypassed entirely: trust
		// decisions are made solely by VerifyConnection below, which
		// consults the attestation trust store instead of WebPKI roots.
		InsecureSkipVerify: true,
		VerifyConnection: func(cs tls.ConnectionState) error {
			return verifyAttested(trust, cs)
		},
	}

	rt := &http.Transport{
		DialContext: dial,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			raw, err := dial(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			tlsConn := tls.Client(raw, tlsConfig)
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				raw.Close()
				return nil, fmt.Errorf("e3: tls handshake: %w", err)
			}
			return tlsConn, nil
		},
		// Every call opens a fresh TLS connection; E3 connections are
		// not pooled.
		DisableKeepAlives: true,
	}

	return &Client{
		httpClient: &http.Client{Transport: rt, Timeout: 30 * time.Second},
		baseURL:    "https://" + serverName,
		context:    ctxVal,
		metrics:    reg,
	}
}

func verifyAttested(trust *attestation.TrustStore, cs tls.ConnectionState) error {
	if len(cs.PeerCertificates) == 0 {
		return fmt.Errorf("%w: no peer certificate presented", cagerr.ErrAttestation)
	}
	return trust.VerifyLeafBinding(cs.PeerCertificates[0])
}

// Encrypt calls POST /encrypt with the given plaintext payload and
// returns the raw JSON response body.
func (c *Client) Encrypt(ctx context.Context, apiKey string, data json.RawMessage) (json.RawMessage, error) {
	return c.call(ctx, "encrypt", apiKey, data)
}

// Decrypt calls POST /decrypt.
func (c *Client) Decrypt(ctx context.Context, apiKey string, data json.RawMessage) (json.RawMessage, error) {
	return c.call(ctx, "decrypt", apiKey, data)
}

// Authenticate calls POST /authenticate, mapping any 2xx response to
// true and anything else to false (source §4.6 contract).
func (c *Client) Authenticate(ctx context.Context, apiKey string, data json.RawMessage) (bool, error) {
	start := time.Now()
	resp, err := c.send(ctx, "/authenticate", apiKey, data, false)
	if err != nil {
		if c.metrics != nil {
			c.metrics.ObserveE3("authenticate", start, err)
		}
		return false, err
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if c.metrics != nil {
		var obsErr error
		if !ok {
			obsErr = &cagerr.FailedRequestError{Status: resp.StatusCode}
		}
		c.metrics.ObserveE3("authenticate", start, obsErr)
	}
	return ok, nil
}

func (c *Client) call(ctx context.Context, op, apiKey string, data json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	resp, err := c.send(ctx, "/"+op, apiKey, data, true)
	if c.metrics != nil {
		c.metrics.ObserveE3(op, start, err)
	}
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("e3: read %s response: %w", op, err)
	}
	return json.RawMessage(body), nil
}

// send issues the request and, when requireSuccess is true, turns a
// non-2xx status into a FailedRequestError instead of returning the
// response (source §4.6: "any request error -> FailedRequest").
func (c *Client) send(ctx context.Context, path, apiKey string, data json.RawMessage, requireSuccess bool) (*http.Response, error) {
	body, err := c.context.RequestBody(data)
	if err != nil {
		return nil, fmt.Errorf("e3: build request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("e3: build request: %w", err)
	}
	req.Header.Set("api-key", apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("e3: %s: %w", path, err)
	}

	if requireSuccess && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		resp.Body.Close()
		return nil, &cagerr.FailedRequestError{Status: resp.StatusCode}
	}

	return resp, nil
}

// VerifyLeaf exposes the trust-store check directly for callers (such
// as the attestation-doc provisioning flow) that need to bind a
// freshly-fetched E3 certificate before any HTTP call is made.
func VerifyLeaf(trust *attestation.TrustStore, leaf *x509.Certificate) error {
	return trust.VerifyLeafBinding(leaf)
}
