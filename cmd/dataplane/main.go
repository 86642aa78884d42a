// Command dataplane is the in-enclave process: it runs the egress
// broker (C4) and the crypto API facade (C7) in front of the E3 client
// (C6), and holds the DNS cache (C3) the broker consults. Nothing in
// this process writes to that cache.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cagemesh/fabric/internal/attestation"
	"github.com/cagemesh/fabric/internal/cagecfg"
	"github.com/cagemesh/fabric/internal/cryptoapi"
	"github.com/cagemesh/fabric/internal/dnscache"
	"github.com/cagemesh/fabric/internal/e3"
	"github.com/cagemesh/fabric/internal/egress"
	"github.com/cagemesh/fabric/internal/metrics"
	"github.com/cagemesh/fabric/internal/provisioner"
	"github.com/cagemesh/fabric/internal/tenant"
	"github.com/cagemesh/fabric/internal/transport"
	"github.com/cagemesh/fabric/pkg/logging"
)

func main() {
	log := logging.New("dataplane")

	cfg, err := cagecfg.Load()
	if err != nil {
		log.WithError(err).Fatal("dataplane: config")
	}

	cageCtx, err := tenant.Load()
	if err != nil {
		log.WithError(err).Fatal("dataplane: missing cage context")
	}
	log = logging.WithCage(log, cageCtx.TeamUUID, cageCtx.AppUUID, cageCtx.CageUUID)

	reg := metrics.New()
	backend := transport.Default(transport.CIDHost)
	cache := dnscache.NewWithTTL(10*time.Minute, log)
	defer cache.Stop()

	trust := attestation.NewTrustStore(os.Getenv("CAGE_E3_EXPECTED_UNIQUE_ID"), os.Getenv("CAGE_E3_EXPECTED_SIGNER_ID"))
	if err := bootstrapE3Trust(trust); err != nil {
		log.WithError(err).Warn("dataplane: e3 trust store not provisioned; all e3 calls will fail closed")
	}

	e3Client := e3.New(cfg, backend, trust, cageCtx, reg)
	attestationDoc := selfAttestationDoc(cageCtx)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provClient := provisioner.New("http://cage-control-plane", &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return backend.Dial(ctx, cfg.ConfigServerPort)
			},
		},
		Timeout: 30 * time.Second,
	}, provisioner.DefaultRetryConfig())
	go bootCertProvisioning(ctx, provClient, attestationDoc, log)

	broker := egress.New(cfg, cache, backend, reg, log.WithField("subsystem", "egress"))
	go func() {
		if err := broker.ListenAndServe(ctx); err != nil {
			log.WithError(err).Fatal("dataplane: egress broker exited")
		}
	}()

	apiHandler := cryptoapi.New(e3Client, cageCtx, attestationDoc, log.WithField("subsystem", "cryptoapi"))
	apiServer := &http.Server{
		Addr:         cfg.CryptoAPIAddr,
		Handler:      apiHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.WithField("addr", cfg.CryptoAPIAddr).Info("dataplane: crypto api listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("dataplane: crypto api exited")
		}
	}()

	go metrics.Serve(ctx, cfg.MetricsAddr, log.WithField("subsystem", "metrics"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("dataplane: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = apiServer.Shutdown(shutdownCtx)
	cancel()
}

// bootCertProvisioning exchanges this cage's attestation document for
// its intermediate certificate bundle at boot, over internal/provisioner
// against the control plane's config server. Best-effort: a failure
// here does not stop the dataplane from starting, since the egress
// broker and crypto API facade do not depend on the result, but it is
// logged loudly because every e3 call fails closed without it (see
// bootstrapE3Trust).
func bootCertProvisioning(ctx context.Context, client *provisioner.Client, attestationDoc []byte, log *logrus.Entry) {
	token, err := client.GetCertToken(ctx)
	if err != nil {
		log.WithError(err).Warn("dataplane: cert token provisioning failed")
		return
	}
	bundle, err := client.GetCert(ctx, attestationDoc)
	if err != nil {
		log.WithError(err).Warn("dataplane: cert provisioning failed")
		return
	}
	log.WithField("secrets", len(bundle.Secrets)).WithField("token_len", len(token)).
		Info("dataplane: cert bundle provisioned")
}

// bootstrapE3Trust is a placeholder binding point: in a full
// deployment, registering the E3 trust binding requires validating the
// attestation document bootCertProvisioning's bundle is keyed to
// against a signed manifest — a verification step this module does not
// implement (see DESIGN.md Open Question 5). Wiring the provisioner
// call itself is done above; only the manifest-backed trust decision
// remains out of scope, so this stub reports that gap loudly instead of
// silently trusting nothing.
func bootstrapE3Trust(trust *attestation.TrustStore) error {
	_ = trust
	return fmt.Errorf("e3 trust bootstrap not configured")
}

func selfAttestationDoc(cageCtx *tenant.CageContext) []byte {
	doc := attestation.Document{
		UniqueID:  os.Getenv("CAGE_UNIQUE_ID"),
		SignerID:  os.Getenv("CAGE_SIGNER_ID"),
		Timestamp: time.Now(),
	}
	reportData, _ := json.Marshal(cageCtx)
	return attestation.GenerateQuote(doc, reportData, []byte(os.Getenv("CAGE_ATTESTATION_KEY")))
}
