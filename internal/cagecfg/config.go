// Package cagecfg loads the environment-driven configuration shared by
// both binaries. EGRESS_PORTS and EGRESS_ALLOW_LIST are the two
// environment variables the source spec names explicitly; the rest are
// this implementation's own port/address knobs.
package cagecfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// PortList decodes a comma-separated list of TCP ports, failing fast on
// any non-numeric or out-of-range entry (SPEC_FULL.md §6, source §8
// boundary case).
type PortList []uint16

// Decode implements envdecode.Decoder.
func (p *PortList) Decode(repr string) error {
	repr = strings.TrimSpace(repr)
	if repr == "" {
		return fmt.Errorf("EGRESS_PORTS must not be empty")
	}

	parts := strings.Split(repr, ",")
	ports := make(PortList, 0, len(parts))
	for _, raw := range parts {
		raw = strings.TrimSpace(raw)
		n, err := strconv.ParseUint(raw, 10, 16)
		if err != nil {
			return fmt.Errorf("could not parse egress port %q as uint16: %w", raw, err)
		}
		if n == 0 {
			return fmt.Errorf("egress port %q out of range 1-65535", raw)
		}
		ports = append(ports, uint16(n))
	}

	*p = ports
	return nil
}

// StringList decodes a comma-separated list, trimming whitespace from
// each entry. An unset variable decodes to an empty list, which for
// EGRESS_ALLOW_LIST means "no egress permitted" per SPEC_FULL.md §6.
type StringList []string

// Decode implements envdecode.Decoder.
func (s *StringList) Decode(repr string) error {
	if strings.TrimSpace(repr) == "" {
		*s = nil
		return nil
	}
	parts := strings.Split(repr, ",")
	out := make(StringList, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	*s = out
	return nil
}

// Config is the full set of environment knobs for both binaries. Each
// binary only reads the fields it needs.
type Config struct {
	EgressPorts       PortList   `env:"EGRESS_PORTS,default=443"`
	EgressAllowList   StringList `env:"EGRESS_ALLOW_LIST"`
	IngressAddr       string     `env:"CAGE_INGRESS_ADDR,default=:3031"`
	EnclaveGuestPort  uint32     `env:"CAGE_ENCLAVE_GUEST_PORT,default=7777"`
	EgressBrokerPort  uint32     `env:"CAGE_EGRESS_BROKER_PORT,default=443"`
	HostForwarderPort uint32     `env:"CAGE_HOST_FORWARDER_PORT,default=4433"`
	ConfigServerPort  uint32     `env:"CAGE_CONFIG_SERVER_PORT,default=4434"`
	CryptoPort        uint32     `env:"ENCLAVE_CRYPTO_PORT,default=7779"`
	CryptoAPIAddr     string     `env:"CAGE_CRYPTO_API_ADDR,default=127.0.0.1:9999"`
	MetricsAddr       string     `env:"METRICS_ADDR,default=127.0.0.1:9100"`
	BindAllEgressPorts bool      `env:"CAGE_EGRESS_BIND_ALL_PORTS,default=false"`
	EgressRateLimit   float64    `env:"CAGE_EGRESS_RATE_LIMIT,default=0"`
	IngressRateLimit  float64    `env:"CAGE_INGRESS_RATE_LIMIT,default=0"`
}

// Load decodes Config from the process environment. Malformed
// EGRESS_PORTS is a fatal startup error, per source §7. A .env file in
// the working directory is loaded first, for local runs outside the
// enclave; its absence is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	// envdecode substitutes the default for an empty value, so an
	// explicitly empty EGRESS_PORTS is rejected here.
	if v, ok := os.LookupEnv("EGRESS_PORTS"); ok && strings.TrimSpace(v) == "" {
		return nil, fmt.Errorf("cagecfg: EGRESS_PORTS must not be empty")
	}

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("cagecfg: %w", err)
	}
	return &cfg, nil
}

// AllowsHostname reports whether hostname appears in the allow list.
// An empty allow list permits nothing, matching source §6's "empty
// means no egress permitted".
func (c *Config) AllowsHostname(hostname string) bool {
	for _, h := range c.EgressAllowList {
		if h == hostname {
			return true
		}
	}
	return false
}
