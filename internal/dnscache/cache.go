// Package dnscache holds the process-wide hostname -> IP-answer-set
// mapping the egress broker trusts. It is the only mutable state shared
// across connections in the fabric.
package dnscache

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type record struct {
	ips        []string
	recordedAt time.Time
}

// Cache is safe for concurrent use: many readers (the egress broker, on
// every new connection), occasional writers (the DNS forwarder, on every
// successful resolution).
type Cache struct {
	mu      sync.RWMutex
	entries map[string]record

	ttl    time.Duration
	sweep  *cron.Cron
	log    *logrus.Entry
}

// New returns a Cache that never evicts entries on its own — the latest
// successful resolution for a hostname is kept indefinitely, one of the
// two eviction policies SPEC_FULL.md §4.3 leaves to the implementation.
func New(log *logrus.Entry) *Cache {
	return &Cache{entries: make(map[string]record), log: log}
}

// NewWithTTL returns a Cache that sweeps entries older than ttl on a
// cron schedule running roughly four times per TTL window, honoring the
// other eviction policy SPEC_FULL.md §4.3 permits.
func NewWithTTL(ttl time.Duration, log *logrus.Entry) *Cache {
	c := &Cache{entries: make(map[string]record), ttl: ttl, log: log}

	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}

	c.sweep = cron.New()
	_, _ = c.sweep.AddFunc(fmt.Sprintf("@every %s", interval), c.sweepExpired)
	c.sweep.Start()
	return c
}

// Stop halts the background sweep, if any.
func (c *Cache) Stop() {
	if c.sweep != nil {
		c.sweep.Stop()
	}
}

func (c *Cache) sweepExpired() {
	cutoff := time.Now().Add(-c.ttl)

	c.mu.Lock()
	removed := 0
	for host, rec := range c.entries {
		if rec.recordedAt.Before(cutoff) {
			delete(c.entries, host)
			removed++
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	if removed > 0 && c.log != nil {
		c.log.WithFields(logrus.Fields{"removed": removed, "remaining": size}).Debug("dnscache: ttl sweep")
	}
}

// Get returns the last observed IP answer set for hostname. The bool is
// false when no prior resolution exists — the broker must treat that as
// MissingIP, never as an empty allow.
func (c *Cache) Get(hostname string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.entries[hostname]
	if !ok || len(rec.ips) == 0 {
		return nil, false
	}

	out := make([]string, len(rec.ips))
	copy(out, rec.ips)
	return out, true
}

// Put overwrites the answer set for hostname. A writer supplying an
// empty slice is a no-op: once an entry exists it is never made empty,
// and an unresolved hostname never gains a fabricated entry.
func (c *Cache) Put(hostname string, ips []string) {
	if len(ips) == 0 {
		return
	}

	stored := make([]string, len(ips))
	copy(stored, ips)

	c.mu.Lock()
	c.entries[hostname] = record{ips: stored, recordedAt: time.Now()}
	c.mu.Unlock()
}

// Len reports the number of cached hostnames, for metrics/diagnostics.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Writer is the interface the DNS forwarder populates on every
// successful resolution. Modeling it separately from *Cache lets
// cmd/dataplane wire a real forwarder while tests wire a fake one.
type Writer interface {
	Put(hostname string, ips []string)
}
