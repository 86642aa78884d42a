// Package metrics is the shared Prometheus registry for both binaries.
// Components record to its exported counters and histograms directly,
// and to the E3 call metrics through ObserveE3.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Registry bundles the counters and histograms used across C4, C5 and
// C6.
type Registry struct {
	EgressConnections   *prometheus.CounterVec
	EgressAuthorizeSecs prometheus.Histogram
	IngressConnections  *prometheus.CounterVec
	E3Requests          *prometheus.CounterVec
	E3RequestSecs       *prometheus.HistogramVec
}

var (
	sharedOnce sync.Once
	shared     *Registry
)

// New returns the process-wide Registry. Its metrics are registered with
// the default Prometheus registerer (the one Serve exposes) on the first
// call; later calls return the same Registry.
func New() *Registry {
	sharedOnce.Do(func() {
		shared = &Registry{
			EgressConnections: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "cage_egress_connections_total",
				Help: "Egress connections by outcome.",
			}, []string{"outcome"}),
			EgressAuthorizeSecs: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "cage_egress_authorize_duration_seconds",
				Help:    "Time spent parsing SNI and authorizing an egress connection.",
				Buckets: prometheus.DefBuckets,
			}),
			IngressConnections: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "cage_ingress_connections_total",
				Help: "Ingress connections by outcome.",
			}, []string{"outcome"}),
			E3Requests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "cage_e3_requests_total",
				Help: "Calls to E3 by operation and outcome.",
			}, []string{"op", "outcome"}),
			E3RequestSecs: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "cage_e3_request_duration_seconds",
				Help:    "E3 call latency by operation.",
				Buckets: prometheus.DefBuckets,
			}, []string{"op"}),
		}
	})
	return shared
}

// ObserveE3 records the outcome and latency of a single E3 call.
func (r *Registry) ObserveE3(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.E3Requests.WithLabelValues(op, outcome).Inc()
	r.E3RequestSecs.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Serve runs a blocking HTTP server exposing /metrics on addr, intended
// to be launched in its own goroutine from each binary's main.
func Serve(ctx context.Context, addr string, log *logrus.Entry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("metrics: server exited")
	}
}
