// Package metrics exposes read-only Prometheus instrumentation for the
// daemon's own state. It is a scrape target for an external metrics
// exporter; the daemon never queries these values itself.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	regOK atomic.Bool

	runsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cid",
			Subsystem: "run",
			Name:      "starts_total",
			Help:      "Number of runs started per job.",
		}, []string{"job"},
	)
	runsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cid",
			Subsystem: "run",
			Name:      "finishes_total",
			Help:      "Number of runs finished per job and outcome.",
		}, []string{"job", "outcome"},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cid",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Observed run wall-clock duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"},
	)
	runsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cid",
			Subsystem: "run",
			Name:      "skipped_total",
			Help:      "Number of scheduled fires skipped due to admission refusal.",
		}, []string{"job", "reason"},
	)
	groupActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cid",
			Subsystem: "arbiter",
			Name:      "group_active",
			Help:      "Current active run count per concurrency group.",
		}, []string{"group"},
	)
	groupCap = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cid",
			Subsystem: "arbiter",
			Name:      "group_capacity",
			Help:      "Configured capacity per concurrency group.",
		}, []string{"group"},
	)
	loopLag = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cid",
			Subsystem: "reactor",
			Name:      "wakeup_lag_seconds",
			Help:      "Delay between a scheduled wakeup and the reactor actually handling it.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers all collectors with r. Safe to call more than once;
// later calls after a success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{runsStarted, runsFinished, runDuration, runsSkipped, groupActive, groupCap, loopLag}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// RegisterDefault registers all collectors with prometheus's default
// registry, the common case for a standalone daemon binary that doesn't
// otherwise need a custom Registerer.
func RegisterDefault() error { return Register(prometheus.DefaultRegisterer) }

// Serve starts a minimal HTTP server exposing /metrics on addr and blocks
// until it returns an error. The caller runs this in its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux) //nolint:gosec // internal metrics endpoint, no untrusted input
}

// Handler serves the default gatherer over HTTP. The caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

func IncRunStart(job string) {
	if regOK.Load() {
		runsStarted.WithLabelValues(job).Inc()
	}
}

func IncRunFinish(job, outcome string) {
	if regOK.Load() {
		runsFinished.WithLabelValues(job, outcome).Inc()
	}
}

func ObserveRunDuration(job string, seconds float64) {
	if regOK.Load() {
		runDuration.WithLabelValues(job).Observe(seconds)
	}
}

func IncRunSkipped(job, reason string) {
	if regOK.Load() {
		runsSkipped.WithLabelValues(job, reason).Inc()
	}
}

func SetGroupActive(group string, n int) {
	if regOK.Load() {
		groupActive.WithLabelValues(group).Set(float64(n))
	}
}

func SetGroupCapacity(group string, n int) {
	if regOK.Load() {
		groupCap.WithLabelValues(group).Set(float64(n))
	}
}

func ObserveWakeupLag(seconds float64) {
	if regOK.Load() {
		loopLag.Observe(seconds)
	}
}
