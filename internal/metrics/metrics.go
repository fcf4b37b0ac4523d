// Package metrics exposes Prometheus collectors for the monitor.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	monitorFetchesTotal          *prometheus.CounterVec
	monitorFetchBytesTotal       *prometheus.CounterVec
	monitorResolverAttemptsTotal *prometheus.CounterVec
	monitorRawEvidenceTotal      *prometheus.CounterVec
	monitorDaysTotal             *prometheus.CounterVec
	monitorLastRunTimestamp      prometheus.Gauge
	monitorRateLimitDelay        *prometheus.HistogramVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		factory := promauto.With(registry)

		monitorFetchesTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_fetches_total",
				Help: "Total number of source fetches, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		monitorFetchBytesTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_fetch_bytes_total",
				Help: "Total number of captured payload bytes, labeled by source.",
			},
			[]string{"source"},
		)

		monitorResolverAttemptsTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_resolver_attempts_total",
				Help: "Total number of designation attempts, labeled by source and result.",
			},
			[]string{"source", "result"},
		)

		monitorRawEvidenceTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_raw_evidence_writes_total",
				Help: "Total number of raw evidence writes, labeled by result.",
			},
			[]string{"result"},
		)

		monitorDaysTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_days_total",
				Help: "Total number of processed days, labeled by write outcome.",
			},
			[]string{"outcome"},
		)

		monitorLastRunTimestamp = factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "monitor_last_run_timestamp_seconds",
				Help: "Unix time of the last completed run.",
			},
		)

		monitorRateLimitDelay = factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "monitor_rate_limit_delay_seconds",
				Help:    "Time spent waiting for a per-host fetch token.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
		)

		httpRequestsTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Registry returns the registry holding every monitor collector.
func Registry() *prometheus.Registry {
	Init()
	return registry
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry(), promhttp.HandlerOpts{})
}

// WriteTextfile dumps the registry in the node-exporter textfile format.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry()); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// ObserveFetch records one source fetch. outcome is "ok" or an error kind.
func ObserveFetch(source, outcome string, bytesFetched int64) {
	Init()
	monitorFetchesTotal.WithLabelValues(source, outcome).Inc()
	if bytesFetched > 0 {
		monitorFetchBytesTotal.WithLabelValues(source).Add(float64(bytesFetched))
	}
}

// ObserveAttempt records one designation attempt.
func ObserveAttempt(source string, ok bool) {
	Init()
	monitorResolverAttemptsTotal.WithLabelValues(source, result(ok)).Inc()
}

// ObserveRawEvidence records a raw evidence write.
func ObserveRawEvidence(ok bool) {
	Init()
	monitorRawEvidenceTotal.WithLabelValues(result(ok)).Inc()
}

// ObserveDay increments the day counter for the given outcome.
func ObserveDay(outcome string) {
	Init()
	monitorDaysTotal.WithLabelValues(outcome).Inc()
}

// MarkRun stamps the completion time of a run.
func MarkRun(at time.Time) {
	Init()
	monitorLastRunTimestamp.Set(float64(at.Unix()))
}

// ObserveRateLimitDelay records how long a fetch waited for its host's token.
func ObserveRateLimitDelay(host string, delay time.Duration) {
	Init()
	monitorRateLimitDelay.WithLabelValues(host).Observe(delay.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
