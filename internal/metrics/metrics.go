package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	checkpoints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildprobe",
			Subsystem: "session",
			Name:      "checkpoints_total",
			Help:      "Number of recorded checkpoints by name.",
		}, []string{"name"},
	)
	checkpointElapsed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "buildprobe",
			Subsystem: "session",
			Name:      "checkpoint_elapsed_ms",
			Help:      "Elapsed milliseconds since runtime start at the last write of each checkpoint.",
		}, []string{"name"},
	)
	usageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildprobe",
			Subsystem: "session",
			Name:      "usage_errors_total",
			Help:      "Recorder misuse and send-construction failures by kind.",
		}, []string{"kind"},
	)
	flushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildprobe",
			Subsystem: "flush",
			Name:      "total",
			Help:      "Terminal flush outcomes by result.",
		}, []string{"result"},
	)
	flushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "buildprobe",
			Subsystem: "flush",
			Name:      "duration_seconds",
			Help:      "Time from flush trigger to terminal outcome.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	collectorReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildprobe",
			Subsystem: "collector",
			Name:      "reports_total",
			Help:      "Reports received by the collector by result.",
		}, []string{"result"},
	)
	buildPeakRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "buildprobe",
			Subsystem: "build",
			Name:      "peak_rss_mb",
			Help:      "Peak resident memory observed for a build step.",
		}, []string{"step"},
	)
	buildCPUSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "buildprobe",
			Subsystem: "build",
			Name:      "cpu_seconds",
			Help:      "User plus system CPU seconds consumed by a build step at its last sample.",
		}, []string{"step"},
	)
)

// Flush results.
const (
	ResultOK        = "ok"
	ResultTruncated = "truncated"
	ResultTransport = "transport_error"
	ResultCrashed   = "crashed"
	ResultInvalid   = "invalid"
	ResultStoreErr  = "store_error"
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{checkpoints, checkpointElapsed, usageErrors, flushes, flushDuration, collectorReports, buildPeakRSS, buildCPUSeconds}
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func ObserveCheckpoint(name string, elapsedMS float64) {
	if regOK.Load() {
		checkpoints.WithLabelValues(name).Inc()
		checkpointElapsed.WithLabelValues(name).Set(elapsedMS)
	}
}

func IncUsageError(kind string) {
	if regOK.Load() {
		usageErrors.WithLabelValues(kind).Inc()
	}
}

func ObserveFlush(result string, seconds float64) {
	if regOK.Load() {
		flushes.WithLabelValues(result).Inc()
		flushDuration.Observe(seconds)
	}
}

func IncCollectorReport(result string) {
	if regOK.Load() {
		collectorReports.WithLabelValues(result).Inc()
	}
}

func SetBuildUsage(step string, peakRSSMB, cpuSeconds float64) {
	if regOK.Load() {
		buildPeakRSS.WithLabelValues(step).Set(peakRSSMB)
		buildCPUSeconds.WithLabelValues(step).Set(cpuSeconds)
	}
}
