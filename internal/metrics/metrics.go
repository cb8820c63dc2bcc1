// Package metrics exposes pipeline and scanner counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/delmenhorst/Buchhaltung/internal/extract"
	"github.com/delmenhorst/Buchhaltung/internal/ingest"
	"github.com/delmenhorst/Buchhaltung/internal/pipeline"
)

const namespace = "buchhaltung"

// Metrics implements pipeline.Observer and ingest.CycleObserver.
type Metrics struct {
	registry *prometheus.Registry

	outcomes        *prometheus.CounterVec
	fileDuration    prometheus.Histogram
	extractions     *prometheus.CounterVec
	identifiers     prometheus.Counter
	cycles          prometheus.Counter
	cycleDuration   prometheus.Histogram
	cycleRegistered prometheus.Counter
	cycleUnstable   prometheus.Counter
	cycleLeftovers  prometheus.Counter
	scannerRunning  prometheus.Gauge
}

var (
	_ pipeline.Observer    = (*Metrics)(nil)
	_ ingest.CycleObserver = (*Metrics)(nil)
)

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "documents_total",
			Help:      "Documents handled by the pipeline, by outcome.",
		}, []string{"outcome"}),
		fileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "document_duration_seconds",
			Help:      "Time spent on one document.",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "results_total",
			Help:      "Extraction results, by provenance.",
		}, []string{"provenance"}),
		identifiers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identifier",
			Name:      "allocated_total",
			Help:      "Documents archived under a newly issued or reused identifier.",
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "cycles_total",
			Help:      "Completed scan cycles.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a scan cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		cycleRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "registered_total",
			Help:      "Files newly tracked by the scanner.",
		}),
		cycleUnstable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "unstable_total",
			Help:      "Observations of files that were still being written.",
		}),
		cycleLeftovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "leftovers_removed_total",
			Help:      "Intake copies of already archived files that were removed.",
		}),
		scannerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "running",
			Help:      "1 while the scanner is enabled.",
		}),
	}
	m.registry.MustRegister(
		m.outcomes, m.fileDuration, m.extractions, m.identifiers,
		m.cycles, m.cycleDuration, m.cycleRegistered, m.cycleUnstable, m.cycleLeftovers, m.scannerRunning,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveOutcome(o pipeline.Outcome, elapsed time.Duration) {
	m.outcomes.WithLabelValues(o.Kind.String()).Inc()
	if o.Kind == pipeline.OutcomeSkipped {
		return
	}
	m.fileDuration.Observe(elapsed.Seconds())
	if o.Kind == pipeline.OutcomeArchived && o.Identifier != "" {
		m.identifiers.Inc()
	}
}

func (m *Metrics) ObserveExtraction(r extract.Result) {
	m.extractions.WithLabelValues(string(r.Provenance)).Inc()
}

func (m *Metrics) ObserveCycle(s ingest.CycleStats, elapsed time.Duration) {
	m.cycles.Inc()
	m.cycleDuration.Observe(elapsed.Seconds())
	m.cycleRegistered.Add(float64(s.Registered))
	m.cycleUnstable.Add(float64(s.Unstable))
	m.cycleLeftovers.Add(float64(s.Leftovers))
}

// SetScannerRunning follows the scanner toggle.
func (m *Metrics) SetScannerRunning(running bool) {
	if running {
		m.scannerRunning.Set(1)
		return
	}
	m.scannerRunning.Set(0)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests and additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
