// Package metrics records conversion counters for the clinical ETL pipeline
// using Prometheus metrics.
//
// A batch run is short-lived, so nothing is scraped: the Collector owns a
// private registry and the run ends by writing it in the text exposition
// format with WriteTextfile, ready for a node_exporter textfile collector.
//
// # Basic Usage
//
//	c := metrics.NewCollector()
//	c.RowsRead("patients", stats.RowsRead)
//	timer := metrics.NewTimer("clean")
//	cleaned, report, err := cleaner.Clean(rt, tbl)
//	c.ObserveStage("clean", "patients", timer.Stop())
//	c.FileDone("patients", err == nil)
//	_ = c.WriteTextfile("/var/lib/node_exporter/clinicaletl.prom")
//
// # Metric Types
//
// Counter: rows seen per stage and files converted per status
// Gauge: artifact sizes and the process resident set size
// Histogram: per-stage durations
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ajitpratap0/clinical-etl/pkg/errors"
)

const namespace = "clinicaletl"

// Row stages counted by RowsTotal.
const (
	StageRead            = "read"
	StageAllNullDropped  = "all_null_dropped"
	StageDuplicate       = "duplicate_dropped"
	StageRequiredDropped = "required_dropped"
	StageWritten         = "written"
)

// Collector holds the metrics of one run in its own registry.
type Collector struct {
	registry *prometheus.Registry

	rows          *prometheus.CounterVec
	files         *prometheus.CounterVec
	fallbacks     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	artifactBytes *prometheus.GaugeVec
	residentBytes prometheus.Gauge
	startTime     time.Time
}

// NewCollector creates a Collector with a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		rows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_total",
				Help:      "Rows seen per record type and stage",
			},
			[]string{"record_type", "stage"},
		),
		files: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_total",
				Help:      "Source files converted per record type and status",
			},
			[]string{"record_type", "status"},
		),
		fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallback_reads_total",
				Help:      "Sources that needed the full-read fallback",
			},
			[]string{"record_type"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each pipeline stage",
				Buckets: []float64{
					0.01, // small lookup tables
					0.1,
					1,
					10,
					60,
					600, // lab events
				},
			},
			[]string{"stage", "record_type"},
		),
		artifactBytes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "artifact_bytes",
				Help:      "Size of the last published artifact",
			},
			[]string{"record_type", "destination"},
		),
		residentBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "process_resident_bytes",
				Help:      "Resident set size of the process after the last file",
			},
		),
		startTime: time.Now(),
	}
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// StartTime returns when the collector was created.
func (c *Collector) StartTime() time.Time { return c.startTime }

// AddRows adds n rows to the counter of the given stage.
func (c *Collector) AddRows(recordType, stage string, n int) {
	if n <= 0 {
		return
	}
	c.rows.WithLabelValues(recordType, stage).Add(float64(n))
}

// RowsRead counts rows read from a source.
func (c *Collector) RowsRead(recordType string, n int) {
	c.AddRows(recordType, StageRead, n)
}

// Fallback counts a source that needed the full-read fallback.
func (c *Collector) Fallback(recordType string) {
	c.fallbacks.WithLabelValues(recordType).Inc()
}

// FileDone counts a finished source file.
func (c *Collector) FileDone(recordType string, ok bool) {
	status := "success"
	if !ok {
		status = "failure"
	}
	c.files.WithLabelValues(recordType, status).Inc()
}

// ObserveStage records the duration of one stage.
func (c *Collector) ObserveStage(stage, recordType string, d time.Duration) {
	c.stageDuration.WithLabelValues(stage, recordType).Observe(d.Seconds())
}

// SetArtifactBytes records the size of a published artifact.
func (c *Collector) SetArtifactBytes(recordType, destination string, n int64) {
	c.artifactBytes.WithLabelValues(recordType, destination).Set(float64(n))
}

// SetResidentBytes records the process resident set size.
func (c *Collector) SetResidentBytes(n uint64) {
	c.residentBytes.Set(float64(n))
}

// WriteTextfile writes every metric to path in the text exposition format.
// The file is replaced atomically.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write metrics textfile").
			WithDetail("path", path)
	}
	return nil
}

// Timer provides a simple timing mechanism for measuring stage durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{start: time.Now(), name: name}
}

// Name returns the name the timer was created with.
func (t *Timer) Name() string { return t.name }

// Stop returns the elapsed duration since creation. It can be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
