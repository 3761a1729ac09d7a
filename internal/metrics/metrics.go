// Package metrics aggregates engine counters and exposes them in Prometheus
// exposition format. A single Recorder is shared by the pipeline, the output
// stage, and the HTTP API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "casgen"

// Recorder owns a private registry so tests can construct isolated instances
// without tripping duplicate-registration panics on the global default.
type Recorder struct {
	reg *prometheus.Registry

	jobsSubmitted      prometheus.Counter
	jobsFinished       *prometheus.CounterVec
	activeJobs         prometheus.Gauge
	casualtiesProduced prometheus.Counter
	casualtiesDropped  prometheus.Counter
	batchFailures      prometheus.Counter
	phaseSeconds       *prometheus.HistogramVec
	outputBytes        *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpSeconds        *prometheus.HistogramVec
}

// NewRecorder constructs a Recorder with all engine metrics registered,
// alongside the standard Go runtime and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Recorder{
		reg: reg,
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Generation jobs accepted for execution.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Generation jobs that reached a terminal status.",
		}, []string{"status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Generation jobs currently executing.",
		}),
		casualtiesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "casualties_produced_total",
			Help:      "Casualty records simulated and retained.",
		}),
		casualtiesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "casualties_dropped_total",
			Help:      "Casualty records dropped after per-record failures.",
		}),
		batchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_failed_total",
			Help:      "Pipeline batches that returned an error.",
		}),
		phaseSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall-clock duration of each pipeline phase.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"phase"}),
		outputBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_bytes_total",
			Help:      "Bytes written to output documents, before archival.",
		}, []string{"format"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served by the API.",
		}, []string{"route", "method", "code"}),
		httpSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),
	}

	reg.MustRegister(
		r.jobsSubmitted,
		r.jobsFinished,
		r.activeJobs,
		r.casualtiesProduced,
		r.casualtiesDropped,
		r.batchFailures,
		r.phaseSeconds,
		r.outputBytes,
		r.httpRequests,
		r.httpSeconds,
	)
	return r
}

// JobSubmitted counts an accepted job.
func (r *Recorder) JobSubmitted() {
	r.jobsSubmitted.Inc()
}

// JobStarted marks a job as actively executing.
func (r *Recorder) JobStarted() {
	r.activeJobs.Inc()
}

// JobFinished records a terminal status and releases the active slot.
func (r *Recorder) JobFinished(status string) {
	r.activeJobs.Dec()
	r.jobsFinished.WithLabelValues(status).Inc()
}

// CasualtiesProduced adds n retained casualty records.
func (r *Recorder) CasualtiesProduced(n int) {
	r.casualtiesProduced.Add(float64(n))
}

// CasualtiesDropped adds n records dropped after per-record failures.
func (r *Recorder) CasualtiesDropped(n int) {
	r.casualtiesDropped.Add(float64(n))
}

// BatchFailed counts one failed pipeline batch.
func (r *Recorder) BatchFailed() {
	r.batchFailures.Inc()
}

// ObservePhase records the wall-clock duration of a completed phase.
func (r *Recorder) ObservePhase(phase string, d time.Duration) {
	r.phaseSeconds.WithLabelValues(phase).Observe(d.Seconds())
}

// OutputWritten adds bytes emitted for the given document format.
func (r *Recorder) OutputWritten(format string, bytes int64) {
	r.outputBytes.WithLabelValues(format).Add(float64(bytes))
}

// Handler serves the registry in exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with request counting and latency observation
// for a fixed route label.
func (r *Recorder) InstrumentHandler(route string, next http.Handler) http.Handler {
	labels := prometheus.Labels{"route": route}
	return promhttp.InstrumentHandlerDuration(
		r.httpSeconds.MustCurryWith(labels),
		promhttp.InstrumentHandlerCounter(
			r.httpRequests.MustCurryWith(labels),
			next,
		),
	)
}
