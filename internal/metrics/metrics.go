// Package metrics exposes Prometheus collectors for scans, pipeline phases,
// enrichment and progress subscribers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CosmoTheDev/painscan/models"
)

const namespace = "painscan"

// Metrics holds every painscan collector. It satisfies the pipeline's
// observer interface and the scan service's lifecycle hooks.
type Metrics struct {
	scansTotal          *prometheus.CounterVec
	phaseDuration       *prometheus.HistogramVec
	findingsTotal       *prometheus.CounterVec
	enrichmentFallbacks prometheus.Counter
	aiDegraded          prometheus.Counter
	activeScans         prometheus.Gauge
}

// New creates the collectors and registers them on reg (skipped when reg is
// nil). subscribers, when set, backs the painscan_progress_subscribers gauge.
func New(reg prometheus.Registerer, subscribers func() float64) *Metrics {
	m := &Metrics{
		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: namespace + "_scans_total",
				Help: "Finished scans by terminal status.",
			},
			[]string{"status"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: namespace + "_phase_duration_seconds",
				Help: "Duration of pipeline phases.",
				// Clones and AI batches dominate; phases range from milliseconds to minutes.
				Buckets: []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"phase"},
		),
		findingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: namespace + "_findings_total",
				Help: "Findings reported by completed scans, by severity.",
			},
			[]string{"severity"},
		),
		enrichmentFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: namespace + "_enrichment_fallbacks_total",
			Help: "Findings that received fallback content because enrichment failed.",
		}),
		aiDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: namespace + "_enrichment_ai_degraded_total",
			Help: "AI explanations replaced by catalog content after a provider error.",
		}),
		activeScans: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: namespace + "_active_scans",
			Help: "Scans whose pipeline is currently running.",
		}),
	}
	if reg == nil {
		return m
	}
	reg.MustRegister(m.scansTotal, m.phaseDuration, m.findingsTotal, m.enrichmentFallbacks, m.aiDegraded, m.activeScans)
	if subscribers != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: namespace + "_progress_subscribers",
			Help: "Open progress subscriptions.",
		}, subscribers))
	}
	return m
}

// PhaseFinished records how long a phase took.
func (m *Metrics) PhaseFinished(phase string, d time.Duration, _ bool) {
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// EnrichmentFallback counts a finding that received fallback content.
func (m *Metrics) EnrichmentFallback(string) { m.enrichmentFallbacks.Inc() }

// AIDegraded counts an AI explanation replaced by catalog content.
func (m *Metrics) AIDegraded(string, error) { m.aiDegraded.Inc() }

// ScanStarted marks a pipeline as running.
func (m *Metrics) ScanStarted() { m.activeScans.Inc() }

// ScanFinished records the terminal outcome of rec.
func (m *Metrics) ScanFinished(rec models.ScanRecord) {
	m.activeScans.Dec()
	m.scansTotal.WithLabelValues(string(rec.Status)).Inc()
	for _, f := range rec.Findings {
		m.findingsTotal.WithLabelValues(string(f.Severity)).Inc()
	}
}
