package scan

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zombor/copescan/internal/rewards"
)

const metricsNamespace = "copescan"

// Metrics counts scans and submissions. A nil *Metrics records nothing.
type Metrics struct {
	scans       *prometheus.CounterVec
	submissions *prometheus.CounterVec
	extraction  prometheus.Histogram
}

// NewMetrics registers the scan metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		scans: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "scans_total",
			Help:      "Scan attempts by result (found, no_code, error).",
		}, []string{"result"}),
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "submissions_total",
			Help:      "Code submissions by outcome.",
		}, []string{"status"}),
		extraction: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "extraction_duration_seconds",
			Help:      "Time spent normalizing and recognizing one image.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

func (m *Metrics) observeScan(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(result).Inc()
	m.extraction.Observe(elapsed.Seconds())
}

func (m *Metrics) observeSubmission(o rewards.Outcome) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(o.Status.String()).Inc()
}
