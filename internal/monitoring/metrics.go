package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fit outcomes used as the "outcome" label.
const (
	OutcomeScored   = "scored"   // fitted and scored
	OutcomeUnscored = "unscored" // fitted, score degenerate
	OutcomeSkipped  = "skipped"  // posterior already on disk
	OutcomeRejected = "rejected" // light curve failed input checks
	OutcomeFailed   = "failed"
)

// Recorder collects batch fitting metrics in its own registry.
type Recorder struct {
	reg      *prometheus.Registry
	fits     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	score    *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewRecorder creates a Recorder with a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		fits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "superphot",
				Subsystem: "fit",
				Name:      "total",
				Help:      "Light curves processed, by sampler and outcome",
			},
			[]string{"method", "outcome"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "superphot",
				Subsystem: "fit",
				Name:      "duration_seconds",
				Help:      "Wall time of a single light-curve fit",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"method"},
		),
		score: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "superphot",
				Subsystem: "fit",
				Name:      "reduced_chi2",
				Help:      "Reduced chi-squared of scored fits",
				Buckets:   []float64{0.5, 0.8, 1, 1.2, 1.5, 2, 3, 5, 10, 100},
			},
			[]string{"method"},
		),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "superphot",
			Subsystem: "fit",
			Name:      "in_flight",
			Help:      "Fits currently running",
		}),
	}
}

// RecordFit counts one processed light curve. d is ignored for skipped and
// rejected curves.
func (r *Recorder) RecordFit(method, outcome string, d time.Duration) {
	r.fits.WithLabelValues(method, outcome).Inc()
	if outcome == OutcomeScored || outcome == OutcomeUnscored {
		r.duration.WithLabelValues(method).Observe(d.Seconds())
	}
}

// RecordScore observes a fit's reduced chi-squared.
func (r *Recorder) RecordScore(method string, score float64) {
	r.score.WithLabelValues(method).Observe(score)
}

// Begin marks a fit as running and returns the matching end call.
func (r *Recorder) Begin() func() {
	r.inFlight.Inc()
	return r.inFlight.Dec
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
