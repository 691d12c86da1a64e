package receiver

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics collects the receiver's operational counters for Prometheus
// scraping, grounded on FengXuebin-gnssgo's app/plot (OutSolMetrics'
// labeled-gauge style for the position readout; its commented-out
// promhttp import for how the endpoint itself gets served).
type Metrics struct {
	registry *prometheus.Registry

	acquisitions    prometheus.Counter
	fixesTotal      prometheus.Counter
	solveFailures   prometheus.Counter
	channelsLost    prometheus.Counter
	solveIterations prometheus.Histogram
	fixPosition     *prometheus.GaugeVec

	server *http.Server
}

// NewMetrics builds a fresh Prometheus registry and registers the
// receiver's collectors against it.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	return &Metrics{
		registry: reg,
		acquisitions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "gpsreceiver_acquisitions_total",
			Help: "Satellites handed from acquisition to a tracking channel.",
		}),
		fixesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "gpsreceiver_fixes_total",
			Help: "Position fixes the solver converged on.",
		}),
		solveFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "gpsreceiver_solve_failures_total",
			Help: "Solve cycles that produced no fix (too few channels, or non-convergent).",
		}),
		channelsLost: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "gpsreceiver_channels_lost_total",
			Help: "Tracking channels that lost lock and returned their SV to acquisition.",
		}),
		solveIterations: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "gpsreceiver_solve_iterations",
			Help:    "Gauss-Newton iterations taken per converged fix.",
			Buckets: prometheus.LinearBuckets(1, 1, 20),
		}),
		fixPosition: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpsreceiver_fix_position",
			Help: "Most recent converged fix, one gauge per coordinate.",
		}, []string{"coordinate"}),
	}
}

// observeFix folds a converged fix into the counters/histogram/gauges,
// matching OutSolMetrics' "one WithLabelValues Set per coordinate" shape.
func (m *Metrics) observeFix(latDeg, lonDeg, altM float64, iterations int) {
	m.fixesTotal.Inc()
	m.solveIterations.Observe(float64(iterations))
	m.fixPosition.WithLabelValues("lat").Set(latDeg)
	m.fixPosition.WithLabelValues("lon").Set(lonDeg)
	m.fixPosition.WithLabelValues("alt").Set(altM)
}

// Serve starts the /metrics HTTP endpoint on addr in the background; it
// does not block. A listen failure is logged, not returned, since the
// metrics endpoint is additive instrumentation and must never keep the
// receiver itself from starting.
func (m *Metrics) Serve(addr string, log logrus.FieldLogger) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
}

// Shutdown stops the metrics HTTP server, if one was started.
func (m *Metrics) Shutdown() error {
	if m.server == nil {
		return nil
	}
	return m.server.Close()
}
