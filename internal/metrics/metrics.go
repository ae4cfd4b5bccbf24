// Package metrics registers the Prometheus collectors for poll health
// and per-profile telemetry.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tejusbharadwaj/qustodio-bridge/internal/models"
)

// Metrics bundles the service collectors. The registry is injected so
// tests can use an isolated one.
type Metrics struct {
	PollCycles   *prometheus.CounterVec
	PollDuration prometheus.Histogram

	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec

	profileScreenTime *prometheus.GaugeVec
	profileQuota      *prometheus.GaugeVec
	profileOnline     *prometheus.GaugeVec
	profileTampered   *prometheus.GaugeVec
}

// New creates and registers all collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PollCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qustodio_poll_cycles_total",
				Help: "Number of completed poll cycles by result.",
			},
			[]string{"result"},
		),
		PollDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "qustodio_poll_duration_seconds",
				Help:    "Duration of poll cycles.",
				Buckets: prometheus.DefBuckets,
			},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qustodio_http_requests_total",
				Help: "Number of HTTP requests served.",
			},
			[]string{"path", "status"},
		),
		HTTPLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qustodio_http_request_duration_seconds",
				Help:    "Latency of HTTP requests served.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		profileScreenTime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "qustodio_profile_screen_time_minutes",
				Help: "Screen time accumulated today per profile.",
			},
			[]string{"profile_id", "profile_name"},
		),
		profileQuota: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "qustodio_profile_quota_minutes",
				Help: "Screen time allowed today per profile.",
			},
			[]string{"profile_id", "profile_name"},
		),
		profileOnline: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "qustodio_profile_online",
				Help: "Whether the profile is currently online (1 or 0).",
			},
			[]string{"profile_id", "profile_name"},
		),
		profileTampered: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "qustodio_profile_unauthorized_remove",
				Help: "Whether any of the profile's devices reports unauthorized removal (1 or 0).",
			},
			[]string{"profile_id", "profile_name"},
		),
	}

	reg.MustRegister(
		m.PollCycles,
		m.PollDuration,
		m.HTTPRequests,
		m.HTTPLatency,
		m.profileScreenTime,
		m.profileQuota,
		m.profileOnline,
		m.profileTampered,
	)

	return m
}

// ObservePoll records the outcome and duration of one poll cycle.
func (m *Metrics) ObservePoll(result string, duration time.Duration) {
	m.PollCycles.WithLabelValues(result).Inc()
	m.PollDuration.Observe(duration.Seconds())
}

// RecordSnapshot publishes per-profile gauges for a successful refresh.
// Gauges are reset first so profiles gone from the account disappear
// from the exposition.
func (m *Metrics) RecordSnapshot(data map[int64]models.ProfileSnapshot) {
	m.profileScreenTime.Reset()
	m.profileQuota.Reset()
	m.profileOnline.Reset()
	m.profileTampered.Reset()

	for id, snapshot := range data {
		labels := []string{strconv.FormatInt(id, 10), snapshot.Name}
		m.profileScreenTime.WithLabelValues(labels...).Set(snapshot.ScreenTimeMinutes)
		m.profileQuota.WithLabelValues(labels...).Set(float64(snapshot.QuotaMinutes))
		m.profileOnline.WithLabelValues(labels...).Set(boolGauge(snapshot.IsOnline))
		m.profileTampered.WithLabelValues(labels...).Set(boolGauge(snapshot.UnauthorizedRemove))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
