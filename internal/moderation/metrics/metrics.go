package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the moderation counters. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	RestrictionsImposed  *prometheus.CounterVec
	RestrictionsRevoked  *prometheus.CounterVec
	RestrictionsExpired  *prometheus.CounterVec
	RestrictionsActive   *prometheus.GaugeVec
	PersistFailures      *prometheus.CounterVec
	ReviewsStarted       prometheus.Counter
	ReviewsEscalated     *prometheus.CounterVec
	ReviewsActive        prometheus.Gauge
	ConnectsDenied       prometheus.Counter
	Commands             *prometheus.CounterVec
	SchedulerCycleLength *prometheus.HistogramVec
}

// New registers the moderation metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RestrictionsImposed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_restrictions_imposed_total",
			Help: "Total number of mutes and bans imposed",
		}, []string{"kind"}),
		RestrictionsRevoked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_restrictions_revoked_total",
			Help: "Total number of restrictions removed before expiry",
		}, []string{"kind"}),
		RestrictionsExpired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_restrictions_expired_total",
			Help: "Total number of restrictions removed because their timer elapsed",
		}, []string{"kind"}),
		RestrictionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "warden_restrictions_active",
			Help: "Current number of restriction records held in the ledger",
		}, []string{"kind"}),
		PersistFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_persist_failures_total",
			Help: "Total number of failed restriction table writes",
		}, []string{"kind"}),
		ReviewsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "warden_reviews_started_total",
			Help: "Total number of reviews entered",
		}),
		ReviewsEscalated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_reviews_escalated_total",
			Help: "Total number of reviews converted into bans",
		}, []string{"cause"}),
		ReviewsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "warden_reviews_active",
			Help: "Current number of subjects under review",
		}),
		ConnectsDenied: factory.NewCounter(prometheus.CounterOpts{
			Name: "warden_connects_denied_total",
			Help: "Total number of connection attempts refused by an active ban",
		}),
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_commands_total",
			Help: "Total number of staff commands by verb and outcome",
		}, []string{"verb", "outcome"}),
		SchedulerCycleLength: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_scheduler_cycle_duration_seconds",
			Help:    "Duration of one scheduler cycle",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}, []string{"loop"}),
	}
}

func (m *Metrics) IncrementImposed(kind string) {
	if m == nil {
		return
	}
	m.RestrictionsImposed.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementRevoked(kind string) {
	if m == nil {
		return
	}
	m.RestrictionsRevoked.WithLabelValues(kind).Inc()
}

func (m *Metrics) AddExpired(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RestrictionsExpired.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) SetActive(kind string, n int) {
	if m == nil {
		return
	}
	m.RestrictionsActive.WithLabelValues(kind).Set(float64(n))
}

func (m *Metrics) IncrementPersistFailures(kind string) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementReviewsStarted() {
	if m == nil {
		return
	}
	m.ReviewsStarted.Inc()
}

func (m *Metrics) IncrementEscalated(cause string) {
	if m == nil {
		return
	}
	m.ReviewsEscalated.WithLabelValues(cause).Inc()
}

func (m *Metrics) SetReviewsActive(n int) {
	if m == nil {
		return
	}
	m.ReviewsActive.Set(float64(n))
}

func (m *Metrics) IncrementConnectsDenied() {
	if m == nil {
		return
	}
	m.ConnectsDenied.Inc()
}

func (m *Metrics) IncrementCommand(verb, outcome string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(verb, outcome).Inc()
}

// ObserveCycle records how long one scheduler loop iteration took.
func (m *Metrics) ObserveCycle(loop string, d time.Duration) {
	if m == nil {
		return
	}
	m.SchedulerCycleLength.WithLabelValues(loop).Observe(d.Seconds())
}
