package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()
	once     sync.Once

	sagasStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "saga_started_total",
		Help: "Total number of sagas started.",
	})
	sagasFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_finished_total",
			Help: "Total number of sagas reaching a terminal status.",
		},
		[]string{"status"},
	)
	activeSagas = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "saga_active",
		Help: "Number of sagas currently registered.",
	})
	stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saga_step_duration_seconds",
			Help:    "Latency of saga step execution in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"participant", "phase"},
	)
	compensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_compensations_total",
			Help: "Total number of compensation attempts.",
		},
		[]string{"outcome"},
	)
	participantRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "participant_requests_total",
			Help: "Total number of participant request attempts.",
		},
		[]string{"participant", "outcome"},
	)
)

// Init registers metrics with the registry once.
func Init() {
	once.Do(func() {
		registry.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
			sagasStarted,
			sagasFinished,
			activeSagas,
			stepDuration,
			compensations,
			participantRequests,
		)
	})
}

// Handler exposes the Prometheus metrics endpoint handler.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// IncSagaStarted increments the started saga counter.
func IncSagaStarted() {
	Init()
	sagasStarted.Inc()
}

// IncSagaFinished increments the terminal saga counter for a status.
func IncSagaFinished(status string) {
	Init()
	sagasFinished.WithLabelValues(status).Inc()
}

// SetActiveSagas sets the active saga gauge.
func SetActiveSagas(n int) {
	Init()
	activeSagas.Set(float64(n))
}

// ObserveStepDuration records a step latency for a participant and phase.
func ObserveStepDuration(participant, phase string, d time.Duration) {
	Init()
	stepDuration.WithLabelValues(participant, phase).Observe(d.Seconds())
}

// IncCompensation increments the compensation counter for an outcome.
func IncCompensation(outcome string) {
	Init()
	compensations.WithLabelValues(outcome).Inc()
}

// IncParticipantRequest increments the request-attempt counter.
func IncParticipantRequest(participant, outcome string) {
	Init()
	participantRequests.WithLabelValues(participant, outcome).Inc()
}
