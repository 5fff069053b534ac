package metrics

import (
	"errors"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	Namespace = "notebook_step"

	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	ErrNoPushgateway = errors.New("no pushgateway address configured")
)

// StepMetrics holds the Prometheus metrics of one build step.
//
// A nil *StepMetrics is valid and records nothing, so components can be used without metrics.
type StepMetrics struct {
	registry *prometheus.Registry

	// SessionsOpenedCounterVec counts session opens, labelled by outcome.
	SessionsOpenedCounterVec *prometheus.CounterVec

	// SubmissionsCounterVec counts submissions, labelled by the kernel's reply status.
	SubmissionsCounterVec *prometheus.CounterVec

	// SubmitLatencyHistogram records the latency, in milliseconds, of each submission.
	SubmitLatencyHistogram prometheus.Histogram

	// DumpsCounterVec counts dumped payloads, labelled by kind and outcome.
	DumpsCounterVec *prometheus.CounterVec

	// DumpedBytesCounter is the total number of bytes written by the dumper.
	DumpedBytesCounter prometheus.Counter

	log logger.Logger
}

// NewStepMetrics creates the step's metrics and registers them on a fresh registry.
func NewStepMetrics() *StepMetrics {
	m := &StepMetrics{
		registry: prometheus.NewRegistry(),

		SessionsOpenedCounterVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_opened_total",
			Help:      "The number of kernel sessions opened, by outcome.",
		}, []string{"outcome"}),

		SubmissionsCounterVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "submissions_total",
			Help:      "The number of code submissions, by completion status.",
		}, []string{"status"}),

		SubmitLatencyHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "submit_latency_milliseconds",
			Help:      "The latency, in milliseconds, of submitting code and collecting its output.",
			Buckets:   []float64{1, 5, 10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 300000},
		}),

		DumpsCounterVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "dumps_total",
			Help:      "The number of rich outputs dumped to storage, by kind and outcome.",
		}, []string{"kind", "outcome"}),

		DumpedBytesCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "dumped_bytes_total",
			Help:      "The number of bytes written by the dumper.",
		}),
	}

	config.InitLogger(&m.log, m)

	m.registry.MustRegister(m.SessionsOpenedCounterVec, m.SubmissionsCounterVec, m.SubmitLatencyHistogram,
		m.DumpsCounterVec, m.DumpedBytesCounter)

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *StepMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

// ObserveOpen records the outcome of opening a session.
func (m *StepMetrics) ObserveOpen(err error) {
	if m == nil {
		return
	}

	m.SessionsOpenedCounterVec.With(prometheus.Labels{"outcome": outcome(err)}).Inc()
}

// ObserveSubmit records a submission. Failed submissions have the status "failed".
func (m *StepMetrics) ObserveSubmit(status string, latency time.Duration) {
	if m == nil {
		return
	}

	m.SubmissionsCounterVec.With(prometheus.Labels{"status": status}).Inc()
	m.SubmitLatencyHistogram.Observe(float64(latency.Milliseconds()))
}

// ObserveDump records one dump of the given kind.
func (m *StepMetrics) ObserveDump(kind string, size int, err error) {
	if m == nil {
		return
	}

	m.DumpsCounterVec.With(prometheus.Labels{"kind": kind, "outcome": outcome(err)}).Inc()
	if err == nil {
		m.DumpedBytesCounter.Add(float64(size))
	}
}

// Push sends the current metrics to a Prometheus Pushgateway.
// A build step exits long before a scrape would reach it.
func (m *StepMetrics) Push(address string, job string) error {
	if address == "" {
		return ErrNoPushgateway
	}

	err := push.New(address, job).Gatherer(m.registry).Push()
	if err != nil {
		m.log.Error("Failed to push metrics to %s: %v", address, err)
		return err
	}

	m.log.Debug("Pushed metrics to %s as job \"%s\".", address, job)
	return nil
}
