package obs

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	ChecksTotal     prometheus.Counter
	CheckErrors     prometheus.Counter
	DetectionsTotal prometheus.Counter

	AttemptsTotal *prometheus.CounterVec // result=confirmed|rejected|transport
	CyclesTotal   *prometheus.CounterVec // outcome=confirmed|noslot|noapplicant|error
	DuplicateWins prometheus.Counter

	AttemptLatencyMS prometheus.Histogram
	QueueWaiting     prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		ChecksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cita_checks_total",
			Help: "Total availability checks against the upstream",
		}),
		CheckErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cita_check_errors_total",
			Help: "Availability checks that failed (transport or parse)",
		}),
		DetectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cita_detections_total",
			Help: "Availability events raised (non-empty date list)",
		}),
		AttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cita_attempts_total",
				Help: "Booking attempts by result",
			},
			[]string{"result"},
		),
		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cita_cycles_total",
				Help: "Acquisition cycles by outcome",
			},
			[]string{"outcome"},
		),
		DuplicateWins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cita_duplicate_wins_total",
			Help: "Confirmed results discarded because another result already won",
		}),
		AttemptLatencyMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cita_attempt_latency_ms",
			Help:    "Latency of individual booking attempts (ms)",
			Buckets: prometheus.ExponentialBuckets(1, 2, 13), // 1ms .. ~4s
		}),
		QueueWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cita_queue_waiting",
			Help: "Applicants currently waiting in the queue",
		}),
	}

	prometheus.MustRegister(
		m.ChecksTotal,
		m.CheckErrors,
		m.DetectionsTotal,
		m.AttemptsTotal,
		m.CyclesTotal,
		m.DuplicateWins,
		m.AttemptLatencyMS,
		m.QueueWaiting,
	)
	return m
}
