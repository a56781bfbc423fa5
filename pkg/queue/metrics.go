package queue

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the queue package's collectors. cmd/dispatcher registers
// them against its own Prometheus registry and serves that registry on
// /metrics; Dispatcher.RunOnce updates QueueDepth through ObserveCounts.
// cmd/worker does not record into them.
type Metrics struct {
	QueueDepth      *prometheus.GaugeVec
	SlotUtilization *prometheus.GaugeVec
	HandlerLatency  *prometheus.HistogramVec
	JobsProcessed   *prometheus.CounterVec
}

// NewMetrics constructs and registers the queue package's collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "evalpipe",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of queued jobq rows per queue key.",
		}, []string{"queue_key", "status"}),
		SlotUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "evalpipe",
			Subsystem: "queue",
			Name:      "slot_utilization",
			Help:      "Fraction of slots with a live lease, per queue key.",
		}, []string{"queue_key"}),
		HandlerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "evalpipe",
			Subsystem: "queue",
			Name:      "handler_duration_seconds",
			Help:      "Wall-clock duration of one job handler invocation.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s .. 8192s (~2.3h)
		}, []string{"job_type", "outcome"}),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "evalpipe",
			Subsystem: "queue",
			Name:      "jobs_processed_total",
			Help:      "Total jobs completed, by job type and outcome.",
		}, []string{"job_type", "outcome"}),
	}

	reg.MustRegister(m.QueueDepth, m.SlotUtilization, m.HandlerLatency, m.JobsProcessed)
	return m
}

// ObserveCounts publishes one dispatch cycle's queue counts.
func (m *Metrics) ObserveCounts(counts map[string]QueueCounts) {
	for key, c := range counts {
		m.QueueDepth.WithLabelValues(key, "queued").Set(float64(c.Queued))
		m.QueueDepth.WithLabelValues(key, "picked").Set(float64(c.Picked))
	}
}

// ObserveSlotUtilization publishes the fraction of leased slots for one
// queue key (liveLeases / limit), skipping keys with no configured slots.
func (m *Metrics) ObserveSlotUtilization(queueKey string, liveLeases, limit int) {
	if limit <= 0 {
		return
	}
	m.SlotUtilization.WithLabelValues(queueKey).Set(float64(liveLeases) / float64(limit))
}

// ObserveHandlerDuration records one handler invocation's wall-clock
// duration, in seconds, and increments the jobs-processed counter.
func (m *Metrics) ObserveHandlerDuration(jobType, outcome string, seconds float64) {
	m.HandlerLatency.WithLabelValues(jobType, outcome).Observe(seconds)
	m.JobsProcessed.WithLabelValues(jobType, outcome).Inc()
}
