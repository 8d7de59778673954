package scheduler

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats is a snapshot of one scheduler's counters.
type Stats struct {
	Succeeded       int64     `json:"succeeded"`   // executions that finished without error
	Errored         int64     `json:"errored"`     // executions that returned an error or panicked
	EmptyPolls      int64     `json:"empty_polls"` // polls that found nothing to claim
	Idle            int       `json:"idle"`        // free execution slots
	LastExecutionAt time.Time `json:"last_execution_at"`
	LastPollAt      time.Time `json:"last_poll_at"`
}

type stats struct {
	succeeded       atomic.Int64
	errored         atomic.Int64
	emptyPolls      atomic.Int64
	lastExecutionAt atomic.Int64 // unix nanos
	lastPollAt      atomic.Int64 // unix nanos
}

func unixNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Metrics exports scheduler counters to Prometheus, labelled by pool.
type Metrics struct {
	executions *prometheus.CounterVec
	emptyPolls *prometheus.CounterVec
	idle       *prometheus.GaugeVec
	lastRun    *prometheus.GaugeVec
	lastPoll   *prometheus.GaugeVec
}

// NewMetrics registers the collectors with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gofire",
			Name:      "job_executions_total",
			Help:      "Job executions by scheduler pool and result.",
		}, []string{"pool", "result"}),
		emptyPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gofire",
			Name:      "scheduler_empty_polls_total",
			Help:      "Polls that found no eligible job.",
		}, []string{"pool"}),
		idle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gofire",
			Name:      "scheduler_idle_threads",
			Help:      "Free execution slots per scheduler pool.",
		}, []string{"pool"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gofire",
			Name:      "scheduler_last_execution_timestamp_seconds",
			Help:      "Unix time of the last finished execution.",
		}, []string{"pool"}),
		lastPoll: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gofire",
			Name:      "scheduler_last_poll_timestamp_seconds",
			Help:      "Unix time of the last poll.",
		}, []string{"pool"}),
	}
	if reg != nil {
		reg.MustRegister(m.executions, m.emptyPolls, m.idle, m.lastRun, m.lastPoll)
	}
	return m
}

func (m *Metrics) observeExecution(pool string, ok bool, at time.Time) {
	if m == nil {
		return
	}
	result := "succeeded"
	if !ok {
		result = "errored"
	}
	m.executions.WithLabelValues(pool, result).Inc()
	m.lastRun.WithLabelValues(pool).Set(float64(at.Unix()))
}

func (m *Metrics) observePoll(pool string, empty bool, at time.Time) {
	if m == nil {
		return
	}
	if empty {
		m.emptyPolls.WithLabelValues(pool).Inc()
	}
	m.lastPoll.WithLabelValues(pool).Set(float64(at.Unix()))
}

func (m *Metrics) setIdle(pool string, idle int) {
	if m == nil {
		return
	}
	m.idle.WithLabelValues(pool).Set(float64(idle))
}
