// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/devpilot/orchestrator/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once

	sessionsTotalCounter       *prometheus.CounterVec
	phaseExecutionsCounter     *prometheus.CounterVec
	phaseDurationMetric        prometheus.Histogram
	agentFailuresCounter       *prometheus.CounterVec
	autonomousApprovalsCounter *prometheus.CounterVec
	sessionStoreLatencyMetric  prometheus.Histogram
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		sessionsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_sessions_total",
				Help: "Total number of workflow sessions by lifecycle event.",
			},
			[]string{"event"},
		)

		phaseExecutionsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_phase_executions_total",
				Help: "Total number of phase executions by phase and result.",
			},
			[]string{"phase", "result"},
		)

		phaseDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "workflow_phase_duration_seconds",
				Help:    "Duration of completed phase executions in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		agentFailuresCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_agent_failures_total",
				Help: "Total number of absorbed per-agent failures by agent.",
			},
			[]string{"agent"},
		)

		autonomousApprovalsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_autonomous_approvals_total",
				Help: "Total number of gates passed by autonomous approval.",
			},
			[]string{"phase"},
		)

		sessionStoreLatencyMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "session_store_latency_seconds",
				Help:    "Latency of session store operations in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		prometheus.MustRegister(
			sessionsTotalCounter,
			phaseExecutionsCounter,
			phaseDurationMetric,
			agentFailuresCounter,
			autonomousApprovalsCounter,
			sessionStoreLatencyMetric,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, event := range []string{"started", "completed", "terminated"} {
			sessionsTotalCounter.WithLabelValues(event)
		}
		for _, phase := range domain.AllPhases {
			if phase.Kind() == domain.KindWork {
				phaseExecutionsCounter.WithLabelValues(string(phase), "completed")
				phaseExecutionsCounter.WithLabelValues(string(phase), "failed")
			}
		}
	})
}

func IncSession(event string) {
	Init()
	sessionsTotalCounter.WithLabelValues(event).Inc()
}

func IncPhaseExecution(phase, result string) {
	Init()
	phaseExecutionsCounter.WithLabelValues(phase, result).Inc()
}

func ObservePhaseDuration(d time.Duration) {
	Init()
	phaseDurationMetric.Observe(d.Seconds())
}

func IncAgentFailure(agent string) {
	Init()
	agentFailuresCounter.WithLabelValues(agent).Inc()
}

func IncAutonomousApproval(phase string) {
	Init()
	autonomousApprovalsCounter.WithLabelValues(phase).Inc()
}

func ObserveSessionStoreLatency(d time.Duration) {
	Init()
	sessionStoreLatencyMetric.Observe(d.Seconds())
}
