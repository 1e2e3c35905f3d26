package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	agentRunTotal    *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	agentErrorsTotal *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec
	toolRetriesTotal      *prometheus.CounterVec

	providerCooldown   *prometheus.GaugeVec
	modelBlocked       *prometheus.GaugeVec
	rateLimitHitsTotal *prometheus.CounterVec
	fallbackTotal      *prometheus.CounterVec

	loopDetectionsTotal   *prometheus.CounterVec
	clarificationsTotal   *prometheus.CounterVec
	mutationRewritesTotal prometheus.Counter

	queueEnqueueTotal *prometheus.CounterVec
	queueTaskDuration *prometheus.HistogramVec
	queueSize         *prometheus.GaugeVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_total",
					Help: "Total executor runs by provider and status.",
				},
				[]string{"provider", "status"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_run_duration_seconds",
					Help:    "Executor run duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			agentErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_errors_total",
					Help: "Total executor errors by provider.",
				},
				[]string{"provider"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_errors_total",
					Help: "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			toolRetriesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_retries_total",
					Help: "Total transient-failure tool retries by tool.",
				},
				[]string{"tool"},
			),
			providerCooldown: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "provider_cooldown_active",
					Help: "Provider cooldown active state (1 active, 0 inactive).",
				},
				[]string{"provider"},
			),
			modelBlocked: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "model_blocked",
					Help: "Per provider/model blocked state from the quota registry.",
				},
				[]string{"provider", "model"},
			),
			rateLimitHitsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "rate_limit_hits_total",
					Help: "Total rate-limit responses by provider and model.",
				},
				[]string{"provider", "model"},
			),
			fallbackTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fallback_total",
					Help: "Total fallback-provider switches by role and reason.",
				},
				[]string{"role", "reason"},
			),
			loopDetectionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loop_detections_total",
					Help: "Total loop-detection short circuits by tool.",
				},
				[]string{"tool"},
			),
			clarificationsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "clarifications_total",
					Help: "Total clarification short circuits by reason.",
				},
				[]string{"reason"},
			),
			mutationRewritesTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "mutation_rewrites_total",
					Help: "Total responses rewritten by the mutation execution contract.",
				},
			),
			queueEnqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "turn_queue_enqueue_total",
					Help: "Total turns enqueued by lane.",
				},
				[]string{"lane"},
			),
			queueTaskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "turn_queue_task_duration_seconds",
					Help:    "Queued turn execution duration in seconds by lane and status.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane", "status"},
			),
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "turn_queue_size",
					Help: "Current queued turn count by lane.",
				},
				[]string{"lane"},
			),
		}

		prometheus.MustRegister(
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentErrorsTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.toolRetriesTotal,
			m.providerCooldown,
			m.modelBlocked,
			m.rateLimitHitsTotal,
			m.fallbackTotal,
			m.loopDetectionsTotal,
			m.clarificationsTotal,
			m.mutationRewritesTotal,
			m.queueEnqueueTotal,
			m.queueTaskDuration,
			m.queueSize,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns the HTTP handler serving the metrics endpoint.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordAgentRun(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.agentRunTotal.WithLabelValues(provider, status).Inc()
	m.agentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if !success {
		m.agentErrorsTotal.WithLabelValues(provider).Inc()
	}
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordToolRetry(tool string) {
	getMetrics().toolRetriesTotal.WithLabelValues(tool).Inc()
}

func SetProviderCooldown(provider string, active bool) {
	value := 0.0
	if active {
		value = 1.0
	}
	getMetrics().providerCooldown.WithLabelValues(provider).Set(value)
}

func SetModelBlocked(provider, model string, blocked bool) {
	value := 0.0
	if blocked {
		value = 1.0
	}
	getMetrics().modelBlocked.WithLabelValues(provider, model).Set(value)
}

func RecordRateLimitHit(provider, model string) {
	getMetrics().rateLimitHitsTotal.WithLabelValues(provider, model).Inc()
}

func RecordFallback(role, reason string) {
	getMetrics().fallbackTotal.WithLabelValues(role, reason).Inc()
}

func RecordLoopDetection(tool string) {
	getMetrics().loopDetectionsTotal.WithLabelValues(tool).Inc()
}

func RecordClarification(reason string) {
	getMetrics().clarificationsTotal.WithLabelValues(reason).Inc()
}

func RecordMutationRewrite() {
	getMetrics().mutationRewritesTotal.Inc()
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.queueEnqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.queueTaskDuration.WithLabelValues(lane, status).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	getMetrics().queueSize.WithLabelValues(lane).Set(float64(queueSize))
}
