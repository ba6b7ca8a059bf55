package observability

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/conductor/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records stage, tool and guardrail activity as Prometheus series.
type Metrics struct {
	StageVisits   *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	StageErrors   *prometheus.CounterVec
	ToolCalls     *prometheus.CounterVec
	ToolDuration  *prometheus.HistogramVec
	Suspensions   *prometheus.CounterVec
	Resumes       *prometheus.CounterVec
	Fallbacks     *prometheus.CounterVec
	Guardrails    *prometheus.CounterVec
	Answers       prometheus.Counter

	mu       sync.Mutex
	inflight map[string]time.Time
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StageVisits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_stage_visits_total",
			Help: "Total number of stage dispatches",
		}, []string{"stage"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conductor_stage_duration_seconds",
			Help:    "Duration of stage handlers",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"stage"}),
		StageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_stage_errors_total",
			Help: "Stage handlers that returned an error",
		}, []string{"stage"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_tool_calls_total",
			Help: "Tool invocations by outcome",
		}, []string{"tool", "outcome"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "conductor_tool_duration_seconds",
			Help: "Duration of tool executions",
		}, []string{"tool"}),
		Suspensions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_suspensions_total",
			Help: "Threads suspended waiting for human input",
		}, []string{"stage", "type"}),
		Resumes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_resumes_total",
			Help: "Suspended threads resumed",
		}, []string{"stage"}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_routing_fallbacks_total",
			Help: "Invalid routing decisions replaced by a fallback",
		}, []string{"stage"}),
		Guardrails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_guardrails_total",
			Help: "Bounded counters that reached their cap",
		}, []string{"stage", "counter"}),
		Answers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conductor_answers_total",
			Help: "Turns that produced a final answer",
		}),
		inflight: make(map[string]time.Time),
	}
	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.StageVisits, m.StageDuration, m.StageErrors,
		m.ToolCalls, m.ToolDuration,
		m.Suspensions, m.Resumes, m.Fallbacks, m.Guardrails, m.Answers,
	}
}

// Hooks returns the callbacks that feed the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStageEnter: func(_ context.Context, e *domain.StageEvent) {
			m.StageVisits.WithLabelValues(e.Stage).Inc()
		},
		OnStageLeave: func(_ context.Context, e *domain.StageEvent) {
			m.StageDuration.WithLabelValues(e.Stage).Observe(e.Duration.Seconds())
			if e.Err != "" {
				m.StageErrors.WithLabelValues(e.Stage).Inc()
			}
		},
		OnToolCall: func(_ context.Context, e *domain.ToolEvent) {
			m.mu.Lock()
			m.inflight[e.ThreadID+"/"+e.CallID] = e.Timestamp
			m.mu.Unlock()
		},
		OnToolReturn: func(_ context.Context, e *domain.ToolEvent) {
			outcome := "ok"
			if e.IsError {
				outcome = "error"
			}
			m.ToolCalls.WithLabelValues(e.ToolName, outcome).Inc()

			key := e.ThreadID + "/" + e.CallID
			m.mu.Lock()
			started, ok := m.inflight[key]
			delete(m.inflight, key)
			m.mu.Unlock()
			if ok {
				m.ToolDuration.WithLabelValues(e.ToolName).Observe(e.Timestamp.Sub(started).Seconds())
			}
		},
		OnSuspend: func(_ context.Context, e *domain.InterruptEvent) {
			m.Suspensions.WithLabelValues(e.Stage, string(e.Request.Type)).Inc()
		},
		OnResume: func(_ context.Context, e *domain.InterruptEvent) {
			m.Resumes.WithLabelValues(e.Stage).Inc()
		},
		OnFallback: func(_ context.Context, e *domain.FallbackEvent) {
			m.Fallbacks.WithLabelValues(e.Stage).Inc()
		},
		OnGuardrail: func(_ context.Context, e *domain.GuardrailEvent) {
			m.Guardrails.WithLabelValues(e.Stage, e.Counter).Inc()
		},
		OnFinal: func(context.Context, *domain.FinalEvent) {
			m.Answers.Inc()
		},
	}
}
