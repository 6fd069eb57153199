package observability

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/labwire/orderdesk/pkg/domain"
)

// Metrics holds the Prometheus collectors fed by lifecycle hooks.
type Metrics struct {
	turns          *prometheus.CounterVec
	turnDuration   prometheus.Histogram
	loopExhausted  prometheus.Counter
	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	normalizations *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderdesk_turns_total",
				Help: "Total number of user turns by outcome",
			},
			[]string{"outcome"},
		),
		turnDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orderdesk_turn_duration_seconds",
				Help:    "Wall time of one user turn",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		loopExhausted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orderdesk_loop_exhausted_total",
				Help: "Turns that hit the iteration cap",
			},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderdesk_tool_calls_total",
				Help: "Total number of tool executions by result",
			},
			[]string{"tool_name", "valid"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "orderdesk_tool_duration_seconds",
				Help: "Duration of tool executions",
			},
			[]string{"tool_name"},
		),
		normalizations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderdesk_normalizations_total",
				Help: "Material normalizations by resolving stage",
			},
			[]string{"stage", "cached"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.turns, m.turnDuration, m.loopExhausted, m.toolCalls, m.toolDuration, m.normalizations)
	}
	return m
}

// Hooks returns lifecycle hooks that record into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTurnEnd: func(_ context.Context, e *domain.TurnEvent) {
			m.turns.WithLabelValues(e.Outcome).Inc()
			m.turnDuration.Observe(e.Duration.Seconds())
		},
		OnLoopExhausted: func(context.Context, *domain.TurnEvent) {
			m.loopExhausted.Inc()
		},
		OnToolReturn: func(_ context.Context, e *domain.ToolEvent) {
			valid := false
			if e.Output != nil {
				valid = e.Output.Valid
			}
			m.toolCalls.WithLabelValues(e.ToolName, strconv.FormatBool(valid)).Inc()
			m.toolDuration.WithLabelValues(e.ToolName).Observe(e.Duration.Seconds())
		},
		OnNormalized: func(_ context.Context, e *domain.NormalizationEvent) {
			stage := e.Stage
			if stage == "" {
				stage = "unresolved"
			}
			m.normalizations.WithLabelValues(stage, strconv.FormatBool(e.Cached)).Inc()
		},
	}
}
