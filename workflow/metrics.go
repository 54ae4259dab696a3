package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric outcome label values.
const (
	outcomeSuccess = "success"
	outcomeError   = "error"
)

var (
	// executionsTotal tracks finished executions by workflow and outcome.
	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_executions_total",
		Help: "Total number of finished workflow executions by workflow and outcome",
	}, []string{"workflow", "outcome"})

	// executionDuration tracks end-to-end execution time.
	executionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "workflow_execution_duration_seconds",
		Help:    "Duration of workflow executions by workflow and outcome",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"workflow", "outcome"})

	// stateVisitsTotal tracks state entries by workflow, state and outcome.
	stateVisitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_state_visits_total",
		Help: "Total number of state entries by workflow, state and outcome (success or error)",
	}, []string{"workflow", "state", "outcome"})

	// transitionsTotal tracks fired transitions.
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_transitions_total",
		Help: "Total number of fired transitions by workflow, from_state and to_state",
	}, []string{"workflow", "from_state", "to_state"})
)

func sanitizeWorkflow(id string) string {
	if id == "" {
		return "unknown"
	}

	return id
}
