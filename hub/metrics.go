package hub

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
)

var (
	// eventsTotal tracks event dispatches by delivery outcome.
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_events_total",
		Help: "Total number of dispatched cross-component events by outcome",
	}, []string{"outcome"})

	// dataFlowsTotal tracks processData calls by outcome.
	dataFlowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_data_flows_total",
		Help: "Total number of data flow processing calls by outcome",
	}, []string{"outcome"})

	// stateSyncsTotal tracks state synchronization writes.
	stateSyncsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_state_syncs_total",
		Help: "Total number of state synchronization writes",
	})

	// processingDuration tracks hub-side processing time per operation.
	processingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hub_processing_duration_seconds",
		Help:    "Duration of hub processing by operation",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"operation"})
)

const (
	labelSuccess = "success"
	labelFailure = "failure"
)

// IntegrationMetrics is a point-in-time snapshot of the hub's counters.
type IntegrationMetrics struct {
	Components            int
	Integrations          int
	EventsProcessed       int64
	DataFlowsProcessed    int64
	StatesSynchronized    int64
	WorkflowsExecuted     int64
	AverageProcessingTime time.Duration
}

// counters aggregates hub activity. Producers report concurrently
// without the registry lock.
type counters struct {
	events     *atomic.Int64
	dataFlows  *atomic.Int64
	stateSyncs *atomic.Int64
	workflows  *atomic.Int64

	processed       *atomic.Int64
	processingNanos *atomic.Int64
}

func newCounters() *counters {
	return &counters{
		events:          atomic.NewInt64(0),
		dataFlows:       atomic.NewInt64(0),
		stateSyncs:      atomic.NewInt64(0),
		workflows:       atomic.NewInt64(0),
		processed:       atomic.NewInt64(0),
		processingNanos: atomic.NewInt64(0),
	}
}

// observe records one processed operation of the named kind.
func (c *counters) observe(kind *atomic.Int64, operation string, start time.Time) {
	elapsed := time.Since(start)

	kind.Inc()
	c.processed.Inc()
	c.processingNanos.Add(elapsed.Nanoseconds())
	processingDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (c *counters) averageProcessing() time.Duration {
	processed := c.processed.Load()
	if processed == 0 {
		return 0
	}

	return time.Duration(c.processingNanos.Load() / processed)
}
