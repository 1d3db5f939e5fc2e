package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instruments are created lazily against whatever MeterProvider is
// registered globally at first use (a no-op provider until Init wires
// a real metrics pipeline in, which is sufficient to exercise the
// otel/metric API surface without requiring a metrics exporter).
var (
	instOnce            sync.Once
	bidLatency          metric.Float64Histogram
	decompositionDepth  metric.Int64Histogram
	tokenOverruns       metric.Int64Counter
)

func instruments() {
	instOnce.Do(func() {
		m := otel.Meter(ServiceName)
		bidLatency, _ = m.Float64Histogram(
			"orchestrator.dispatch.bid_latency",
			metric.WithDescription("time from task auction start to winner selection"),
			metric.WithUnit("s"),
		)
		decompositionDepth, _ = m.Int64Histogram(
			"orchestrator.taskgraph.decomposition_depth",
			metric.WithDescription("depth of an accepted progressive decomposition"),
		)
		tokenOverruns, _ = m.Int64Counter(
			"orchestrator.worker.token_overruns",
			metric.WithDescription("count of tasks cancelled for exceeding their token budget"),
		)
	})
}

// RecordBidLatency records the elapsed time of one completed auction.
func RecordBidLatency(ctx context.Context, taskID string, elapsed time.Duration) {
	instruments()
	if bidLatency == nil {
		return
	}
	bidLatency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("task_id", taskID)))
}

// RecordDecompositionDepth records the resulting depth of an accepted
// progressive decomposition.
func RecordDecompositionDepth(ctx context.Context, graphID string, depth int) {
	instruments()
	if decompositionDepth == nil {
		return
	}
	decompositionDepth.Record(ctx, int64(depth), metric.WithAttributes(attribute.String("graph_id", graphID)))
}

// RecordTokenOverrun increments the token-budget-exceeded counter for workerID.
func RecordTokenOverrun(ctx context.Context, workerID, taskID string) {
	instruments()
	if tokenOverruns == nil {
		return
	}
	tokenOverruns.Add(ctx, 1, metric.WithAttributes(attribute.String("worker_id", workerID), attribute.String("task_id", taskID)))
}
