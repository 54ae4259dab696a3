package workflow

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies this package's tracer. Exporter setup is the
// host's concern; without one these spans are no-ops.
const tracerName = "workflow"

// startExecutionSpan creates the root span for an execution.
// The caller is responsible for calling span.End().
//
//nolint:spancheck // Span lifecycle managed by caller
func startExecutionSpan(ctx context.Context, ec *Context) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "workflow.execute")
	span.SetAttributes(
		attribute.String("workflow_id", ec.WorkflowID),
		attribute.String("execution_id", ec.ExecutionID),
	)

	return ctx, span
}

// startStateSpan creates a child span for one state visit.
// The caller is responsible for calling span.End().
//
//nolint:spancheck // Span lifecycle managed by caller
func startStateSpan(ctx context.Context, stateName string, ec *Context) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "state."+stateName)
	span.SetAttributes(
		attribute.String("workflow_id", ec.WorkflowID),
		attribute.String("execution_id", ec.ExecutionID),
		attribute.String("state", stateName),
	)

	return ctx, span
}
