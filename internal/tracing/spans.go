package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartActionSpan creates a child span around one action dispatch.
func StartActionSpan(ctx context.Context, verb, sessionID string, tier int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "action."+verb,
		trace.WithAttributes(
			attribute.String("action.verb", verb),
			attribute.String("session.id", sessionID),
			attribute.Int("session.tier", tier),
		),
	)
}

// EndActionSpan finishes an action span with its outcome.
func EndActionSpan(span trace.Span, success bool) {
	span.SetAttributes(attribute.Bool("action.success", success))
	if !success {
		span.SetStatus(codes.Error, "action failed")
	}
	span.End()
}

// StartLaunchSpan creates a span around a session launch.
func StartLaunchSpan(ctx context.Context, tier int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "session.launch",
		trace.WithAttributes(attribute.Int("session.tier", tier)),
	)
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
