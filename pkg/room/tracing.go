package room

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/inkwell/pkg/protocol"
)

// startSpan opens the span for one client request.
func (r *Registry) startSpan(ctx context.Context, kind protocol.RequestKind, roomID, memberID string) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "room."+kind.String(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("inkwell.room_id", roomID),
			attribute.String("inkwell.member_id", memberID),
			attribute.String("inkwell.op", kind.String()),
		),
	)
}

// endSpan records the request outcome on span and ends it.
func endSpan(span trace.Span, producerID string, revision uint64, err error) {
	if producerID != "" {
		span.SetAttributes(attribute.String("inkwell.producer_id", producerID))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int64("inkwell.revision", int64(revision)))
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
