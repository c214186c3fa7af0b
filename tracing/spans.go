package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sarchlab/desim/hooking"
)

// SpanHook is a hook that wraps every event in an OpenTelemetry span. All
// spans of one simulation are children of the span in the context given
// to NewSpanHook.
type SpanHook struct {
	ctx    context.Context
	tracer trace.Tracer
	attrs  []attribute.KeyValue

	current trace.Span
}

// NewSpanHook creates a SpanHook. The attributes are added to every span.
func NewSpanHook(
	ctx context.Context,
	tracer trace.Tracer,
	attrs ...attribute.KeyValue,
) *SpanHook {
	return &SpanHook{ctx: ctx, tracer: tracer, attrs: attrs}
}

// Func starts a span before an event and ends it after.
func (h *SpanHook) Func(ctx hooking.HookCtx) {
	info, ok := eventInfo(ctx)
	if !ok {
		return
	}

	switch {
	case isBefore(ctx):
		_, h.current = h.tracer.Start(h.ctx, info.Kind(),
			trace.WithAttributes(h.attrs...),
			trace.WithAttributes(
				attribute.Float64("desim.time", timeValue(info)),
				attribute.Int64("desim.seq", int64(info.Sequence())),
				attribute.String("desim.kind", info.Kind()),
			))
	case isAfter(ctx):
		if h.current == nil {
			return
		}

		if err := eventError(ctx); err != nil {
			h.current.RecordError(err)
			h.current.SetStatus(codes.Error, err.Error())
		}

		h.current.End()
		h.current = nil
	}
}
