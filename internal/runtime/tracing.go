package runtime

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/relay/internal/runtime/envelope"
)

const tracerName = "github.com/drblury/relay"

func newTracer(provider trace.TracerProvider) trace.Tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return provider.Tracer(tracerName)
}

// startSpan opens a span for env and records the trace id on the envelope
// when it has none yet.
func startSpan(ctx context.Context, tracer trace.Tracer, name string, env *envelope.Envelope, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(envelopeAttributes(env)...))
	span.SetAttributes(attrs...)

	if env.Trace == "" {
		if sc := span.SpanContext(); sc.HasTraceID() {
			env.Trace = sc.TraceID().String()
		}
	}
	return ctx, span
}

func envelopeAttributes(env *envelope.Envelope) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("messaging.message.id", env.ID),
		attribute.Int("messaging.relay.recipients", env.RecipientCount()),
		attribute.Bool("messaging.relay.one_way", env.OneWay),
	}
	if env.ReplyToMessageID != "" {
		attrs = append(attrs, attribute.String("messaging.relay.reply_to", env.ReplyToMessageID))
	}
	return attrs
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
