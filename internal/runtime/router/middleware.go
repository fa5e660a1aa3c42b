package router

import (
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/relay/internal/runtime/ids"
	"github.com/drblury/relay/internal/runtime/logging"
)

// CorrelationIDKey is the metadata key carrying the correlation id of an
// inbound message.
const CorrelationIDKey = "correlation_id"

const tracerName = "github.com/drblury/relay/router"

// middlewares returns the handler chain of the consuming side, outermost
// first. Messages that still fail after the retries go to the poison topic
// when one is configured.
func (t *Transport) middlewares() ([]message.HandlerMiddleware, error) {
	var chain []message.HandlerMiddleware
	if t.conf.PoisonTopic != "" {
		poison, err := middleware.PoisonQueue(t.conf.Publisher, t.conf.PoisonTopic)
		if err != nil {
			return nil, err
		}
		chain = append(chain, poison)
	}
	chain = append(chain,
		correlationIDMiddleware(),
		tracerMiddleware(t.conf.TracerProvider, t.conf.Name),
		logMessagesMiddleware(t.logger),
		middleware.Retry{
			MaxRetries:      t.conf.RetryMaxRetries,
			InitialInterval: t.conf.RetryInitialInterval,
			MaxInterval:     t.conf.RetryMaxInterval,
			Multiplier:      2,
			Logger:          logging.NewWatermillAdapter(t.logger),
		}.Middleware,
		middleware.Recoverer,
	)
	return append(chain, t.conf.Middlewares...), nil
}

// addMetrics instruments r with the watermill Prometheus collectors.
func (t *Transport) addMetrics(r *message.Router) {
	if t.conf.MetricsRegisterer == nil {
		return
	}
	builder := metrics.NewPrometheusMetricsBuilder(t.conf.MetricsRegisterer, t.conf.MetricsNamespace, "transport")
	builder.AddPrometheusRouterMetrics(r)
}

// correlationIDMiddleware stamps inbound messages without a correlation id.
func correlationIDMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			if msg.Metadata.Get(CorrelationIDKey) == "" {
				msg.Metadata.Set(CorrelationIDKey, ids.NewMessageID())
			}
			return h(msg)
		}
	}
}

func tracerMiddleware(provider trace.TracerProvider, routerName string) message.HandlerMiddleware {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	tracer := provider.Tracer(tracerName)
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			ctx, span := tracer.Start(msg.Context(), "relay.transport.receive",
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("messaging.message.id", msg.UUID),
					attribute.String("messaging.destination.name", message.SubscribeTopicFromCtx(msg.Context())),
					attribute.String("messaging.relay.router", routerName),
				),
			)
			defer span.End()
			msg.SetContext(ctx)

			out, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return out, err
		}
	}
}

func logMessagesMiddleware(logger logging.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			started := time.Now()
			out, err := h(msg)
			fields := logging.LogFields{
				"message_uuid": msg.UUID,
				"metadata":     msg.Metadata,
				"duration_ms":  time.Since(started).Milliseconds(),
			}
			if err != nil {
				logger.Error("Handling message failed", err, fields)
			} else {
				logger.Trace("Message handled", fields)
			}
			return out, err
		}
	}
}
