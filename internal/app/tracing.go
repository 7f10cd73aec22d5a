package app

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/bjaus/callback"
)

// TracingModule installs the global tracer provider and traces every
// dispatched handler.
var TracingModule = fx.Module("tracing",
	fx.Provide(ProvideTracerProvider),
	RouterOptions(TracingOptions),
)

// ProvideTracerProvider builds the SDK tracer provider, installs it
// globally together with W3C propagation and flushes it on stop.
func ProvideTracerProvider(lc fx.Lifecycle) trace.TracerProvider {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(sdkresource.NewSchemaless(
			attribute.String("service.name", ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	lc.Append(fx.StopHook(tp.Shutdown))
	return tp
}

type handlerSpanKey struct{}

// TracingOptions opens a span around each handler run. Outcomes reported
// without a preceding dispatch leave the caller's span alone.
func TracingOptions(tp trace.TracerProvider) []callback.Option {
	tracer := tp.Tracer("github.com/bjaus/callback")
	end := func(ctx context.Context, err error) {
		span, ok := ctx.Value(handlerSpanKey{}).(trace.Span)
		if !ok {
			return
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
	return []callback.Option{
		callback.WithOnDispatch(func(ctx context.Context, kind callback.Kind, key string) context.Context {
			ctx, span := tracer.Start(ctx, kind.String()+" "+key,
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("callback.kind", kind.String()),
					attribute.String("callback.key", key),
				))
			return context.WithValue(ctx, handlerSpanKey{}, span)
		}),
		callback.WithOnSuccess(func(ctx context.Context, _ callback.Kind, _ string, _ time.Duration) {
			end(ctx, nil)
		}),
		callback.WithOnFailure(func(ctx context.Context, _ callback.Kind, _ string, err error, _ time.Duration) {
			end(ctx, err)
		}),
		callback.WithOnParseError(func(ctx context.Context, _ callback.Kind, _ string, err error) {
			end(ctx, err)
		}),
	}
}
