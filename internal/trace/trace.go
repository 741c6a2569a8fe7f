// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package trace wraps the OpenTelemetry trace API behind the small span
// capability the pipeline consumes.
// Implements: prd007-observability (R1, R2);
//
//	docs/ARCHITECTURE § Tracing.
package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pdiddy/advisor-engine/pkg/types"
)

const instrumentationName = "github.com/pdiddy/advisor-engine"

// maxAttrRunes bounds stringified span payloads so evidence packs and
// reports never blow up exporter message sizes.
const maxAttrRunes = 2000

// Tracer hands out spans. The zero value is usable and records through
// the global provider, which is a no-op unless Init installed one.
type Tracer struct {
	tracer oteltrace.Tracer
}

// New returns a Tracer bound to the current global provider.
func New() Tracer {
	return Tracer{tracer: otel.Tracer(instrumentationName)}
}

// Start opens a span. The input attaches as a clipped string attribute.
func (t Tracer) Start(ctx context.Context, name string, input any) (context.Context, *Span) {
	tr := t.tracer
	if tr == nil {
		tr = otel.Tracer(instrumentationName)
	}
	ctx, span := tr.Start(ctx, name,
		oteltrace.WithAttributes(attribute.String("input", clip(stringify(input)))))
	return ctx, &Span{span: span}
}

// Span is one scoped unit of pipeline work. Exactly one of the End
// variants must be called; all are safe on a nil receiver.
type Span struct {
	span oteltrace.Span
}

// End records the output and closes the span as successful.
func (s *Span) End(output any) {
	if s == nil || s.span == nil {
		return
	}
	s.span.SetAttributes(attribute.String("output", clip(stringify(output))))
	s.span.SetStatus(codes.Ok, "")
	s.span.End()
}

// EndError closes the span as failed, recording err.
func (s *Span) EndError(err error) {
	if s == nil || s.span == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}

// EndCanceled closes a span cut short by context cancellation.
func (s *Span) EndCanceled() {
	if s == nil || s.span == nil {
		return
	}
	s.span.SetAttributes(attribute.Bool("canceled", true))
	s.span.SetStatus(codes.Error, "canceled")
	s.span.End()
}

// Init installs an SDK TracerProvider with an OTLP/gRPC exporter and
// returns a Tracer plus a shutdown func that flushes pending spans.
// Disabled config yields a no-op tracer and an empty shutdown func.
// Shutdown errors are logged, never raised, so cleanup cannot block exit.
func Init(ctx context.Context, cfg types.TelemetryConfig, logger *zap.Logger) (Tracer, func(context.Context), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Info("telemetry disabled, using noop tracer")
		return New(), func(context.Context) {}, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "advisor-engine"
	}
	sampleRatio := cfg.SampleRatio
	if sampleRatio <= 0 || sampleRatio > 1 {
		sampleRatio = 1.0
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(buildVersion()),
		),
	)
	if err != nil {
		return Tracer{}, nil, fmt.Errorf("create otel resource: %w", err)
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return Tracer{}, nil, fmt.Errorf("create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(sampleRatio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("telemetry initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("service_name", serviceName),
		zap.Float64("sample_ratio", sampleRatio),
	)

	shutdown := func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("tracer provider shutdown", zap.Error(err))
		}
	}
	return Tracer{tracer: tp.Tracer(instrumentationName)}, shutdown, nil
}

// stringify renders a span payload as text. Strings and Stringers pass
// through; everything else is JSON with a %+v fallback.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case error:
		return x.Error()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}

// clip truncates s to maxAttrRunes runes.
func clip(s string) string {
	if utf8.RuneCountInString(s) <= maxAttrRunes {
		return s
	}
	return string([]rune(s)[:maxAttrRunes]) + "..."
}

// buildVersion extracts the module version from Go build info.
// Falls back to "dev" if unavailable.
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
