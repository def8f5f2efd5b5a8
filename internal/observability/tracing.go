package observability

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Exporter names accepted by TRACING_EXPORTER.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Tracer starts every span in the process. It is a no-op tracer until
// InitTracing installs a provider.
var Tracer trace.Tracer = otel.Tracer("quizthread")

// TracingConfig is the tracer setup for one process, usually built by
// config.Config.Tracing.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Transport is recorded on the resource so traces from the memory, sql
	// and mongo deployments can be told apart.
	Transport    string
	Enabled      bool
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64

	// stdout is where the stdout exporter writes; os.Stderr when nil, so
	// command output on stdout stays machine readable.
	stdout io.Writer
}

// InitTracing installs the tracer provider described by cfg and returns its
// shutdown function. With tracing disabled only the tracer name changes.
func InitTracing(cfg TracingConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		Tracer = otel.Tracer(cfg.ServiceName)
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(context.Background(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
			attribute.String("quizthread.transport", cfg.Transport),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	Tracer = tp.Tracer(cfg.ServiceName)

	GlobalLogger.Info("tracing enabled",
		"exporter", cfg.Exporter, "service", cfg.ServiceName, "sample_ratio", cfg.SampleRatio)
	return tp.Shutdown, nil
}

func newExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterOTLP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(context.Background(), opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		return exp, nil
	case ExporterStdout, "":
		w := cfg.stdout
		if w == nil {
			w = os.Stderr
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("stdout exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unknown tracing exporter %q", cfg.Exporter)
	}
}

// sampler keeps every trace at ratio 1 and follows the caller's decision for
// remote parents otherwise.
func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// Span is a started span for one comment service command.
type Span struct {
	span trace.Span
}

// NewSpan starts a span named name under ctx.
func NewSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (*Span, context.Context) {
	ctx, span := Tracer.Start(ctx, name, opts...)
	return &Span{span: span}, ctx
}

func (s *Span) AddAttributes(attrs ...attribute.KeyValue) {
	s.span.SetAttributes(attrs...)
}

// SetError marks the span failed. Nil errors are ignored.
func (s *Span) SetError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s *Span) End() {
	s.span.End()
}

// TraceLayer starts client spans for transport and Redis calls.
type TraceLayer struct {
	tracer trace.Tracer
}

// GetTraceLayer returns a TraceLayer on the current Tracer.
func GetTraceLayer() *TraceLayer {
	return &TraceLayer{tracer: Tracer}
}

// TraceTransportMethod starts a span for one document transport call.
func (l *TraceLayer) TraceTransportMethod(ctx context.Context, system, method, collection string) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, "transport."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", system),
			attribute.String("db.operation", method),
			attribute.String("db.collection", collection),
		),
	)
}

// TraceRedisOperation starts a span for a thread change publish or subscribe.
func (l *TraceLayer) TraceRedisOperation(ctx context.Context, operation string) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, "redis."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", operation),
		),
	)
}

// RecordErrorInContext records err on the span carried by ctx, if any.
func RecordErrorInContext(ctx context.Context, err error) {
	if err == nil {
		return
	}
	trace.SpanFromContext(ctx).RecordError(err)
}
