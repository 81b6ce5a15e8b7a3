package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/signalsfoundry/sewerflow-simulator/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Supported span exporters.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// DefaultOTLPEndpoint is dialled when the otlp exporter has no endpoint.
const DefaultOTLPEndpoint = "localhost:4317"

// ErrTracingConfig is returned for tracing settings InitTracing cannot honour.
var ErrTracingConfig = errors.New("invalid tracing config")

// TracingConfig selects the exporter and sampling of simulation spans.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	// Component names the binary emitting spans (simulator, sim-server).
	Component   string
	Exporter    string
	Endpoint    string
	SampleRatio float64
	// Writer receives stdout exporter output; nil means os.Stdout.
	Writer io.Writer
}

// Validate checks the exporter name and sample ratio. A disabled config is
// always valid.
func (c TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.exporter() {
	case ExporterStdout, ExporterOTLP:
	default:
		return fmt.Errorf("%w: unsupported exporter %q", ErrTracingConfig, c.Exporter)
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("%w: sample ratio %.2f outside [0,1]", ErrTracingConfig, c.SampleRatio)
	}
	return nil
}

func (c TracingConfig) exporter() string {
	e := strings.ToLower(strings.TrimSpace(c.Exporter))
	switch e {
	case "":
		return ExporterStdout
	case "otlpgrpc":
		return ExporterOTLP
	}
	return e
}

// InitTracing installs the global tracer provider and propagators. The
// returned function flushes pending spans; it is never nil on success.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", cfg.exporter(), err)
	}
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(newSampler(cfg.SampleRatio)),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.exporter()),
		logging.String("service_name", cfg.ServiceName),
		logging.Float("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

// newSampler keeps parent decisions and samples root spans by ratio. Hour
// spans are roots in the batch simulator so the ratio applies per hour.
func newSampler(ratio float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case ratio >= 1:
		root = sdktrace.AlwaysSample()
	case ratio <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(ratio)
	}
	return sdktrace.ParentBased(root)
}

func newResource(ctx context.Context, cfg TracingConfig) (*resource.Resource, error) {
	service := cfg.ServiceName
	if service == "" {
		service = "sewerflow-simulator"
	}
	attrs := []attribute.KeyValue{
		attribute.String("service.name", service),
		attribute.String("service.namespace", "sewersim"),
	}
	if cfg.Component != "" {
		attrs = append(attrs, attribute.String("sewersim.component", cfg.Component))
	}
	return resource.New(ctx, resource.WithAttributes(attrs...))
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	if cfg.exporter() == ExporterOTLP {
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = DefaultOTLPEndpoint
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	}
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	return stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithoutTimestamps(),
	)
}

// ShutdownWithTimeout flushes spans within five seconds. Failures are logged,
// not returned, since it runs on the exit path.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
