// Package otel provides OpenTelemetry TracerProvider, MeterProvider, and LoggerProvider
// configured with OTLP exporters for the notification server and email worker.
package otel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.uber.org/zap"
)

// DefaultExportInterval is how often metrics are pushed when Options.ExportInterval is unset.
const DefaultExportInterval = 10 * time.Second

// DurationBuckets are the histogram bounds, in seconds, for notify.notifications.duration.
var DurationBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// Options configures NewProviders.
type Options struct {
	// Endpoint is the OTLP collector, as host:port or a URL whose path is ignored.
	// Empty selects in-process providers that export nothing.
	Endpoint string
	// Insecure forces plaintext gRPC even for https endpoints (OTEL_EXPORTER_OTLP_INSECURE).
	Insecure       bool
	ServiceName    string
	ServiceVersion string
	// Environment becomes deployment.environment.name, e.g. "production".
	Environment    string
	ExportInterval time.Duration
}

// Providers holds the OpenTelemetry providers and a shutdown function.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *metric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider
	Shutdown       func(context.Context) error
}

// NewProviders builds the three providers described by opts. With an empty endpoint the
// providers carry the resource but no exporters, and Shutdown only flushes them.
func NewProviders(ctx context.Context, opts Options, logger *zap.Logger) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ExportInterval <= 0 {
		opts.ExportInterval = DefaultExportInterval
	}
	res, err := newResource(opts)
	if err != nil {
		return nil, err
	}

	var sd shutdowner
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
		mp := newMeterProvider(res)
		lp := sdklog.NewLoggerProvider(sdklog.WithResource(res))
		sd.add(tp.Shutdown, mp.Shutdown, lp.Shutdown)
		return &Providers{TracerProvider: tp, MeterProvider: mp, LoggerProvider: lp, Shutdown: sd.shutdown}, nil
	}

	target, insecure, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	insecure = insecure || opts.Insecure

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(target)}
	if insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
	}
	traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp), sdktrace.WithResource(res))
	sd.add(tp.Shutdown)

	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(target)}
	if insecure {
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("metric exporter: %w", err), sd.shutdown(ctx))
	}
	mp := newMeterProvider(res, metric.NewPeriodicReader(metricExp, metric.WithInterval(opts.ExportInterval)))
	sd.add(mp.Shutdown)

	logOpts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(target)}
	if insecure {
		logOpts = append(logOpts, otlploggrpc.WithInsecure())
	}
	logExp, err := otlploggrpc.New(ctx, logOpts...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("log exporter: %w", err), sd.shutdown(ctx))
	}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)), sdklog.WithResource(res))
	sd.add(lp.Shutdown)

	logger.Info("otel exporters configured",
		zap.String("target", target),
		zap.Bool("insecure", insecure),
		zap.String("environment", opts.Environment))
	return &Providers{TracerProvider: tp, MeterProvider: mp, LoggerProvider: lp, Shutdown: sd.shutdown}, nil
}

// parseEndpoint reduces endpoint to the host:port the gRPC exporters dial. Only https
// selects TLS.
func parseEndpoint(endpoint string) (target string, insecure bool, err error) {
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid OTLP endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid OTLP endpoint %q: missing host", endpoint)
	}
	return u.Host, u.Scheme != "https", nil
}

func newResource(opts Options) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(opts.ServiceName)}
	if opts.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(opts.ServiceVersion))
	}
	if opts.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentNameKey.String(opts.Environment))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
}

// newMeterProvider attaches readers and the views for the notify instruments: explicit
// buckets for the notify duration histogram, and termination counts keyed by cause only.
func newMeterProvider(res *resource.Resource, readers ...metric.Reader) *metric.MeterProvider {
	opts := []metric.Option{
		metric.WithResource(res),
		metric.WithView(
			metric.NewView(
				metric.Instrument{Name: "notify.notifications.duration"},
				metric.Stream{Aggregation: metric.AggregationExplicitBucketHistogram{Boundaries: DurationBuckets}},
			),
			metric.NewView(
				metric.Instrument{Name: "notify.connections.terminated"},
				metric.Stream{AttributeFilter: attribute.NewAllowKeysFilter("cause")},
			),
		),
	}
	for _, r := range readers {
		opts = append(opts, metric.WithReader(r))
	}
	return metric.NewMeterProvider(opts...)
}

// shutdowner runs registered shutdown functions in reverse order and joins their errors.
type shutdowner struct {
	fns []func(context.Context) error
}

func (s *shutdowner) add(fns ...func(context.Context) error) { s.fns = append(s.fns, fns...) }

func (s *shutdowner) shutdown(ctx context.Context) error {
	var errs []error
	for i := len(s.fns) - 1; i >= 0; i-- {
		if err := s.fns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetGlobal sets the global TracerProvider and MeterProvider so instrumentation (otelgrpc, service spans) uses them.
// It does not set a global LoggerProvider; pass LoggerProvider to NewEventEmitter.
func (p *Providers) SetGlobal() {
	if p.TracerProvider != nil {
		otel.SetTracerProvider(p.TracerProvider)
	}
	if p.MeterProvider != nil {
		otel.SetMeterProvider(p.MeterProvider)
	}
}
