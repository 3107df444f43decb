// Package telemetry builds the process logger and tracer.
package telemetry

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type Telemetry struct {
	Logger      zerolog.Logger
	Tracer      trace.Tracer
	serviceName string

	shutdown func(context.Context) error
}

type options struct {
	version string
	out     io.Writer
}

type Option func(*options)

// WithVersion sets the service version reported on spans.
func WithVersion(version string) Option {
	return func(o *options) { o.version = version }
}

// WithOutput redirects log output. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

func New(ctx context.Context, service string, cfg Config, opts ...Option) (Telemetry, error) {
	if service == "" {
		return Telemetry{}, eris.New("service name cannot be empty")
	}
	if err := cfg.Validate(); err != nil {
		return Telemetry{}, eris.Wrap(err, "invalid telemetry config")
	}

	o := options{version: "dev", out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	tracer, shutdown, err := setupTracing(ctx, cfg, service, o.version)
	if err != nil {
		return Telemetry{}, eris.Wrap(err, "failed to setup telemetry")
	}

	return Telemetry{
		Logger:      newLogger(cfg, o.out),
		Tracer:      tracer,
		serviceName: service,
		shutdown:    shutdown,
	}, nil
}

// Shutdown flushes and stops the trace exporter.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.shutdown != nil {
		return t.shutdown(ctx)
	}
	return nil
}

// GetLogger returns a component-specific logger.
func (t *Telemetry) GetLogger(component string) zerolog.Logger {
	return t.Logger.With().Str("component", t.serviceName+"."+component).Logger()
}

// GetLoggerWithTrace returns a component-specific logger enriched with trace context.
func (t *Telemetry) GetLoggerWithTrace(ctx context.Context, component string) zerolog.Logger {
	span := trace.SpanFromContext(ctx)

	logger := t.Logger.With().Str("component", t.serviceName+"."+component)

	if span.IsRecording() {
		spanCtx := span.SpanContext()
		logger = logger.
			Str("trace_id", spanCtx.TraceID().String()).
			Str("span_id", spanCtx.SpanID().String())
	}

	return logger.Logger()
}
