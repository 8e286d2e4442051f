// Package telemetry counts exploration events and traces verification runs.
//
// Counters live in a registry owned by one run and are written once, at the
// end, in the Prometheus text format (a node-exporter textfile). Spans cover
// the run and each sub-exploration and are exported as JSON lines to a file.
// Both outputs are optional; when disabled the counters are still kept in
// memory and the tracer is a no-op.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const namespace = "weakcheck"

// Config selects the outputs.
type Config struct {
	// MetricsFile receives the counters when the run ends.
	MetricsFile string
	// TraceFile receives the spans.
	TraceFile string
	// RunID identifies the run in spans.
	RunID string
	// Version is the tool version recorded in spans.
	Version string
}

// Telemetry holds the counters and the tracer of one run.
type Telemetry struct {
	cfg      Config
	registry *prometheus.Registry

	executions *prometheus.CounterVec
	revisits   *prometheus.CounterVec
	violations *prometheus.CounterVec
	states     prometheus.Counter

	provider  *sdktrace.TracerProvider
	traceFile *os.File
	tracer    trace.Tracer
}

// New creates the counters and, when a trace file is configured, the span
// exporter.
func New(cfg Config) (*Telemetry, error) {
	reg := prometheus.NewRegistry()
	auto := promauto.With(reg)
	t := &Telemetry{
		cfg:      cfg,
		registry: reg,
		executions: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Finished executions by outcome.",
		}, []string{"outcome"}),
		revisits: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revisits_total",
			Help:      "Applied alternatives by kind.",
		}, []string{"kind"}),
		violations: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_total",
			Help:      "Reported violations by kind.",
		}, []string{"kind"}),
		states: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subexplorations_total",
			Help:      "Sub-explorations run by the worker pool.",
		}),
		tracer: noop.NewTracerProvider().Tracer(namespace),
	}

	if cfg.TraceFile == "" {
		return t, nil
	}
	f, err := os.Create(cfg.TraceFile)
	if err != nil {
		return nil, fmt.Errorf("create trace file: %w", err)
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(f))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create span exporter: %w", err)
	}
	res := resource.NewWithAttributes("",
		attribute.String("service.name", namespace),
		attribute.String("service.version", cfg.Version),
	)
	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(res),
	)
	t.traceFile = f
	t.tracer = t.provider.Tracer(namespace)
	return t, nil
}

// Execution implements driver.Metrics.
func (t *Telemetry) Execution(outcome string) {
	t.executions.WithLabelValues(outcome).Inc()
}

// Revisit implements driver.Metrics.
func (t *Telemetry) Revisit(kind string) {
	t.revisits.WithLabelValues(kind).Inc()
}

// Violation counts a reported violation.
func (t *Telemetry) Violation(kind string) {
	t.violations.WithLabelValues(kind).Inc()
}

// SubExploration counts a state run by a pool worker.
func (t *Telemetry) SubExploration() {
	t.states.Inc()
}

// Registry returns the registry holding the counters.
func (t *Telemetry) Registry() *prometheus.Registry {
	return t.registry
}

// StartRun opens the span of a whole run.
func (t *Telemetry) StartRun(ctx context.Context, program, model string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "weakcheck.run", trace.WithAttributes(
		attribute.String("run_id", t.cfg.RunID),
		attribute.String("program", program),
		attribute.String("model", model),
	))
}

// StartState opens the span of one sub-exploration.
func (t *Telemetry) StartState(ctx context.Context, worker int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "weakcheck.subexploration", trace.WithAttributes(
		attribute.Int("worker", worker),
	))
}

// Close writes the counters to the metrics file, flushes the spans and
// closes the trace file.
func (t *Telemetry) Close(ctx context.Context) error {
	var errs []error
	if t.cfg.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(t.cfg.MetricsFile, t.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if t.provider != nil {
		if err := t.provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush spans: %w", err))
		}
	}
	if t.traceFile != nil {
		if err := t.traceFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close trace file: %w", err))
		}
	}
	return errors.Join(errs...)
}
