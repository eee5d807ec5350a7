// Package telemetry provides the engine's optional OpenTelemetry metrics:
// a decision counter by outcome, an audit-log eviction counter, and an
// evaluator wall-clock histogram, exported via Prometheus.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"

	"github.com/agentguard/agentguard/pkg/schema"
)

// Config holds telemetry configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// Provider is an OpenTelemetry-backed implementation of engine.Telemetry.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter

	decisionCounter metric.Int64Counter
	evictionCounter metric.Int64Counter
	evalDuration    metric.Float64Histogram
}

// NewProvider creates a Provider with a Prometheus metrics reader.
func NewProvider(cfg Config) (*Provider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("agentguard telemetry: creating resource: %w", err)
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("agentguard telemetry: creating prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	)

	p := &Provider{
		meterProvider: meterProvider,
		meter:         meterProvider.Meter(cfg.ServiceName),
	}
	if err := p.initMetrics(); err != nil {
		return nil, fmt.Errorf("agentguard telemetry: initializing metrics: %w", err)
	}
	return p, nil
}

func (p *Provider) initMetrics() error {
	var err error

	p.decisionCounter, err = p.meter.Int64Counter(
		"agentguard_decisions_total",
		metric.WithDescription("Total number of decisions, by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return err
	}

	p.evictionCounter, err = p.meter.Int64Counter(
		"agentguard_audit_evictions_total",
		metric.WithDescription("Total number of audit log entries evicted under the size bound"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	p.evalDuration, err = p.meter.Float64Histogram(
		"agentguard_eval_duration_seconds",
		metric.WithDescription("Policy evaluator wall-clock duration"),
		metric.WithUnit("s"),
	)
	return err
}

// ObserveDecision increments the decision counter for outcome.
func (p *Provider) ObserveDecision(outcome schema.Outcome) {
	p.decisionCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

// ObserveEvalDuration records a single evaluator wall-clock sample.
func (p *Provider) ObserveEvalDuration(d time.Duration) {
	p.evalDuration.Record(context.Background(), d.Seconds())
}

// ObserveAuditEviction increments the audit eviction counter by one.
func (p *Provider) ObserveAuditEviction() {
	p.evictionCounter.Add(context.Background(), 1)
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.meterProvider.Shutdown(ctx)
}
