// Package telemetry sets up OpenTelemetry metrics and the instruments used by
// the sync endpoint and the local agent.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	api "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"

	"github.com/emarzona/backend/internal/logging"
)

// Exporter selects where metrics go.
type Exporter string

const (
	// ExporterPrometheus serves a scrape endpoint through Provider.Handler.
	ExporterPrometheus Exporter = "prometheus"
	// ExporterGRPC pushes to OTEL_EXPORTER_OTLP_METRICS_ENDPOINT (default localhost:4317).
	ExporterGRPC Exporter = "grpc"
	// ExporterNone records into a provider with no reader.
	ExporterNone Exporter = "none"
)

// ParseExporter maps a METRICS_EXPORTER value to an Exporter. "scraper" is
// accepted as an alias for prometheus.
func ParseExporter(s string) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "prometheus", "scraper":
		return ExporterPrometheus, nil
	case "grpc", "otlp":
		return ExporterGRPC, nil
	case "none", "off":
		return ExporterNone, nil
	default:
		return "", fmt.Errorf("unknown metrics exporter %q", s)
	}
}

// Provider owns the meter provider and, for Prometheus, its scrape handler.
type Provider struct {
	MeterProvider *metric.MeterProvider
	exporter      Exporter
	handler       http.Handler
}

// Setup creates a meter provider for exporter and installs it as the global
// provider.
func Setup(ctx context.Context, exporter Exporter) (*Provider, error) {
	p := &Provider{exporter: exporter}

	switch exporter {
	case ExporterPrometheus:
		// A private registry keeps repeated Setup calls (tests) from colliding.
		registry := promclient.NewRegistry()
		exp, err := prometheus.New(prometheus.WithRegisterer(registry))
		if err != nil {
			return nil, fmt.Errorf("creating prometheus exporter: %w", err)
		}
		p.MeterProvider = metric.NewMeterProvider(metric.WithReader(exp))
		p.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	case ExporterGRPC:
		exp, err := otlpmetricgrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating grpc exporter: %w", err)
		}
		p.MeterProvider = metric.NewMeterProvider(metric.WithReader(metric.NewPeriodicReader(exp)))
	case ExporterNone:
		p.MeterProvider = metric.NewMeterProvider()
	default:
		return nil, fmt.Errorf("unknown metrics exporter %q", exporter)
	}

	otel.SetMeterProvider(p.MeterProvider)
	logging.Info("Metrics initialized", map[string]interface{}{"exporter": string(exporter)})
	return p, nil
}

// Meter returns a named meter from the provider.
func (p *Provider) Meter(name string) api.Meter {
	return p.MeterProvider.Meter(name)
}

// Handler serves the Prometheus scrape endpoint. For other exporters it
// answers 404.
func (p *Provider) Handler() http.Handler {
	if p.handler == nil {
		return http.NotFoundHandler()
	}
	return p.handler
}

// Shutdown flushes pending metrics and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.MeterProvider == nil {
		return nil
	}
	if err := p.MeterProvider.ForceFlush(ctx); err != nil {
		logging.Warn("Flushing metrics failed", map[string]interface{}{"error": err.Error()})
	}
	return p.MeterProvider.Shutdown(ctx)
}
