package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// PrometheusExporter bridges OTel instruments to a Prometheus scrape endpoint.
type PrometheusExporter struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry
}

// NewPrometheusExporter creates a meter provider whose readings are served
// from a dedicated Prometheus registry. Go runtime and process collectors are
// registered alongside.
func NewPrometheusExporter() (*PrometheusExporter, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	return &PrometheusExporter{
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)),
		registry: registry,
	}, nil
}

// MeterProvider returns the provider to build recorders from.
func (p *PrometheusExporter) MeterProvider() *sdkmetric.MeterProvider {
	return p.provider
}

// Handler serves the registry in the Prometheus text format.
func (p *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Shutdown flushes and stops the meter provider.
func (p *PrometheusExporter) Shutdown(ctx context.Context) error {
	return p.provider.Shutdown(ctx)
}
