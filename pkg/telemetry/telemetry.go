package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/zap"
)

// Config controls metric export
type Config struct {
	Enabled     bool
	ServiceName string
	Version     string
}

// Provider owns the meter provider and the registry scraped at /metrics
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	registry      *prom.Registry
	serviceName   string
}

// Init sets up an OpenTelemetry meter provider backed by a Prometheus exporter.
// When disabled it returns a nil provider and a no-op shutdown.
func Init(ctx context.Context, cfg Config, logger *zap.Logger) (*Provider, func(), error) {
	if !cfg.Enabled {
		logger.Info("Telemetry disabled")
		return nil, func() {}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.Version),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	registry := prom.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logger.Info("Prometheus exporter initialized", zap.String("service", cfg.ServiceName))

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down telemetry", zap.Error(err))
		}
	}

	return &Provider{meterProvider: mp, registry: registry, serviceName: cfg.ServiceName}, shutdown, nil
}

// Meter returns a named meter, or nil when telemetry is disabled
func (p *Provider) Meter() metric.Meter {
	if p == nil {
		return nil
	}
	return p.meterProvider.Meter(p.serviceName)
}

// Handler serves the Prometheus scrape endpoint
func (p *Provider) Handler() http.Handler {
	if p == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
