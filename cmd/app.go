package cmd

import (
	"go.uber.org/zap"

	"github.com/Ruscigno/vprism/pkg/config"
	"github.com/Ruscigno/vprism/pkg/metrics"
	"github.com/Ruscigno/vprism/pkg/provider"
	"github.com/Ruscigno/vprism/pkg/retry"
	"github.com/Ruscigno/vprism/pkg/service"
)

// app holds the wired components shared by the serve and fetch commands.
type app struct {
	registry   *provider.Registry
	service    service.Service
	metrics    *metrics.ApplicationMetrics
	prometheus *metrics.PrometheusCollector
}

func newApp(cfg config.Config, logger *zap.Logger) *app {
	prom := metrics.NewPrometheusCollector("vprism", logger)
	appMetrics := metrics.NewApplicationMetrics(
		metrics.MultiCollector{metrics.NewSimpleMetricsCollector(logger), prom},
		logger,
	)

	registry := buildRegistry(cfg.Providers, appMetrics, logger)
	return &app{
		registry:   registry,
		service:    service.NewService(registry, cfg.Providers, appMetrics, logger),
		metrics:    appMetrics,
		prometheus: prom,
	}
}

// buildRegistry registers the enabled adapters, each behind the configured call policy.
func buildRegistry(cfg config.ProvidersConfig, appMetrics *metrics.ApplicationMetrics, logger *zap.Logger) *provider.Registry {
	registry := provider.NewRegistry()
	timeout := cfg.TimeoutDuration()

	adapters := []provider.Provider{
		provider.NewYFinance(cfg.YFinanceURL, timeout, logger),
		provider.NewAkshare(cfg.AkshareURL, timeout, logger),
	}
	for _, p := range adapters {
		if !cfg.IsEnabled(p.Name()) {
			logger.Info("Provider disabled", zap.String("provider", p.Name()))
			continue
		}
		opts := provider.OptionsFromConfig(cfg, logger)
		opts.OnStateChange = func(name string, _, to retry.CircuitBreakerState) {
			appMetrics.RecordCircuitBreakerState(name, to.String())
		}
		registry.Register(provider.NewResilient(p, opts, logger))
	}

	logger.Info("Providers registered", zap.Strings("providers", registry.Names()))
	return registry
}
