package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Ruscigno/vprism/pkg/config"
	"github.com/Ruscigno/vprism/pkg/metrics"
	"github.com/Ruscigno/vprism/pkg/provider"
	"github.com/Ruscigno/vprism/pkg/retry"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Name      string       `json:"name"`
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Duration  string       `json:"duration,omitempty"`
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status     HealthStatus      `json:"status"`
	Version    string            `json:"version"`
	Uptime     string            `json:"uptime"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentHealth `json:"components"`
}

// HealthService defines the health check service interface
type HealthService interface {
	CheckHealth(ctx context.Context) HealthResponse
	CheckProviders(ctx context.Context) []ComponentHealth
	CheckConfig(ctx context.Context) ComponentHealth
}

// breakerReporter is implemented by providers wrapped with a circuit breaker.
type breakerReporter interface {
	BreakerState() retry.CircuitBreakerState
}

// healthService implements the HealthService interface
type healthService struct {
	registry  *provider.Registry
	cfg       func() config.Config
	metrics   *metrics.HealthMetrics
	logger    *zap.Logger
	startTime time.Time
	version   string
}

// NewHealthService creates a new health service. cfg returns the live configuration.
func NewHealthService(registry *provider.Registry, cfg func() config.Config, hm *metrics.HealthMetrics, logger *zap.Logger, version string) HealthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &healthService{
		registry:  registry,
		cfg:       cfg,
		metrics:   hm,
		logger:    logger,
		startTime: time.Now(),
		version:   version,
	}
}

// CheckHealth performs a comprehensive health check
func (h *healthService) CheckHealth(ctx context.Context) HealthResponse {
	start := time.Now()

	components := []ComponentHealth{h.CheckConfig(ctx)}
	components = append(components, h.CheckProviders(ctx)...)

	overallStatus := h.determineOverallStatus(components)
	for _, c := range components {
		h.metrics.SetComponentHealth(c.Name, c.Status == HealthStatusHealthy)
	}

	response := HealthResponse{
		Status:     overallStatus,
		Version:    h.version,
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Timestamp:  time.Now().UTC(),
		Components: components,
	}

	h.logger.Debug("Health check completed",
		zap.String("status", string(overallStatus)),
		zap.Duration("duration", time.Since(start)),
		zap.Int("components", len(components)))

	return response
}

// CheckProviders reports one component per registered provider, derived from its circuit breaker.
func (h *healthService) CheckProviders(ctx context.Context) []ComponentHealth {
	all := h.registry.All()
	components := make([]ComponentHealth, 0, len(all))

	if len(all) == 0 {
		return append(components, ComponentHealth{
			Name:      "providers",
			Status:    HealthStatusUnhealthy,
			Message:   "No providers registered",
			Timestamp: time.Now().UTC(),
		})
	}

	for _, p := range all {
		component := ComponentHealth{
			Name:      "provider:" + p.Name(),
			Status:    HealthStatusHealthy,
			Message:   "Provider registered",
			Timestamp: time.Now().UTC(),
		}
		if br, ok := p.(breakerReporter); ok {
			switch state := br.BreakerState(); state {
			case retry.StateOpen:
				component.Status = HealthStatusUnhealthy
				component.Message = "Circuit breaker open"
			case retry.StateHalfOpen:
				component.Status = HealthStatusDegraded
				component.Message = "Circuit breaker half-open"
			default:
				component.Message = fmt.Sprintf("Circuit breaker %s", state)
			}
		}
		components = append(components, component)
	}
	return components
}

// CheckConfig reports the effective configuration essentials.
func (h *healthService) CheckConfig(ctx context.Context) ComponentHealth {
	component := ComponentHealth{
		Name:      "config",
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
	}
	if h.cfg == nil {
		component.Status = HealthStatusDegraded
		component.Message = "Configuration not available"
		return component
	}
	cfg := h.cfg()
	component.Message = fmt.Sprintf("%d providers enabled, cache enabled=%t", len(cfg.Providers.Enabled), cfg.Cache.Enabled)
	return component
}

// determineOverallStatus determines the overall health status based on component statuses
func (h *healthService) determineOverallStatus(components []ComponentHealth) HealthStatus {
	hasUnhealthy := false
	hasDegraded := false

	for _, component := range components {
		switch component.Status {
		case HealthStatusUnhealthy:
			hasUnhealthy = true
		case HealthStatusDegraded:
			hasDegraded = true
		}
	}

	if hasUnhealthy {
		return HealthStatusUnhealthy
	}
	if hasDegraded {
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}
