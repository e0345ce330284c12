package endpoint

import (
	"context"

	"github.com/go-kit/kit/endpoint"
	"go.uber.org/zap"

	apperrors "github.com/Ruscigno/vprism/pkg/errors"
	"github.com/Ruscigno/vprism/pkg/metrics"
	"github.com/Ruscigno/vprism/pkg/models"
	"github.com/Ruscigno/vprism/pkg/service"
)

// Endpoints holds all Go-Kit endpoints.
type Endpoints struct {
	CheckHealth endpoint.Endpoint
	GetData     endpoint.Endpoint
	GetBatch    endpoint.Endpoint
	GetMarket   endpoint.Endpoint
	GetSymbols  endpoint.Endpoint
	GetProvider endpoint.Endpoint
	GetMetrics  endpoint.Endpoint
}

// SymbolsRequest asks for the catalog of one market.
type SymbolsRequest struct {
	Market models.Market
}

// ProvidersResponse lists registered providers in registration order.
type ProvidersResponse struct {
	Providers []models.ProviderInfo `json:"providers"`
	Count     int                   `json:"count"`
}

// MakeEndpoints creates endpoints for the services, each wrapped with logging and error metrics.
func MakeEndpoints(s service.Service, h service.HealthService, m *metrics.ApplicationMetrics, logger *zap.Logger) Endpoints {
	wrap := func(name string, e endpoint.Endpoint) endpoint.Endpoint {
		return endpoint.Chain(
			LoggingMiddleware(logger, name),
			ErrorMetricsMiddleware(m, name),
		)(e)
	}

	return Endpoints{
		CheckHealth: wrap("check_health", makeCheckHealthEndpoint(h)),
		GetData:     wrap("get_data", makeGetDataEndpoint(s)),
		GetBatch:    wrap("get_batch", makeGetBatchEndpoint(s)),
		GetMarket:   wrap("get_market", makeGetMarketEndpoint(s)),
		GetSymbols:  wrap("get_symbols", makeGetSymbolsEndpoint(s)),
		GetProvider: wrap("get_providers", makeGetProvidersEndpoint(s)),
		GetMetrics:  wrap("get_metrics", makeGetMetricsEndpoint(m)),
	}
}

func invalidRequest() error {
	return apperrors.NewAppError(apperrors.ErrCodeInternal, "invalid request type")
}

func makeCheckHealthEndpoint(h service.HealthService) endpoint.Endpoint {
	return func(ctx context.Context, _ interface{}) (interface{}, error) {
		return h.CheckHealth(ctx), nil
	}
}

func makeGetDataEndpoint(s service.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(models.Query)
		if !ok {
			return nil, invalidRequest()
		}
		return s.Route(ctx, req)
	}
}

func makeGetBatchEndpoint(s service.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(models.BatchQuery)
		if !ok {
			return nil, invalidRequest()
		}
		if len(req.Queries) == 0 {
			return nil, apperrors.NewValidationError("invalid batch",
				apperrors.FieldError{Field: "queries", Message: "at least one query is required"})
		}
		return s.RouteBatch(ctx, req), nil
	}
}

func makeGetMarketEndpoint(s service.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(models.MarketQuery)
		if !ok {
			return nil, invalidRequest()
		}
		items, err := s.MarketData(ctx, req)
		if err != nil {
			return nil, err
		}
		return items, nil
	}
}

func makeGetSymbolsEndpoint(s service.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(SymbolsRequest)
		if !ok {
			return nil, invalidRequest()
		}
		return s.Symbols(req.Market)
	}
}

func makeGetProvidersEndpoint(s service.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ interface{}) (interface{}, error) {
		providers := s.Providers()
		return ProvidersResponse{Providers: providers, Count: len(providers)}, nil
	}
}

func makeGetMetricsEndpoint(m *metrics.ApplicationMetrics) endpoint.Endpoint {
	return func(ctx context.Context, _ interface{}) (interface{}, error) {
		return m.Snapshot(), nil
	}
}
