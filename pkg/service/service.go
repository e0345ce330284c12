package service

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ruscigno/vprism/pkg/config"
	apperrors "github.com/Ruscigno/vprism/pkg/errors"
	"github.com/Ruscigno/vprism/pkg/logging"
	"github.com/Ruscigno/vprism/pkg/metrics"
	"github.com/Ruscigno/vprism/pkg/models"
	"github.com/Ruscigno/vprism/pkg/provider"
)

// Service defines the data routing service interface
type Service interface {
	Route(ctx context.Context, query models.Query) (*models.DataResponse, error)
	RouteBatch(ctx context.Context, batch models.BatchQuery) []models.BatchItem
	MarketData(ctx context.Context, query models.MarketQuery) ([]models.BatchItem, error)
	Symbols(market models.Market) ([]string, error)
	Providers() []models.ProviderInfo
	UpdateConfig(cfg config.ProvidersConfig)
}

// service implements the Service interface
type service struct {
	registry *provider.Registry
	cfg      atomic.Pointer[config.ProvidersConfig]
	metrics  *metrics.ApplicationMetrics
	logger   *zap.Logger
}

// NewService creates a new Service instance with all dependencies.
// appMetrics may be nil.
func NewService(
	registry *provider.Registry,
	cfg config.ProvidersConfig,
	appMetrics *metrics.ApplicationMetrics,
	logger *zap.Logger,
) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &service{
		registry: registry,
		metrics:  appMetrics,
		logger:   logger,
	}
	s.cfg.Store(&cfg)
	return s
}

// UpdateConfig swaps the provider policy used for new requests.
func (s *service) UpdateConfig(cfg config.ProvidersConfig) {
	s.cfg.Store(&cfg)
	s.logger.Info("Provider policy updated",
		zap.String("default", cfg.Default),
		zap.Any("market_defaults", cfg.MarketDefaults))
}

func (s *service) config() config.ProvidersConfig {
	return *s.cfg.Load()
}

// selectProvider applies: explicit name, configured default, market default, first registered.
// Only an explicit name that is not registered is an error; configured names that are
// not registered are skipped.
func (s *service) selectProvider(query models.Query) (provider.Provider, error) {
	if query.Provider != "" {
		p, ok := s.registry.Get(query.Provider)
		if !ok {
			return nil, apperrors.Newf(apperrors.ErrCodeProviderNotFound, "provider %q is not registered", query.Provider).
				WithDetail("provider", query.Provider).
				WithDetail("available", s.registry.Names())
		}
		return p, nil
	}

	cfg := s.config()
	if cfg.Default != "" {
		if p, ok := s.registry.Get(cfg.Default); ok {
			return p, nil
		}
		s.logger.Warn("Configured default provider is not registered", zap.String("provider", cfg.Default))
	}
	if query.Market != "" {
		if name, ok := cfg.MarketDefaults[string(query.Market)]; ok {
			if p, ok := s.registry.Get(name); ok {
				return p, nil
			}
		}
	}
	if p, ok := s.registry.First(); ok {
		return p, nil
	}
	return nil, apperrors.NewAppError(apperrors.ErrCodeProviderNotFound, "no providers are registered")
}

// Route validates a query, dispatches it to a provider and packages the result.
// The caller's query is never modified.
func (s *service) Route(ctx context.Context, query models.Query) (resp *models.DataResponse, err error) {
	query = query.Normalized()
	if err := query.Validate(); err != nil {
		return nil, err
	}

	p, err := s.selectProvider(query)
	if err != nil {
		return nil, err
	}

	if len(query.Symbols) == 0 {
		symbols, err := catalogSymbols(query.Market)
		if err != nil {
			return nil, err
		}
		query = query.WithSymbols(symbols...)
	}

	done := logging.Instrument(s.logger, "route",
		zap.String("provider", p.Name()),
		zap.Strings("symbols", query.Symbols),
		zap.String("timeframe", string(query.Timeframe.OrDefault())))
	defer done(&err)

	if len(query.Symbols) == 0 {
		return models.NewDataResponse(nil, p.Info(), 0), nil
	}

	start := time.Now()
	data, fetchErr := p.Fetch(ctx, query)
	elapsed := time.Since(start)

	if fetchErr != nil {
		appErr := apperrors.GetAppError(fetchErr)
		if appErr == nil || appErr.Code != apperrors.ErrCodeNoData {
			s.metrics.RecordProviderCall(p.Name(), false, 0, elapsed)
			return nil, s.classify(p.Name(), fetchErr)
		}
		data = nil
	}
	s.metrics.RecordProviderCall(p.Name(), true, len(data), elapsed)

	return models.NewDataResponse(data, p.Info(), elapsed), nil
}

// classify turns an adapter failure into the error a client sees.
func (s *service) classify(name string, err error) error {
	appErr := apperrors.GetAppError(err)
	switch {
	case appErr == nil:
		s.metrics.RecordError("unexpected", name)
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "unexpected provider error")
	case appErr.Code == apperrors.ErrCodeFetchFailed:
		s.metrics.RecordError(string(apperrors.ErrCodeFetchFailed), name)
		return apperrors.Newf(apperrors.ErrCodeProviderUnavailable, "provider %s failed to fetch data", name).
			WithCause(err).
			WithDetail("provider", name).
			WithDetail("reason", appErr.Message)
	case appErr.HTTPStatus >= http.StatusInternalServerError:
		s.metrics.RecordError(string(appErr.Code), name)
		return err
	default:
		return err
	}
}

// RouteBatch runs every query independently. Item i always describes queries[i].
func (s *service) RouteBatch(ctx context.Context, batch models.BatchQuery) []models.BatchItem {
	s.metrics.RecordBatch(len(batch.Queries), batch.AsyncProcessing)
	return s.runBatch(ctx, batch.Queries, batch.AsyncProcessing)
}

func (s *service) runBatch(ctx context.Context, queries []models.Query, async bool) []models.BatchItem {
	items := make([]models.BatchItem, len(queries))
	run := func(i int) {
		items[i] = s.routeItem(ctx, queries[i])
	}

	if !async {
		for i := range queries {
			run(i)
		}
		return items
	}

	var g errgroup.Group
	if limit := s.config().BatchConcurrency; limit > 0 {
		g.SetLimit(limit)
	}
	for i := range queries {
		i := i
		g.Go(func() error {
			run(i)
			return nil
		})
	}
	// Items carry their own errors; Wait never fails.
	_ = g.Wait()
	return items
}

// routeItem isolates one batch entry, including a panicking provider.
func (s *service) routeItem(ctx context.Context, query models.Query) (item models.BatchItem) {
	item.Query = query
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Batch item panicked", zap.Any("panic", r), zap.Strings("symbols", query.Symbols))
			item.Data = nil
			item.Error = models.ErrorResponseFrom(apperrors.NewAppError(apperrors.ErrCodeInternal, "batch item panicked"))
		}
	}()

	resp, err := s.Route(ctx, query)
	if err != nil {
		item.Error = models.ErrorResponseFrom(err)
		return item
	}
	item.Data = resp
	return item
}

// MarketData fetches the same window for every symbol of a market, one item per symbol.
func (s *service) MarketData(ctx context.Context, query models.MarketQuery) ([]models.BatchItem, error) {
	market := models.ParseMarket(string(query.Market))
	if market == "" {
		return nil, apperrors.NewValidationError("invalid market query",
			apperrors.FieldError{Field: "market", Message: "market is required"})
	}

	symbols := query.Symbols
	if len(symbols) == 0 {
		var err error
		if symbols, err = catalogSymbols(market); err != nil {
			return nil, err
		}
	} else if !market.Valid() {
		return nil, apperrors.NewValidationError("invalid market query",
			apperrors.FieldError{Field: "market", Message: "unknown market", Value: string(query.Market)})
	}

	queries := make([]models.Query, len(symbols))
	for i, symbol := range symbols {
		queries[i] = models.Query{
			Asset:     models.AssetStock,
			Market:    market,
			Provider:  query.Provider,
			Timeframe: query.Timeframe,
			Limit:     query.Limit,
			Symbols:   []string{symbol},
		}
	}

	s.metrics.RecordBatch(len(queries), true)
	return s.runBatch(ctx, queries, true), nil
}

// Symbols lists the catalog symbols for a market.
func (s *service) Symbols(market models.Market) ([]string, error) {
	return catalogSymbols(models.ParseMarket(string(market)))
}

// Providers describes the registered providers in registration order.
func (s *service) Providers() []models.ProviderInfo {
	all := s.registry.All()
	out := make([]models.ProviderInfo, 0, len(all))
	for _, p := range all {
		out = append(out, p.Info())
	}
	return out
}
