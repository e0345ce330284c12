package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ruscigno/vprism/pkg/config"
	apperrors "github.com/Ruscigno/vprism/pkg/errors"
	"github.com/Ruscigno/vprism/pkg/metrics"
	"github.com/Ruscigno/vprism/pkg/models"
	"github.com/Ruscigno/vprism/pkg/provider"
)

// mockProvider is a scripted provider for testing
type mockProvider struct {
	name  string
	calls atomic.Int32
	fetch func(ctx context.Context, q models.Query) ([]models.DataPoint, error)
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) Info() models.ProviderInfo {
	return models.ProviderInfo{Name: m.name, Version: "test"}
}
func (m *mockProvider) Fetch(ctx context.Context, q models.Query) ([]models.DataPoint, error) {
	m.calls.Add(1)
	return m.fetch(ctx, q)
}

func rows(q models.Query) ([]models.DataPoint, error) {
	var out []models.DataPoint
	for _, s := range q.Symbols {
		out = append(out,
			models.DataPoint{
				Symbol:    s,
				Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				Open:      models.Dec(decimal.RequireFromString("100.5")),
				Close:     models.Dec(decimal.RequireFromString("101.25")),
				Volume:    models.Dec(decimal.NewFromInt(1000)),
			},
			models.DataPoint{
				Symbol:    s,
				Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
				Open:      models.Dec(decimal.RequireFromString("101.25")),
				Close:     models.Dec(decimal.RequireFromString("102")),
				Volume:    models.Dec(decimal.NewFromInt(1200)),
			})
	}
	return out, nil
}

func newMock(name string) *mockProvider {
	return &mockProvider{name: name, fetch: func(_ context.Context, q models.Query) ([]models.DataPoint, error) {
		return rows(q)
	}}
}

func newTestService(cfg config.ProvidersConfig, providers ...provider.Provider) (Service, *metrics.ApplicationMetrics) {
	m := metrics.NewApplicationMetrics(metrics.NewSimpleMetricsCollector(nil), zap.NewNop())
	return NewService(provider.NewRegistry(providers...), cfg, m, zap.NewNop()), m
}

func TestRoute(t *testing.T) {
	yf := newMock("yfinance")
	svc, m := newTestService(config.ProvidersConfig{}, yf)

	resp, err := svc.Route(context.Background(), models.Query{
		Asset:     models.AssetStock,
		Symbols:   []string{"AAPL"},
		Provider:  "yfinance",
		Timeframe: models.Timeframe1d,
	})
	require.NoError(t, err)

	require.Len(t, resp.Data, 2)
	assert.Equal(t, "AAPL", resp.Data[0].Symbol)
	assert.Equal(t, 2, resp.Metadata.TotalRecords)
	assert.Equal(t, "yfinance", resp.Metadata.DataSource)
	assert.Equal(t, "yfinance", resp.Source.Name)
	assert.False(t, resp.Metadata.CacheHit)
	assert.True(t, resp.Data[0].Timestamp.Before(resp.Data[1].Timestamp))

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.ProviderCalls)
	assert.Zero(t, snap.ProviderErrors)
}

func TestRouteValidation(t *testing.T) {
	yf := newMock("yfinance")
	svc, _ := newTestService(config.ProvidersConfig{}, yf)

	_, err := svc.Route(context.Background(), models.Query{Asset: models.AssetStock})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetAppError(err).Code)
	assert.Zero(t, yf.calls.Load(), "invalid queries never reach a provider")
}

func TestRouteProviderNotFound(t *testing.T) {
	svc, _ := newTestService(config.ProvidersConfig{}, newMock("yfinance"), newMock("akshare"))

	_, err := svc.Route(context.Background(), models.Query{
		Asset: models.AssetStock, Symbols: []string{"AAPL"}, Provider: "alpha_vantage",
	})
	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrCodeProviderNotFound, appErr.Code)
	assert.Equal(t, []string{"yfinance", "akshare"}, appErr.Details["available"])
}

func TestRouteNoProviders(t *testing.T) {
	svc, _ := newTestService(config.ProvidersConfig{})
	_, err := svc.Route(context.Background(), models.Query{Asset: models.AssetStock, Symbols: []string{"AAPL"}})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeProviderNotFound))
}

func TestRouteEmptyData(t *testing.T) {
	empty := &mockProvider{name: "yfinance", fetch: func(context.Context, models.Query) ([]models.DataPoint, error) {
		return nil, apperrors.NewAppError(apperrors.ErrCodeNoData, "nothing")
	}}
	svc, _ := newTestService(config.ProvidersConfig{}, empty)

	resp, err := svc.Route(context.Background(), models.Query{Asset: models.AssetStock, Symbols: []string{"ZZZZ"}})
	require.NoError(t, err)
	assert.Empty(t, resp.Data)
	assert.NotNil(t, resp.Data)
	assert.Equal(t, 0, resp.Metadata.TotalRecords)
}

func TestRouteFetchFailures(t *testing.T) {
	t.Run("fetch failure is provider unavailable", func(t *testing.T) {
		down := &mockProvider{name: "yfinance", fetch: func(context.Context, models.Query) ([]models.DataPoint, error) {
			return nil, apperrors.NewAppError(apperrors.ErrCodeFetchFailed, "unexpected status code: 503")
		}}
		svc, m := newTestService(config.ProvidersConfig{}, down)

		_, err := svc.Route(context.Background(), models.Query{Asset: models.AssetStock, Symbols: []string{"AAPL"}})
		appErr := apperrors.GetAppError(err)
		require.NotNil(t, appErr)
		assert.Equal(t, apperrors.ErrCodeProviderUnavailable, appErr.Code)
		assert.Equal(t, "yfinance", appErr.Details["provider"])
		assert.Equal(t, 400, appErr.HTTPStatus)
		assert.Equal(t, int64(1), m.Snapshot().ProviderErrors)
	})

	t.Run("unexpected errors are internal", func(t *testing.T) {
		broken := &mockProvider{name: "yfinance", fetch: func(context.Context, models.Query) ([]models.DataPoint, error) {
			return nil, errors.New("nil map write")
		}}
		svc, _ := newTestService(config.ProvidersConfig{}, broken)

		_, err := svc.Route(context.Background(), models.Query{Asset: models.AssetStock, Symbols: []string{"AAPL"}})
		assert.Equal(t, apperrors.ErrCodeInternal, apperrors.GetAppError(err).Code)
	})

	t.Run("domain errors pass through", func(t *testing.T) {
		open := &mockProvider{name: "yfinance", fetch: func(context.Context, models.Query) ([]models.DataPoint, error) {
			return nil, apperrors.NewAppError(apperrors.ErrCodeCircuitBreakerOpen, "temporarily unavailable")
		}}
		svc, _ := newTestService(config.ProvidersConfig{}, open)

		_, err := svc.Route(context.Background(), models.Query{Asset: models.AssetStock, Symbols: []string{"AAPL"}})
		assert.Equal(t, apperrors.ErrCodeCircuitBreakerOpen, apperrors.GetAppError(err).Code)
	})
}

func TestProviderSelection(t *testing.T) {
	yf, ak := newMock("yfinance"), newMock("akshare")

	tests := []struct {
		name  string
		cfg   config.ProvidersConfig
		query models.Query
		want  string
	}{
		{
			name:  "first registered when nothing configured",
			query: models.Query{Asset: models.AssetStock, Symbols: []string{"AAPL"}},
			want:  "yfinance",
		},
		{
			name:  "market default",
			cfg:   config.ProvidersConfig{MarketDefaults: map[string]string{"cn": "akshare"}},
			query: models.Query{Asset: models.AssetStock, Market: models.MarketCN, Symbols: []string{"600000"}},
			want:  "akshare",
		},
		{
			name:  "global default beats market default",
			cfg:   config.ProvidersConfig{Default: "yfinance", MarketDefaults: map[string]string{"cn": "akshare"}},
			query: models.Query{Asset: models.AssetStock, Market: models.MarketCN, Symbols: []string{"600000"}},
			want:  "yfinance",
		},
		{
			name:  "explicit provider beats defaults",
			cfg:   config.ProvidersConfig{Default: "yfinance"},
			query: models.Query{Asset: models.AssetStock, Symbols: []string{"600000"}, Provider: "AKShare"},
			want:  "akshare",
		},
		{
			name:  "unregistered configured default is skipped",
			cfg:   config.ProvidersConfig{Default: "tushare", MarketDefaults: map[string]string{"cn": "akshare"}},
			query: models.Query{Asset: models.AssetStock, Market: models.MarketCN, Symbols: []string{"600000"}},
			want:  "akshare",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(tt.cfg, yf, ak)
			resp, err := svc.Route(context.Background(), tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Metadata.DataSource)
		})
	}
}

func TestUpdateConfig(t *testing.T) {
	svc, _ := newTestService(config.ProvidersConfig{}, newMock("yfinance"), newMock("akshare"))
	q := models.Query{Asset: models.AssetStock, Symbols: []string{"AAPL"}}

	resp, err := svc.Route(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "yfinance", resp.Metadata.DataSource)

	svc.UpdateConfig(config.ProvidersConfig{Default: "akshare"})
	resp, err = svc.Route(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "akshare", resp.Metadata.DataSource)
}

func TestRouteMarketOnlyUsesCatalog(t *testing.T) {
	var got []string
	ak := &mockProvider{name: "akshare", fetch: func(_ context.Context, q models.Query) ([]models.DataPoint, error) {
		got = q.Symbols
		return rows(q)
	}}
	svc, _ := newTestService(config.ProvidersConfig{}, ak)

	resp, err := svc.Route(context.Background(), models.Query{Asset: models.AssetStock, Market: models.MarketCN})
	require.NoError(t, err)
	assert.Equal(t, symbolCatalog[models.MarketCN], got)
	assert.Equal(t, 2*len(got), resp.Metadata.TotalRecords)

	resp, err = svc.Route(context.Background(), models.Query{Asset: models.AssetStock, Market: models.MarketJP})
	require.NoError(t, err)
	assert.Empty(t, resp.Data)
}

func TestRouteBatch(t *testing.T) {
	slowFirst := &mockProvider{name: "yfinance", fetch: func(_ context.Context, q models.Query) ([]models.DataPoint, error) {
		if q.Symbols[0] == "AAPL" {
			time.Sleep(20 * time.Millisecond)
		}
		if q.Symbols[0] == "BOOM" {
			panic("adapter bug")
		}
		return rows(q)
	}}

	for _, async := range []bool{false, true} {
		svc, m := newTestService(config.ProvidersConfig{BatchConcurrency: 4}, slowFirst)
		items := svc.RouteBatch(context.Background(), models.BatchQuery{
			AsyncProcessing: async,
			Queries: []models.Query{
				{Asset: models.AssetStock, Symbols: []string{"AAPL"}},
				{Asset: models.AssetStock, Symbols: []string{"MSFT"}, Provider: "nope"},
				{Asset: models.AssetStock, Symbols: []string{"BOOM"}},
				{Asset: models.AssetStock, Symbols: []string{"GOOGL"}},
				{Symbols: []string{"TSLA"}},
			},
		})

		require.Len(t, items, 5)
		assert.Equal(t, "AAPL", items[0].Query.Symbols[0])
		require.NotNil(t, items[0].Data)
		assert.Nil(t, items[0].Error)
		assert.Equal(t, "AAPL", items[0].Data.Data[0].Symbol)

		require.NotNil(t, items[1].Error)
		assert.Nil(t, items[1].Data)
		assert.Equal(t, "PROVIDER_NOT_FOUND", items[1].Error.Code)

		require.NotNil(t, items[2].Error)
		assert.Equal(t, "INTERNAL_ERROR", items[2].Error.Code)
		assert.Equal(t, apperrors.InternalMessage, items[2].Error.Message)

		require.NotNil(t, items[3].Data)
		assert.Equal(t, "GOOGL", items[3].Data.Data[0].Symbol)

		require.NotNil(t, items[4].Error)
		assert.Equal(t, "VALIDATION_ERROR", items[4].Error.Code)

		assert.Equal(t, int64(1), m.Snapshot().BatchQueries)
	}
}

func TestRouteBatchEchoesSubmittedQuery(t *testing.T) {
	svc, _ := newTestService(config.ProvidersConfig{}, newMock("yfinance"))

	submitted := models.Query{
		Asset:    models.AssetStock,
		Symbols:  []string{"AAPL"},
		Market:   "US",
		Provider: " yfinance ",
	}
	items := svc.RouteBatch(context.Background(), models.BatchQuery{Queries: []models.Query{submitted}})

	require.Len(t, items, 1)
	require.NotNil(t, items[0].Data)
	assert.Nil(t, items[0].Error)
	assert.Equal(t, submitted, items[0].Query)
	assert.Equal(t, "yfinance", items[0].Data.Metadata.DataSource)
}

func TestMarketData(t *testing.T) {
	yf := newMock("yfinance")
	svc, _ := newTestService(config.ProvidersConfig{MarketDefaults: map[string]string{"us": "yfinance"}}, yf)

	t.Run("explicit symbols", func(t *testing.T) {
		items, err := svc.MarketData(context.Background(), models.MarketQuery{
			Market: "US", Symbols: []string{"AAPL", "MSFT"}, Limit: 5,
		})
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, []string{"MSFT"}, items[1].Query.Symbols)
		assert.Equal(t, models.MarketUS, items[1].Query.Market)
		assert.Equal(t, 5, items[1].Query.Limit)
		assert.Equal(t, "MSFT", items[1].Data.Data[0].Symbol)
	})

	t.Run("catalog symbols", func(t *testing.T) {
		items, err := svc.MarketData(context.Background(), models.MarketQuery{Market: models.MarketUS})
		require.NoError(t, err)
		assert.Len(t, items, len(symbolCatalog[models.MarketUS]))
	})

	t.Run("market required", func(t *testing.T) {
		_, err := svc.MarketData(context.Background(), models.MarketQuery{})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
	})

	t.Run("unknown market", func(t *testing.T) {
		_, err := svc.MarketData(context.Background(), models.MarketQuery{Market: "mars", Symbols: []string{"X"}})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
	})
}

func TestSymbolsAndProviders(t *testing.T) {
	svc, _ := newTestService(config.ProvidersConfig{}, newMock("yfinance"), newMock("akshare"))

	symbols, err := svc.Symbols("CN")
	require.NoError(t, err)
	assert.Contains(t, symbols, "600519")

	symbols, err = svc.Symbols(models.MarketGlobal)
	require.NoError(t, err)
	assert.Empty(t, symbols)

	_, err = svc.Symbols("mars")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))

	infos := svc.Providers()
	require.Len(t, infos, 2)
	assert.Equal(t, "yfinance", infos[0].Name)
	assert.Equal(t, "akshare", infos[1].Name)
}

func TestCatalogReturnsCopies(t *testing.T) {
	a, err := catalogSymbols(models.MarketUS)
	require.NoError(t, err)
	a[0] = "MUTATED"

	b, err := catalogSymbols(models.MarketUS)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", b[0])
}
