package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/Ruscigno/vprism/pkg/errors"
	"github.com/Ruscigno/vprism/pkg/models"
)

type stubProvider struct {
	name  string
	fetch func(ctx context.Context, q models.Query) ([]models.DataPoint, error)
}

func (s *stubProvider) Name() string              { return s.name }
func (s *stubProvider) Info() models.ProviderInfo { return models.ProviderInfo{Name: s.name} }
func (s *stubProvider) Fetch(ctx context.Context, q models.Query) ([]models.DataPoint, error) {
	return s.fetch(ctx, q)
}

func point(symbol string) models.DataPoint {
	return models.DataPoint{Symbol: symbol, Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
}

func TestRegistry(t *testing.T) {
	a := &stubProvider{name: "yfinance"}
	b := &stubProvider{name: "akshare"}
	r := NewRegistry(a, b)

	assert.Equal(t, []string{"yfinance", "akshare"}, r.Names())

	got, ok := r.Get("YFinance")
	require.True(t, ok)
	assert.Same(t, a, got)

	_, ok = r.Get("alpha_vantage")
	assert.False(t, ok)

	replacement := &stubProvider{name: "YFINANCE"}
	r.Register(replacement)
	assert.Equal(t, []string{"yfinance", "akshare"}, r.Names(), "replacing keeps position")
	first, ok := r.First()
	require.True(t, ok)
	assert.Same(t, replacement, first)
	assert.Len(t, r.All(), 2)

	_, ok = NewRegistry().First()
	assert.False(t, ok)
}

func TestFetchEach(t *testing.T) {
	logger := zap.NewNop()
	noData := apperrors.NewAppError(apperrors.ErrCodeNoData, "none")
	failed := apperrors.NewAppError(apperrors.ErrCodeFetchFailed, "503")

	outcomes := map[string]error{"EMPTY": noData, "DOWN": failed}
	fn := func(_ context.Context, symbol string) ([]models.DataPoint, error) {
		if err, ok := outcomes[symbol]; ok {
			return nil, err
		}
		return []models.DataPoint{point(symbol)}, nil
	}

	t.Run("partial results win over failures", func(t *testing.T) {
		points, err := fetchEach(context.Background(), logger, "stub", []string{"EMPTY", "DOWN", "AAPL", "MSFT"}, fn)
		require.NoError(t, err)
		require.Len(t, points, 2)
		assert.Equal(t, "AAPL", points[0].Symbol)
		assert.Equal(t, "MSFT", points[1].Symbol)
	})

	t.Run("no data anywhere", func(t *testing.T) {
		_, err := fetchEach(context.Background(), logger, "stub", []string{"EMPTY"}, fn)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNoData))
	})

	t.Run("only failures", func(t *testing.T) {
		_, err := fetchEach(context.Background(), logger, "stub", []string{"EMPTY", "DOWN"}, fn)
		assert.Equal(t, apperrors.ErrCodeFetchFailed, apperrors.GetAppError(err).Code)
	})

	t.Run("rejections keep their code", func(t *testing.T) {
		_, err := fetchEach(context.Background(), logger, "stub", []string{"BAD"}, func(context.Context, string) ([]models.DataPoint, error) {
			return nil, apperrors.NewAppError(apperrors.ErrCodeBadRequest, "unsupported symbol")
		})
		assert.Equal(t, apperrors.ErrCodeBadRequest, apperrors.GetAppError(err).Code)
	})

	t.Run("plain errors become fetch failures", func(t *testing.T) {
		_, err := fetchEach(context.Background(), logger, "stub", []string{"X"}, func(context.Context, string) ([]models.DataPoint, error) {
			return nil, errors.New("connection reset")
		})
		assert.Equal(t, apperrors.ErrCodeFetchFailed, apperrors.GetAppError(err).Code)
	})

	t.Run("invalid rows reject only their symbol", func(t *testing.T) {
		points, err := fetchEach(context.Background(), logger, "stub", []string{"AAPL", "NEG"}, func(_ context.Context, symbol string) ([]models.DataPoint, error) {
			p := point(symbol)
			if symbol == "NEG" {
				p.Volume = models.Dec(decimal.NewFromInt(-1))
			}
			return []models.DataPoint{p}, nil
		})
		require.NoError(t, err)
		require.Len(t, points, 1)
		assert.Equal(t, "AAPL", points[0].Symbol)

		_, err = fetchEach(context.Background(), logger, "stub", []string{"UNDATED"}, func(_ context.Context, symbol string) ([]models.DataPoint, error) {
			return []models.DataPoint{{Symbol: symbol}}, nil
		})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeFetchFailed))
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := fetchEach(ctx, logger, "stub", []string{"AAPL"}, fn)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeFetchFailed))
	})
}

func TestLastN(t *testing.T) {
	points := []models.DataPoint{point("A"), point("B"), point("C")}
	assert.Len(t, lastN(points, 0), 3)
	assert.Len(t, lastN(points, 5), 3)
	got := lastN(points, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].Symbol)

	assert.Equal(t, DefaultLimit, queryLimit(models.Query{}))
	assert.Equal(t, 7, queryLimit(models.Query{Limit: 7}))
}
