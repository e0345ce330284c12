package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "github.com/Ruscigno/vprism/pkg/errors"
	"github.com/Ruscigno/vprism/pkg/models"
)

const (
	YFinanceName = "yfinance"

	yahooChartPath = "/v8/finance/chart/%s?interval=%s&period1=%d&period2=%d&events=history"
)

var yahooIntervals = map[models.Timeframe]string{
	models.Timeframe1m:  "1m",
	models.Timeframe5m:  "5m",
	models.Timeframe15m: "15m",
	models.Timeframe30m: "30m",
	models.Timeframe1h:  "60m",
	models.Timeframe1d:  "1d",
	models.Timeframe1w:  "1wk",
	models.Timeframe1M:  "1mo",
}

type yahooChartResponse struct {
	Chart struct {
		Result []yahooChartResult `json:"result"`
		Error  *yahooError        `json:"error"`
	} `json:"chart"`
}

type yahooError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type yahooChartResult struct {
	Meta struct {
		Symbol   string `json:"symbol"`
		Currency string `json:"currency"`
		Exchange string `json:"exchangeName"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*json.Number `json:"open"`
			High   []*json.Number `json:"high"`
			Low    []*json.Number `json:"low"`
			Close  []*json.Number `json:"close"`
			Volume []*json.Number `json:"volume"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*json.Number `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

// YFinance reads OHLCV bars from the Yahoo Finance chart API.
type YFinance struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
	now     func() time.Time
}

// NewYFinance creates the adapter. baseURL is the API origin, without a trailing path.
func NewYFinance(baseURL string, timeout time.Duration, logger *zap.Logger) *YFinance {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &YFinance{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.Named(YFinanceName),
		now:     time.Now,
	}
}

func (y *YFinance) Name() string { return YFinanceName }

func (y *YFinance) Info() models.ProviderInfo {
	return models.ProviderInfo{Name: YFinanceName, Version: "v8", Endpoint: y.baseURL}
}

// Fetch downloads every query symbol and returns their bars in symbol order.
func (y *YFinance) Fetch(ctx context.Context, query models.Query) ([]models.DataPoint, error) {
	timeframe := query.Timeframe.OrDefault()
	interval, ok := yahooIntervals[timeframe]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrCodeBadRequest, "timeframe %q not supported by %s", timeframe, YFinanceName)
	}
	start, end := query.Window(y.now(), DefaultLimit, LookbackBuffer)
	limit := queryLimit(query)

	return fetchEach(ctx, y.logger, YFinanceName, query.Symbols, func(ctx context.Context, symbol string) ([]models.DataPoint, error) {
		points, err := y.fetchSymbol(ctx, symbol, interval, start, end)
		if err != nil {
			return nil, err
		}
		return lastN(points, limit), nil
	})
}

func (y *YFinance) fetchSymbol(ctx context.Context, symbol, interval string, start, end time.Time) ([]models.DataPoint, error) {
	native := YahooSymbol(symbol)
	u := y.baseURL + fmt.Sprintf(yahooChartPath, url.PathEscape(native), interval, start.Unix(), end.Unix())

	y.logger.Debug("Requesting chart",
		zap.String("symbol", symbol),
		zap.String("native_symbol", native),
		zap.String("interval", interval))

	resp, err := getJSON(ctx, y.client, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var chart yahooChartResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&chart); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeFetchFailed, "failed to decode response")
	}

	if chart.Chart.Error != nil {
		return nil, apperrors.Newf(apperrors.ErrCodeNoData, "%s: %s", chart.Chart.Error.Code, chart.Chart.Error.Description).
			WithDetail("symbol", symbol)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 {
		return nil, apperrors.NewAppError(apperrors.ErrCodeNoData, "no data returned").WithDetail("symbol", symbol)
	}

	return extractYahooBars(chart.Chart.Result[0], strings.TrimSpace(symbol))
}

// extractYahooBars turns the column arrays into points, skipping bars with no values at all.
func extractYahooBars(result yahooChartResult, symbol string) ([]models.DataPoint, error) {
	if len(result.Indicators.Quote) == 0 {
		return nil, apperrors.NewAppError(apperrors.ErrCodeFetchFailed, "unexpected schema: no quote indicators")
	}
	quote := result.Indicators.Quote[0]
	var adj []*json.Number
	if len(result.Indicators.AdjClose) > 0 {
		adj = result.Indicators.AdjClose[0].AdjClose
	}

	points := make([]models.DataPoint, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		p := models.DataPoint{
			Symbol:    symbol,
			Timestamp: time.Unix(ts, 0).UTC(),
		}
		var err error
		if p.Open, err = numberAt(quote.Open, i); err != nil {
			return nil, err
		}
		if p.High, err = numberAt(quote.High, i); err != nil {
			return nil, err
		}
		if p.Low, err = numberAt(quote.Low, i); err != nil {
			return nil, err
		}
		if p.Close, err = numberAt(quote.Close, i); err != nil {
			return nil, err
		}
		if p.Volume, err = numberAt(quote.Volume, i); err != nil {
			return nil, err
		}
		if p.Open == nil && p.High == nil && p.Low == nil && p.Close == nil && p.Volume == nil {
			continue
		}
		if a, err := numberAt(adj, i); err == nil && a != nil {
			p.Extra = map[string]any{"adj_close": a.String()}
		}
		if result.Meta.Currency != "" {
			if p.Extra == nil {
				p.Extra = map[string]any{}
			}
			p.Extra["currency"] = result.Meta.Currency
		}
		points = append(points, p)
	}

	if len(points) == 0 {
		return nil, apperrors.NewAppError(apperrors.ErrCodeNoData, "no data returned").WithDetail("symbol", symbol)
	}
	return points, nil
}

// numberAt reads column[i]; missing entries and JSON nulls are nil.
func numberAt(column []*json.Number, i int) (*decimal.Decimal, error) {
	if i >= len(column) || column[i] == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(column[i].String())
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeFetchFailed, "unexpected schema: bad number")
	}
	return &d, nil
}
