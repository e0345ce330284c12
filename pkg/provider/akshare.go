package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "github.com/Ruscigno/vprism/pkg/errors"
	"github.com/Ruscigno/vprism/pkg/models"
)

const (
	AkshareName = "akshare"

	eastMoneyKlinePath = "/api/qt/stock/kline/get?secid=%s&fields1=f1,f2,f3,f4,f5,f6" +
		"&fields2=f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61&klt=%d&fqt=1&beg=%s&end=%s"
	eastMoneyDate   = "2006-01-02"
	eastMoneyMinute = "2006-01-02 15:04"
)

// China Standard Time; East Money reports exchange-local timestamps.
var chinaTZ = time.FixedZone("CST", 8*3600)

var eastMoneyKlt = map[models.Timeframe]int{
	models.Timeframe1m:  1,
	models.Timeframe5m:  5,
	models.Timeframe15m: 15,
	models.Timeframe30m: 30,
	models.Timeframe1h:  60,
	models.Timeframe1d:  101,
	models.Timeframe1w:  102,
	models.Timeframe1M:  103,
}

// Kline columns after date/open/close/high/low/volume/amount.
var eastMoneyExtraColumns = []string{"amplitude", "pct_change", "change", "turnover"}

type eastMoneyResponse struct {
	RC   int `json:"rc"`
	Data *struct {
		Code   string   `json:"code"`
		Market int      `json:"market"`
		Name   string   `json:"name"`
		Klines []string `json:"klines"`
	} `json:"data"`
}

// Akshare reads A-share history from the East Money kline API, the same source akshare uses.
type Akshare struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
	now     func() time.Time
}

// NewAkshare creates the adapter. baseURL is the API origin, without a trailing path.
func NewAkshare(baseURL string, timeout time.Duration, logger *zap.Logger) *Akshare {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Akshare{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.Named(AkshareName),
		now:     time.Now,
	}
}

func (a *Akshare) Name() string { return AkshareName }

func (a *Akshare) Info() models.ProviderInfo {
	return models.ProviderInfo{Name: AkshareName, Version: "eastmoney-kline", Endpoint: a.baseURL}
}

// Fetch downloads every query symbol and returns their bars in symbol order.
func (a *Akshare) Fetch(ctx context.Context, query models.Query) ([]models.DataPoint, error) {
	timeframe := query.Timeframe.OrDefault()
	klt, ok := eastMoneyKlt[timeframe]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrCodeBadRequest, "timeframe %q not supported by %s", timeframe, AkshareName)
	}
	start, end := query.Window(a.now(), DefaultLimit, LookbackBuffer)
	limit := queryLimit(query)

	return fetchEach(ctx, a.logger, AkshareName, query.Symbols, func(ctx context.Context, symbol string) ([]models.DataPoint, error) {
		points, err := a.fetchSymbol(ctx, symbol, klt, start, end)
		if err != nil {
			return nil, err
		}
		return lastN(points, limit), nil
	})
}

func (a *Akshare) fetchSymbol(ctx context.Context, symbol string, klt int, start, end time.Time) ([]models.DataPoint, error) {
	secid, err := EastMoneySecID(symbol)
	if err != nil {
		return nil, err
	}

	u := a.baseURL + fmt.Sprintf(eastMoneyKlinePath, secid, klt,
		start.In(chinaTZ).Format("20060102"), end.In(chinaTZ).Format("20060102"))

	a.logger.Debug("Requesting klines",
		zap.String("symbol", symbol),
		zap.String("secid", secid),
		zap.Int("klt", klt))

	resp, err := getJSON(ctx, a.client, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body eastMoneyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeFetchFailed, "failed to decode response")
	}
	if body.Data == nil || len(body.Data.Klines) == 0 {
		return nil, apperrors.NewAppError(apperrors.ErrCodeNoData, "no data returned").WithDetail("symbol", symbol)
	}

	points := make([]models.DataPoint, 0, len(body.Data.Klines))
	for _, line := range body.Data.Klines {
		p, err := parseKline(strings.TrimSpace(symbol), line)
		if err != nil {
			return nil, err
		}
		if body.Data.Name != "" {
			p.Extra["name"] = body.Data.Name
		}
		points = append(points, p)
	}
	return points, nil
}

// parseKline reads one "date,open,close,high,low,volume,amount,..." row.
func parseKline(symbol, line string) (models.DataPoint, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 7 {
		return models.DataPoint{}, apperrors.Newf(apperrors.ErrCodeFetchFailed, "unexpected schema: kline has %d fields", len(fields)).
			WithDetail("line", line)
	}

	layout := eastMoneyDate
	if len(fields[0]) > len(eastMoneyDate) {
		layout = eastMoneyMinute
	}
	ts, err := time.ParseInLocation(layout, fields[0], chinaTZ)
	if err != nil {
		return models.DataPoint{}, apperrors.WrapError(err, apperrors.ErrCodeFetchFailed, "unexpected schema: bad kline date")
	}

	values := make([]*decimal.Decimal, 6)
	for i := range values {
		d, err := decimal.NewFromString(fields[i+1])
		if err != nil {
			return models.DataPoint{}, apperrors.WrapError(err, apperrors.ErrCodeFetchFailed, "unexpected schema: bad kline number")
		}
		values[i] = &d
	}

	p := models.DataPoint{
		Symbol:    symbol,
		Timestamp: ts.UTC(),
		Open:      values[0],
		Close:     values[1],
		High:      values[2],
		Low:       values[3],
		Volume:    values[4],
		Amount:    values[5],
		Extra:     map[string]any{},
	}
	for i, name := range eastMoneyExtraColumns {
		if 7+i >= len(fields) {
			break
		}
		if d, err := decimal.NewFromString(fields[7+i]); err == nil {
			p.Extra[name] = d.String()
		}
	}
	return p, nil
}
