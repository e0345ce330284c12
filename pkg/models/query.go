package models

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Ruscigno/vprism/pkg/errors"
)

// AssetType classifies the instrument a query is about.
type AssetType string

const (
	AssetStock   AssetType = "stock"
	AssetBond    AssetType = "bond"
	AssetETF     AssetType = "etf"
	AssetFund    AssetType = "fund"
	AssetFutures AssetType = "futures"
	AssetOptions AssetType = "options"
	AssetForex   AssetType = "forex"
	AssetCrypto  AssetType = "crypto"
	AssetIndex   AssetType = "index"
)

var assetTypes = map[AssetType]bool{
	AssetStock: true, AssetBond: true, AssetETF: true, AssetFund: true, AssetFutures: true,
	AssetOptions: true, AssetForex: true, AssetCrypto: true, AssetIndex: true,
}

// Valid reports whether the asset type is known.
func (a AssetType) Valid() bool { return assetTypes[a] }

// Market identifies a trading venue region.
type Market string

const (
	MarketUS     Market = "us"
	MarketCN     Market = "cn"
	MarketHK     Market = "hk"
	MarketEU     Market = "eu"
	MarketJP     Market = "jp"
	MarketGlobal Market = "global"
)

var markets = map[Market]bool{
	MarketUS: true, MarketCN: true, MarketHK: true, MarketEU: true, MarketJP: true, MarketGlobal: true,
}

// Valid reports whether the market is known.
func (m Market) Valid() bool { return markets[m] }

// ParseMarket normalizes user input such as "US" or " cn ".
func ParseMarket(s string) Market {
	return Market(strings.ToLower(strings.TrimSpace(s)))
}

// Timeframe is the bar interval.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe1d  Timeframe = "1d"
	Timeframe1w  Timeframe = "1w"
	Timeframe1M  Timeframe = "1M"
)

var timeframes = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe30m: 30 * time.Minute,
	Timeframe1h:  time.Hour,
	Timeframe1d:  24 * time.Hour,
	Timeframe1w:  7 * 24 * time.Hour,
	Timeframe1M:  30 * 24 * time.Hour,
}

// Valid reports whether the timeframe is known.
func (t Timeframe) Valid() bool {
	_, ok := timeframes[t]
	return ok
}

// Duration is the nominal length of one bar. Unknown timeframes count as one day.
func (t Timeframe) Duration() time.Duration {
	if d, ok := timeframes[t]; ok {
		return d
	}
	return 24 * time.Hour
}

// OrDefault returns the daily timeframe when t is empty.
func (t Timeframe) OrDefault() Timeframe {
	if t == "" {
		return Timeframe1d
	}
	return t
}

// Query is a typed request for market data.
// It is passed by value and never mutated once built; helpers return copies.
type Query struct {
	Asset     AssetType  `json:"asset"`
	Market    Market     `json:"market,omitempty"`
	Provider  string     `json:"provider,omitempty"`
	Timeframe Timeframe  `json:"timeframe,omitempty"`
	Start     *time.Time `json:"start,omitempty"`
	End       *time.Time `json:"end,omitempty"`
	Symbols   []string   `json:"symbols,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// Validate checks the query shape and returns a field-level ValidationError.
func (q Query) Validate() error {
	ve := apperrors.NewValidationError("invalid query")

	if len(q.Symbols) == 0 && q.Market == "" {
		ve.AddField("symbols", "either symbols or market is required", nil)
	}
	if q.Asset == "" {
		ve.AddField("asset", "asset type is required", nil)
	} else if !q.Asset.Valid() {
		ve.AddField("asset", "unknown asset type", string(q.Asset))
	}
	if q.Market != "" && !q.Market.Valid() {
		ve.AddField("market", "unknown market", string(q.Market))
	}
	if q.Timeframe != "" && !q.Timeframe.Valid() {
		ve.AddField("timeframe", "unknown timeframe", string(q.Timeframe))
	}
	if q.Start != nil && q.End != nil && q.Start.After(*q.End) {
		ve.AddField("start", "start must not be after end", q.Start.Format(time.RFC3339))
	}
	if q.Limit < 0 {
		ve.AddField("limit", "limit must not be negative", q.Limit)
	}
	for i, s := range q.Symbols {
		if strings.TrimSpace(s) == "" {
			ve.AddField(fmt.Sprintf("symbols[%d]", i), "symbol must not be empty", s)
		}
	}

	return ve.OrNil()
}

// Normalized returns a copy with the market lowercased and the provider name trimmed.
func (q Query) Normalized() Query {
	q.Market = ParseMarket(string(q.Market))
	q.Provider = strings.TrimSpace(q.Provider)
	return q
}

// WithSymbols returns a copy of the query targeting the given symbols.
func (q Query) WithSymbols(symbols ...string) Query {
	q.Symbols = append([]string(nil), symbols...)
	return q
}

// WithProvider returns a copy of the query pinned to a provider.
func (q Query) WithProvider(name string) Query {
	q.Provider = name
	return q
}

// Window resolves the fetch window. When start is unset the window reaches back
// far enough to hold limit bars plus a buffer for non-trading days.
func (q Query) Window(now time.Time, defaultLimit int, buffer time.Duration) (time.Time, time.Time) {
	end := now.UTC()
	if q.End != nil {
		end = q.End.UTC()
	}
	if q.Start != nil {
		return q.Start.UTC(), end
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	lookback := time.Duration(limit)*q.Timeframe.OrDefault().Duration() + buffer
	return end.Add(-lookback), end
}

// BatchQuery is a list of independent queries processed together.
type BatchQuery struct {
	Queries         []Query `json:"queries"`
	AsyncProcessing bool    `json:"async_processing"`
}

// BatchItem pairs one input query with its outcome. Exactly one of Data and Error is set.
type BatchItem struct {
	Query Query          `json:"query"`
	Data  *DataResponse  `json:"data"`
	Error *ErrorResponse `json:"error,omitempty"`
}

// MarketQuery asks for the same window across many symbols of one market.
type MarketQuery struct {
	Market    Market    `json:"market"`
	Timeframe Timeframe `json:"timeframe,omitempty"`
	Symbols   []string  `json:"symbols,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Provider  string    `json:"provider,omitempty"`
}
