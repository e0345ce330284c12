package models

import (
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/Ruscigno/vprism/pkg/errors"
)

// DataPoint is one normalized bar. Numeric fields are optional and keep full precision.
type DataPoint struct {
	Symbol    string           `json:"symbol"`
	Timestamp time.Time        `json:"timestamp"`
	Open      *decimal.Decimal `json:"open,omitempty"`
	High      *decimal.Decimal `json:"high,omitempty"`
	Low       *decimal.Decimal `json:"low,omitempty"`
	Close     *decimal.Decimal `json:"close,omitempty"`
	Volume    *decimal.Decimal `json:"volume,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Extra     map[string]any   `json:"extra,omitempty"`
}

// Validate enforces the timestamp and non-negative volume invariants.
func (p DataPoint) Validate() error {
	ve := apperrors.NewValidationError("invalid data point")
	if p.Timestamp.IsZero() {
		ve.AddField("timestamp", "timestamp is required", nil)
	}
	if p.Volume != nil && p.Volume.IsNegative() {
		ve.AddField("volume", "volume must not be negative", p.Volume.String())
	}
	return ve.OrNil()
}

// Dec is a small helper for building optional decimal fields.
func Dec(d decimal.Decimal) *decimal.Decimal { return &d }

// Asset describes a tradable instrument.
type Asset struct {
	Symbol   string         `json:"symbol"`
	Name     string         `json:"name"`
	Type     AssetType      `json:"asset_type"`
	Market   Market         `json:"market"`
	Currency string         `json:"currency"`
	Exchange string         `json:"exchange,omitempty"`
	Sector   string         `json:"sector,omitempty"`
	Industry string         `json:"industry,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ResponseMetadata describes how a response was produced.
type ResponseMetadata struct {
	TotalRecords int     `json:"total_records"`
	QueryTimeMS  float64 `json:"query_time_ms"`
	DataSource   string  `json:"data_source"`
	CacheHit     bool    `json:"cache_hit"`
}

// ProviderInfo identifies the adapter that produced a response.
type ProviderInfo struct {
	Name        string     `json:"name"`
	Version     string     `json:"version,omitempty"`
	Endpoint    string     `json:"endpoint,omitempty"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

// DataResponse owns its data points; they have no identity outside it.
type DataResponse struct {
	Data      []DataPoint      `json:"data"`
	Metadata  ResponseMetadata `json:"metadata"`
	Source    ProviderInfo     `json:"source"`
	Cached    bool             `json:"cached"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewDataResponse packages provider output. TotalRecords always equals len(data).
func NewDataResponse(data []DataPoint, source ProviderInfo, elapsed time.Duration) *DataResponse {
	if data == nil {
		data = []DataPoint{}
	}
	return &DataResponse{
		Data: data,
		Metadata: ResponseMetadata{
			TotalRecords: len(data),
			QueryTimeMS:  float64(elapsed.Microseconds()) / 1000,
			DataSource:   source.Name,
			CacheHit:     false,
		},
		Source:    source,
		Cached:    false,
		Timestamp: time.Now().UTC(),
	}
}

// ErrorResponse is the terminal representation of a failure.
type ErrorResponse struct {
	Code      string         `json:"error"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewErrorResponse builds an ErrorResponse stamped with the current time.
func NewErrorResponse(code, message string, details map[string]any) *ErrorResponse {
	return &ErrorResponse{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// ErrorResponseFrom renders any error for clients. Errors without an AppError in
// their chain, and internal errors, collapse into a generic internal error.
func ErrorResponseFrom(err error) *ErrorResponse {
	appErr := apperrors.GetAppError(err)
	if appErr == nil {
		return NewErrorResponse(string(apperrors.ErrCodeInternal), apperrors.InternalMessage, nil)
	}
	code, message, details := appErr.Public()
	return NewErrorResponse(string(code), message, details)
}
