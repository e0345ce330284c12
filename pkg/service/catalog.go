package service

import (
	apperrors "github.com/Ruscigno/vprism/pkg/errors"
	"github.com/Ruscigno/vprism/pkg/models"
)

// symbolCatalog lists the well-known symbols per market used when a query names only a market.
var symbolCatalog = map[models.Market][]string{
	models.MarketUS: {"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA", "META", "NVDA"},
	models.MarketCN: {"000001", "000002", "600000", "600036", "600519"},
	models.MarketHK: {"0700.HK", "0941.HK", "9988.HK"},
}

// catalogSymbols returns a copy of the catalog entry. Known markets without
// an entry yield an empty list; unknown markets are a validation error.
func catalogSymbols(market models.Market) ([]string, error) {
	if !market.Valid() {
		return nil, apperrors.NewValidationError("invalid market",
			apperrors.FieldError{Field: "market", Message: "unknown market", Value: string(market)})
	}
	return append([]string{}, symbolCatalog[market]...), nil
}
