package provider

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/Ruscigno/vprism/pkg/errors"
	"github.com/Ruscigno/vprism/pkg/models"
)

const (
	// DefaultLimit is the record limit applied when a query does not set one.
	DefaultLimit = 100
	// LookbackBuffer widens the fetch window to absorb non-trading days.
	LookbackBuffer = 10 * 24 * time.Hour

	UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/91.0.4472.124"
)

// Provider fetches normalized data points from one external source.
type Provider interface {
	Name() string
	Info() models.ProviderInfo
	Fetch(ctx context.Context, query models.Query) ([]models.DataPoint, error)
}

// Registry holds providers by name in registration order.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

// NewRegistry creates a registry pre-populated with providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider. Replacing keeps the original position.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := strings.ToLower(p.Name())
	if _, exists := r.providers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.providers[name] = p
}

// Get looks up a provider by case-insensitive name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(name)]
	return p, ok
}

// Names lists registered providers in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// First returns the earliest registered provider.
func (r *Registry) First() (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return nil, false
	}
	return r.providers[r.order[0]], true
}

// All returns providers in registration order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.providers[name])
	}
	return out
}

// fetchFunc fetches one symbol. It returns ErrCodeNoData when the source has nothing.
type fetchFunc func(ctx context.Context, symbol string) ([]models.DataPoint, error)

// fetchEach runs fn for every query symbol in order and concatenates the results.
// Symbols without data are skipped; failing symbols are logged and skipped.
// The call fails only when no symbol produced data.
func fetchEach(ctx context.Context, logger *zap.Logger, provider string, symbols []string, fn fetchFunc) ([]models.DataPoint, error) {
	var (
		out       []models.DataPoint
		lastErr   error
		anyFailed bool
	)

	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.WrapError(err, apperrors.ErrCodeFetchFailed, "fetch cancelled")
		}

		points, err := fn(ctx, symbol)
		if err == nil {
			err = validatePoints(symbol, points)
		}
		if err != nil {
			if apperrors.IsCode(err, apperrors.ErrCodeNoData) {
				logger.Debug("No data for symbol",
					zap.String("provider", provider),
					zap.String("symbol", symbol))
				continue
			}
			anyFailed = true
			lastErr = err
			logger.Warn("Failed to fetch symbol",
				zap.String("provider", provider),
				zap.String("symbol", symbol),
				zap.Error(err))
			continue
		}
		out = append(out, points...)
	}

	if len(out) > 0 {
		return out, nil
	}
	if anyFailed {
		// Rejections such as unsupported symbols keep their own code.
		if apperrors.GetAppError(lastErr) != nil && !apperrors.IsCode(lastErr, apperrors.ErrCodeFetchFailed) {
			return nil, lastErr
		}
		return nil, apperrors.WrapError(lastErr, apperrors.ErrCodeFetchFailed, provider+": all symbols failed")
	}
	return nil, apperrors.Newf(apperrors.ErrCodeNoData, "%s returned no data", provider)
}

// validatePoints rejects a symbol whose normalized rows break the data point invariants.
func validatePoints(symbol string, points []models.DataPoint) error {
	for i, p := range points {
		if err := p.Validate(); err != nil {
			return apperrors.WrapError(err, apperrors.ErrCodeFetchFailed, "unexpected schema: invalid data point").
				WithDetail("symbol", symbol).
				WithDetail("row", i)
		}
	}
	return nil
}

// lastN keeps the most recent n points. Points must be in ascending time order.
func lastN(points []models.DataPoint, n int) []models.DataPoint {
	if n <= 0 || len(points) <= n {
		return points
	}
	return points[len(points)-n:]
}

func queryLimit(q models.Query) int {
	if q.Limit > 0 {
		return q.Limit
	}
	return DefaultLimit
}

// getJSON issues a GET and fails with FetchFailed on transport errors or non-200 responses.
func getJSON(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeFetchFailed, "failed to create request")
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeFetchFailed, "failed to fetch data")
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, apperrors.NewAppError(apperrors.ErrCodeNoData, "symbol not found upstream")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, apperrors.Newf(apperrors.ErrCodeFetchFailed, "unexpected status code: %d", resp.StatusCode).
			WithDetail("status", resp.StatusCode)
	}
	return resp, nil
}
