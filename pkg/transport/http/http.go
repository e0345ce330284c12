package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/kit/transport"
	httptransport "github.com/go-kit/kit/transport/http"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Ruscigno/vprism/pkg/endpoint"
	apperrors "github.com/Ruscigno/vprism/pkg/errors"
	"github.com/Ruscigno/vprism/pkg/metrics"
	"github.com/Ruscigno/vprism/pkg/middleware"
	"github.com/Ruscigno/vprism/pkg/models"
)

// APIPrefix is the versioned path prefix of every route.
const APIPrefix = "/api/v1"

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	MaxBodySize    int64
	AllowedOrigins []string
	Logger         *zap.Logger
	Metrics        *metrics.ApplicationMetrics
	// Prometheus serves the text exposition format; nil leaves the route unregistered.
	Prometheus http.Handler
}

// NewHTTPHandler sets up HTTP handlers for the endpoints with middleware.
func NewHTTPHandler(endpoints endpoint.Endpoints, config HTTPConfig) http.Handler {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	logger := config.Logger

	options := []httptransport.ServerOption{
		httptransport.ServerErrorEncoder(errorEncoder(logger)),
		httptransport.ServerErrorHandler(transport.ErrorHandlerFunc(func(ctx context.Context, err error) {
			middleware.LoggerFromContext(ctx, logger).Debug("Request failed", zap.Error(err))
		})),
	}
	server := func(e endpointFunc, dec httptransport.DecodeRequestFunc) http.Handler {
		return httptransport.NewServer(e, dec, encodeResponse, options...)
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteError(req.Context(), w, apperrors.Newf(apperrors.ErrCodeNotFound, "route %s not found", req.URL.Path))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteError(req.Context(), w, apperrors.Newf(apperrors.ErrCodeMethodNotAllowed, "method %s not allowed on %s", req.Method, req.URL.Path))
	})

	r.Methods(http.MethodGet).Path(APIPrefix + "/health").
		Handler(server(endpoints.CheckHealth, decodeEmptyRequest))
	r.Methods(http.MethodGet).Path(APIPrefix + "/data/stock/{symbol}").
		Handler(server(endpoints.GetData, decodeGetStockRequest))
	r.Methods(http.MethodPost).Path(APIPrefix + "/data/stock").
		Handler(server(endpoints.GetData, decodePostStockRequest))
	r.Methods(http.MethodPost).Path(APIPrefix + "/data/batch").
		Handler(server(endpoints.GetBatch, decodeBatchRequest))
	r.Methods(http.MethodPost).Path(APIPrefix + "/data/market").
		Handler(server(endpoints.GetMarket, decodeMarketRequest))
	r.Methods(http.MethodGet).Path(APIPrefix + "/data/symbols").
		Handler(server(endpoints.GetSymbols, decodeSymbolsRequest))
	r.Methods(http.MethodGet).Path(APIPrefix + "/data/providers").
		Handler(server(endpoints.GetProvider, decodeEmptyRequest))
	r.Methods(http.MethodGet).Path(APIPrefix + "/metrics").
		Handler(server(endpoints.GetMetrics, decodeEmptyRequest))
	if config.Prometheus != nil {
		r.Methods(http.MethodGet).Path(APIPrefix + "/metrics/prometheus").Handler(config.Prometheus)
	}

	var handler http.Handler = r

	// Apply middleware in reverse order (last applied = first executed)
	handler = middleware.RequestValidation(middleware.ValidationConfig{
		MaxBodySize: config.MaxBodySize,
		Logger:      logger,
	})(handler)
	handler = middleware.Recovery(logger)(handler)
	handler = metrics.MetricsMiddleware(config.Metrics, routeLabel(r))(handler)
	handler = middleware.RequestLogging(middleware.LoggingConfig{Logger: logger})(handler)
	handler = middleware.StructuredLogging(logger)(handler)
	handler = middleware.CORS(config.AllowedOrigins)(handler)
	handler = middleware.SecurityHeaders()(handler)
	handler = middleware.RequestID()(handler)

	return handler
}

type endpointFunc = func(ctx context.Context, request interface{}) (interface{}, error)

// routeLabel maps requests to their route template so metrics labels stay bounded.
func routeLabel(r *mux.Router) func(*http.Request) string {
	return func(req *http.Request) string {
		var match mux.RouteMatch
		if r.Match(req, &match) && match.Route != nil {
			if tpl, err := match.Route.GetPathTemplate(); err == nil {
				return tpl
			}
		}
		return "unmatched"
	}
}

func decodeEmptyRequest(_ context.Context, _ *http.Request) (interface{}, error) {
	return nil, nil
}

// decodeGetStockRequest builds a query from the path symbol and query parameters.
func decodeGetStockRequest(_ context.Context, r *http.Request) (interface{}, error) {
	params := r.URL.Query()
	q := models.Query{
		Asset:     models.AssetStock,
		Symbols:   []string{mux.Vars(r)["symbol"]},
		Market:    models.ParseMarket(params.Get("market")),
		Provider:  strings.TrimSpace(params.Get("provider")),
		Timeframe: models.Timeframe(strings.TrimSpace(params.Get("timeframe"))),
	}

	ve := apperrors.NewValidationError("invalid query parameters")
	if raw := params.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			ve.AddField("limit", "limit must be an integer", raw)
		}
		q.Limit = limit
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"start", &q.Start}, {"end", &q.End}} {
		raw := params.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := parseTime(raw)
		if err != nil {
			ve.AddField(p.name, "expected RFC3339 timestamp or YYYY-MM-DD date", raw)
			continue
		}
		*p.dst = &t
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}
	return q, nil
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, raw)
}

// decodePostStockRequest reads a single query. The asset defaults to stock.
func decodePostStockRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var q models.Query
	if err := decodeJSON(r, &q); err != nil {
		return nil, err
	}
	if q.Asset == "" {
		q.Asset = models.AssetStock
	}
	return q, nil
}

func decodeBatchRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var batch models.BatchQuery
	if err := decodeJSON(r, &batch); err != nil {
		return nil, err
	}
	return batch, nil
}

func decodeMarketRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var q models.MarketQuery
	if err := decodeJSON(r, &q); err != nil {
		return nil, err
	}
	q.Market = models.ParseMarket(string(q.Market))
	return q, nil
}

func decodeSymbolsRequest(_ context.Context, r *http.Request) (interface{}, error) {
	market := models.ParseMarket(r.URL.Query().Get("market"))
	if market == "" {
		return nil, apperrors.NewValidationError("invalid query parameters",
			apperrors.FieldError{Field: "market", Message: "market is required"})
	}
	return endpoint.SymbolsRequest{Market: market}, nil
}

// decodeJSON reads a JSON body, rejecting unknown shapes as bad requests.
func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.NewAppError(apperrors.ErrCodeBadRequest, "request body is required")
		}
		return apperrors.WrapError(err, apperrors.ErrCodeBadRequest, "malformed request body").
			WithDetail("reason", err.Error())
	}
	return nil
}

func encodeResponse(ctx context.Context, w http.ResponseWriter, response interface{}) error {
	return middleware.WriteSuccess(ctx, w, response)
}

// errorEncoder writes the error envelope. Internal failures are logged with their cause.
func errorEncoder(logger *zap.Logger) httptransport.ErrorEncoder {
	return func(ctx context.Context, err error, w http.ResponseWriter) {
		if apperrors.HTTPStatus(err) >= http.StatusInternalServerError {
			middleware.LoggerFromContext(ctx, logger).Error("Internal error", zap.Error(err))
		}
		middleware.WriteError(ctx, w, err)
	}
}
