package endpoint

import (
	"context"
	"time"

	"github.com/go-kit/kit/endpoint"
	"go.uber.org/zap"

	apperrors "github.com/Ruscigno/vprism/pkg/errors"
	"github.com/Ruscigno/vprism/pkg/metrics"
)

// LoggingMiddleware logs each endpoint call; failures carry the error code.
func LoggingMiddleware(logger *zap.Logger, name string) endpoint.Middleware {
	return func(next endpoint.Endpoint) endpoint.Endpoint {
		return func(ctx context.Context, request interface{}) (response interface{}, err error) {
			defer func(begin time.Time) {
				if err == nil {
					logger.Debug("Endpoint call",
						zap.String("endpoint", name),
						zap.Duration("took", time.Since(begin)))
					return
				}
				code := apperrors.ErrCodeInternal
				if appErr := apperrors.GetAppError(err); appErr != nil {
					code = appErr.Code
				}
				logger.Warn("Endpoint call failed",
					zap.String("endpoint", name),
					zap.String("code", string(code)),
					zap.Duration("took", time.Since(begin)),
					zap.Error(err))
			}(time.Now())
			return next(ctx, request)
		}
	}
}

// ErrorMetricsMiddleware counts endpoint failures by error code.
func ErrorMetricsMiddleware(m *metrics.ApplicationMetrics, name string) endpoint.Middleware {
	return func(next endpoint.Endpoint) endpoint.Endpoint {
		return func(ctx context.Context, request interface{}) (interface{}, error) {
			response, err := next(ctx, request)
			if err != nil {
				code := apperrors.ErrCodeInternal
				if appErr := apperrors.GetAppError(err); appErr != nil {
					code = appErr.Code
				}
				m.RecordError(string(code), "endpoint."+name)
			}
			return response, err
		}
	}
}
