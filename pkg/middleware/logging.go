package middleware

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/Ruscigno/vprism/pkg/errors"
)

type loggingContextKey string

const requestLoggerKey loggingContextKey = "request_logger"

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Logger           *zap.Logger
	SensitiveHeaders []string // Headers to redact in logs
}

// responseWriter wraps http.ResponseWriter to capture response data
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int
	wroteHeader bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	if !rw.wroteHeader {
		rw.statusCode = statusCode
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	rw.wroteHeader = true
	size, err := rw.ResponseWriter.Write(data)
	rw.size += size
	return size, err
}

// Hijack implements http.Hijacker interface
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// RequestLogging middleware logs HTTP requests and responses
func RequestLogging(config LoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := RequestIDFromContext(r.Context())
			wrapped := newResponseWriter(w)

			logRequest(config, r, requestID)
			next.ServeHTTP(wrapped, r)
			logResponse(config, r, wrapped, time.Since(start), requestID)
		})
	}
}

// logRequest logs the incoming HTTP request
func logRequest(config LoggingConfig, r *http.Request, requestID string) {
	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		if len(values) == 0 {
			continue
		}
		if isSensitiveHeader(name, config.SensitiveHeaders) {
			headers[name] = "[REDACTED]"
		} else {
			headers[name] = values[0]
		}
	}

	config.Logger.Debug("HTTP request",
		zap.String("request_id", requestID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("query", r.URL.RawQuery),
		zap.String("remote_addr", getClientIP(r)),
		zap.String("user_agent", r.UserAgent()),
		zap.Int64("content_length", r.ContentLength),
		zap.Any("headers", headers),
	)
}

// logResponse logs the HTTP response
func logResponse(config LoggingConfig, r *http.Request, rw *responseWriter, duration time.Duration, requestID string) {
	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status_code", rw.statusCode),
		zap.Int("response_size", rw.size),
		zap.Duration("duration", duration),
		zap.Float64("duration_ms", float64(duration.Nanoseconds())/1e6),
	}

	switch {
	case rw.statusCode >= 500:
		config.Logger.Error("HTTP response", fields...)
	case rw.statusCode >= 400:
		config.Logger.Warn("HTTP response", fields...)
	default:
		config.Logger.Info("HTTP response", fields...)
	}
}

// StructuredLogging middleware puts a request-scoped logger in the context.
func StructuredLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestLogger := logger.With(
				zap.String("request_id", RequestIDFromContext(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			ctx := context.WithValue(r.Context(), requestLoggerKey, requestLogger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext returns the request-scoped logger, or fallback when there is none.
func LoggerFromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(requestLoggerKey).(*zap.Logger); ok {
		return l
	}
	return fallback
}

// Recovery turns handler panics into a generic 500 envelope. The panic value is logged, never returned.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("HTTP handler panic",
						zap.String("request_id", RequestIDFromContext(r.Context())),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.String("remote_addr", getClientIP(r)),
						zap.Any("panic", rec),
						zap.Stack("stack"),
					)
					WriteError(r.Context(), w, apperrors.NewAppError(apperrors.ErrCodeInternal, fmt.Sprint(rec)))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// isSensitiveHeader checks if a header should be redacted
func isSensitiveHeader(headerName string, sensitiveHeaders []string) bool {
	defaultSensitive := []string{
		"authorization",
		"x-api-key",
		"cookie",
		"set-cookie",
	}

	for _, sensitive := range append(defaultSensitive, sensitiveHeaders...) {
		if strings.EqualFold(headerName, sensitive) {
			return true
		}
	}
	return false
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, ip := range strings.Split(xff, ",") {
			if ip = strings.TrimSpace(ip); net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
