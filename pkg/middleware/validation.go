package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/Ruscigno/vprism/pkg/errors"
)

// ValidationConfig holds validation configuration
type ValidationConfig struct {
	MaxBodySize int64 // Maximum request body size in bytes
	Logger      *zap.Logger
}

// RequestValidation rejects oversized bodies and malformed JSON before routing.
// Failures are written as error envelopes.
func RequestValidation(config ValidationConfig) func(http.Handler) http.Handler {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut {
				next.ServeHTTP(w, r)
				return
			}

			if config.MaxBodySize > 0 && r.ContentLength > config.MaxBodySize {
				config.Logger.Warn("Request body too large",
					zap.Int64("content_length", r.ContentLength),
					zap.Int64("max_size", config.MaxBodySize),
					zap.String("path", r.URL.Path))

				WriteError(r.Context(), w, apperrors.Newf(apperrors.ErrCodeRequestTooLarge,
					"request body too large, maximum size is %d bytes", config.MaxBodySize).
					WithDetail("max_size", config.MaxBodySize))
				return
			}

			var reader io.Reader = r.Body
			if config.MaxBodySize > 0 {
				// One extra byte tells an exactly-full body from an oversized one.
				reader = io.LimitReader(r.Body, config.MaxBodySize+1)
			}
			body, err := io.ReadAll(reader)
			r.Body.Close()
			if err != nil {
				config.Logger.Warn("Failed to read request body", zap.Error(err))
				WriteError(r.Context(), w, apperrors.NewAppError(apperrors.ErrCodeBadRequest, "failed to read request body"))
				return
			}
			if config.MaxBodySize > 0 && int64(len(body)) > config.MaxBodySize {
				WriteError(r.Context(), w, apperrors.Newf(apperrors.ErrCodeRequestTooLarge,
					"request body too large, maximum size is %d bytes", config.MaxBodySize).
					WithDetail("max_size", config.MaxBodySize))
				return
			}

			if len(bytes.TrimSpace(body)) > 0 {
				if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "json") {
					WriteError(r.Context(), w, apperrors.Newf(apperrors.ErrCodeBadRequest, "unsupported content type %q", ct))
					return
				}
				if !json.Valid(body) {
					config.Logger.Warn("Invalid JSON format", zap.String("path", r.URL.Path))
					WriteError(r.Context(), w, apperrors.NewAppError(apperrors.ErrCodeBadRequest, "invalid JSON format"))
					return
				}
			}

			// Restore body for downstream handlers
			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			next.ServeHTTP(w, r)
		})
	}
}
