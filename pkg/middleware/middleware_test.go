package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	apperrors "github.com/Ruscigno/vprism/pkg/errors"
	"github.com/Ruscigno/vprism/pkg/models"
)

func decodeErrorEnvelope(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorEnvelope {
	t.Helper()
	var env models.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestRequestIDIsFreshPerRequest(t *testing.T) {
	var seen []string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, RequestIDFromContext(r.Context()))
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "client-chosen")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		id := rec.Header().Get(RequestIDHeader)
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, id, seen[i])
	}
	assert.NotEqual(t, seen[0], seen[1])
}

func TestRequestIDFromContextWithoutMiddleware(t *testing.T) {
	a := RequestIDFromContext(context.Background())
	b := RequestIDFromContext(context.Background())
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
	assert.Equal(t, "fixed", RequestIDFromContext(WithRequestID(context.Background(), "fixed")))
}

func TestWriteSuccessAndError(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")

	rec := httptest.NewRecorder()
	require.NoError(t, WriteSuccess(ctx, rec, map[string]int{"count": 2}))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, contentTypeJSON, rec.Header().Get("Content-Type"))
	var ok map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ok))
	assert.Equal(t, true, ok["success"])
	assert.Equal(t, "req-1", ok["request_id"])

	rec = httptest.NewRecorder()
	WriteError(ctx, rec, apperrors.NewAppError(apperrors.ErrCodeProviderNotFound, "provider \"x\" is not registered"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeErrorEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, "PROVIDER_NOT_FOUND", env.Error)
	assert.Equal(t, "req-1", env.RequestID)
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := Recovery(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("secret internal detail")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decodeErrorEnvelope(t, rec)
	assert.Equal(t, "INTERNAL_ERROR", env.Error)
	assert.Equal(t, apperrors.InternalMessage, env.Message)
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.Equal(t, 1, logs.FilterMessage("HTTP handler panic").Len())
}

func TestRecoveryRepanicsAbort(t *testing.T) {
	handler := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestRequestValidation(t *testing.T) {
	var received string
	handler := RequestValidation(ValidationConfig{MaxBodySize: 64})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = string(body)
		w.WriteHeader(http.StatusOK)
	}))

	post := func(body, contentType string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/data/stock", strings.NewReader(body))
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("valid body reaches the handler intact", func(t *testing.T) {
		rec := post(`{"symbols":["AAPL"]}`, "application/json")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, `{"symbols":["AAPL"]}`, received)
	})

	t.Run("oversized body", func(t *testing.T) {
		rec := post(`{"symbols":["`+strings.Repeat("A", 100)+`"]}`, "application/json")
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "REQUEST_TOO_LARGE", decodeErrorEnvelope(t, rec).Error)
	})

	t.Run("malformed json", func(t *testing.T) {
		rec := post(`{"symbols":`, "application/json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "BAD_REQUEST", decodeErrorEnvelope(t, rec).Error)
	})

	t.Run("non-json content type", func(t *testing.T) {
		rec := post(`symbols=AAPL`, "application/x-www-form-urlencoded")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("GET is not inspected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/data/stock", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStructuredLoggingCarriesRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := RequestID()(StructuredLogging(zap.New(core))(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		LoggerFromContext(r.Context(), zap.NewNop()).Info("inside")
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, rec.Header().Get(RequestIDHeader), logs.All()[0].ContextMap()["request_id"])
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "garbage, 203.0.113.7")
	assert.Equal(t, "203.0.113.7", getClientIP(req))

	assert.True(t, isSensitiveHeader("Authorization", nil))
	assert.True(t, isSensitiveHeader("X-Secret", []string{"x-secret"}))
	assert.False(t, isSensitiveHeader("Accept", nil))
}
