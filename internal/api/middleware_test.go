package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfnotes/shelfnotes-server/internal/http/response"
)

func TestEnvelopeTransformer_AlwaysIncludesVersion(t *testing.T) {
	tests := []struct {
		name   string
		status string
		input  any
	}{
		{name: "success response", status: "200", input: map[string]string{"key": "value"}},
		{name: "created response", status: "201", input: map[string]string{"id": "123"}},
		{name: "no content response", status: "204", input: nil},
		{name: "bad request error", status: "400", input: errors.New("invalid input")},
		{name: "not found error", status: "404", input: errors.New("resource not found")},
		{
			name:   "conflict error with details",
			status: "409",
			input: &APIError{
				Code:    "CONFLICT",
				Message: "Entity already exists",
				Details: map[string]string{"existing_id": "123"},
			},
		},
		{name: "internal server error", status: "500", input: errors.New("internal error")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := EnvelopeTransformer(nil, tt.status, tt.input)
			require.NoError(t, err)

			env, ok := result.(response.Envelope)
			require.True(t, ok, "result should be a response.Envelope, got %T", result)
			assert.Equal(t, response.Version, env.Version)
		})
	}
}

func TestEnvelopeTransformer_SuccessResponse(t *testing.T) {
	data := map[string]string{"name": "Persuasion"}

	result, err := EnvelopeTransformer(nil, "200", data)
	require.NoError(t, err)

	env := result.(response.Envelope)
	assert.True(t, env.Success)
	assert.Equal(t, data, env.Data)
	assert.Empty(t, env.Error)
}

func TestEnvelopeTransformer_ErrorResponse(t *testing.T) {
	result, err := EnvelopeTransformer(nil, "404", errors.New("not found"))
	require.NoError(t, err)

	env := result.(response.Envelope)
	assert.False(t, env.Success)
	assert.Equal(t, "not found", env.Error)
	assert.Equal(t, "NOT_FOUND", env.Code)
}

func TestEnvelopeTransformer_ErrorWithKind(t *testing.T) {
	result, err := EnvelopeTransformer(nil, "401", &APIError{
		Code:    "AUTH",
		Kind:    "invalid_credentials",
		Message: "Invalid login credentials",
	})
	require.NoError(t, err)

	env := result.(response.Envelope)
	assert.False(t, env.Success)
	assert.Equal(t, "AUTH", env.Code)
	assert.Equal(t, "invalid_credentials", env.Kind)
	assert.Equal(t, "Invalid login credentials", env.Error)
	assert.Equal(t, env.Error, env.Message)
}

func TestEnvelopeTransformer_PassesEnvelopesThrough(t *testing.T) {
	in := response.Fail("RATE_LIMITED", "slow down", nil)

	result, err := EnvelopeTransformer(nil, "429", in)
	require.NoError(t, err)
	assert.Equal(t, in, result)
}

func TestStatusToCode(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusBadRequest, "VALIDATION"},
		{http.StatusUnprocessableEntity, "VALIDATION"},
		{http.StatusUnauthorized, "UNAUTHORIZED"},
		{http.StatusForbidden, "FORBIDDEN"},
		{http.StatusNotFound, "NOT_FOUND"},
		{http.StatusConflict, "CONFLICT"},
		{http.StatusTooManyRequests, "RATE_LIMITED"},
		{http.StatusBadGateway, "FETCH"},
		{http.StatusInternalServerError, "INTERNAL"},
		{0, "INTERNAL"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusToCode(tt.status), "status %d", tt.status)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{"remote addr", nil, "203.0.113.7:52100", "203.0.113.7"},
		{"remote addr without port", nil, "203.0.113.7", "203.0.113.7"},
		{"forwarded for takes first hop", map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"}, "10.0.0.2:80", "198.51.100.1"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.9"}, "10.0.0.2:80", "198.51.100.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(r))
		})
	}
}

func TestRateLimitMiddleware_OnlyMatchingRequests(t *testing.T) {
	limiter := NewRateLimiter(1, time.Hour, 1)
	defer limiter.Stop()

	h := RateLimitMiddleware(limiter, isAuthAction, slog.New(slog.DiscardHandler))(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
	)

	serve := func(method, path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusNoContent, serve(http.MethodPost, "/api/v1/auth/login").Code)

	limited := serve(http.MethodPost, "/api/v1/auth/register")
	require.Equal(t, http.StatusTooManyRequests, limited.Code)

	var env response.Envelope
	require.NoError(t, json.Unmarshal(limited.Body.Bytes(), &env))
	assert.Equal(t, "RATE_LIMITED", env.Code)

	assert.Equal(t, http.StatusNoContent, serve(http.MethodGet, "/api/v1/auth/session").Code)
	assert.Equal(t, http.StatusNoContent, serve(http.MethodPost, "/api/v1/books/bk-1/reviews").Code)
}
