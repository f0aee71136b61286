package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docchat/internal/knowledge"
	"github.com/bull/docchat/internal/llm/llmtest"
)

type stubChecker struct{ err error }

func (s stubChecker) Health(ctx context.Context) error { return s.err }

func (s stubChecker) Stats(ctx context.Context) (knowledge.Stats, error) {
	return knowledge.Stats{Documents: 2, Chunks: 5, Vectors: 5}, nil
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   HealthResponse
	}{
		{"healthy", nil, http.StatusOK, HealthResponse{Status: "healthy", Store: "connected", Documents: 2, Vectors: 5}},
		{"unhealthy", errors.New("database is locked"), http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Store: "disconnected", Error: "database is locked"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealthHandler(stubChecker{err: tt.err})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Timestamp)
			body.Timestamp = ""
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestLandingHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewLandingHandler()(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/v1/ask")

	rec = httptest.NewRecorder()
	NewLandingHandler()(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthHandler_KnowledgeBase(t *testing.T) {
	cfg := newTestConfig(t, llmtest.Answer("ok"))
	ts := httptest.NewServer(NewMux(NewServer(cfg), nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Documents)
	assert.Equal(t, 1, body.Vectors)
}
