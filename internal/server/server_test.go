package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmined/policykit/internal/metrics"
)

const testBundle = `store:
  type: memory
policies:
  - name: api_limit
    type: rate_limit
    config:
      max_requests: 100
      window_seconds: 60
  - name: filter
    type: prompt_filter
    config:
      patterns:
        - forbidden
`

func writeBundle(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newTestServer(t *testing.T, opts ...Option) (*Server, string) {
	t.Helper()
	path := writeBundle(t, testBundle)
	s, err := New(context.Background(), path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func postExecute(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/execute", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestNewBrokenBundle(t *testing.T) {
	path := writeBundle(t, "policies:\n  - name: p\n    type: nonexistent\n")

	_, err := New(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown policy type")
}

func TestExecuteAllow(t *testing.T) {
	s, _ := newTestServer(t)

	rec := postExecute(t, s, `{"user_id": "alice", "query": "hello"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, true, resp["allowed"])
	// The rate limiter records its counter in the context metadata.
	ctxMeta, ok := resp["context_metadata"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, ctxMeta, "api_limit_remaining")
}

func TestExecuteDeny(t *testing.T) {
	s, _ := newTestServer(t)

	rec := postExecute(t, s, `{"user_id": "alice", "query": "say the forbidden word"}`)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, false, resp["allowed"])
	assert.Equal(t, "filter", resp["policy_name"])
}

func TestExecutePending(t *testing.T) {
	path := writeBundle(t, `policies:
  - name: review
    type: manual_review
`)
	s, err := New(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()

	rec := postExecute(t, s, `{"user_id": "alice", "query": "hi", "output": {"answer": "ok"}}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, false, resp["allowed"])
	assert.Equal(t, true, resp["pending"])
}

func TestExecutePostPhase(t *testing.T) {
	s, _ := newTestServer(t)

	rec := postExecute(t, s, `{"user_id": "alice", "query": "hi", "output": {"response": "the forbidden word"}}`)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "filter", resp["policy_name"])
}

func TestExecuteBadRequests(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{
			name:    "missing user_id",
			body:    `{"query": "hello"}`,
			wantMsg: "user_id is required",
		},
		{
			name:    "malformed json",
			body:    `{"user_id": `,
			wantMsg: "invalid request body",
		},
	}

	s, _ := newTestServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postExecute(t, s, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decodeResponse(t, rec)["error"], tt.wantMsg)
		})
	}
}

func TestPoliciesEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/policies", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, float64(2), resp["policy_count"])
}

func TestHealthz(t *testing.T) {
	s, path := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, path, resp["bundle"])
	assert.Equal(t, float64(2), resp["policies"])
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, WithMetrics(metrics.New()))

	postExecute(t, s, `{"user_id": "alice", "query": "hello"}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "policykit_decisions_total")
}

func TestReload(t *testing.T) {
	s, path := newTestServer(t)

	require.NoError(t, os.WriteFile(path, []byte(`policies:
  - name: solo
    type: manual_review
`), 0644))
	require.NoError(t, s.Reload(context.Background()))

	req := httptest.NewRequest(http.MethodGet, "/v1/policies", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, float64(1), decodeResponse(t, rec)["policy_count"])
}

func TestReloadWaitsForInFlightRequests(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "store.db")
	bundlePath := filepath.Join(dir, "bundle.yaml")
	bundle := fmt.Sprintf(`store:
  type: sqlite
  path: %s
policies:
  - name: api_limit
    type: rate_limit
    config:
      max_requests: 10
      window_seconds: 60
`, dbPath)
	require.NoError(t, os.WriteFile(bundlePath, []byte(bundle), 0644))

	s, err := New(context.Background(), bundlePath)
	require.NoError(t, err)
	defer s.Close()

	held := s.acquire()
	require.NoError(t, s.Reload(context.Background()))

	// The held chain's store stays open until the request releases it.
	_, err = held.store.Get(context.Background(), "rate_limit", "alice")
	assert.NoError(t, err)

	held.release()
	assert.Eventually(t, func() bool {
		_, err := held.store.Get(context.Background(), "rate_limit", "alice")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReloadFailureKeepsChain(t *testing.T) {
	s, path := newTestServer(t)

	require.NoError(t, os.WriteFile(path, []byte("policies: [broken"), 0644))
	require.Error(t, s.Reload(context.Background()))

	// The old chain keeps serving.
	rec := postExecute(t, s, `{"user_id": "alice", "query": "hello"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/policies", nil)
	prec := httptest.NewRecorder()
	s.Handler().ServeHTTP(prec, req)
	assert.Equal(t, float64(2), decodeResponse(t, prec)["policy_count"])
}
