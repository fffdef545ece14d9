// Copyright 2025 The Quiver Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHTTPServer(t *testing.T) *HTTPServer {
	t.Helper()
	h := newTestHandler(t)
	return NewHTTPServer(h, h.metrics, "127.0.0.1", 0)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestHTTPServer(t)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "http", body["transport"])
	assert.Equal(t, "mcp", body["protocol"])
}

func TestPostRoundTrip(t *testing.T) {
	s := newTestHTTPServer(t)
	req := httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)
	assert.NotEmpty(t, rec.Header().Get(headerSessionID))
}

func TestPostToolCallOverHTTP(t *testing.T) {
	s := newTestHTTPServer(t)
	body := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"search","arguments":{"query":"authentication tokens"}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)
}

func TestNotificationReturnsAccepted(t *testing.T) {
	s := newTestHTTPServer(t)
	req := httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestCORSRejectsForeignOrigin(t *testing.T) {
	s := newTestHTTPServer(t)
	req := httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCORSAllowsLocalhostAnyPort(t *testing.T) {
	s := newTestHTTPServer(t)
	for _, origin := range []string{
		"http://localhost:3000",
		"http://127.0.0.1:8123",
		"https://localhost",
	} {
		req := httptest.NewRequest(http.MethodPost, "/mcp",
			strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "origin %s", origin)
		assert.Equal(t, origin, rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCORSAllowsAbsentOrigin(t *testing.T) {
	s := newTestHTTPServer(t)
	req := httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPreflight(t *testing.T) {
	s := newTestHTTPServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/mcp", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestSessionIDReused(t *testing.T) {
	s := newTestHTTPServer(t)

	first := httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, first)
	id := rec.Header().Get(headerSessionID)
	require.NotEmpty(t, id)

	second := httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":2,"method":"ping"}`))
	second.Header.Set(headerSessionID, id)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, second)
	assert.Equal(t, id, rec.Header().Get(headerSessionID))

	s.mu.Lock()
	assert.Len(t, s.sessions, 1)
	s.mu.Unlock()
}

func TestUnknownProtocolVersionAccepted(t *testing.T) {
	s := newTestHTTPServer(t)
	req := httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	req.Header.Set(headerProtocolVersion, "1999-12-31")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestHTTPServer(t)

	// Generate at least one observation first.
	req := httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	s.Router().ServeHTTP(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "quiver_http_request_duration_seconds")
}

func TestAllowedOrigin(t *testing.T) {
	assert.True(t, allowedOrigin(""))
	assert.True(t, allowedOrigin("http://localhost:8080"))
	assert.True(t, allowedOrigin("https://127.0.0.1:9999"))
	assert.False(t, allowedOrigin("http://localhost.evil.com"))
	assert.False(t, allowedOrigin("ftp://localhost"))
	assert.False(t, allowedOrigin("https://example.com"))
}

func TestTimeoutFromEnv(t *testing.T) {
	t.Setenv(envDrainTimeout, "25")
	assert.Equal(t, 25e9, float64(timeoutFromEnv(envDrainTimeout, defaultDrainTimeout)))

	t.Setenv(envDrainTimeout, "garbage")
	assert.Equal(t, defaultDrainTimeout, timeoutFromEnv(envDrainTimeout, defaultDrainTimeout))
}
