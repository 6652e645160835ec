// Package testutil provides an HTTP test double for the tracker clients.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
)

// RecordedRequest stores information about a request made to the mock server.
type RecordedRequest struct {
	Method   string
	Path     string
	Query    url.Values
	Headers  http.Header
	Body     []byte
	Username string
	Password string
}

// MockResponse represents a configured response for the mock server.
// RawBody is written as-is; otherwise Body is encoded as JSON.
type MockResponse struct {
	StatusCode int
	Body       interface{}
	RawBody    []byte
	Headers    map[string]string
}

// MockTrackerServer records requests and replays configured responses.
// Responses are keyed by "METHOD /path" or by "/path" for any method.
type MockTrackerServer struct {
	Server *httptest.Server
	mu     sync.RWMutex

	requests       []RecordedRequest
	responses      map[string]MockResponse
	defaultHandler func(w http.ResponseWriter, r *http.Request)

	authError        bool
	rateLimitRetries int
	rateLimitCount   int
	serverError      bool
}

// NewMockTrackerServer starts a mock server.
func NewMockTrackerServer() *MockTrackerServer {
	m := &MockTrackerServer{
		responses: make(map[string]MockResponse),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handleRequest))
	return m
}

func (m *MockTrackerServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	user, pass, _ := r.BasicAuth()

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method:   r.Method,
		Path:     r.URL.Path,
		Query:    r.URL.Query(),
		Headers:  r.Header.Clone(),
		Body:     body,
		Username: user,
		Password: pass,
	})
	authError := m.authError
	serverError := m.serverError
	rateLimited := m.rateLimitCount < m.rateLimitRetries
	if rateLimited {
		m.rateLimitCount++
	}
	resp, found := m.responses[r.Method+" "+r.URL.Path]
	if !found {
		resp, found = m.responses[r.URL.Path]
	}
	handler := m.defaultHandler
	m.mu.Unlock()

	switch {
	case authError:
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	case rateLimited:
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Rate limited"})
		return
	case serverError:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	if found {
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		status := resp.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		if resp.RawBody != nil {
			w.WriteHeader(status)
			_, _ = w.Write(resp.RawBody)
			return
		}
		writeJSON(w, status, resp.Body)
		return
	}

	if handler != nil {
		handler(w, r)
		return
	}

	writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
}

// URL returns the mock server URL.
func (m *MockTrackerServer) URL() string {
	return m.Server.URL
}

// Close shuts down the mock server.
func (m *MockTrackerServer) Close() {
	m.Server.Close()
}

// SetResponse configures a JSON response for a key ("GET /tasks" or "/tasks").
func (m *MockTrackerServer) SetResponse(key string, statusCode int, body interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[key] = MockResponse{StatusCode: statusCode, Body: body}
}

// SetRawResponse configures a non-JSON response body.
func (m *MockTrackerServer) SetRawResponse(key string, statusCode int, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[key] = MockResponse{StatusCode: statusCode, RawBody: body}
}

// SetDefaultHandler sets a custom handler for unmatched requests.
func (m *MockTrackerServer) SetDefaultHandler(handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultHandler = handler
}

// SetAuthError enables/disables 401 Unauthorized responses.
func (m *MockTrackerServer) SetAuthError(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authError = enabled
}

// SetRateLimitError makes the next n requests return 429.
func (m *MockTrackerServer) SetRateLimitError(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimitRetries = n
	m.rateLimitCount = 0
}

// SetServerError enables/disables 500 Internal Server Error responses.
func (m *MockTrackerServer) SetServerError(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serverError = enabled
}

// GetRequests returns all recorded requests.
func (m *MockTrackerServer) GetRequests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]RecordedRequest, len(m.requests))
	copy(result, m.requests)
	return result
}

// GetRequestCount returns the number of recorded requests.
func (m *MockTrackerServer) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// LastRequest returns the most recent request, or nil.
func (m *MockTrackerServer) LastRequest() *RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.requests) == 0 {
		return nil
	}
	r := m.requests[len(m.requests)-1]
	return &r
}

// Reset clears all recorded requests and responses.
func (m *MockTrackerServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.responses = make(map[string]MockResponse)
	m.defaultHandler = nil
	m.authError = false
	m.serverError = false
	m.rateLimitCount = 0
	m.rateLimitRetries = 0
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
