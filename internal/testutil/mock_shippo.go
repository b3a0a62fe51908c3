// Package testutil provides testing utilities for the Shippo extractor.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// Record mirrors the API's object shape without importing the client
// package, keeping testutil dependency-free for any consumer.
type Record map[string]any

// NewRecord builds a minimal API object with the identity and
// replication fields every stream carries.
func NewRecord(id string, updated time.Time) Record {
	return Record{
		"object_id":      id,
		"object_updated": updated.Format(time.RFC3339),
	}
}

// MockResponse defines the behavior for a verbatim endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockShippo is a configurable mock Shippo API server. Streams loaded
// via LoadStream are served paginated with next links; SetHandler and
// SetResponse override individual paths for failure injection.
type MockShippo struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	streams  map[string][]Record

	// Tracking
	RequestCount    int
	LastRequestAuth string
}

// NewMockShippo creates a new mock Shippo API server.
func NewMockShippo() *MockShippo {
	mock := &MockShippo{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		streams:  make(map[string][]Record),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestAuth = r.Header.Get("Authorization")
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.paginatedHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockShippo) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockShippo) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockShippo) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequestAuth = ""
}

// LoadStream installs the full record set for a stream. Requests to
// /<stream> are served from it in pages of the requested size.
func (m *MockShippo) LoadStream(stream string, records ...Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[stream] = records
}

// SetHandler sets a custom handler for a specific path.
func (m *MockShippo) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a verbatim response for a path.
func (m *MockShippo) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// paginatedHandler slices the loaded stream per the results/page query
// parameters and emits the standard list envelope with a next link.
func (m *MockShippo) paginatedHandler(w http.ResponseWriter, r *http.Request) {
	stream := r.URL.Path
	if len(stream) > 0 && stream[0] == '/' {
		stream = stream[1:]
	}

	m.mu.RLock()
	records, ok := m.streams[stream]
	m.mu.RUnlock()
	if !ok {
		http.Error(w, fmt.Sprintf(`{"detail": "no such resource %s"}`, stream), http.StatusNotFound)
		return
	}

	pageSize := 5
	if v := r.URL.Query().Get("results"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			pageSize = n
		}
	}
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}

	lo := (page - 1) * pageSize
	hi := lo + pageSize
	if lo > len(records) {
		lo = len(records)
	}
	if hi > len(records) {
		hi = len(records)
	}

	slice := records[lo:hi]
	if slice == nil {
		slice = []Record{}
	}
	envelope := map[string]any{
		"count":   len(records),
		"results": slice,
		"next":    nil,
	}
	if hi < len(records) {
		envelope["next"] = fmt.Sprintf("%s/%s?results=%d&page=%d", m.server.URL, stream, pageSize, page+1)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(envelope)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockShippo) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}
