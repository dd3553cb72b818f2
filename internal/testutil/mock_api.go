// Package testutil provides testing utilities for syncpipe.
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

// RecordsPath is the paginated source endpoint served by MockAPI.
const RecordsPath = "/v1/records"

// IngestPath is the delivery endpoint served by MockAPI.
const IngestPath = "/v1/ingest"

// MockRecord is one record served by the records endpoint.
type MockRecord struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// MockAPIResponse defines the behavior for a mock endpoint response.
type MockAPIResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable mock server for sync tests. One httptest server
// plays both sides of a pipeline: a paginated records endpoint
// (GET /v1/records?after=&limit=) and an ingest endpoint (POST /v1/ingest)
// with per-record failure injection.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	records     []MockRecord
	failStatus  map[string]int
	failLeft    map[string]int
	ingestDelay time.Duration

	// Tracking
	RequestCount      int
	Attempts          map[string]int
	Delivered         map[string]int
	LastRequestHeader http.Header
	inflight          int
	maxInflight       int
}

// NewMockAPI creates a new mock API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		failStatus: make(map[string]int),
		failLeft:   make(map[string]int),
		Attempts:   make(map[string]int),
		Delivered:  make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.mu.Unlock()

		// Check for custom handler
		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		switch r.URL.Path {
		case RecordsPath:
			mock.recordsHandler(w, r)
		case IngestPath:
			mock.ingestHandler(w, r)
		default:
			http.Error(w, `{"error": "not found"}`, http.StatusNotFound)
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// RecordsURL returns the full URL of the records endpoint.
func (m *MockAPI) RecordsURL() string {
	return m.server.URL + RecordsPath
}

// IngestURL returns the full URL of the ingest endpoint.
func (m *MockAPI) IngestURL() string {
	return m.server.URL + IngestPath
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters. Seeded records and failure
// injections are kept.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.Attempts = make(map[string]int)
	m.Delivered = make(map[string]int)
	m.LastRequestHeader = nil
	m.maxInflight = 0
}

// SetRecords replaces the record set served by the records endpoint.
// Records must be in ascending ID order.
func (m *MockAPI) SetRecords(records []MockRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
}

// SeedRecords fills the records endpoint with n generated records with
// zero-padded sortable IDs (rec-00001, rec-00002, ...).
func (m *MockAPI) SeedRecords(n int) {
	records := make([]MockRecord, n)
	for i := range records {
		records[i] = MockRecord{
			ID:   fmt.Sprintf("rec-%05d", i+1),
			Data: json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i+1)),
		}
	}
	m.SetRecords(records)
}

// FailDelivery makes the ingest endpoint reject the given record with the
// given status. times > 0 rejects that many attempts and then accepts;
// times < 0 rejects every attempt.
func (m *MockAPI) FailDelivery(id string, status, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStatus[id] = status
	m.failLeft[id] = times
}

// ClearFailures removes all delivery failure injections.
func (m *MockAPI) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStatus = make(map[string]int)
	m.failLeft = make(map[string]int)
}

// SetIngestDelay makes every ingest request take at least d.
func (m *MockAPI) SetIngestDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ingestDelay = d
}

// SetHandler sets a custom handler for a specific path.
func (m *MockAPI) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockAPI) SetResponse(path string, resp MockAPIResponse) {
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

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// AttemptsFor returns the number of delivery attempts for a record ID,
// including rejected ones.
func (m *MockAPI) AttemptsFor(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Attempts[id]
}

// DeliveredCount returns the number of accepted deliveries for a record ID.
func (m *MockAPI) DeliveredCount(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Delivered[id]
}

// TotalDelivered returns the number of accepted deliveries across all records.
func (m *MockAPI) TotalDelivered() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, n := range m.Delivered {
		total += n
	}
	return total
}

// MaxInflight returns the ingest concurrency high-water mark.
func (m *MockAPI) MaxInflight() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxInflight
}

// recordsHandler serves one page of records strictly after the cursor.
func (m *MockAPI) recordsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after := q.Get("after")
	limit := 100
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, `{"error": "invalid limit"}`, http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	m.mu.RLock()
	var page []MockRecord
	for _, rec := range m.records {
		if after == "" || rec.ID > after {
			page = append(page, rec)
		}
	}
	m.mu.RUnlock()

	if len(page) > limit {
		page = page[:limit]
	}
	next := ""
	if len(page) == limit && len(page) > 0 {
		next = page[len(page)-1].ID
	}

	resp := struct {
		Records    []MockRecord `json:"records"`
		NextCursor string       `json:"next_cursor"`
	}{Records: page, NextCursor: next}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// ingestHandler accepts one record delivery, honoring failure injections.
func (m *MockAPI) ingestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error": "method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	m.mu.Lock()
	m.inflight++
	if m.inflight > m.maxInflight {
		m.maxInflight = m.inflight
	}
	delay := m.ingestDelay
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inflight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		time.Sleep(delay)
	}

	var rec MockRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil || rec.ID == "" {
		http.Error(w, `{"error": "invalid record"}`, http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.Attempts[rec.ID]++
	left := m.failLeft[rec.ID]
	status := m.failStatus[rec.ID]
	if left != 0 {
		if left > 0 {
			m.failLeft[rec.ID] = left - 1
		}
		m.mu.Unlock()
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error": "injected failure %d"}`, status)
		return
	}
	m.Delivered[rec.ID]++
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"status": "accepted"}`))
}

// NewHealthyResponse creates a standard 200 OK JSON response.
func NewHealthyResponse(data string) MockAPIResponse {
	return MockAPIResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockAPIResponse {
	return MockAPIResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"Retry-After":  "1",
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockAPIResponse {
	return MockAPIResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
