package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/nordlicht-labs/syncpipe/pkg/transport"
)

func newSourceTransport() transport.Transport {
	return transport.New(transport.Config{Timeout: 5 * time.Second})
}

func servePage(t *testing.T, records []Record, nextCursor string, gotQuery *url.Values) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotQuery != nil {
			*gotQuery = r.URL.Query()
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(pageResponse{Records: records, NextCursor: nextCursor}); err != nil {
			t.Errorf("encode page failed: %v", err)
		}
	}))
}

func TestNewHTTPSource_Validation(t *testing.T) {
	if _, err := NewHTTPSource(nil, HTTPSourceConfig{BaseURL: "http://api.internal/records"}); err == nil {
		t.Error("Expected error for nil transport")
	}
	if _, err := NewHTTPSource(newSourceTransport(), HTTPSourceConfig{}); err == nil {
		t.Error("Expected error for empty base URL")
	}
}

func TestFetchPage_QueryParameters(t *testing.T) {
	var got url.Values
	server := servePage(t, makeRecords(1), "", &got)
	defer server.Close()

	source, err := NewHTTPSource(newSourceTransport(), HTTPSourceConfig{
		BaseURL: server.URL,
		Since:   "2026-08-01T00:00:00Z",
		Until:   "2026-08-21T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("NewHTTPSource() failed: %v", err)
	}

	if _, err := source.FetchPage(context.Background(), "rec-00050", 100); err != nil {
		t.Fatalf("FetchPage() failed: %v", err)
	}

	tests := []struct {
		param string
		want  string
	}{
		{"after", "rec-00050"},
		{"limit", "100"},
		{"since", "2026-08-01T00:00:00Z"},
		{"until", "2026-08-21T00:00:00Z"},
	}
	for _, tt := range tests {
		if got.Get(tt.param) != tt.want {
			t.Errorf("Query %s = %q, want %q", tt.param, got.Get(tt.param), tt.want)
		}
	}
}

func TestFetchPage_EmptyCursorOmitsAfter(t *testing.T) {
	var got url.Values
	server := servePage(t, nil, "", &got)
	defer server.Close()

	source, err := NewHTTPSource(newSourceTransport(), HTTPSourceConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewHTTPSource() failed: %v", err)
	}

	if _, err := source.FetchPage(context.Background(), "", 100); err != nil {
		t.Fatalf("FetchPage() failed: %v", err)
	}

	if _, present := got["after"]; present {
		t.Errorf("Query contains after=%q, want the parameter omitted", got.Get("after"))
	}
	if _, present := got["since"]; present {
		t.Error("Query contains since, want the parameter omitted when unset")
	}
}

func TestFetchPage_ParsesRecords(t *testing.T) {
	server := servePage(t, makeRecords(3), "rec-00003", nil)
	defer server.Close()

	source, err := NewHTTPSource(newSourceTransport(), HTTPSourceConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewHTTPSource() failed: %v", err)
	}

	page, err := source.FetchPage(context.Background(), "", 100)
	if err != nil {
		t.Fatalf("FetchPage() failed: %v", err)
	}

	if len(page.Records) != 3 {
		t.Fatalf("Records = %d, want 3", len(page.Records))
	}
	for i, rec := range page.Records {
		wantID := fmt.Sprintf("rec-%05d", i+1)
		if rec.ID != wantID {
			t.Errorf("Records[%d].ID = %q, want %q", i, rec.ID, wantID)
		}
		var payload struct {
			Seq int `json:"seq"`
		}
		if err := json.Unmarshal(rec.Data, &payload); err != nil {
			t.Errorf("Records[%d].Data unmarshal failed: %v", i, err)
		} else if payload.Seq != i+1 {
			t.Errorf("Records[%d] seq = %d, want %d", i, payload.Seq, i+1)
		}
	}
	if page.NextCursor != "rec-00003" {
		t.Errorf("NextCursor = %q, want rec-00003", page.NextCursor)
	}
}

func TestFetchPage_CursorFallbackOnFullPage(t *testing.T) {
	// Server omits next_cursor; a full page must still resume after its
	// last record
	server := servePage(t, makeRecords(5), "", nil)
	defer server.Close()

	source, err := NewHTTPSource(newSourceTransport(), HTTPSourceConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewHTTPSource() failed: %v", err)
	}

	page, err := source.FetchPage(context.Background(), "", 5)
	if err != nil {
		t.Fatalf("FetchPage() failed: %v", err)
	}
	if page.NextCursor != "rec-00005" {
		t.Errorf("NextCursor = %q, want rec-00005 (last ID fallback)", page.NextCursor)
	}
}

func TestFetchPage_NoCursorOnShortPage(t *testing.T) {
	server := servePage(t, makeRecords(5), "", nil)
	defer server.Close()

	source, err := NewHTTPSource(newSourceTransport(), HTTPSourceConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewHTTPSource() failed: %v", err)
	}

	page, err := source.FetchPage(context.Background(), "", 100)
	if err != nil {
		t.Fatalf("FetchPage() failed: %v", err)
	}
	if page.NextCursor != "" {
		t.Errorf("NextCursor = %q, want empty on a short page", page.NextCursor)
	}
}

func TestFetchPage_ParseError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json {{`)
	}))
	defer server.Close()

	source, err := NewHTTPSource(newSourceTransport(), HTTPSourceConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewHTTPSource() failed: %v", err)
	}

	_, err = source.FetchPage(context.Background(), "", 100)
	if err == nil {
		t.Fatal("Expected error")
	}
	if !strings.Contains(err.Error(), "parse page") {
		t.Errorf("Error = %v, want parse page wrap", err)
	}
}

func TestFetchPage_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database down", http.StatusInternalServerError)
	}))
	defer server.Close()

	source, err := NewHTTPSource(newSourceTransport(), HTTPSourceConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewHTTPSource() failed: %v", err)
	}

	_, err = source.FetchPage(context.Background(), "", 100)
	if err == nil {
		t.Fatal("Expected error")
	}

	var reqErr *transport.RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("Expected *transport.RequestError in chain, got %v", err)
	}
	if reqErr.Status != 500 {
		t.Errorf("Status = %d, want 500", reqErr.Status)
	}
	if reqErr.Class != transport.FailureTransient {
		t.Errorf("Class = %q, want %q", reqErr.Class, transport.FailureTransient)
	}
}
