package syncer

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nordlicht-labs/syncpipe/pkg/transport"
)

// Destination converts records into deliverable requests. An error from
// Descriptor marks the record malformed: it is skipped, never delivered,
// and does not block cursor advancement.
type Destination interface {
	Descriptor(r Record) (transport.Descriptor, error)
}

// HTTPDestination POSTs each record as a JSON document to a fixed ingest
// endpoint. A 2xx response acknowledges the record.
type HTTPDestination struct {
	url    string
	header http.Header
}

// NewHTTPDestination creates a destination delivering to url.
func NewHTTPDestination(url string) (*HTTPDestination, error) {
	if url == "" {
		return nil, fmt.Errorf("destination URL is required")
	}
	return &HTTPDestination{url: url}, nil
}

// WithHeader adds a static header (auth tokens, tenant IDs) to every
// delivery request.
func (d *HTTPDestination) WithHeader(key, value string) *HTTPDestination {
	if d.header == nil {
		d.header = http.Header{}
	}
	d.header.Set(key, value)
	return d
}

// Descriptor builds the delivery request for one record.
func (d *HTTPDestination) Descriptor(r Record) (transport.Descriptor, error) {
	if r.ID == "" {
		return transport.Descriptor{}, fmt.Errorf("record has no id")
	}
	if len(r.Data) == 0 {
		return transport.Descriptor{}, fmt.Errorf("record %s has no payload", r.ID)
	}
	if !json.Valid(r.Data) {
		return transport.Descriptor{}, fmt.Errorf("record %s payload is not valid JSON", r.ID)
	}

	body, err := json.Marshal(r)
	if err != nil {
		return transport.Descriptor{}, fmt.Errorf("encode record %s: %w", r.ID, err)
	}

	return transport.Descriptor{
		Method: http.MethodPost,
		URL:    d.url,
		Header: d.header.Clone(),
		Body:   body,
	}, nil
}
