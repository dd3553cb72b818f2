// Package transport provides the resilient HTTP layer of the sync pipeline:
// immutable request descriptors, normalized outcomes, a typed failure
// taxonomy, and a retry decorator with exponential backoff.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Prometheus metrics for transport operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncpipe_requests_total",
		Help: "Total requests by method and status",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "syncpipe_request_duration_seconds",
		Help:    "Request duration in seconds by method",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	requestFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncpipe_request_failures_total",
		Help: "Total request failures by class",
	}, []string{"class"})
)

// Descriptor describes a single HTTP request. It is immutable once submitted;
// the dispatcher associates each descriptor with its submission index for
// ordered result mapping.
type Descriptor struct {
	// Method is the HTTP method (default GET).
	Method string

	// URL is the absolute request URL.
	URL string

	// Query holds query parameters appended to the URL.
	Query url.Values

	// Header holds additional request headers.
	Header http.Header

	// Body is the raw request payload (optional). A byte slice rather than a
	// reader so the request can be replayed on retry.
	Body []byte
}

// Outcome is the normalized result of a successfully executed Descriptor.
// Exactly one Outcome or one error is produced per descriptor.
type Outcome struct {
	// Status is the HTTP status code.
	Status int

	// Header holds the response headers.
	Header http.Header

	// Body is the full response body.
	Body []byte

	// Attempts is the number of attempts consumed, including the first.
	// Retries are invisible to the caller except through this counter
	// and Elapsed.
	Attempts int

	// Elapsed is the total wall time spent, including retry backoff.
	Elapsed time.Duration
}

// Transport executes a single request descriptor.
// Implementations must be safe for concurrent use; the dispatcher shares one
// transport across all workers.
type Transport interface {
	Execute(ctx context.Context, d Descriptor) (*Outcome, error)
}

// Config holds the HTTP transport configuration.
type Config struct {
	// Timeout applies to each request attempt.
	Timeout time.Duration

	// RateLimit caps outgoing requests per second across all workers
	// (0 disables client-side limiting).
	RateLimit float64

	// Burst is the rate limiter burst size (minimum 1).
	Burst int

	// UserAgent is sent on every request.
	UserAgent string
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:   30 * time.Second,
		RateLimit: 0,
		Burst:     1,
		UserAgent: "syncpipe/1.0",
	}
}

// HTTPTransport is the base Transport implementation. It performs exactly one
// attempt per Execute call; wrap it with WithRetry for retry semantics.
type HTTPTransport struct {
	client  *http.Client
	limiter *rate.Limiter
	config  Config
	logger  zerolog.Logger
}

// New creates an HTTP transport.
func New(cfg Config) *HTTPTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "syncpipe/1.0"
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &HTTPTransport{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		config:  cfg,
		logger:  log.With().Str("component", "transport").Logger(),
	}
}

// Execute performs one HTTP request attempt and classifies its failure mode.
// Network failures and 5xx responses are transient, 429 is rate_limit, other
// 4xx are client failures.
func (t *HTTPTransport) Execute(ctx context.Context, d Descriptor) (*Outcome, error) {
	start := time.Now()

	method := d.Method
	if method == "" {
		method = http.MethodGet
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
	}

	req, err := buildRequest(ctx, method, d)
	if err != nil {
		return nil, &RequestError{
			Class:    FailureClient,
			Attempts: 1,
			Message:  "build request",
			Err:      err,
		}
	}
	req.Header.Set("User-Agent", t.config.UserAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		requestFailuresTotal.WithLabelValues(string(FailureTransient)).Inc()
		requestsTotal.WithLabelValues(method, "network_error").Inc()
		t.logger.Warn().
			Str("url", d.URL).
			Err(err).
			Msg("Request failed at network level")
		return nil, &RequestError{
			Class:    FailureTransient,
			Attempts: 1,
			Message:  "request failed",
			Err:      err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		requestFailuresTotal.WithLabelValues(string(FailureTransient)).Inc()
		requestsTotal.WithLabelValues(method, "network_error").Inc()
		return nil, &RequestError{
			Status:   resp.StatusCode,
			Class:    FailureTransient,
			Attempts: 1,
			Message:  "read response body",
			Err:      err,
		}
	}

	elapsed := time.Since(start)
	requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
	requestsTotal.WithLabelValues(method, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		requestFailuresTotal.WithLabelValues(string(class)).Inc()
		t.logger.Warn().
			Str("url", d.URL).
			Int("status", resp.StatusCode).
			Str("failure_class", string(class)).
			Msg("Request returned error status")
		return nil, &RequestError{
			Status:   resp.StatusCode,
			Class:    class,
			Attempts: 1,
			Message:  resp.Status,
		}
	}

	t.logger.Debug().
		Str("url", d.URL).
		Str("method", method).
		Int("status", resp.StatusCode).
		Dur("duration", elapsed).
		Msg("Request completed")

	return &Outcome{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		Attempts: 1,
		Elapsed:  elapsed,
	}, nil
}

// buildRequest assembles the http.Request for a descriptor.
func buildRequest(ctx context.Context, method string, d Descriptor) (*http.Request, error) {
	rawURL := d.URL
	if len(d.Query) > 0 {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse url: %w", err)
		}
		q := u.Query()
		for key, values := range d.Query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
		rawURL = u.String()
	}

	var body io.Reader
	if len(d.Body) > 0 {
		body = bytes.NewReader(d.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}

	for key, values := range d.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if len(d.Body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// classifyStatus maps an HTTP error status to a failure class.
func classifyStatus(status int) FailureClass {
	switch {
	case status == http.StatusTooManyRequests:
		return FailureRateLimit
	case status >= 500:
		return FailureTransient
	default:
		return FailureClient
	}
}
