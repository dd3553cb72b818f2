package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nordlicht-labs/syncpipe/pkg/transport"
)

var (
	inflightGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "syncpipe_dispatch_inflight",
		Help: "Number of requests currently in flight",
	})

	dispatchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncpipe_dispatch_requests_total",
			Help: "Total requests handed to the worker pool by result (ok, error, hook_error, cancelled)",
		},
		[]string{"result"},
	)
)

// Config holds dispatcher configuration
type Config struct {
	// MaxWorkers is the maximum number of requests in flight at once
	MaxWorkers int
	// QueueSize is the job channel buffer (default: MaxWorkers)
	QueueSize int
}

// DefaultConfig returns safe default dispatcher configuration
func DefaultConfig() Config {
	return Config{
		MaxWorkers: 4,
	}
}

// Result is the per-slot outcome of a dispatched descriptor. Index is the
// descriptor's position in the submitted slice. Exactly one of Outcome/Err
// is set, except when a post-processing hook fails: then Outcome carries
// the successful response and Err the hook failure.
type Result struct {
	Index   int
	Outcome *transport.Outcome
	Err     error
}

// Hook runs against each successful outcome before results are assembled.
// A non-nil return marks that slot as failed.
type Hook func(ctx context.Context, d transport.Descriptor, out *transport.Outcome) error

// Dispatcher fans descriptors out across a bounded worker pool.
type Dispatcher struct {
	transport transport.Transport
	config    Config
	hook      Hook
	logger    zerolog.Logger
}

// New creates a dispatcher executing requests through the given transport
func New(t transport.Transport, config Config) *Dispatcher {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.MaxWorkers
	}

	return &Dispatcher{
		transport: t,
		config:    config,
		logger:    log.With().Str("component", "dispatch").Logger(),
	}
}

// WithHook attaches a post-processing hook applied to every successful outcome
func (d *Dispatcher) WithHook(h Hook) *Dispatcher {
	d.hook = h
	return d
}

type job struct {
	index int
	desc  transport.Descriptor
}

// Dispatch executes all descriptors through the worker pool and returns one
// result per descriptor, in submission order. It always returns a slice of
// the same length as descs; per-slot failures are reported in Result.Err.
func (d *Dispatcher) Dispatch(ctx context.Context, descs []transport.Descriptor) []Result {
	if len(descs) == 0 {
		return nil
	}

	start := time.Now()
	results := make([]Result, len(descs))

	jobs := make(chan job, d.config.QueueSize)

	workers := d.config.MaxWorkers
	if workers > len(descs) {
		workers = len(descs)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				// Drain remaining jobs as cancelled so every slot is filled
				select {
				case <-ctx.Done():
					dispatchRequestsTotal.WithLabelValues("cancelled").Inc()
					results[j.index] = Result{
						Index: j.index,
						Err:   fmt.Errorf("%w: %v", transport.ErrContextCancelled, ctx.Err()),
					}
					continue
				default:
				}

				results[j.index] = d.executeSlot(ctx, j.index, j.desc)
			}
		}()
	}

	for i, desc := range descs {
		jobs <- job{index: i, desc: desc}
	}
	close(jobs)
	wg.Wait()

	succeeded := 0
	for i := range results {
		if results[i].Err == nil {
			succeeded++
		}
	}

	d.logger.Debug().
		Int("requests", len(descs)).
		Int("succeeded", succeeded).
		Int("failed", len(descs)-succeeded).
		Dur("duration", time.Since(start)).
		Msg("Dispatch complete")

	return results
}

// executeSlot runs a single descriptor through the transport and optional hook
func (d *Dispatcher) executeSlot(ctx context.Context, index int, desc transport.Descriptor) Result {
	inflightGauge.Inc()
	defer inflightGauge.Dec()

	out, err := d.transport.Execute(ctx, desc)
	if err != nil {
		dispatchRequestsTotal.WithLabelValues("error").Inc()
		return Result{Index: index, Err: err}
	}

	if d.hook != nil {
		if hookErr := d.hook(ctx, desc, out); hookErr != nil {
			dispatchRequestsTotal.WithLabelValues("hook_error").Inc()
			d.logger.Warn().
				Err(hookErr).
				Int("slot", index).
				Str("url", desc.URL).
				Msg("Post-processing hook failed")
			return Result{Index: index, Outcome: out, Err: fmt.Errorf("post-processing: %w", hookErr)}
		}
	}

	dispatchRequestsTotal.WithLabelValues("ok").Inc()
	return Result{Index: index, Outcome: out}
}
