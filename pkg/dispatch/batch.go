package dispatch

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nordlicht-labs/syncpipe/pkg/transport"
)

var (
	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "syncpipe_batches_total",
		Help: "Total batches dispatched",
	})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "syncpipe_batch_duration_seconds",
		Help:    "Batch dispatch duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
)

// BatchConfig controls how a descriptor set is split into sequential batches.
type BatchConfig struct {
	// BatchSize is the maximum number of descriptors per batch
	BatchSize int
	// BatchDelay is the pause between consecutive batches.
	// No pause happens after the final batch.
	BatchDelay time.Duration
}

// DefaultBatchConfig returns safe default batch configuration
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchSize: 100,
	}
}

// DispatchBatches splits descs into consecutive batches of at most BatchSize
// and dispatches them strictly one after another, pausing BatchDelay between
// batches. Result indices refer to positions in the full descs slice, so the
// returned slice is the ordered concatenation of all batches.
//
// A context cancellation between batches returns the results collected so
// far together with ctx.Err(); completed batches are never discarded.
func (d *Dispatcher) DispatchBatches(ctx context.Context, descs []transport.Descriptor, config BatchConfig) ([]Result, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if len(descs) == 0 {
		return nil, nil
	}

	results := make([]Result, 0, len(descs))
	totalBatches := (len(descs) + config.BatchSize - 1) / config.BatchSize

	for offset := 0; offset < len(descs); offset += config.BatchSize {
		end := offset + config.BatchSize
		if end > len(descs) {
			end = len(descs)
		}
		batchNum := offset/config.BatchSize + 1

		start := time.Now()
		batch := d.Dispatch(ctx, descs[offset:end])
		for _, r := range batch {
			r.Index += offset
			results = append(results, r)
		}
		batchesTotal.Inc()
		batchDuration.Observe(time.Since(start).Seconds())

		d.logger.Info().
			Int("batch", batchNum).
			Int("batches", totalBatches).
			Int("size", end-offset).
			Dur("duration", time.Since(start)).
			Msg("Batch complete")

		if end == len(descs) {
			break
		}

		if err := ctx.Err(); err != nil {
			d.logger.Warn().
				Int("completed_batches", batchNum).
				Int("batches", totalBatches).
				Msg("Batch dispatch cancelled - returning partial results")
			return results, err
		}

		if config.BatchDelay > 0 {
			d.logger.Debug().
				Dur("delay", config.BatchDelay).
				Int("next_batch", batchNum+1).
				Msg("Pausing between batches")
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(config.BatchDelay):
			}
		}
	}

	return results, nil
}
