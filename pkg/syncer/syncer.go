// Package syncer orchestrates cursor-driven incremental synchronization:
// load the checkpoint, fetch a page of records after the cursor, deliver
// the page through the parallel dispatcher, advance the checkpoint, and
// repeat until the source is drained.
//
// The durable cursor only ever moves over records that were delivered or
// deliberately skipped. The first non-skippable failure freezes it for the
// rest of the run; later records are still delivered (and re-delivered on
// the next run), which keeps the pipeline at-least-once.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nordlicht-labs/syncpipe/pkg/checkpoint"
	"github.com/nordlicht-labs/syncpipe/pkg/dispatch"
	"github.com/nordlicht-labs/syncpipe/pkg/transport"
)

var (
	syncRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncpipe_sync_records_total",
			Help: "Records handled by result (processed, failed, skipped)",
		},
		[]string{"result"},
	)

	syncPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "syncpipe_sync_pages_total",
		Help: "Source pages fetched",
	})

	syncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncpipe_sync_runs_total",
			Help: "Sync runs by result (done, stopped, failed)",
		},
		[]string{"result"},
	)
)

// Config assembles a Syncer from its collaborators.
type Config struct {
	Source      Source
	Destination Destination
	Dispatcher  *dispatch.Dispatcher
	Store       checkpoint.Store

	// BatchSize is the page and batch size (default 100)
	BatchSize int

	// BatchDelay pauses between consecutive pages
	BatchDelay time.Duration

	// ForceFullSync ignores the stored cursor for this run. The stored
	// document is overwritten with fresh progress, never deleted.
	ForceFullSync bool

	// SkipFailed reclassifies terminal delivery failures as skips so the
	// cursor can pass them. Failed records still land in the error ledger.
	SkipFailed bool
}

// Syncer runs the sync state machine. One Run at a time; a Syncer may be
// reused for consecutive runs.
type Syncer struct {
	config Config
	logger zerolog.Logger

	mu    sync.Mutex
	state State

	stop atomic.Bool
}

// New validates the configuration and creates a Syncer in StateIdle.
func New(config Config) (*Syncer, error) {
	if config.Source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if config.Destination == nil {
		return nil, fmt.Errorf("destination is required")
	}
	if config.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}

	s := &Syncer{
		config: config,
		logger: log.With().Str("component", "syncer").Logger(),
		state:  StateIdle,
	}
	syncStateGauge.Set(stateValues[StateIdle])
	return s, nil
}

// State returns the current orchestrator state.
func (s *Syncer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Syncer) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()

	syncStateGauge.Set(stateValues[next])
	s.logger.Debug().
		Str("from", string(prev)).
		Str("to", string(next)).
		Msg("State transition")
}

// Stop requests a graceful stop: the in-flight batch finishes, the
// checkpoint is saved, then the run ends with Summary.Stopped set.
// Safe to call from signal handlers and other goroutines.
func (s *Syncer) Stop() {
	if s.stop.CompareAndSwap(false, true) {
		s.logger.Info().Msg("Stop requested - finishing current batch")
	}
}

// Run executes one sync pass and returns its summary. The error is non-nil
// only for run-fatal conditions (checkpoint I/O, page fetch failure, hard
// context cancellation); per-record failures are reported in the summary
// and the checkpoint's error ledger instead.
func (s *Syncer) Run(ctx context.Context) (*Summary, error) {
	s.stop.Store(false)

	s.setState(StateLoadingCheckpoint)
	cp, err := s.config.Store.Load(ctx)
	if err != nil {
		sess := newSession("", s.config.ForceFullSync)
		return s.fail(sess, "", fmt.Errorf("load checkpoint: %w", err))
	}

	if s.config.ForceFullSync && cp.Cursor != "" {
		s.logger.Info().
			Str("stored_cursor", cp.Cursor).
			Msg("Forced full sync - ignoring stored cursor")
		cp.Reset()
	}

	sess := newSession(cp.Cursor, s.config.ForceFullSync)

	s.logger.Info().
		Str("cursor", cp.Cursor).
		Int64("processed_total", cp.ProcessedCount).
		Bool("force_full", s.config.ForceFullSync).
		Int("batch_size", s.config.BatchSize).
		Msg("Run started")

	for {
		if s.stop.Load() {
			sess.stopped = true
			s.logger.Info().Str("cursor", cp.Cursor).Msg("Stopping between batches")
			break
		}

		s.setState(StateFetchingPage)
		page, err := s.config.Source.FetchPage(ctx, sess.pageCursor, s.config.BatchSize)
		if err != nil {
			return s.fail(sess, cp.Cursor, fmt.Errorf("fetch page: %w", err))
		}
		if len(page.Records) == 0 {
			break
		}
		sess.pages++
		syncPagesTotal.Inc()

		s.setState(StateProcessingBatch)
		if err := s.processPage(ctx, sess, cp, page); err != nil {
			return s.fail(sess, cp.Cursor, err)
		}

		s.setState(StateAdvancingCheckpoint)
		if err := s.config.Store.Save(ctx, cp); err != nil {
			return s.fail(sess, cp.Cursor, fmt.Errorf("save checkpoint: %w", err))
		}

		// A short page means the source is drained; no extra fetch needed
		if page.NextCursor == "" || len(page.Records) < s.config.BatchSize {
			break
		}
		sess.pageCursor = page.NextCursor

		if s.config.BatchDelay > 0 && !s.stop.Load() {
			select {
			case <-ctx.Done():
				return s.fail(sess, cp.Cursor, fmt.Errorf("%w: %v", transport.ErrContextCancelled, ctx.Err()))
			case <-time.After(s.config.BatchDelay):
			}
		}
	}

	cp.AddRun(checkpoint.RunRecord{
		StartedAt:  sess.startedAt,
		FinishedAt: time.Now().UTC(),
		Processed:  sess.processed,
		Failed:     sess.failed,
		Skipped:    sess.skipped,
		ForcedFull: sess.forced,
	})
	s.setState(StateAdvancingCheckpoint)
	if err := s.config.Store.Save(ctx, cp); err != nil {
		return s.fail(sess, cp.Cursor, fmt.Errorf("save checkpoint: %w", err))
	}

	s.setState(StateDone)
	result := "done"
	if sess.stopped {
		result = "stopped"
	}
	syncRunsTotal.WithLabelValues(result).Inc()

	summary := sess.summary(StateDone, cp.Cursor)
	s.logger.Info().
		Int64("processed", summary.Processed).
		Int64("failed", summary.Failed).
		Int64("skipped", summary.Skipped).
		Int("pages", summary.Pages).
		Str("cursor", summary.Cursor).
		Bool("stopped", summary.Stopped).
		Dur("duration", summary.Elapsed()).
		Msg("Run complete")

	return summary, nil
}

func (s *Syncer) fail(sess *session, cursor string, err error) (*Summary, error) {
	s.setState(StateFailed)
	syncRunsTotal.WithLabelValues("failed").Inc()

	summary := sess.summary(StateFailed, cursor)
	s.logger.Error().
		Err(err).
		Int64("processed", summary.Processed).
		Int("pages", summary.Pages).
		Str("cursor", summary.Cursor).
		Msg("Run failed")

	return summary, err
}

// recordStatus is the per-slot resolution of a page record.
type recordStatus int

const (
	statusPending recordStatus = iota
	statusProcessed
	statusSkipped
	statusFailed
)

// processPage delivers one page through the dispatcher and resolves every
// record to processed, skipped or failed. Malformed records are skipped
// before dispatch; delivery results come back in record order.
func (s *Syncer) processPage(ctx context.Context, sess *session, cp *checkpoint.Checkpoint, page *Page) error {
	status := make([]recordStatus, len(page.Records))
	descs := make([]transport.Descriptor, 0, len(page.Records))
	slots := make([]int, 0, len(page.Records))

	for i, rec := range page.Records {
		d, err := s.config.Destination.Descriptor(rec)
		if err != nil {
			status[i] = statusSkipped
			sess.skipped++
			syncRecordsTotal.WithLabelValues("skipped").Inc()
			cp.RecordError(checkpoint.ErrorEntry{
				RecordID: rec.ID,
				Message:  fmt.Sprintf("malformed record: %v", err),
			})
			s.logger.Warn().
				Str("record_id", rec.ID).
				Err(err).
				Msg("Skipping malformed record")
			continue
		}
		slots = append(slots, i)
		descs = append(descs, d)
	}

	results, dispatchErr := s.config.Dispatcher.DispatchBatches(ctx, descs, dispatch.BatchConfig{
		BatchSize:  s.config.BatchSize,
		BatchDelay: s.config.BatchDelay,
	})

	for _, r := range results {
		i := slots[r.Index]
		if r.Err != nil {
			s.resolveFailure(sess, cp, page.Records[i], r.Err, status, i)
			continue
		}
		status[i] = statusProcessed
		sess.processed++
		syncRecordsTotal.WithLabelValues("processed").Inc()
	}

	s.advanceCursor(sess, cp, page, status)

	if dispatchErr != nil {
		return fmt.Errorf("dispatch page: %w", dispatchErr)
	}
	return nil
}

// resolveFailure ledgers a delivery failure and classifies it as a skip
// when SkipFailed is configured.
func (s *Syncer) resolveFailure(sess *session, cp *checkpoint.Checkpoint, rec Record, err error, status []recordStatus, i int) {
	attempts := 0
	var reqErr *transport.RequestError
	if errors.As(err, &reqErr) {
		attempts = reqErr.Attempts
	}
	cp.RecordError(checkpoint.ErrorEntry{
		RecordID: rec.ID,
		Message:  err.Error(),
		Attempts: attempts,
	})

	if s.config.SkipFailed {
		status[i] = statusSkipped
		sess.skipped++
		syncRecordsTotal.WithLabelValues("skipped").Inc()
		s.logger.Warn().
			Str("record_id", rec.ID).
			Err(err).
			Msg("Record failed - configured to skip")
		return
	}

	status[i] = statusFailed
	sess.failed++
	syncRecordsTotal.WithLabelValues("failed").Inc()
	s.logger.Error().
		Str("record_id", rec.ID).
		Err(err).
		Msg("Record delivery failed")
}

// advanceCursor moves the durable cursor over the longest prefix of
// delivered or skipped records. The first failure freezes the cursor for
// the rest of the run so the failed record is re-attempted next time; an
// unresolved slot (aborted dispatch) stops the prefix without freezing.
func (s *Syncer) advanceCursor(sess *session, cp *checkpoint.Checkpoint, page *Page, status []recordStatus) {
	if sess.blocked {
		return
	}

	lastGood := ""
	delivered := 0
	for i, st := range status {
		if st == statusFailed {
			sess.blocked = true
			break
		}
		if st == statusPending {
			break
		}
		lastGood = page.Records[i].ID
		if st == statusProcessed {
			delivered++
		}
	}

	if lastGood != "" {
		cp.Advance(lastGood, delivered)
	}
	if sess.blocked {
		s.logger.Warn().
			Str("cursor", cp.Cursor).
			Msg("Cursor frozen before first failed record")
	}
}
