// Package checkpoint persists the durable processing state of a sync
// pipeline: the cursor of the last fully processed record, counters, a
// bounded error ledger and a bounded run history.
//
// The checkpoint is a single JSON document. Three backends implement the
// Store interface:
//   - FileStore: local JSON file, atomic via write-temp-then-rename
//   - ObjectStore: S3-compatible object storage, atomic via single PUT
//   - RedisStore: single value under one key, atomic via SET
//
// A missing checkpoint is not an error; Load returns a fresh empty
// document so a first run starts from the beginning.
package checkpoint

import (
	"time"
)

const (
	// MaxErrorEntries bounds the error ledger to the most recent entries
	MaxErrorEntries = 100

	// MaxRunRecords bounds the run history
	MaxRunRecords = 50
)

// Checkpoint is the resumption state of a sync pipeline. Cursor identifies
// the last record known to be fully processed; a restart resumes strictly
// after it. The zero value is a valid fresh checkpoint.
type Checkpoint struct {
	Cursor         string       `json:"cursor"`
	UpdatedAt      time.Time    `json:"updated_at"`
	ProcessedCount int64        `json:"processed_count"`
	LastRunStart   time.Time    `json:"last_run_start,omitempty"`
	LastRunEnd     time.Time    `json:"last_run_end,omitempty"`
	Runs           []RunRecord  `json:"runs,omitempty"`
	Errors         []ErrorEntry `json:"errors,omitempty"`
}

// RunRecord summarizes one completed sync run.
type RunRecord struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Processed  int64     `json:"processed"`
	Failed     int64     `json:"failed"`
	Skipped    int64     `json:"skipped"`
	ForcedFull bool      `json:"forced_full,omitempty"`
}

// ErrorEntry is one record-level failure in the bounded error ledger.
type ErrorEntry struct {
	RecordID string    `json:"record_id"`
	Message  string    `json:"message"`
	Attempts int       `json:"attempts,omitempty"`
	At       time.Time `json:"at"`
}

// New returns a fresh empty checkpoint.
func New() *Checkpoint {
	return &Checkpoint{}
}

// Advance moves the cursor forward and accumulates n processed records.
// The cursor is monotonic: a regression (new cursor not greater than the
// current one) keeps the stored cursor and only updates the counters.
// Reports whether the cursor actually moved.
func (c *Checkpoint) Advance(cursor string, n int) bool {
	c.ProcessedCount += int64(n)
	c.UpdatedAt = time.Now().UTC()

	if cursor == "" || cursor <= c.Cursor {
		return false
	}
	c.Cursor = cursor
	return true
}

// RecordError appends an entry to the error ledger, dropping the oldest
// entries beyond MaxErrorEntries. A zero At is filled with the current time.
func (c *Checkpoint) RecordError(e ErrorEntry) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	c.Errors = append(c.Errors, e)
	if len(c.Errors) > MaxErrorEntries {
		c.Errors = c.Errors[len(c.Errors)-MaxErrorEntries:]
	}
	ledgerSize.Set(float64(len(c.Errors)))
}

// AddRun appends a run summary, dropping the oldest beyond MaxRunRecords,
// and updates the last-run window.
func (c *Checkpoint) AddRun(r RunRecord) {
	c.Runs = append(c.Runs, r)
	if len(c.Runs) > MaxRunRecords {
		c.Runs = c.Runs[len(c.Runs)-MaxRunRecords:]
	}
	c.LastRunStart = r.StartedAt
	c.LastRunEnd = r.FinishedAt
}

// Reset clears the cursor and counters for a forced full pass while keeping
// the run history and error ledger intact.
func (c *Checkpoint) Reset() {
	c.Cursor = ""
	c.ProcessedCount = 0
	c.UpdatedAt = time.Now().UTC()
}
