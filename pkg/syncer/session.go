package syncer

import (
	"time"
)

// session tracks one run's in-memory progress. The pageCursor advances
// with every fetched page so the run keeps walking the source even after
// a delivery failure; the durable checkpoint cursor is managed separately
// and freezes at the first non-skippable failure.
type session struct {
	startedAt  time.Time
	pageCursor string
	processed  int64
	failed     int64
	skipped    int64
	pages      int
	blocked    bool
	stopped    bool
	forced     bool
}

func newSession(cursor string, forced bool) *session {
	return &session{
		startedAt:  time.Now().UTC(),
		pageCursor: cursor,
		forced:     forced,
	}
}

// Summary reports the outcome of one sync run.
type Summary struct {
	State      State
	Processed  int64
	Failed     int64
	Skipped    int64
	Pages      int
	Cursor     string
	Stopped    bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Elapsed is the wall-clock duration of the run.
func (s *Summary) Elapsed() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

func (sess *session) summary(state State, cursor string) *Summary {
	return &Summary{
		State:      state,
		Processed:  sess.processed,
		Failed:     sess.failed,
		Skipped:    sess.skipped,
		Pages:      sess.pages,
		Cursor:     cursor,
		Stopped:    sess.stopped,
		StartedAt:  sess.startedAt,
		FinishedAt: time.Now().UTC(),
	}
}
