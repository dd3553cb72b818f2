package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// FileStore persists the checkpoint as a JSON file on local disk.
// Saves write a temporary file in the same directory and rename it over
// the target, so a crash mid-save never leaves a torn document behind.
type FileStore struct {
	path   string
	logger zerolog.Logger
}

// NewFileStore creates a file-backed store writing to path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("checkpoint file path is required")
	}
	return &FileStore{
		path:   path,
		logger: log.With().Str("component", "checkpoint").Str("backend", BackendLocal).Logger(),
	}, nil
}

// Load reads the checkpoint file. A missing file yields a fresh checkpoint.
func (s *FileStore) Load(ctx context.Context) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			checkpointLoads.WithLabelValues(BackendLocal, "fresh").Inc()
			s.logger.Info().Str("path", s.path).Msg("No checkpoint file - starting fresh")
			return New(), nil
		}
		checkpointLoads.WithLabelValues(BackendLocal, "error").Inc()
		return nil, &IOError{Backend: BackendLocal, Op: "load", Err: err}
	}

	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		checkpointLoads.WithLabelValues(BackendLocal, "error").Inc()
		return nil, &IOError{Backend: BackendLocal, Op: "load", Err: fmt.Errorf("parse checkpoint: %w", err)}
	}

	checkpointLoads.WithLabelValues(BackendLocal, "ok").Inc()
	s.logger.Debug().
		Str("cursor", c.Cursor).
		Int64("processed", c.ProcessedCount).
		Msg("Checkpoint loaded")
	return &c, nil
}

// Save writes the checkpoint atomically via temp file + rename. Parent
// directories are created on demand.
func (s *FileStore) Save(ctx context.Context, c *Checkpoint) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		checkpointSaves.WithLabelValues(BackendLocal, "error").Inc()
		return &IOError{Backend: BackendLocal, Op: "save", Err: err}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		checkpointSaves.WithLabelValues(BackendLocal, "error").Inc()
		return &IOError{Backend: BackendLocal, Op: "save", Err: err}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		checkpointSaves.WithLabelValues(BackendLocal, "error").Inc()
		return &IOError{Backend: BackendLocal, Op: "save", Err: err}
	}
	tmpName := tmp.Name()

	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmpName)
		if werr == nil {
			werr = cerr
		}
		checkpointSaves.WithLabelValues(BackendLocal, "error").Inc()
		return &IOError{Backend: BackendLocal, Op: "save", Err: werr}
	}

	// Rename within the same directory is atomic on POSIX filesystems
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		checkpointSaves.WithLabelValues(BackendLocal, "error").Inc()
		return &IOError{Backend: BackendLocal, Op: "save", Err: err}
	}

	checkpointSaves.WithLabelValues(BackendLocal, "ok").Inc()
	s.logger.Debug().
		Str("cursor", c.Cursor).
		Str("path", s.path).
		Msg("Checkpoint saved")
	return nil
}
