package checkpoint

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkpointLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncpipe_checkpoint_loads_total",
			Help: "Checkpoint loads by backend and result (ok, fresh, error)",
		},
		[]string{"backend", "result"},
	)

	checkpointSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncpipe_checkpoint_saves_total",
			Help: "Checkpoint saves by backend and result (ok, error)",
		},
		[]string{"backend", "result"},
	)

	ledgerSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "syncpipe_checkpoint_errors_ledger_size",
		Help: "Entries currently held in the checkpoint error ledger",
	})
)

// Store persists checkpoints. Implementations must make Save atomic with
// respect to readers: a concurrent Load observes either the previous or
// the new document, never a partial one.
type Store interface {
	// Load returns the stored checkpoint, or a fresh empty one when no
	// checkpoint exists yet.
	Load(ctx context.Context) (*Checkpoint, error)

	// Save persists the checkpoint, replacing any previous document.
	Save(ctx context.Context, c *Checkpoint) error
}

// IOError wraps a checkpoint backend failure. The syncer treats it as
// run-fatal: processing without durable state risks silent re-processing
// or data loss.
type IOError struct {
	Backend string
	Op      string
	Err     error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("checkpoint %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Backend names accepted by Config.Backend.
const (
	BackendLocal  = "local"
	BackendObject = "object"
	BackendRedis  = "redis"
)

// Config selects and parameterizes a checkpoint backend.
type Config struct {
	// Backend is one of local, object, redis (default: local)
	Backend string

	// Path is the checkpoint file location (local backend)
	Path string

	// Object storage settings (object backend)
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Prefix    string

	// Redis settings (redis backend)
	RedisAddr string
	RedisDB   int

	// Key overrides the default document key (object and redis backends)
	Key string
}

// NewStore constructs the Store selected by config.Backend.
func NewStore(config Config) (Store, error) {
	switch config.Backend {
	case BackendLocal, "":
		return NewFileStore(config.Path)
	case BackendObject:
		return NewObjectStore(config)
	case BackendRedis:
		return NewRedisStore(config)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q (want local, object or redis)", config.Backend)
	}
}
