package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ObjectStore persists the checkpoint as a single JSON object in
// S3-compatible object storage. A PUT replaces the whole object, so
// readers never observe a partial document. Every save also writes a
// timestamped backup under <prefix>/backups/.
type ObjectStore struct {
	client *minio.Client
	bucket string
	key    string
	prefix string
	logger zerolog.Logger
}

// NewObjectStore connects to the object storage endpoint in config.
func NewObjectStore(config Config) (*ObjectStore, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("object checkpoint store requires a bucket")
	}
	if config.Endpoint == "" {
		return nil, fmt.Errorf("object checkpoint store requires an endpoint")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("object storage client: %w", err)
	}

	prefix := config.Prefix
	if prefix == "" {
		prefix = "syncpipe"
	}
	key := config.Key
	if key == "" {
		key = "checkpoint.json"
	}

	return &ObjectStore{
		client: client,
		bucket: config.Bucket,
		key:    path.Join(prefix, key),
		prefix: prefix,
		logger: log.With().Str("component", "checkpoint").Str("backend", BackendObject).Logger(),
	}, nil
}

// Load fetches the checkpoint object. A missing key yields a fresh checkpoint.
func (s *ObjectStore) Load(ctx context.Context) (*Checkpoint, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key, minio.GetObjectOptions{})
	if err != nil {
		checkpointLoads.WithLabelValues(BackendObject, "error").Inc()
		return nil, &IOError{Backend: BackendObject, Op: "load", Err: err}
	}
	defer obj.Close()

	// GetObject defers the request; NoSuchKey surfaces on the first read
	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			checkpointLoads.WithLabelValues(BackendObject, "fresh").Inc()
			s.logger.Info().Str("key", s.key).Msg("No checkpoint object - starting fresh")
			return New(), nil
		}
		checkpointLoads.WithLabelValues(BackendObject, "error").Inc()
		return nil, &IOError{Backend: BackendObject, Op: "load", Err: err}
	}

	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		checkpointLoads.WithLabelValues(BackendObject, "error").Inc()
		return nil, &IOError{Backend: BackendObject, Op: "load", Err: fmt.Errorf("parse checkpoint: %w", err)}
	}

	checkpointLoads.WithLabelValues(BackendObject, "ok").Inc()
	s.logger.Debug().
		Str("cursor", c.Cursor).
		Int64("processed", c.ProcessedCount).
		Msg("Checkpoint loaded")
	return &c, nil
}

// Save uploads the checkpoint JSON and a timestamped backup copy. A failed
// backup write is logged but does not fail the save; the primary object is
// already durable at that point.
func (s *ObjectStore) Save(ctx context.Context, c *Checkpoint) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		checkpointSaves.WithLabelValues(BackendObject, "error").Inc()
		return &IOError{Backend: BackendObject, Op: "save", Err: err}
	}

	if err := s.put(ctx, s.key, data); err != nil {
		checkpointSaves.WithLabelValues(BackendObject, "error").Inc()
		return &IOError{Backend: BackendObject, Op: "save", Err: err}
	}

	backupKey := path.Join(s.prefix, "backups",
		fmt.Sprintf("checkpoint_%s.json", time.Now().UTC().Format("20060102_150405")))
	if err := s.put(ctx, backupKey, data); err != nil {
		s.logger.Warn().Err(err).Str("key", backupKey).Msg("Checkpoint backup write failed")
	}

	checkpointSaves.WithLabelValues(BackendObject, "ok").Inc()
	s.logger.Debug().
		Str("cursor", c.Cursor).
		Str("key", s.key).
		Msg("Checkpoint saved")
	return nil
}

func (s *ObjectStore) put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return err
}
