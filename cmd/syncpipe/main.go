package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nordlicht-labs/syncpipe/pkg/checkpoint"
	"github.com/nordlicht-labs/syncpipe/pkg/dispatch"
	"github.com/nordlicht-labs/syncpipe/pkg/logging"
	"github.com/nordlicht-labs/syncpipe/pkg/metrics"
	"github.com/nordlicht-labs/syncpipe/pkg/syncer"
	"github.com/nordlicht-labs/syncpipe/pkg/transport"
)

// Config collects the runner configuration from the environment.
type Config struct {
	SourceURL   string
	DestURL     string
	DestHeaders map[string]string
	Since       string
	Until       string

	BatchSize  int
	BatchDelay time.Duration
	MaxWorkers int
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
	RateLimit  float64

	ForceFullSync bool
	SkipFailed    bool

	StateBackend string
	StateFile    string
	StateKey     string
	RedisAddr    string
	RedisDB      int
	S3Endpoint   string
	S3Bucket     string
	S3Prefix     string
	S3AccessKey  string
	S3SecretKey  string
	S3UseSSL     bool

	LogLevel    string
	LogPretty   bool
	MetricsAddr string
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	base := transport.New(transport.Config{
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		Burst:     cfg.MaxWorkers,
	})
	tr := transport.WithRetry(base, transport.RetryConfig{
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   cfg.RetryDelay,
	})

	source, err := syncer.NewHTTPSource(tr, syncer.HTTPSourceConfig{
		BaseURL: cfg.SourceURL,
		Since:   cfg.Since,
		Until:   cfg.Until,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create source")
	}

	dest, err := syncer.NewHTTPDestination(cfg.DestURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create destination")
	}
	for key, value := range cfg.DestHeaders {
		dest.WithHeader(key, value)
	}

	store, err := checkpoint.NewStore(checkpoint.Config{
		Backend:   cfg.StateBackend,
		Path:      cfg.StateFile,
		Key:       cfg.StateKey,
		RedisAddr: cfg.RedisAddr,
		RedisDB:   cfg.RedisDB,
		Endpoint:  cfg.S3Endpoint,
		Bucket:    cfg.S3Bucket,
		Prefix:    cfg.S3Prefix,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create checkpoint store")
	}

	s, err := syncer.New(syncer.Config{
		Source:        source,
		Destination:   dest,
		Dispatcher:    dispatch.New(tr, dispatch.Config{MaxWorkers: cfg.MaxWorkers}),
		Store:         store,
		BatchSize:     cfg.BatchSize,
		BatchDelay:    cfg.BatchDelay,
		ForceFullSync: cfg.ForceFullSync,
		SkipFailed:    cfg.SkipFailed,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create syncer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal stops gracefully between batches, second aborts hard
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("Signal received - stopping after current batch (send again to abort)")
		s.Stop()
		<-sigCh
		logger.Warn().Msg("Second signal received - aborting")
		cancel()
	}()

	srv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: newMux(s),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("Metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	var summary *syncer.Summary
	g.Go(func() error {
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("Metrics server shutdown failed")
			}
		}()

		var runErr error
		summary, runErr = s.Run(gctx)
		return runErr
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Sync failed")
		os.Exit(1)
	}

	logger.Info().
		Int64("processed", summary.Processed).
		Int64("failed", summary.Failed).
		Int64("skipped", summary.Skipped).
		Int("pages", summary.Pages).
		Str("cursor", summary.Cursor).
		Bool("stopped", summary.Stopped).
		Dur("duration", summary.Elapsed()).
		Msg("Sync finished")

	if summary.Failed > 0 {
		os.Exit(1)
	}
}

// newMux wires the operational HTTP endpoints.
func newMux(s *syncer.Syncer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(s))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// readyHandler reports 200 once the run has left the idle state.
func readyHandler(s *syncer.Syncer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.State() == syncer.StateIdle {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "NOT READY")
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "READY")
	}
}

func loadConfig() (*Config, error) {
	cfg := &Config{
		SourceURL:     getEnv("SYNC_SOURCE_URL", ""),
		DestURL:       getEnv("SYNC_DEST_URL", ""),
		Since:         getEnv("SYNC_SINCE", ""),
		Until:         getEnv("SYNC_UNTIL", ""),
		BatchSize:     getEnvInt("SYNC_BATCH_SIZE", 100),
		BatchDelay:    getEnvDuration("SYNC_BATCH_DELAY", 100*time.Millisecond),
		MaxWorkers:    getEnvInt("SYNC_MAX_WORKERS", 4),
		MaxRetries:    getEnvInt("SYNC_MAX_RETRIES", 3),
		RetryDelay:    getEnvDuration("SYNC_RETRY_DELAY", 2*time.Second),
		Timeout:       getEnvDuration("SYNC_TIMEOUT", 30*time.Second),
		RateLimit:     getEnvFloat("SYNC_RATE_LIMIT", 0),
		ForceFullSync: getEnvBool("SYNC_FORCE_FULL_SYNC", false),
		SkipFailed:    getEnvBool("SYNC_SKIP_FAILED", false),
		StateBackend:  getEnv("SYNC_STATE_BACKEND", checkpoint.BackendLocal),
		StateFile:     getEnv("SYNC_STATE_FILE", "sync_url_state.json"),
		StateKey:      getEnv("SYNC_STATE_KEY", ""),
		RedisAddr:     getEnv("SYNC_REDIS_ADDR", "localhost:6379"),
		RedisDB:       getEnvInt("SYNC_REDIS_DB", 0),
		S3Endpoint:    getEnv("SYNC_S3_ENDPOINT", ""),
		S3Bucket:      getEnv("SYNC_S3_BUCKET", ""),
		S3Prefix:      getEnv("SYNC_S3_PREFIX", "syncpipe"),
		S3AccessKey:   getEnv("SYNC_S3_ACCESS_KEY", ""),
		S3SecretKey:   getEnv("SYNC_S3_SECRET_KEY", ""),
		S3UseSSL:      getEnvBool("SYNC_S3_USE_SSL", false),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogPretty:     getEnvBool("LOG_PRETTY", false),
		MetricsAddr:   getEnv("METRICS_ADDR", ":8080"),
	}

	// SYNC_SINCE takes precedence over the relative window
	if days := getEnvInt("SYNC_DAYS_AGO", 0); days > 0 && cfg.Since == "" {
		cfg.Since = time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
	}

	headers, err := parseHeaders(getEnv("SYNC_DEST_HEADERS", ""))
	if err != nil {
		return nil, err
	}
	cfg.DestHeaders = headers

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	var missing []string
	if cfg.SourceURL == "" {
		missing = append(missing, "SYNC_SOURCE_URL")
	}
	if cfg.DestURL == "" {
		missing = append(missing, "SYNC_DEST_URL")
	}

	switch cfg.StateBackend {
	case checkpoint.BackendLocal:
		if cfg.StateFile == "" {
			missing = append(missing, "SYNC_STATE_FILE")
		}
	case checkpoint.BackendObject:
		if cfg.S3Endpoint == "" {
			missing = append(missing, "SYNC_S3_ENDPOINT")
		}
		if cfg.S3Bucket == "" {
			missing = append(missing, "SYNC_S3_BUCKET")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "SYNC_S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "SYNC_S3_SECRET_KEY")
		}
	case checkpoint.BackendRedis:
		if cfg.RedisAddr == "" {
			missing = append(missing, "SYNC_REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown SYNC_STATE_BACKEND %q (valid: %s, %s, %s)",
			cfg.StateBackend, checkpoint.BackendLocal, checkpoint.BackendObject, checkpoint.BackendRedis)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if cfg.BatchSize <= 0 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be positive, got %d", cfg.BatchSize)
	}
	if cfg.MaxWorkers <= 0 {
		return fmt.Errorf("SYNC_MAX_WORKERS must be positive, got %d", cfg.MaxWorkers)
	}
	if cfg.MaxRetries <= 0 {
		return fmt.Errorf("SYNC_MAX_RETRIES must be positive, got %d", cfg.MaxRetries)
	}
	return nil
}

// parseHeaders parses "Key:Value,Key2:Value2" into a header map.
func parseHeaders(raw string) (map[string]string, error) {
	headers := make(map[string]string)
	if raw == "" {
		return headers, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(pair, ":")
		if !found || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid header %q in SYNC_DEST_HEADERS, expected Key:Value", pair)
		}
		headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return headers, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.EqualFold(value, "true") || value == "1"
}

// getEnvDuration accepts Go duration strings ("500ms", "2s") and bare
// integers, which are read as seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
