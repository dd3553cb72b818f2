package checkpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a test Redis client for unit tests. Skips the
// test when no local Redis is reachable; the integration suite covers the
// containerized path.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewRedisStore_RequiresAddr(t *testing.T) {
	_, err := NewRedisStore(Config{Backend: BackendRedis})
	if err == nil {
		t.Error("Expected error for missing redis address")
	}
}

func TestNewRedisStoreWithClient_NilPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisStoreWithClient should panic with nil client")
		}
	}()
	NewRedisStoreWithClient(nil, "")
}

func TestRedisStore_LoadMissing(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStoreWithClient(client, "test:checkpoint")

	c, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() of missing key failed: %v", err)
	}
	if c.Cursor != "" || c.ProcessedCount != 0 {
		t.Errorf("Expected fresh checkpoint, got cursor=%q processed=%d", c.Cursor, c.ProcessedCount)
	}
}

func TestRedisStore_SaveLoadRoundTrip(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStoreWithClient(client, "test:checkpoint")
	ctx := context.Background()

	c := New()
	c.Advance("rec-42", 42)
	c.RecordError(ErrorEntry{RecordID: "rec-13", Message: "timeout", Attempts: 3})

	if err := store.Save(ctx, c); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.Cursor != "rec-42" {
		t.Errorf("Cursor = %q, want rec-42", loaded.Cursor)
	}
	if loaded.ProcessedCount != 42 {
		t.Errorf("ProcessedCount = %d, want 42", loaded.ProcessedCount)
	}
	if len(loaded.Errors) != 1 || loaded.Errors[0].RecordID != "rec-13" {
		t.Errorf("Error ledger = %+v, want single rec-13 entry", loaded.Errors)
	}
}

func TestRedisStore_SaveReplaces(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStoreWithClient(client, "test:checkpoint")
	ctx := context.Background()

	first := New()
	first.Advance("rec-100", 100)
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("First Save() failed: %v", err)
	}

	second := New()
	second.Advance("rec-200", 200)
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("Second Save() failed: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.Cursor != "rec-200" {
		t.Errorf("Cursor = %q, want rec-200 (latest save wins)", loaded.Cursor)
	}
}

func TestRedisStore_DefaultKey(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStoreWithClient(client, "")
	ctx := context.Background()

	c := New()
	c.Advance("rec-1", 1)
	if err := store.Save(ctx, c); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	if err := client.Get(ctx, defaultRedisKey).Err(); err != nil {
		t.Errorf("Expected checkpoint under %q: %v", defaultRedisKey, err)
	}
}

func TestRedisStore_LoadCorrupted(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStoreWithClient(client, "test:checkpoint")
	ctx := context.Background()

	if err := client.Set(ctx, "test:checkpoint", "not json {{", 0).Err(); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	_, err := store.Load(ctx)
	if err == nil {
		t.Fatal("Expected error for corrupted checkpoint")
	}

	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("Expected *IOError, got %T: %v", err, err)
	}
	if ioErr.Backend != BackendRedis {
		t.Errorf("Backend = %q, want %q", ioErr.Backend, BackendRedis)
	}
}
