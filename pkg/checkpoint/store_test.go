package checkpoint

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewStore_SelectsBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")

	tests := []struct {
		name    string
		config  Config
		want    string
		wantErr bool
	}{
		{"local", Config{Backend: BackendLocal, Path: path}, "*checkpoint.FileStore", false},
		{"default is local", Config{Path: path}, "*checkpoint.FileStore", false},
		{"redis", Config{Backend: BackendRedis, RedisAddr: "localhost:6379"}, "*checkpoint.RedisStore", false},
		{"object", Config{Backend: BackendObject, Endpoint: "localhost:9000", Bucket: "state"}, "*checkpoint.ObjectStore", false},
		{"unknown", Config{Backend: "etcd"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewStore(tt.config)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewStore() failed: %v", err)
			}

			got := typeName(store)
			if got != tt.want {
				t.Errorf("NewStore() = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(s Store) string {
	switch s.(type) {
	case *FileStore:
		return "*checkpoint.FileStore"
	case *ObjectStore:
		return "*checkpoint.ObjectStore"
	case *RedisStore:
		return "*checkpoint.RedisStore"
	default:
		return "unknown"
	}
}

func TestNewStore_UnknownBackendMessage(t *testing.T) {
	_, err := NewStore(Config{Backend: "etcd"})
	if err == nil {
		t.Fatal("Expected error")
	}
	if !strings.Contains(err.Error(), "etcd") {
		t.Errorf("Error %q should name the unknown backend", err)
	}
}

func TestNewObjectStore_Validation(t *testing.T) {
	if _, err := NewObjectStore(Config{Endpoint: "localhost:9000"}); err == nil {
		t.Error("Expected error for missing bucket")
	}
	if _, err := NewObjectStore(Config{Bucket: "state"}); err == nil {
		t.Error("Expected error for missing endpoint")
	}
}

func TestNewObjectStore_Keys(t *testing.T) {
	store, err := NewObjectStore(Config{
		Endpoint: "localhost:9000",
		Bucket:   "state",
	})
	if err != nil {
		t.Fatalf("NewObjectStore() failed: %v", err)
	}
	if store.key != "syncpipe/checkpoint.json" {
		t.Errorf("Default key = %q, want syncpipe/checkpoint.json", store.key)
	}

	store, err = NewObjectStore(Config{
		Endpoint: "localhost:9000",
		Bucket:   "state",
		Prefix:   "jobs/conversations",
		Key:      "state.json",
	})
	if err != nil {
		t.Fatalf("NewObjectStore() failed: %v", err)
	}
	if store.key != "jobs/conversations/state.json" {
		t.Errorf("Key = %q, want jobs/conversations/state.json", store.key)
	}
}

func TestIOError_Format(t *testing.T) {
	cause := errors.New("disk full")
	err := &IOError{Backend: BackendLocal, Op: "save", Err: cause}

	want := "checkpoint local save: disk full"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, cause) {
		t.Error("Unwrap should expose the cause")
	}
}
