package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
)

// CheckpointStore persists RunState snapshots durably between runs.
// Implementations must make Save atomic enough that a crash mid-write
// leaves either the old or the new snapshot readable, never a torn one.
type CheckpointStore interface {
	// Load returns the last persisted snapshot, or nil when none exists.
	Load(ctx context.Context) (json.RawMessage, error)

	// Save persists a snapshot, replacing any prior one.
	Save(ctx context.Context, snapshot json.RawMessage) error
}

// FileStore persists the snapshot as a JSON document on disk.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed checkpoint store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the snapshot file. A missing file is not an error.
func (s *FileStore) Load(_ context.Context) (json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}
	return data, nil
}

// Save writes the snapshot via a temp file and rename so a crash cannot
// leave a torn checkpoint behind.
func (s *FileStore) Save(_ context.Context, snapshot json.RawMessage) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(snapshot); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// RedisStore persists the snapshot under a single Redis key, for
// deployments where the extractor runs on ephemeral hosts without a
// stable filesystem.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a Redis-backed checkpoint store.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

// Load fetches the snapshot. A missing key is not an error.
func (s *RedisStore) Load(ctx context.Context) (json.RawMessage, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint key %s: %w", s.key, err)
	}
	return data, nil
}

// Save stores the snapshot. No expiry: checkpoints outlive any run.
func (s *RedisStore) Save(ctx context.Context, snapshot json.RawMessage) error {
	if err := s.client.Set(ctx, s.key, []byte(snapshot), 0).Err(); err != nil {
		return fmt.Errorf("write checkpoint key %s: %w", s.key, err)
	}
	return nil
}
