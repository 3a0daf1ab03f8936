// Package snapshot implements the local persistence collaborator: an opaque
// blob per document kind with last-write-wins get/set.
//
// Backends:
//   - SQLite: the snapshots table of the local database (default)
//   - File: one <kind>.json file per kind in a directory
//   - Redis: one snapshot:<kind> key per kind, for sharing state between hosts
package snapshot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aneuhold/taskd/internal/docstore/db"
)

// Persister stores and loads snapshot blobs by kind.
type Persister interface {
	Save(kind string, data []byte) error
	Load(kind string) (data []byte, ok bool, err error)
}

// opTimeout bounds a single backend call.
const opTimeout = 5 * time.Second

// ===== SQLite =====

// SQLite persists snapshots in the local database.
type SQLite struct {
	db *db.DB
}

// NewSQLite returns a persister over database.
func NewSQLite(database *db.DB) *SQLite {
	return &SQLite{db: database}
}

// Save implements Persister.
func (s *SQLite) Save(kind string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return s.db.SaveSnapshot(ctx, kind, data)
}

// Load implements Persister.
func (s *SQLite) Load(kind string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return s.db.LoadSnapshot(ctx, kind)
}

// ===== File =====

// File persists each kind as <dir>/<kind>.json.
type File struct {
	dir string

	mu      sync.Mutex
	written map[string][sha256.Size]byte
}

// NewFile returns a persister writing into dir, creating it if needed.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &File{dir: dir, written: make(map[string][sha256.Size]byte)}, nil
}

// Dir returns the snapshot directory.
func (f *File) Dir() string {
	return f.dir
}

// Path returns the file holding kind.
func (f *File) Path(kind string) string {
	return filepath.Join(f.dir, kind+".json")
}

// Save implements Persister. The write goes to a temp file which is then
// renamed over the target, so readers never see a partial blob.
func (f *File) Save(kind string, data []byte) error {
	tmp, err := os.CreateTemp(f.dir, "."+kind+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot %s: %w", kind, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot %s: %w", kind, err)
	}
	if err := os.Rename(tmpName, f.Path(kind)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot %s: %w", kind, err)
	}

	f.mu.Lock()
	f.written[kind] = sha256.Sum256(data)
	f.mu.Unlock()
	return nil
}

// WrittenByUs reports whether data is exactly the last blob this persister
// saved for kind. The watcher uses it to skip reloading our own writes.
func (f *File) WrittenByUs(kind string, data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum, ok := f.written[kind]
	if !ok {
		return false
	}
	got := sha256.Sum256(data)
	return bytes.Equal(sum[:], got[:])
}

// Load implements Persister.
func (f *File) Load(kind string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.Path(kind))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read snapshot %s: %w", kind, err)
	}
	return data, true, nil
}

// KindOf maps a file path inside the directory back to its kind.
func (f *File) KindOf(path string) (string, bool) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, ".json") {
		return "", false
	}
	return strings.TrimSuffix(base, ".json"), true
}

// ===== Redis =====

// Redis persists snapshots as plain string keys.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisWithClient(client), nil
}

// NewRedisWithClient creates a persister from an existing client.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "snapshot:"}
}

func (r *Redis) key(kind string) string {
	return r.prefix + kind
}

// Save implements Persister.
func (r *Redis) Save(kind string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := r.client.Set(ctx, r.key(kind), data, 0).Err(); err != nil {
		return fmt.Errorf("save snapshot %s: %w", kind, err)
	}
	return nil
}

// Load implements Persister.
func (r *Redis) Load(kind string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	data, err := r.client.Get(ctx, r.key(kind)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot %s: %w", kind, err)
	}
	return data, true, nil
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
