package schemacache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/nlpdb/nlpdb/internal/config"
	"github.com/nlpdb/nlpdb/internal/storage"
)

// Store persists the serialized cache blob. Load returns nil when nothing
// has been saved.
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, blob []byte) error
	Clear(ctx context.Context) error
}

func NewStore(cfg config.SchemaCacheConfig, objects storage.ObjectStore) (Store, error) {
	switch cfg.Backend {
	case config.CacheBackendFile:
		return NewFileStore(cfg.FilePath), nil
	case config.CacheBackendObjectStore:
		if objects == nil {
			return nil, fmt.Errorf("object store is required for the %q cache backend", cfg.Backend)
		}
		return NewObjectStore(objects, cfg.ObjectKey), nil
	case config.CacheBackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown schema cache backend %q", cfg.Backend)
	}
}

type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (f *FileStore) Load(context.Context) ([]byte, error) {
	blob, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache file: %w", err)
	}
	return blob, nil
}

// Save writes through a temp file in the same directory and renames it over
// the target.
func (f *FileStore) Save(_ context.Context, blob []byte) error {
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".schema-cache-*")
	if err != nil {
		return fmt.Errorf("create cache temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write cache temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

func (f *FileStore) Clear(context.Context) error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove cache file: %w", err)
	}
	return nil
}

type MemoryStore struct {
	mu   sync.Mutex
	blob []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.blob), nil
}

func (m *MemoryStore) Save(_ context.Context, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blob = bytes.Clone(blob)
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blob = nil
	return nil
}

// ObjectStore keeps the blob under one key of an object store bucket.
type ObjectStore struct {
	objects storage.ObjectStore
	key     string
}

func NewObjectStore(objects storage.ObjectStore, key string) *ObjectStore {
	if key == "" {
		key = "cache/database_cache.json"
	}
	return &ObjectStore{objects: objects, key: key}
}

func (o *ObjectStore) Load(ctx context.Context) ([]byte, error) {
	reader, err := o.objects.Get(ctx, o.key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = reader.Close() }()
	blob, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read cache object: %w", err)
	}
	return blob, nil
}

func (o *ObjectStore) Save(ctx context.Context, blob []byte) error {
	_, err := o.objects.Put(ctx, o.key, bytes.NewReader(blob), int64(len(blob)), storage.PutOptions{ContentType: "application/json"})
	return err
}

func (o *ObjectStore) Clear(ctx context.Context) error {
	return o.objects.Delete(ctx, o.key)
}
