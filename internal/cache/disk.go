package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/sejmbot/detektor/internal/model"
)

const jsonStoreVersion = 1

// JSONStore keeps all entries in one indented JSON document. Writes go to a
// temporary file in the same directory which then replaces the store by
// rename, so readers never see a partial file.
type JSONStore struct {
	path    string
	mu      sync.Mutex
	entries map[string]model.CacheEntry
}

type jsonDocument struct {
	Version int                         `json:"version"`
	Entries map[string]model.CacheEntry `json:"entries"`
}

// NewJSONStore creates a new JSON file store
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{
		path:    path,
		entries: make(map[string]model.CacheEntry),
	}
}

// Path returns the backing file
func (s *JSONStore) Path() string {
	return s.path
}

// Load reads the store. A missing file is an empty store.
func (s *JSONStore) Load(ctx context.Context) (map[string]model.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.entries = make(map[string]model.CacheEntry)
		return map[string]model.CacheEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", model.ErrCacheIO, s.path, err)
	}

	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", model.ErrCacheIO, s.path, err)
	}
	if doc.Version != jsonStoreVersion {
		return nil, fmt.Errorf("%w: %s has version %d, expected %d", model.ErrCacheIO, s.path, doc.Version, jsonStoreVersion)
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]model.CacheEntry)
	}

	s.entries = doc.Entries
	return copyEntries(doc.Entries), nil
}

// Save merges entries into the store and rewrites the file
func (s *JSONStore) Save(ctx context.Context, entries []model.CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := copyEntries(s.entries)
	for _, e := range entries {
		next[e.Fingerprint] = e
	}

	if err := s.write(next); err != nil {
		return err
	}
	s.entries = next
	return nil
}

// Clear removes the backing file
func (s *JSONStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %v", model.ErrCacheIO, s.path, err)
	}
	s.entries = make(map[string]model.CacheEntry)
	return nil
}

// Close is a no-op; every Save is already durable
func (s *JSONStore) Close() error {
	return nil
}

func (s *JSONStore) write(entries map[string]model.CacheEntry) (err error) {
	data, err := json.MarshalIndent(jsonDocument{Version: jsonStoreVersion, Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal entries: %v", model.ErrCacheIO, err)
	}

	if err := ensureDir(s.path); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", model.ErrCacheIO, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write temp file: %v", model.ErrCacheIO, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: sync temp file: %v", model.ErrCacheIO, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp file: %v", model.ErrCacheIO, err)
	}
	if err = os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("%w: replace %s: %v", model.ErrCacheIO, s.path, err)
	}
	return nil
}

func copyEntries(in map[string]model.CacheEntry) map[string]model.CacheEntry {
	out := make(map[string]model.CacheEntry, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
