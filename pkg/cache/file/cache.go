// Package file implements the cache as a single indented JSON index file.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/pario-ai/meshbridge/pkg/cache"
	"github.com/pario-ai/meshbridge/pkg/models"
)

// Cache keeps the whole index in memory and rewrites the file on every Put.
type Cache struct {
	path    string
	mu      sync.RWMutex
	entries map[string]string
	hits    atomic.Int64
	misses  atomic.Int64
}

var _ cache.Cache = (*Cache)(nil)

// New loads the index at path. A missing file is an empty index.
func New(path string) (*Cache, error) {
	entries, err := readIndex(path)
	if err != nil {
		return nil, err
	}
	return &Cache{path: path, entries: entries}, nil
}

func readIndex(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache index: %w", err)
	}
	entries := map[string]string{}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse cache index %s: %w", path, err)
	}
	return entries, nil
}

// Get returns the reference stored under key.
func (c *Cache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	ref, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return "", false, nil
	}
	c.hits.Add(1)
	return ref, true, nil
}

// Put stores ref under key and rewrites the index. Entries written to the
// file by another process since the last load are merged before writing, so
// concurrent writers never drop each other's keys.
func (c *Cache) Put(_ context.Context, key, ref string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	onDisk, err := readIndex(c.path)
	if err != nil {
		return err
	}
	for k, v := range onDisk {
		if _, ok := c.entries[k]; !ok {
			c.entries[k] = v
		}
	}

	if existing, ok := c.entries[key]; ok {
		if existing == ref {
			return nil
		}
		return fmt.Errorf("put %s: %w", key, cache.ErrConflict)
	}

	c.entries[key] = ref
	if err := c.flush(); err != nil {
		delete(c.entries, key)
		return err
	}
	return nil
}

// flush writes the index atomically. Callers hold c.mu.
func (c *Cache) flush() error {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache index: %w", err)
	}
	return writeFileAtomic(c.path, data)
}

// Stats returns cache performance metrics.
func (c *Cache) Stats(_ context.Context) (models.CacheStats, error) {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return models.CacheStats{
		Backend: "file",
		Entries: int64(n),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Close is a no-op; every Put is already durable.
func (c *Cache) Close() error { return nil }

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".cache_index-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp index: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace cache index: %w", err)
	}
	return nil
}
