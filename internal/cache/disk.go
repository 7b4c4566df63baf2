package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// DiskStore caches values as files under baseDir/{hash[:2]}/{hash}{ext}.
// Entries expire after ttl and the least recently used ones are evicted
// once the total size exceeds maxSize. Access is single-process and
// sequential.
type DiskStore struct {
	baseDir  string
	ext      string
	maxSize  int64 // Maximum cache size in bytes
	currSize int64
	ttl      time.Duration
	index    map[string]*CacheEntry // hash -> entry
	now      func() time.Time
}

// CacheEntry represents a cached value on disk
type CacheEntry struct {
	Hash       string    `json:"-"`
	FilePath   string    `json:"-"`
	Size       int64     `json:"size"`
	AccessTime time.Time `json:"accessTime"`
	CreateTime time.Time `json:"createTime"`
}

// metadataFile keeps access and creation times across runs
const metadataFile = "metadata.json"

// NewDiskStore opens (or creates) a disk cache in baseDir. Files already
// present with the given extension are indexed.
func NewDiskStore(baseDir, ext string, maxSizeMB, ttlDays int) (*DiskStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &DiskStore{
		baseDir: baseDir,
		ext:     ext,
		maxSize: int64(maxSizeMB) * 1024 * 1024,
		ttl:     time.Duration(ttlDays) * 24 * time.Hour,
		index:   make(map[string]*CacheEntry),
		now:     time.Now,
	}

	if err := c.loadIndex(); err != nil {
		return nil, fmt.Errorf("failed to load cache index: %w", err)
	}
	c.evictExpired()

	return c, nil
}

// Get retrieves a value from cache
func (c *DiskStore) Get(_ context.Context, key string) ([]byte, bool) {
	hash := HashKey(key)
	entry, exists := c.index[hash]
	if !exists {
		return nil, false
	}

	if c.expired(entry) {
		c.remove(hash)
		return nil, false
	}

	data, err := os.ReadFile(entry.FilePath)
	if err != nil {
		// File vanished underneath us
		c.remove(hash)
		return nil, false
	}

	entry.AccessTime = c.now()
	return data, true
}

// Set stores a value. The file is written under a temporary name and
// renamed so a crash never leaves a truncated entry.
func (c *DiskStore) Set(_ context.Context, key string, data []byte) error {
	hash := HashKey(key)
	filePath := c.pathFor(hash)

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create cache subdirectory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), "."+hash[:8]+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to finalize cache file: %w", err)
	}

	if old, exists := c.index[hash]; exists {
		c.currSize -= old.Size
	}
	now := c.now()
	c.index[hash] = &CacheEntry{
		Hash:       hash,
		FilePath:   filePath,
		Size:       int64(len(data)),
		AccessTime: now,
		CreateTime: now,
	}
	c.currSize += int64(len(data))

	if c.currSize > c.maxSize {
		c.evict()
	}
	return nil
}

func (c *DiskStore) pathFor(hash string) string {
	return filepath.Join(c.baseDir, hash[:2], hash+c.ext)
}

func (c *DiskStore) expired(entry *CacheEntry) bool {
	return c.ttl > 0 && c.now().Sub(entry.CreateTime) > c.ttl
}

func (c *DiskStore) remove(hash string) {
	entry, exists := c.index[hash]
	if !exists {
		return
	}
	os.Remove(entry.FilePath) // Best effort cleanup
	c.currSize -= entry.Size
	delete(c.index, hash)
}

// evict removes least recently used entries until the cache is at 90% of max
func (c *DiskStore) evict() {
	targetSize := c.maxSize * 9 / 10

	entries := make([]*CacheEntry, 0, len(c.index))
	for _, e := range c.index {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *CacheEntry) int {
		return a.AccessTime.Compare(b.AccessTime)
	})

	evicted := 0
	for _, e := range entries {
		if c.currSize <= targetSize {
			break
		}
		c.remove(e.Hash)
		evicted++
	}
	log.Printf("[Cache] Evicted %d entries from %s (now %d bytes)", evicted, c.baseDir, c.currSize)
}

func (c *DiskStore) evictExpired() {
	for hash, e := range c.index {
		if c.expired(e) {
			c.remove(hash)
		}
	}
}

// loadIndex scans the cache directory and rebuilds the in-memory index.
// Times come from the metadata file; entries missing from it fall back to
// the file modification time.
func (c *DiskStore) loadIndex() error {
	saved := c.loadMetadata()
	return filepath.Walk(c.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors, continue walking
		}
		if info.IsDir() || filepath.Ext(path) != c.ext {
			return nil
		}

		hash := filepath.Base(path)
		hash = hash[:len(hash)-len(c.ext)]
		if len(hash) != 64 {
			return nil
		}

		entry := &CacheEntry{
			Hash:       hash,
			FilePath:   path,
			Size:       info.Size(),
			AccessTime: info.ModTime(),
			CreateTime: info.ModTime(),
		}
		if meta, ok := saved[hash]; ok && meta.Size == info.Size() {
			entry.AccessTime, entry.CreateTime = meta.AccessTime, meta.CreateTime
		}
		c.index[hash] = entry
		c.currSize += info.Size()
		return nil
	})
}

func (c *DiskStore) loadMetadata() map[string]*CacheEntry {
	data, err := os.ReadFile(filepath.Join(c.baseDir, metadataFile))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("[Cache] Failed to read metadata in %s: %v", c.baseDir, err)
		}
		return nil
	}
	var saved map[string]*CacheEntry
	if err := json.Unmarshal(data, &saved); err != nil {
		log.Printf("[Cache] Ignoring corrupt metadata in %s: %v", c.baseDir, err)
		return nil
	}
	return saved
}

// saveMetadata writes the index times to a temporary file and renames it
func (c *DiskStore) saveMetadata() error {
	data, err := json.Marshal(c.index)
	if err != nil {
		return fmt.Errorf("failed to encode cache metadata: %w", err)
	}
	path := filepath.Join(c.baseDir, metadataFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache metadata: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize cache metadata: %w", err)
	}
	return nil
}

// Stats returns cache statistics
func (c *DiskStore) Stats() (entries int, sizeBytes int64, maxBytes int64) {
	return len(c.index), c.currSize, c.maxSize
}

// Clear removes all cached values
func (c *DiskStore) Clear() error {
	for hash := range c.index {
		c.remove(hash)
	}
	return nil
}

// Dir returns the cache directory
func (c *DiskStore) Dir() string { return c.baseDir }

// Close persists access and creation times for the next run
func (c *DiskStore) Close() error { return c.saveMetadata() }
