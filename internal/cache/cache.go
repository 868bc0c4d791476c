// Package cache is a content-addressed file store for extraction results.
// Each entry is one JSON file; entries expire after a TTL and the directory
// is bounded to a maximum file count, oldest entries evicted first.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mfenderov/estate-pulse/pkg/models"
)

const keyLength = 24

// Config holds cache configuration.
type Config struct {
	Dir      string
	TTL      time.Duration
	MaxFiles int
}

// Cache stores extraction results one file per key.
type Cache struct {
	dir      string
	ttl      time.Duration
	maxFiles int
	mu       sync.Mutex // serializes sweep + write within the process
	now      func() time.Time
	logger   *slog.Logger
}

// entry is the on-disk representation of a cached result.
type entry struct {
	Timestamp float64             `json:"ts"`
	Result    []models.Extraction `json:"result"`
}

// New creates a cache rooted at config.Dir, creating the directory if needed.
func New(config Config) (*Cache, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("cache dir is required")
	}
	if config.TTL <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive")
	}
	if config.MaxFiles <= 0 {
		return nil, fmt.Errorf("cache max files must be positive")
	}
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &Cache{
		dir:      config.Dir,
		ttl:      config.TTL,
		maxFiles: config.MaxFiles,
		now:      time.Now,
		logger:   slog.Default().With("component", "cache"),
	}, nil
}

// Key returns the cache key for an extraction input.
func Key(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])[:keyLength]
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// Get returns the cached result for key. Expired and unreadable entries are
// treated as misses and removed; an empty file is a miss left in place.
func (c *Cache) Get(key string) ([]models.Extraction, bool) {
	path := c.path(key)
	data, err := readLocked(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("cache entry unreadable", "key", key, "error", err)
			c.remove(path)
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil || e.Result == nil {
		c.logger.Warn("cache entry corrupt", "key", key, "error", err)
		c.remove(path)
		return nil, false
	}

	if c.now().Sub(fromUnix(e.Timestamp)) >= c.ttl {
		c.logger.Debug("cache entry expired", "key", key)
		c.remove(path)
		return nil, false
	}

	return e.Result, true
}

// Put stores result under key and then trims the directory to MaxFiles.
func (c *Cache) Put(key string, result []models.Extraction) error {
	data, err := json.Marshal(entry{Timestamp: toUnix(c.now()), Result: result})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := writeLocked(c.path(key), data); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	c.sweep()
	return nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	files, _ := c.files()
	return len(files)
}

// sweep deletes the oldest entries until at most maxFiles remain.
// Caller holds c.mu.
func (c *Cache) sweep() {
	files, err := c.files()
	if err != nil {
		c.logger.Warn("cache sweep failed", "error", err)
		return
	}
	if len(files) <= c.maxFiles {
		return
	}

	type aged struct {
		path string
		ts   time.Time
	}
	ranked := make([]aged, 0, len(files))
	for _, path := range files {
		ranked = append(ranked, aged{path: path, ts: c.timestamp(path)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].ts.Before(ranked[j].ts) })

	excess := len(ranked) - c.maxFiles
	for _, f := range ranked[:excess] {
		c.remove(f.path)
	}
	c.logger.Debug("cache sweep", "evicted", excess, "remaining", c.maxFiles)
}

// timestamp reads the entry's internal timestamp, falling back to mtime.
func (c *Cache) timestamp(path string) time.Time {
	if data, err := readLocked(path); err == nil {
		var e entry
		if json.Unmarshal(data, &e) == nil && e.Timestamp > 0 {
			return fromUnix(e.Timestamp)
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (c *Cache) files() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".json") {
			files = append(files, filepath.Join(c.dir, e.Name()))
		}
	}
	return files, nil
}

func (c *Cache) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("failed to delete cache entry", "path", path, "error", err)
	}
}

func toUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnix(ts float64) time.Time {
	sec := int64(ts)
	return time.Unix(sec, int64((ts-float64(sec))*1e9))
}
