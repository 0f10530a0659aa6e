package cache

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileCache stores cache entries as JSON files under a per-purpose
// subdirectory of the user's home directory.
type FileCache struct {
	dir string
}

// NewFileCache opens a file-based cache rooted at subdir under
// ~/.crestline_cache. An empty subdir uses the root cache directory itself.
func NewFileCache(subdir string) (*FileCache, error) {
	usr, err := user.Current()
	if err != nil {
		return nil, err
	}

	baseDir := filepath.Join(usr.HomeDir, ".crestline_cache")
	if subdir != "" {
		baseDir = filepath.Join(baseDir, subdir)
	}

	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, err
	}

	return &FileCache{dir: baseDir}, nil
}

// NewLeaderboardCache creates a cache for filtered segment-leaderboard query
// results, scoped per segment so a segment's entries can be dropped as a
// unit whenever a new effort changes its standings.
func NewLeaderboardCache() (*FileCache, error) {
	return NewFileCache("leaderboards")
}

// SegmentKeyFor builds a key for a filtered-leaderboard result scoped under
// segmentID's own subdirectory, so InvalidateSegment can drop every cached
// filter combination for that segment in one call instead of tracking each
// key it ever wrote.
func (fc *FileCache) SegmentKeyFor(segmentID string, params map[string]string) string {
	var parts []string
	for k, v := range params {
		if k == "segment_id" {
			continue
		}
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)

	leaf := "default"
	if len(parts) > 0 {
		leaf = strings.Join(parts, "__")
	}
	return filepath.Join(segmentID, fc.sanitizeKey(leaf)+".json")
}

// InvalidateSegment drops every cached leaderboard entry for segmentID,
// called by the ingestion pipeline once a newly inserted effort changes
// that segment's personal-record standings (spec.md §4.6: filtered
// leaderboards must reflect a new record within the cache's TTL, but an
// explicit drop keeps the wait from ever being the full 30s).
func (fc *FileCache) InvalidateSegment(segmentID string) error {
	err := os.RemoveAll(filepath.Join(fc.dir, segmentID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Read returns the entry stored at key and whether it's still fresh under
// maxAge. A zero maxAge always reports fresh. A stale entry is still
// returned, so a caller can choose to serve it while refreshing in the
// background.
func (fc *FileCache) Read(key string, maxAge time.Duration) (*Entry, bool) {
	path := fc.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}

	// Check if expired
	if maxAge > 0 && time.Since(entry.FetchedAt) > maxAge {
		return &entry, false // Return entry but mark as expired
	}

	return &entry, true
}

// Write stores entry at key, stamping FetchedAt with the write time.
func (fc *FileCache) Write(key string, entry *Entry) error {
	path := fc.path(key)
	if dir := filepath.Dir(path); dir != fc.dir {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	entry.FetchedAt = time.Now()

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}

	// Write to temporary file first, then rename (atomic operation)
	tmpPath := path + fmt.Sprintf(".tmp.%d", rand.Int())
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}

// path generates the full filesystem path for a cache key
func (fc *FileCache) path(key string) string {
	return filepath.Join(fc.dir, key)
}

// sanitizeKey ensures the key is safe for use as a filename
func (fc *FileCache) sanitizeKey(key string) string {
	// For very long keys, use hash to avoid filesystem limits
	if len(key) > 200 {
		hash := md5.Sum([]byte(key))
		return fmt.Sprintf("hash_%x", hash)
	}

	// Replace unsafe characters
	unsafe := []string{":", "?", "&", "=", "#", "<", ">", "|", "*", "\""}
	result := key
	for _, char := range unsafe {
		result = strings.ReplaceAll(result, char, "_")
	}

	return result
}
