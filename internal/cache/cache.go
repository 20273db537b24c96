package cache

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pierrec/lz4/v4"
	"go.trai.ch/zerr"
)

// Cache provides local file-based caching for index and advisory responses.
// Entries are lz4 frames named by the xxhash of their key. A nil *Cache is a
// valid, always-empty cache.
type Cache struct {
	Dir string
	TTL time.Duration
}

// DefaultTTL is the default cache time-to-live
const DefaultTTL = 24 * time.Hour

const entrySuffix = ".lz4"

// DefaultDir returns ~/.cache/<appName>
func DefaultDir(appName string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", zerr.Wrap(err, "failed to locate home directory")
	}
	return filepath.Join(homeDir, ".cache", appName), nil
}

// New creates the cache directory if needed
func New(dir string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to create cache directory"), "dir", dir)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Cache{
		Dir: dir,
		TTL: ttl,
	}, nil
}

// keyToFilename converts a URL or key to a safe filename
func keyToFilename(key string) string {
	return strconv.FormatUint(xxhash.Sum64String(key), 16) + entrySuffix
}

// Path returns the full path to the cache file for a key
func (c *Cache) Path(key string) string {
	return filepath.Join(c.Dir, keyToFilename(key))
}

// Get retrieves data from cache if it exists and is not expired
func (c *Cache) Get(key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	path := c.Path(key)

	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}

	if time.Since(info.ModTime()) > c.TTL {
		return nil, false
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(lz4.NewReader(f))
	if err != nil {
		return nil, false
	}

	return data, true
}

// Set stores data in the cache. The entry is written to a temporary file and
// renamed so concurrent readers never see a partial frame.
func (c *Cache) Set(key string, data []byte) error {
	if c == nil {
		return nil
	}

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return zerr.Wrap(err, "failed to compress cache entry")
	}
	if err := zw.Close(); err != nil {
		return zerr.Wrap(err, "failed to compress cache entry")
	}

	tmp, err := os.CreateTemp(c.Dir, "entry-*.tmp")
	if err != nil {
		return zerr.Wrap(err, "failed to write cache entry")
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return zerr.Wrap(err, "failed to write cache entry")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return zerr.Wrap(err, "failed to write cache entry")
	}

	path := c.Path(key)
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return zerr.With(zerr.Wrap(err, "failed to write cache entry"), "path", path)
	}
	return nil
}

// Stats describes the cache directory contents
type Stats struct {
	Dir     string
	Entries int
	Expired int
	Bytes   uint64
	Oldest  time.Time
	Newest  time.Time
}

type entry struct {
	path    string
	size    int64
	modTime time.Time
}

func (c *Cache) entries() ([]entry, error) {
	dirEntries, err := os.ReadDir(c.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, zerr.With(zerr.Wrap(err, "failed to read cache directory"), "dir", c.Dir)
	}

	var out []entry
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), entrySuffix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, entry{
			path:    filepath.Join(c.Dir, de.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	return out, nil
}

// Stats summarizes the entries on disk
func (c *Cache) Stats() (Stats, error) {
	st := Stats{Dir: c.Dir}
	entries, err := c.entries()
	if err != nil {
		return st, err
	}

	for _, e := range entries {
		st.Entries++
		st.Bytes += uint64(e.size)
		if time.Since(e.modTime) > c.TTL {
			st.Expired++
		}
		if st.Oldest.IsZero() || e.modTime.Before(st.Oldest) {
			st.Oldest = e.modTime
		}
		if e.modTime.After(st.Newest) {
			st.Newest = e.modTime
		}
	}
	return st, nil
}

// Prune removes expired entries, then the oldest ones until the cache holds
// at most maxBytes. A zero maxBytes only removes expired entries.
func (c *Cache) Prune(maxBytes uint64) (int, error) {
	entries, err := c.entries()
	if err != nil {
		return 0, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].modTime.Before(entries[j].modTime) })

	var total uint64
	for _, e := range entries {
		total += uint64(e.size)
	}

	removed := 0
	for _, e := range entries {
		expired := time.Since(e.modTime) > c.TTL
		over := maxBytes > 0 && total > maxBytes
		if !expired && !over {
			continue
		}
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			return removed, zerr.With(zerr.Wrap(err, "failed to remove cache entry"), "path", e.path)
		}
		total -= uint64(e.size)
		removed++
	}
	return removed, nil
}

// Clear removes all cached files and returns how many were removed
func (c *Cache) Clear() (int, error) {
	entries, err := c.entries()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if err := os.Remove(e.path); err == nil {
			removed++
		}
	}
	return removed, nil
}
