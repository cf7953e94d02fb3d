package build

import (
	"bytes"
	"compress/gzip"
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CacheKey identifies a compiled artifact by the content that produced it.
type CacheKey string

// KeyFor derives the cache key of source compiled by compiler version version.
func KeyFor(version, source string) CacheKey {
	h := sha256.New()
	io.WriteString(h, version)
	h.Write([]byte{0})
	io.WriteString(h, source)
	return CacheKey(hex.EncodeToString(h.Sum(nil)))
}

// Artifact is the cached output of one compilation.
type Artifact struct {
	JS       string
	Metadata map[string]string
}

// CacheStats exposes basic counters.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Entries   int64
	Bytes     int64
	Evictions int64
}

// Cache is a key to artifact store.
type Cache interface {
	Get(key CacheKey) (Artifact, bool, error)
	Put(key CacheKey, a Artifact) error
	Invalidate(key CacheKey) error
	Stats() CacheStats
}

// MemoryCache is a thread-safe LRU cache bounded by entry count.
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front is most recently used
	table    map[CacheKey]*list.Element
	stats    CacheStats
}

type memEntry struct {
	key CacheKey
	val Artifact
}

// NewMemoryCache creates a cache holding at most capacity artifacts. If capacity<=0, defaults to 1024.
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryCache{capacity: capacity, order: list.New(), table: make(map[CacheKey]*list.Element)}
}

func (c *MemoryCache) Get(key CacheKey) (Artifact, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.table[key]; ok {
		c.order.MoveToFront(el)
		c.stats.Hits++
		return el.Value.(*memEntry).val, true, nil
	}
	c.stats.Misses++
	return Artifact{}, false, nil
}

func (c *MemoryCache) Put(key CacheKey, a Artifact) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.table[key]; ok {
		e := el.Value.(*memEntry)
		c.stats.Bytes += int64(len(a.JS) - len(e.val.JS))
		e.val = a
		c.order.MoveToFront(el)
		return nil
	}
	c.table[key] = c.order.PushFront(&memEntry{key: key, val: a})
	c.stats.Bytes += int64(len(a.JS))
	for c.order.Len() > c.capacity {
		c.remove(c.order.Back())
		c.stats.Evictions++
	}
	c.stats.Entries = int64(len(c.table))
	return nil
}

func (c *MemoryCache) remove(el *list.Element) {
	e := c.order.Remove(el).(*memEntry)
	delete(c.table, e.key)
	c.stats.Bytes -= int64(len(e.val.JS))
}

func (c *MemoryCache) Invalidate(key CacheKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.table[key]; ok {
		c.remove(el)
		c.stats.Entries = int64(len(c.table))
	}
	return nil
}

func (c *MemoryCache) Stats() CacheStats { c.mu.Lock(); defer c.mu.Unlock(); return c.stats }

// DirCache stores gzip-compressed artifacts under a root directory, two levels deep
// by key prefix, each next to a small JSON manifest.
type DirCache struct {
	root  string
	mu    sync.Mutex
	stats CacheStats
}

// NewDirCache ensures the root directory exists.
func NewDirCache(root string) (*DirCache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &DirCache{root: root}, nil
}

type dirManifest struct {
	Key       string            `json:"key"`
	CreatedAt time.Time         `json:"created_at"`
	Size      int64             `json:"size"`
	SHA256    string            `json:"sha256"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (dc *DirCache) dir(key CacheKey) string {
	k := string(key)
	if len(k) < 2 {
		return filepath.Join(dc.root, "_", k)
	}
	return filepath.Join(dc.root, k[:2], k)
}

func (dc *DirCache) manifestPath(key CacheKey) string { return filepath.Join(dc.dir(key), "manifest.json") }
func (dc *DirCache) blobPath(key CacheKey) string     { return filepath.Join(dc.dir(key), "out.js.gz") }

func (dc *DirCache) Get(key CacheKey) (Artifact, bool, error) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	mb, err := os.ReadFile(dc.manifestPath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			dc.stats.Misses++
			return Artifact{}, false, nil
		}
		return Artifact{}, false, err
	}
	var man dirManifest
	if err := json.Unmarshal(mb, &man); err != nil {
		return Artifact{}, false, fmt.Errorf("cache manifest %s: %w", key, err)
	}
	raw, err := os.ReadFile(dc.blobPath(key))
	if err != nil {
		return Artifact{}, false, err
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return Artifact{}, false, err
	}
	data, err := io.ReadAll(zr)
	zr.Close()
	if err != nil {
		return Artifact{}, false, err
	}
	sum := sha256.Sum256(data)
	if int64(len(data)) != man.Size || hex.EncodeToString(sum[:]) != man.SHA256 {
		return Artifact{}, false, fmt.Errorf("cache entry %s is corrupt", key)
	}
	dc.stats.Hits++
	return Artifact{JS: string(data), Metadata: man.Metadata}, true, nil
}

func (dc *DirCache) Put(key CacheKey, a Artifact) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if err := os.MkdirAll(dc.dir(key), 0o755); err != nil {
		return err
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := io.WriteString(gw, a.JS); err != nil {
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	if err := writeFileAtomic(dc.blobPath(key), buf.Bytes()); err != nil {
		return err
	}

	sum := sha256.Sum256([]byte(a.JS))
	man := dirManifest{
		Key:       string(key),
		CreatedAt: time.Now().UTC(),
		Size:      int64(len(a.JS)),
		SHA256:    hex.EncodeToString(sum[:]),
		Metadata:  a.Metadata,
	}
	mb, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return err
	}
	// manifest last: a blob without a manifest is a miss
	if err := writeFileAtomic(dc.manifestPath(key), mb); err != nil {
		return err
	}
	dc.stats.Entries++
	dc.stats.Bytes += man.Size
	return nil
}

func (dc *DirCache) Invalidate(key CacheKey) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dir := dc.dir(key)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	dc.stats.Entries--
	return nil
}

func (dc *DirCache) Stats() CacheStats { dc.mu.Lock(); defer dc.mu.Unlock(); return dc.stats }

// Tiered consults a fast cache before a slow one and backfills the fast one on slow hits.
type Tiered struct {
	Fast Cache
	Slow Cache
}

func (t Tiered) Get(key CacheKey) (Artifact, bool, error) {
	if a, ok, err := t.Fast.Get(key); err != nil || ok {
		return a, ok, err
	}
	a, ok, err := t.Slow.Get(key)
	if err != nil || !ok {
		return a, ok, err
	}
	return a, true, t.Fast.Put(key, a)
}

func (t Tiered) Put(key CacheKey, a Artifact) error {
	if err := t.Slow.Put(key, a); err != nil {
		return err
	}
	return t.Fast.Put(key, a)
}

func (t Tiered) Invalidate(key CacheKey) error {
	return errors.Join(t.Fast.Invalidate(key), t.Slow.Invalidate(key))
}

// Stats reports the slow tier, which holds every entry.
func (t Tiered) Stats() CacheStats { return t.Slow.Stats() }

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}
