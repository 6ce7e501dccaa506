// Package cache provides a least-recently-used disk cache for remote media.
//
// Cached data is kept as spans: contiguous byte ranges of one resource, each
// stored in its own file. Spans are evicted whole, oldest access first, and
// never while a read session for the same resource is open.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/trackbridge/internal/infra/datasource"
)

// Observer receives cache statistics.
type Observer interface {
	Lookup(hit bool)
	Evicted(bytes int64)
	Resident(bytes int64)
	IOError()
}

type nopObserver struct{}

func (nopObserver) Lookup(bool)    {}
func (nopObserver) Evicted(int64)  {}
func (nopObserver) Resident(int64) {}
func (nopObserver) IOError()       {}

// Config represents cache configuration.
type Config struct {
	Dir      string
	MaxBytes int64 // Caching is disabled when <= 0
	Observer Observer
}

type spanID struct {
	key   string
	start int64
}

type span struct {
	key    string
	start  int64
	length int64
	file   string
}

func (s *span) end() int64 { return s.start + s.length }

// Cache is a read-through span cache bounded by a byte budget.
type Cache struct {
	dir      string
	maxBytes int64
	observer Observer
	index    *index

	mu    sync.Mutex
	lru   *simplelru.LRU[spanID, *span]
	spans   map[string][]*span // per resource, sorted by start
	lengths map[string]int64   // total resource length, when known
	used    int64              // committed plus reserved bytes
	open    map[string]int     // open read sessions per resource
}

// New opens the cache in cfg.Dir. With a non-positive budget it returns a
// disabled cache that touches nothing on disk.
func New(cfg Config) (*Cache, error) {
	c := &Cache{
		dir:      cfg.Dir,
		maxBytes: cfg.MaxBytes,
		observer: cfg.Observer,
		spans:    make(map[string][]*span),
		lengths:  make(map[string]int64),
		open:     make(map[string]int),
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	if !c.Enabled() {
		return c, nil
	}

	lru, err := simplelru.NewLRU[spanID, *span](math.MaxInt, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create lru")
	}
	c.lru = lru

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create cache directory")
	}
	idx, err := openIndex(filepath.Join(cfg.Dir, "index.db"))
	if err != nil {
		return nil, err
	}
	c.index = idx

	if err := c.restore(); err != nil {
		_ = idx.close()
		return nil, err
	}
	zlog.Info().Msgf("media cache ready: dir=%s used=%d max=%d", cfg.Dir, c.used, c.maxBytes)
	return c, nil
}

// Enabled reports whether reads are cached at all.
func (c *Cache) Enabled() bool {
	return c != nil && c.maxBytes > 0
}

// Wrap returns a source that reads through the cache. A disabled cache
// returns upstream unchanged.
func (c *Cache) Wrap(upstream datasource.Source) datasource.Source {
	if !c.Enabled() {
		return upstream
	}
	return &cachedSource{cache: c, upstream: upstream}
}

// Used returns the number of bytes held or reserved.
func (c *Cache) Used() int64 {
	if !c.Enabled() {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// CachedBytes returns the number of cached bytes for a resource.
func (c *Cache) CachedBytes(key string) int64 {
	if !c.Enabled() {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, s := range c.spans[key] {
		n += s.length
	}
	return n
}

// Close closes the span index.
func (c *Cache) Close() error {
	if !c.Enabled() || c.index == nil {
		return nil
	}
	return c.index.close()
}

func (c *Cache) restore() error {
	rows, err := c.index.load()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range rows {
		info, err := os.Stat(r.file)
		if err != nil || info.Size() != r.length {
			zlog.Debug().Msgf("dropping stale cache span %s@%d", r.key, r.start)
			_ = c.index.remove(r.key, r.start)
			_ = os.Remove(r.file)
			continue
		}
		c.insertLocked(&span{key: r.key, start: r.start, length: r.length, file: r.file})
	}
	lengths, err := c.index.loadLengths()
	if err != nil {
		return err
	}
	for key, n := range lengths {
		if _, ok := c.spans[key]; !ok {
			_ = c.index.removeLength(key)
			continue
		}
		c.lengths[key] = n
	}
	for c.used > c.maxBytes && c.evictOneLocked() {
	}
	c.observer.Resident(c.used)
	return nil
}

func (c *Cache) insertLocked(s *span) {
	list := append(c.spans[s.key], s)
	sort.Slice(list, func(i, j int) bool { return list[i].start < list[j].start })
	c.spans[s.key] = list
	c.lru.Add(spanID{s.key, s.start}, s)
	c.used += s.length
}

// lookup returns the span covering pos, and the start of the first span after pos or -1.
func (c *Cache) lookup(key string, pos int64) (*span, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := int64(-1)
	for _, s := range c.spans[key] {
		if s.start <= pos && pos < s.end() {
			c.lru.Get(spanID{s.key, s.start})
			if err := c.index.touch(s); err != nil {
				zlog.Debug().Err(err).Msg("failed to touch cache span")
			}
			return s, -1
		}
		if s.start > pos {
			next = s.start
			break
		}
	}
	return nil, next
}

// length returns the total length of a resource if it has been observed.
func (c *Cache) length(key string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.lengths[key]
	return n, ok
}

// setLength records the total length of a resource.
func (c *Cache) setLength(key string, n int64) {
	if n < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.lengths[key]; ok && old == n {
		return
	}
	c.lengths[key] = n
	if err := c.index.putLength(key, n); err != nil {
		c.observer.IOError()
		zlog.Warn().Err(err).Msg("failed to record resource length")
	}
}

func (c *Cache) forgetLengthLocked(key string) {
	if _, ok := c.lengths[key]; !ok {
		return
	}
	delete(c.lengths, key)
	if err := c.index.removeLength(key); err != nil {
		zlog.Warn().Err(err).Msg("failed to remove resource length from index")
	}
}

// reserve makes room for n more bytes, evicting as needed.
func (c *Cache) reserve(n int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.used+n > c.maxBytes {
		if !c.evictOneLocked() {
			return false
		}
	}
	c.used += n
	return true
}

func (c *Cache) release(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.used -= n
}

// evictOneLocked drops the least recently used span whose resource has no open session.
func (c *Cache) evictOneLocked() bool {
	for _, id := range c.lru.Keys() {
		if c.open[id.key] > 0 {
			continue
		}
		s, _ := c.lru.Peek(id)
		c.removeLocked(s)
		c.observer.Evicted(s.length)
		zlog.Debug().Msgf("evicted cache span %s@%d (%d bytes)", s.key, s.start, s.length)
		return true
	}
	return false
}

func (c *Cache) removeLocked(s *span) {
	c.lru.Remove(spanID{s.key, s.start})
	list := c.spans[s.key]
	for i, x := range list {
		if x == s {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(c.spans, s.key)
		c.forgetLengthLocked(s.key)
	} else {
		c.spans[s.key] = list
	}
	c.used -= s.length
	if err := os.Remove(s.file); err != nil && !os.IsNotExist(err) {
		c.observer.IOError()
		zlog.Warn().Err(err).Msgf("failed to remove cache file %s", s.file)
	}
	if err := c.index.remove(s.key, s.start); err != nil {
		zlog.Warn().Err(err).Msg("failed to remove cache span from index")
	}
}

// drop forgets a span whose file turned out to be unreadable.
func (c *Cache) drop(s *span) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lru.Peek(spanID{s.key, s.start}); ok {
		c.removeLocked(s)
		c.observer.Resident(c.used)
	}
}

// commit publishes a fully written span. Its bytes are already reserved.
func (c *Cache) commit(s *span) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, x := range c.spans[s.key] {
		if s.start < x.end() && x.start < s.end() {
			// Another session cached an overlapping range first.
			c.used -= s.length
			_ = os.Remove(s.file)
			return
		}
	}
	c.insertLocked(s)
	c.used -= s.length // insertLocked counted it again
	if err := c.index.put(s); err != nil {
		c.observer.IOError()
		zlog.Warn().Err(err).Msg("failed to record cache span")
	}
	c.observer.Resident(c.used)
}

func (c *Cache) acquire(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open[key]++
}

func (c *Cache) releaseSession(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open[key] <= 1 {
		delete(c.open, key)
		return
	}
	c.open[key]--
}

func (c *Cache) createSpanFile(key string) (*os.File, error) {
	sum := sha256.Sum256([]byte(key))
	return os.CreateTemp(c.dir, hex.EncodeToString(sum[:8])+".*.span")
}
