// Package cache provides a bounded, TTL-based read cache for video metadata.
// It sits in front of the record store on the playback path so segment
// requests do not hit the store on every manifest or chunk fetch.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"edgeriver/internal/models"
)

const (
	defaultTTL        = 5 * time.Minute
	defaultMaxEntries = 4096
)

// Loader fetches a video record from the backing store on a cache miss.
type Loader func(videoID string) (models.Video, bool)

// Metrics receives cache outcome counters. Implementations must not block.
type Metrics interface {
	CacheHit()
	CacheMiss()
	CacheEviction()
}

// Config wires a VideoCache.
type Config struct {
	Loader     Loader
	TTL        time.Duration
	MaxEntries int
	Metrics    Metrics
}

type entry struct {
	video     models.Video
	found     bool
	expiresAt time.Time
	elem      *list.Element
}

// VideoCache is a loader-backed cache with per-entry TTL and LRU eviction.
// Missing videos are cached too, with the same TTL, so repeated requests for
// an unknown ID do not hammer the store. Safe for concurrent use.
type VideoCache struct {
	loader     Loader
	ttl        time.Duration
	maxEntries int
	metrics    Metrics
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List

	hits      uint64
	misses    uint64
	evictions uint64
}

func New(cfg Config) *VideoCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &VideoCache{
		loader:     cfg.Loader,
		ttl:        ttl,
		maxEntries: maxEntries,
		metrics:    cfg.Metrics,
		now:        time.Now,
		entries:    make(map[string]*entry),
		order:      list.New(),
	}
}

// Get returns a snapshot of the video record, loading it from the store on a
// miss. The second return mirrors the store's found flag; a cached negative
// lookup reports false without touching the loader until the entry expires.
func (c *VideoCache) Get(ctx context.Context, videoID string) (models.Video, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Video{}, false, err
	}

	c.mu.Lock()
	if cached, ok := c.entries[videoID]; ok {
		if c.now().Before(cached.expiresAt) {
			c.order.MoveToFront(cached.elem)
			c.hits++
			video, found := cloneVideo(cached.video), cached.found
			c.mu.Unlock()
			if c.metrics != nil {
				c.metrics.CacheHit()
			}
			return video, found, nil
		}
		c.removeLocked(videoID, cached)
	}
	c.misses++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.CacheMiss()
	}

	video, found := c.loader(videoID)

	c.mu.Lock()
	c.storeLocked(videoID, video, found)
	c.mu.Unlock()
	return cloneVideo(video), found, nil
}

// Invalidate drops the entry for videoID, positive or negative. Mutation
// paths call it before answering so the next read observes the new state.
func (c *VideoCache) Invalidate(videoID string) {
	c.mu.Lock()
	if cached, ok := c.entries[videoID]; ok {
		c.removeLocked(videoID, cached)
	}
	c.mu.Unlock()
}

// Stats reports cumulative hit, miss, and eviction counts.
func (c *VideoCache) Stats() (hits, misses, evictions uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions
}

// Len reports the current number of cached entries, expired ones included.
func (c *VideoCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *VideoCache) storeLocked(videoID string, video models.Video, found bool) {
	if cached, ok := c.entries[videoID]; ok {
		c.removeLocked(videoID, cached)
	}
	for len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	e := &entry{video: video, found: found, expiresAt: c.now().Add(c.ttl)}
	e.elem = c.order.PushFront(videoID)
	c.entries[videoID] = e
}

func (c *VideoCache) evictOldestLocked() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	videoID := oldest.Value.(string)
	if cached, ok := c.entries[videoID]; ok {
		c.removeLocked(videoID, cached)
	}
	c.evictions++
	if c.metrics != nil {
		c.metrics.CacheEviction()
	}
}

func (c *VideoCache) removeLocked(videoID string, cached *entry) {
	c.order.Remove(cached.elem)
	delete(c.entries, videoID)
}

func cloneVideo(video models.Video) models.Video {
	clone := video
	clone.ProcessedFiles = cloneProcessedFiles(video.ProcessedFiles)
	if video.CompletedAt != nil {
		completed := *video.CompletedAt
		clone.CompletedAt = &completed
	}
	return clone
}

func cloneProcessedFiles(files models.ProcessedFiles) models.ProcessedFiles {
	clone := files
	if files.Renditions != nil {
		clone.Renditions = append([]models.Rendition(nil), files.Renditions...)
	}
	if files.Segments != nil {
		clone.Segments = append([]string(nil), files.Segments...)
	}
	if files.Thumbnails != nil {
		clone.Thumbnails = append([]string(nil), files.Thumbnails...)
	}
	return clone
}
