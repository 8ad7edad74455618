package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"hyperyapper/internal/logging"
	"hyperyapper/internal/models"
	"hyperyapper/internal/platforms"
)

const replyCacheStoreName = "replycache"

// ReplyCache caches reply counts per published post, keyed by
// "platform:postId" inside a per-platform map, persisted as one JSON
// document. The mutex serializes the load-mutate-save cycle: the reply
// poller writes from one goroutine per watched post, and interleaved
// full-document rewrites would drop each other's entries.
type ReplyCache struct {
	mu      sync.Mutex
	backend Backend
}

// NewReplyCache creates a reply cache over the given backend.
func NewReplyCache(backend Backend) *ReplyCache {
	return &ReplyCache{backend: backend}
}

type replyCacheData map[string]map[string]models.ReplyCount

func postKey(p platforms.Platform, postID string) string {
	return fmt.Sprintf("%s:%s", p, postID)
}

func (c *ReplyCache) load() replyCacheData {
	data, err := c.backend.LoadStore(replyCacheStoreName)
	if err != nil {
		logging.Warn("Failed to load reply cache: %v", err)
		return replyCacheData{}
	}
	cache := replyCacheData{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &cache); err != nil {
			logging.Warn("Corrupt reply cache, resetting: %v", err)
			return replyCacheData{}
		}
	}
	return cache
}

func (c *ReplyCache) save(cache replyCacheData) {
	data, err := json.Marshal(cache)
	if err != nil {
		logging.Warn("Failed to marshal reply cache: %v", err)
		return
	}
	if err := c.backend.SaveStore(replyCacheStoreName, data); err != nil {
		logging.Warn("Failed to save reply cache: %v", err)
	}
}

// Get returns the cached reply count for a post, or nil when absent.
func (c *ReplyCache) Get(p platforms.Platform, postID string) *models.ReplyCount {
	c.mu.Lock()
	defer c.mu.Unlock()
	cache := c.load()
	platformData, ok := cache[string(p)]
	if !ok {
		return nil
	}
	rc, ok := platformData[postKey(p, postID)]
	if !ok {
		return nil
	}
	return &rc
}

// Set stores a reply count for a post.
func (c *ReplyCache) Set(p platforms.Platform, postID string, rc models.ReplyCount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cache := c.load()
	if cache[string(p)] == nil {
		cache[string(p)] = map[string]models.ReplyCount{}
	}
	cache[string(p)][postKey(p, postID)] = rc
	c.save(cache)
}

// ClearPosts drops cached counts for the given posts, e.g. when the
// notification referencing them is deleted.
func (c *ReplyCache) ClearPosts(refs []models.PostRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cache := c.load()
	changed := false
	for _, ref := range refs {
		platformData, ok := cache[string(ref.Platform)]
		if !ok {
			continue
		}
		key := postKey(ref.Platform, ref.PostID)
		if _, ok := platformData[key]; ok {
			delete(platformData, key)
			changed = true
		}
	}
	if changed {
		c.save(cache)
	}
}

// ClearPlatform drops all cached counts for one platform.
func (c *ReplyCache) ClearPlatform(p platforms.Platform) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cache := c.load()
	delete(cache, string(p))
	c.save(cache)
}
