package rom

import (
	"sync"

	"github.com/scavenger-mine/orchestrator/internal/domain"
	"github.com/scavenger-mine/orchestrator/internal/util"
)

// Config carries the cache's build parameters.
type Config struct {
	Size          int64
	PreSize       int64
	MixingNumbers int
}

// DefaultConfig returns the standard 1 GiB / 16 MiB / 4-pass parameters.
func DefaultConfig() Config {
	return Config{Size: DefaultSize, PreSize: DefaultPreSize, MixingNumbers: DefaultMixingNumbers}
}

// entry holds either a completed ROM or, while building, a channel
// other callers wait on without holding the cache's map lock.
type entry struct {
	ready chan struct{}
	rom   domain.Rom
	err   error
}

// Cache serves built ROMs keyed by challenge no_pre_mine value. At most
// one build runs per key at a time; a build in progress for key A never
// blocks a request for key B, since the map lock is released before the
// (slow) build itself runs.
type Cache struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*entry
}

// NewCache returns an empty Cache using cfg for future builds.
func NewCache(cfg Config) *Cache {
	return &Cache{cfg: cfg, entries: make(map[string]*entry)}
}

// GetOrBuild returns the ROM for key, building it if absent. Concurrent
// callers for the same key share one build; callers for different keys
// never wait on each other.
func (c *Cache) GetOrBuild(key string) (domain.Rom, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		<-e.ready
		return e.rom, e.err
	}
	e := &entry{ready: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	r, err := BuildTwoStep(key, c.cfg.Size, c.cfg.PreSize, c.cfg.MixingNumbers)
	if err == nil {
		e.rom = r
	}
	e.err = err
	close(e.ready)

	if err != nil {
		util.Typed(util.LogCacheStatus).Errorw("rom build failed", "key", key, "error", err)
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, &util.RomBuildError{Key: key, Err: err}
	}
	return r, nil
}

// Drop evicts the given keys from the cache, freeing their ROM memory.
func (c *Cache) Drop(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
}

// Keys returns the currently cached (or building) keys.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// Status reports each cached key's resident size in bytes. A key whose
// build has not yet completed reports size 0.
func (c *Cache) Status() map[string]int64 {
	c.mu.Lock()
	type pending struct {
		key   string
		ready chan struct{}
	}
	var waiting []pending
	status := make(map[string]int64, len(c.entries))
	for k, e := range c.entries {
		select {
		case <-e.ready:
			if e.rom != nil {
				status[k] = e.rom.SizeBytes()
			}
		default:
			waiting = append(waiting, pending{k, e.ready})
		}
	}
	c.mu.Unlock()
	for _, p := range waiting {
		status[p.key] = 0
	}
	return status
}

// Maintain keeps only the ROMs needed by the given set of live keys,
// dropping everything else. Mirrors the periodic cache-trim cadence in
// the maintenance loop.
func (c *Cache) Maintain(needed []string) {
	need := make(map[string]bool, len(needed))
	for _, k := range needed {
		need[k] = true
	}
	c.mu.Lock()
	var toDrop []string
	for k := range c.entries {
		if !need[k] {
			toDrop = append(toDrop, k)
		}
	}
	c.mu.Unlock()
	if len(toDrop) > 0 {
		c.Drop(toDrop...)
		util.Typed(util.LogCacheStatus).Infow("evicted rom cache entries", "keys", toDrop)
	}
}
