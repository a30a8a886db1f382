// Package cache provides the three-layer translation cache: an
// in-process L1 LRU, a persistent L2 KV store, and a pattern layer that
// remembers optimal chunk sizes per content shape.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/meriley/lingua-nexus-sub001/internal"
	"github.com/meriley/lingua-nexus-sub001/internal/kv"
	"github.com/meriley/lingua-nexus-sub001/internal/telemetry"
)

// Layer names the cache level that answered a lookup.
type Layer string

const (
	LayerL1      Layer = "l1"
	LayerL2      Layer = "l2"
	LayerPattern Layer = "pattern"
)

const (
	// minStoreComposite is the quality floor below which results are not
	// cached at all.
	minStoreComposite = 0.55

	// improvementMargin is how much better a new result must be to
	// overwrite an existing entry for the same key.
	improvementMargin = 0.05

	// DefaultL1Size bounds the in-process layer.
	DefaultL1Size = 1024
)

// Entry is a stored translation with its bookkeeping.
type Entry struct {
	Key            string                     `json:"key_fingerprint"`
	Result         internal.TranslationResult `json:"result"`
	QualityAtStore float64                    `json:"quality_at_store"`
	StoredAt       time.Time                  `json:"stored_at"`
	TTLMS          int64                      `json:"ttl_ms"`
	HitCount       int64                      `json:"hit_count"`
}

func (e *Entry) expired(now time.Time) bool {
	return now.After(e.StoredAt.Add(time.Duration(e.TTLMS) * time.Millisecond))
}

// PatternEntry stores the learned chunking parameters for a content
// shape, not a translation.
type PatternEntry struct {
	ChunkSize       int       `json:"chunk_size"`
	ExpectedQuality float64   `json:"expected_quality"`
	StoredAt        time.Time `json:"stored_at"`
}

// Cache is safe for concurrent use. Writes go through all layers;
// reads stop at the first hit.
type Cache struct {
	l1      *lru.Cache[string, *Entry]
	l2      kv.Store
	baseTTL time.Duration
	tel     telemetry.Telemetry
	logger  *slog.Logger

	// storeMu serialises the read-compare-write in Put so concurrent
	// stores for one key keep the best entry.
	storeMu sync.Mutex

	// patternSF coalesces concurrent pattern writes per key.
	patternSF singleflight.Group
}

func New(l1Size int, l2 kv.Store, baseTTL time.Duration, tel telemetry.Telemetry, logger *slog.Logger) (*Cache, error) {
	if l1Size <= 0 {
		l1Size = DefaultL1Size
	}
	if tel == nil {
		tel = telemetry.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	l1, err := lru.New[string, *Entry](l1Size)
	if err != nil {
		return nil, err
	}
	return &Cache{l1: l1, l2: l2, baseTTL: baseTTL, tel: tel, logger: logger}, nil
}

// ttlFor maps stored quality onto a TTL. The function is monotone:
// ttl = base · (1 + composite), so a perfect translation lives twice as
// long as the base and a floor-quality (0.55) one 1.55 times as long.
func (c *Cache) ttlFor(composite float64) time.Duration {
	return time.Duration(float64(c.baseTTL) * (1 + composite))
}

// Get looks key up in L1 then L2. minQuality filters out entries stored
// below the caller's floor. The returned result is a copy flagged as a
// cache hit.
func (c *Cache) Get(ctx context.Context, key string, minQuality float64) (*internal.TranslationResult, Layer, bool) {
	now := time.Now()

	if e, ok := c.l1.Get(key); ok {
		if e.expired(now) {
			c.l1.Remove(key)
		} else if e.QualityAtStore >= minQuality {
			e.HitCount++
			c.tel.CacheHit(string(LayerL1))
			return hitCopy(e), LayerL1, true
		}
	}

	if c.l2 == nil {
		return nil, "", false
	}

	raw, ok, err := c.l2.Get(ctx, key)
	if err != nil {
		c.logger.Warn("l2 cache read failed", "key", key, "error", err)
		return nil, "", false
	}
	if !ok {
		return nil, "", false
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn("l2 cache entry corrupt", "key", key, "error", err)
		_ = c.l2.Delete(ctx, key)
		return nil, "", false
	}
	if e.expired(now) || e.QualityAtStore < minQuality {
		return nil, "", false
	}

	e.HitCount++
	c.l1.Add(key, &e)
	c.tel.CacheHit(string(LayerL2))
	return hitCopy(&e), LayerL2, true
}

func hitCopy(e *Entry) *internal.TranslationResult {
	r := e.Result
	r.CacheHit = true
	r.Path = internal.PathCached
	return &r
}

// Put stores result under key in all layers. Results below the quality
// floor or carrying partial-failure warnings are not stored. An
// existing entry is only overwritten when the new composite beats it by
// at least improvementMargin.
func (c *Cache) Put(ctx context.Context, key string, result *internal.TranslationResult) {
	composite := result.Quality.Composite
	if composite < minStoreComposite || len(result.Warnings) > 0 {
		return
	}

	c.storeMu.Lock()
	defer c.storeMu.Unlock()

	if existing := c.lookupAnyLayer(ctx, key); existing != nil && !existing.expired(time.Now()) {
		if composite < existing.QualityAtStore+improvementMargin {
			return
		}
	}

	stored := *result
	stored.CacheHit = false

	e := &Entry{
		Key:            key,
		Result:         stored,
		QualityAtStore: composite,
		StoredAt:       time.Now(),
		TTLMS:          c.ttlFor(composite).Milliseconds(),
	}

	c.l1.Add(key, e)

	if c.l2 != nil {
		raw, err := json.Marshal(e)
		if err == nil {
			err = c.l2.Put(ctx, key, raw, time.Duration(e.TTLMS)*time.Millisecond)
		}
		if err != nil {
			c.logger.Warn("l2 cache write failed", "key", key, "error", err)
		}
	}
}

func (c *Cache) lookupAnyLayer(ctx context.Context, key string) *Entry {
	if e, ok := c.l1.Get(key); ok {
		return e
	}
	if c.l2 == nil {
		return nil
	}
	raw, ok, err := c.l2.Get(ctx, key)
	if err != nil || !ok {
		return nil
	}
	var e Entry
	if json.Unmarshal(raw, &e) != nil {
		return nil
	}
	return &e
}

// InvalidateBackend purges every exact entry stored for the named
// backend, in response to a model version change. Pattern entries are
// left to expire on their own TTL.
func (c *Cache) InvalidateBackend(ctx context.Context, backendName string) {
	prefix := backendPrefix(backendName)

	for _, key := range c.l1.Keys() {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			c.l1.Remove(key)
		}
	}

	if c.l2 != nil {
		if n, err := c.l2.DeletePrefix(ctx, prefix); err != nil {
			c.logger.Warn("l2 invalidation failed", "backend", backendName, "error", err)
		} else if n > 0 {
			c.logger.Info("cache invalidated", "backend", backendName, "entries", n)
		}
	}
}

// GetPattern returns the learned chunk size for text's content shape.
func (c *Cache) GetPattern(ctx context.Context, text, src, tgt string) (*PatternEntry, bool) {
	if c.l2 == nil {
		return nil, false
	}
	key := PatternKey(text, src, tgt)
	raw, ok, err := c.l2.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	var e PatternEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		_ = c.l2.Delete(ctx, key)
		return nil, false
	}
	c.tel.CacheHit(string(LayerPattern))
	return &e, true
}

// PutPattern records the optimal chunk size found for text's content
// shape. Concurrent writes for the same shape coalesce; the write only
// lands when it improves on the stored expected quality.
func (c *Cache) PutPattern(ctx context.Context, text, src, tgt string, chunkSize int, expectedQuality float64) {
	if c.l2 == nil || expectedQuality < minStoreComposite {
		return
	}
	key := PatternKey(text, src, tgt)

	c.patternSF.Do(key, func() (any, error) {
		if raw, ok, err := c.l2.Get(ctx, key); err == nil && ok {
			var existing PatternEntry
			if json.Unmarshal(raw, &existing) == nil && existing.ExpectedQuality > expectedQuality {
				return nil, nil
			}
		}
		e := PatternEntry{ChunkSize: chunkSize, ExpectedQuality: expectedQuality, StoredAt: time.Now()}
		raw, err := json.Marshal(e)
		if err != nil {
			return nil, nil
		}
		if err := c.l2.Put(ctx, key, raw, c.ttlFor(expectedQuality)); err != nil {
			c.logger.Warn("pattern cache write failed", "key", key, "error", err)
		}
		return nil, nil
	})
}

// HealthInfo summarises cache state for the health endpoint.
type HealthInfo struct {
	L1Entries int       `json:"l1_entries"`
	L2        *kv.Stats `json:"l2,omitempty"`
}

func (c *Cache) Health(ctx context.Context) HealthInfo {
	info := HealthInfo{L1Entries: c.l1.Len()}
	if reporter, ok := c.l2.(kv.StatsReporter); ok {
		if stats, err := reporter.Stats(ctx); err == nil {
			info.L2 = stats
		}
	}
	return info
}
