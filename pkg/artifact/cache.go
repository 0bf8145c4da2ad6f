// Package artifact is the Artifact Cache (C5): a content-addressed map
// from effective hash to a materialized dataframe file under a configured
// root directory. Metadata is kept in-process and rebuilt on startup by
// scanning the directory.
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smilemakc/mbflow/internal/infrastructure/cache"
	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
	"github.com/smilemakc/mbflow/pkg/models"
)

const (
	lruKey    = "flowfile:artifact:lru"    // sorted set, score = last access unix
	pinnedKey = "flowfile:artifact:pinned" // set of pinned hashes
)

// Cache implements lookup/put/evict_lru/pin over a directory of
// content-addressed artifact files, with LRU bookkeeping and pin state
// held in Redis so multiple server processes can share one cache.
type Cache struct {
	dir   string
	redis *cache.RedisCache
	log   *logger.Logger

	mu    sync.RWMutex
	index map[string]*models.Artifact
}

// meta is the sidecar JSON footer written next to every artifact file; it
// is what "re-reading footer metadata" means for this cache — a real
// parquet/Arrow-IPC footer is opaque to directory scanning without reading
// the file itself, so the cache keeps its own structured footer instead.
type meta struct {
	Format   models.ArtifactFormat `json:"format"`
	Schema   models.Schema         `json:"schema"`
	RowCount int64                 `json:"row_count"`
}

// New scans dir, discarding any entry whose data file or sidecar is
// missing or unreadable, and returns a cache ready to serve lookups.
func New(dir string, redisCache *cache.RedisCache, log *logger.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact cache: %w", err)
	}
	c := &Cache{dir: dir, redis: redisCache, log: log, index: make(map[string]*models.Artifact)}
	if err := c.rebuild(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) dataPath(hash string) string {
	return filepath.Join(c.dir, hash[:2], hash+".data")
}

func (c *Cache) metaPath(hash string) string {
	return filepath.Join(c.dir, hash[:2], hash+".meta.json")
}

// rebuild walks the directory tree and re-reads each entry's sidecar
// metadata. Corrupt files — unreadable or mismatched metadata — are
// discarded rather than surfaced as a startup failure.
func (c *Cache) rebuild() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, prefixDir := range entries {
		if !prefixDir.IsDir() {
			continue
		}
		prefixPath := filepath.Join(c.dir, prefixDir.Name())
		files, err := os.ReadDir(prefixPath)
		if err != nil {
			continue
		}
		for _, f := range files {
			if filepath.Ext(f.Name()) != ".json" {
				continue
			}
			hash := f.Name()[:len(f.Name())-len(".meta.json")]
			m, err := c.readMeta(hash)
			if err != nil {
				c.log.Warn("artifact cache: discarding corrupt entry", "hash", hash, "error", err)
				continue
			}
			if _, err := os.Stat(c.dataPath(hash)); err != nil {
				continue
			}
			c.index[hash] = &models.Artifact{
				Hash: hash, Path: c.dataPath(hash), Format: m.Format, Schema: m.Schema, RowCount: m.RowCount,
			}
		}
	}
	return nil
}

func (c *Cache) readMeta(hash string) (*meta, error) {
	data, err := os.ReadFile(c.metaPath(hash))
	if err != nil {
		return nil, err
	}
	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Lookup returns the artifact registered for hash, if any. It answers from
// the in-memory index only and reports hit/miss; it does not re-read the
// sidecar or the data file.
func (c *Cache) Lookup(hash string) (*models.Artifact, bool) {
	c.mu.RLock()
	a, ok := c.index[hash]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.redis.Client().ZAdd(ctx, lruKey, redis.Z{Score: float64(time.Now().Unix()), Member: hash}).Err()
	}
	return a, true
}

// Put registers an artifact. Re-registration of the same hash is
// idempotent: the data file is assumed already written by the worker at
// artifact.Path, content-addressed so concurrent writers of the same hash
// race benignly.
func (c *Cache) Put(hash string, a *models.Artifact) error {
	if err := os.MkdirAll(filepath.Dir(c.metaPath(hash)), 0o755); err != nil {
		return err
	}
	m := meta{Format: a.Format, Schema: a.Schema, RowCount: a.RowCount}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.metaPath(hash), data, 0o644); err != nil {
		return err
	}
	c.mu.Lock()
	c.index[hash] = a
	c.mu.Unlock()
	if c.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.redis.Client().ZAdd(ctx, lruKey, redis.Z{Score: float64(time.Now().Unix()), Member: hash}).Err()
	}
	return nil
}

// Pin marks an artifact as required; pinned entries are never evicted
// while their flow exists.
func (c *Cache) Pin(hash string) {
	if c.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.redis.Client().SAdd(ctx, pinnedKey, hash).Err()
}

// Unpin releases a pin, e.g. when the owning flow is disposed.
func (c *Cache) Unpin(hash string) {
	if c.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.redis.Client().SRem(ctx, pinnedKey, hash).Err()
}

// EvictLRU removes the least-recently-used unpinned entries, oldest first,
// until the cache's on-disk usage is at or below maxBytes.
func (c *Cache) EvictLRU(maxBytes int64) error {
	if c.redis == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var skipped []redis.Z
	defer func() {
		if len(skipped) > 0 {
			_ = c.redis.Client().ZAdd(ctx, lruKey, skipped...).Err()
		}
	}()

	for c.diskUsage() > maxBytes {
		oldest, err := c.redis.Client().ZRangeWithScores(ctx, lruKey, 0, 0).Result()
		if err != nil || len(oldest) == 0 {
			return err
		}
		hash, _ := oldest[0].Member.(string)
		pinned, _ := c.redis.Client().SIsMember(ctx, pinnedKey, hash).Result()
		if pinned {
			// skip past pinned entries without evicting them by temporarily
			// removing them from consideration for this sweep.
			skipped = append(skipped, oldest[0])
			_ = c.redis.Client().ZRem(ctx, lruKey, hash).Err()
			continue
		}
		c.evict(hash)
		_ = c.redis.Client().ZRem(ctx, lruKey, hash).Err()
	}
	return nil
}

func (c *Cache) evict(hash string) {
	_ = os.Remove(c.dataPath(hash))
	_ = os.Remove(c.metaPath(hash))
	c.mu.Lock()
	delete(c.index, hash)
	c.mu.Unlock()
}

func (c *Cache) diskUsage() int64 {
	var total int64
	_ = filepath.Walk(c.dir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}
