package quality

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kueri-lab/trecpipe/pkg/metrics"
	pkgredis "github.com/kueri-lab/trecpipe/pkg/redis"
)

const keyPrefix = "quality:"

// Cache is the key/value store ScoreCache persists to. *pkgredis.Client
// implements it.
type Cache interface {
	MGet(ctx context.Context, keys ...string) ([]string, []bool, error)
	SetMany(ctx context.Context, pairs map[string]string, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

var _ Cache = (*pkgredis.Client)(nil)

// ScoreCache keeps remote scores in Redis so repeated passes over the same
// runs do not call the scoring service again. Only found scores are cached.
type ScoreCache struct {
	client    Cache
	namespace string
	ttl       time.Duration
	group     singleflight.Group
	metrics   *metrics.Metrics
	logger    *slog.Logger
	hits      atomic.Int64
	misses    atomic.Int64
}

// NewScoreCache scopes keys by namespace, normally the source name plus
// anything that changes its answers such as the model.
func NewScoreCache(client Cache, namespace string, ttl time.Duration, m *metrics.Metrics) *ScoreCache {
	return &ScoreCache{
		client:    client,
		namespace: namespace,
		ttl:       ttl,
		metrics:   m,
		logger:    slog.Default().With("component", "score-cache"),
	}
}

// Get returns the cached results for keys. Cache failures are logged and
// reported as misses.
func (c *ScoreCache) Get(ctx context.Context, keys []Key) []Result {
	results := make([]Result, len(keys))
	if len(keys) == 0 {
		return results
	}
	cacheKeys := make([]string, len(keys))
	for i, k := range keys {
		cacheKeys[i] = c.buildKey(k)
	}
	values, found, err := c.client.MGet(ctx, cacheKeys...)
	if err != nil {
		c.logger.Error("cache get failed", "keys", len(keys), "error", err)
		c.count(0, len(keys))
		return results
	}
	hits := 0
	for i := range keys {
		if !found[i] {
			continue
		}
		v, err := strconv.ParseFloat(values[i], 32)
		if err != nil {
			c.logger.Error("cache value unreadable", "key", cacheKeys[i], "error", err)
			continue
		}
		results[i] = Result{Score: float32(v), Found: true}
		hits++
	}
	c.count(hits, len(keys)-hits)
	return results
}

// Set stores every found result.
func (c *ScoreCache) Set(ctx context.Context, keys []Key, results []Result) {
	pairs := make(map[string]string, len(keys))
	for i, k := range keys {
		if results[i].Found {
			pairs[c.buildKey(k)] = strconv.FormatFloat(float64(results[i].Score), 'g', -1, 32)
		}
	}
	if err := c.client.SetMany(ctx, pairs, c.ttl); err != nil {
		c.logger.Error("cache set failed", "keys", len(pairs), "error", err)
	}
}

// GetOrCompute answers keys from the cache and computes the rest with fn.
// Concurrent calls for the same missing keys share one computation.
func (c *ScoreCache) GetOrCompute(ctx context.Context, keys []Key, fn func(context.Context, []Key) ([]Result, error)) ([]Result, error) {
	results := c.Get(ctx, keys)
	var missing []Key
	var at []int
	for i, r := range results {
		if !r.Found {
			missing = append(missing, keys[i])
			at = append(at, i)
		}
	}
	if len(missing) == 0 {
		return results, nil
	}

	val, err, _ := c.group.Do(flightKey(missing), func() (interface{}, error) {
		computed, err := fn(ctx, missing)
		if err != nil {
			return nil, err
		}
		c.Set(ctx, missing, computed)
		return computed, nil
	})
	if err != nil {
		return nil, err
	}
	for j, r := range val.([]Result) {
		results[at[j]] = r
	}
	return results, nil
}

// Invalidate removes every cached score, across namespaces.
func (c *ScoreCache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating score cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return nil
}

func (c *ScoreCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *ScoreCache) count(hits, misses int) {
	c.hits.Add(int64(hits))
	c.misses.Add(int64(misses))
	for i := 0; i < hits; i++ {
		c.metrics.CacheHit(true)
	}
	for i := 0; i < misses; i++ {
		c.metrics.CacheHit(false)
	}
}

func (c *ScoreCache) buildKey(k Key) string {
	raw := c.namespace + "\x00" + k.TopicID + "\x00" + k.DocumentID
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

func flightKey(keys []Key) string {
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k.TopicID)
		b.WriteByte(0)
		b.WriteString(k.DocumentID)
		b.WriteByte(0)
	}
	return b.String()
}

// Cached answers from c before asking s. A nil c returns s unchanged.
func Cached(s Source, c *ScoreCache) Source {
	if c == nil {
		return s
	}
	return &cached{Source: s, cache: c}
}

type cached struct {
	Source
	cache *ScoreCache
}

func (c *cached) Lookup(ctx context.Context, keys []Key) ([]Result, error) {
	return c.cache.GetOrCompute(ctx, keys, c.Source.Lookup)
}
