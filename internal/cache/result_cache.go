// Package cache provides the check-result cache. The key is the request
// fingerprint: normalized drug set, patient-fact hash, knowledge-base version
// and active model version. A hit short-circuits the pipeline but never the
// RunLog write.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/drug-interaction-engine/internal/domain"
)

// Config configures the result cache.
type Config struct {
	// RedisURL enables the distributed tier when non-empty.
	RedisURL string
	// DefaultTTL bounds how long a result stays valid.
	DefaultTTL time.Duration
	// MemorySize is the in-process LRU entry count.
	MemorySize int
}

// ResultCache is a two-tier cache: an in-process LRU in front of an optional
// Redis tier. Corrupted entries are treated as misses and never surfaced.
type ResultCache struct {
	log    *logrus.Logger
	redis  *redis.Client
	memory *lru.Cache[string, []byte]
	ttl    time.Duration
}

// New creates a result cache. Redis is optional; with no URL configured the
// cache is memory-only.
func New(cfg Config, logger *logrus.Logger) (*ResultCache, error) {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 15 * time.Minute
	}
	if cfg.MemorySize <= 0 {
		cfg.MemorySize = 4096
	}
	memory, err := lru.New[string, []byte](cfg.MemorySize)
	if err != nil {
		return nil, fmt.Errorf("creating memory cache: %w", err)
	}

	c := &ResultCache{log: logger, memory: memory, ttl: cfg.DefaultTTL}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis URL: %w", err)
		}
		client := redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		c.redis = client
	}

	return c, nil
}

// Fingerprint computes the cache key for a check. Drug keys are sorted so
// entry order never splits the cache.
func Fingerprint(drugKeys []string, factsHash, kbVersion, modelVersion string) string {
	sorted := append([]string(nil), drugKeys...)
	sort.Strings(sorted)
	payload := strings.Join(sorted, "+") + "|" + factsHash + "|" + kbVersion + "|" + modelVersion
	sum := sha256.Sum256([]byte(payload))
	return "check:" + hex.EncodeToString(sum[:])
}

// Get returns the cached response for a fingerprint, if present and intact.
func (c *ResultCache) Get(ctx context.Context, fingerprint string) (*domain.CheckResponse, bool) {
	if raw, ok := c.memory.Get(fingerprint); ok {
		if resp, err := decode(raw); err == nil {
			return resp, true
		}
		// Corruption is a cache miss, never an error to the caller.
		c.memory.Remove(fingerprint)
		c.log.WithField("fingerprint", fingerprint).Warn("Evicted corrupted memory cache entry")
	}

	if c.redis == nil {
		return nil, false
	}
	raw, err := c.redis.Get(ctx, fingerprint).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.log.WithError(err).Debug("Redis cache read failed, treating as miss")
		return nil, false
	}
	resp, err := decode(raw)
	if err != nil {
		c.log.WithField("fingerprint", fingerprint).Warn("Dropping corrupted redis cache entry")
		c.redis.Del(ctx, fingerprint)
		return nil, false
	}
	c.memory.Add(fingerprint, raw)
	return resp, true
}

// Put stores a response under its fingerprint in both tiers.
func (c *ResultCache) Put(ctx context.Context, fingerprint string, resp *domain.CheckResponse) {
	raw, err := json.Marshal(resp)
	if err != nil {
		c.log.WithError(err).Error("Failed to encode response for caching")
		return
	}
	c.memory.Add(fingerprint, raw)
	if c.redis != nil {
		if err := c.redis.Set(ctx, fingerprint, raw, c.ttl).Err(); err != nil {
			c.log.WithError(err).Debug("Redis cache write failed")
		}
	}
}

// Close releases the Redis connection.
func (c *ResultCache) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

func decode(raw []byte) (*domain.CheckResponse, error) {
	var resp domain.CheckResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCacheCorruption, err)
	}
	if resp.RequestID == "" {
		return nil, domain.ErrCacheCorruption
	}
	return &resp, nil
}
