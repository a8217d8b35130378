package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/cinerank/pkg/models"
)

// RecommendationCache memoizes recommendation results per (subject, algorithm,
// parameters). Entries carry their own expiry, which the read path checks
// regardless of what the backend does with its TTL.
type RecommendationCache struct {
	backend CacheBackend
	prefix  string
	ttl     time.Duration
	now     func() time.Time
	logger  *logrus.Logger
}

func NewRecommendationCache(backend CacheBackend, prefix string, ttl time.Duration, logger *logrus.Logger) *RecommendationCache {
	return &RecommendationCache{
		backend: backend,
		prefix:  prefix,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
	}
}

// Fingerprint derives a stable identifier from normalized request parameters.
func Fingerprint(params models.RecommendationParams) string {
	data, _ := json.Marshal(params)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// UserSubject and MovieSubject name the owner of a cache entry.
func UserSubject(userID uuid.UUID) string { return userID.String() }

func MovieSubject(movieID int64) string { return fmt.Sprintf("movie-%d", movieID) }

func (c *RecommendationCache) key(subject, algorithm, fingerprint string) string {
	return fmt.Sprintf("%s:%s:%s:%s", c.prefix, subject, algorithm, fingerprint)
}

// Get returns a live entry or nil. Backend errors and undecodable entries count as misses.
func (c *RecommendationCache) Get(ctx context.Context, subject, algorithm string, params models.RecommendationParams) *models.RecommendationCacheEntry {
	if c == nil || c.backend == nil {
		return nil
	}

	key := c.key(subject, algorithm, Fingerprint(params))
	data, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Recommendation cache read failed")
		return nil
	}
	if !ok {
		return nil
	}

	var entry models.RecommendationCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Discarding undecodable cache entry")
		return nil
	}
	if entry.Expired(c.now()) {
		return nil
	}
	return &entry
}

// Put upserts an entry with the default TTL.
func (c *RecommendationCache) Put(ctx context.Context, subject, algorithm string, params models.RecommendationParams, candidates Candidates) (*models.RecommendationCacheEntry, error) {
	return c.PutWithTTL(ctx, subject, algorithm, params, candidates, c.ttl)
}

// PutWithTTL upserts an entry, replacing any live entry under the same key and
// restarting its expiry clock. Concurrent writers resolve last-writer-wins.
func (c *RecommendationCache) PutWithTTL(ctx context.Context, subject, algorithm string, params models.RecommendationParams, candidates Candidates, ttl time.Duration) (*models.RecommendationCacheEntry, error) {
	if c == nil || c.backend == nil {
		return nil, nil
	}

	now := c.now()
	fingerprint := Fingerprint(params)
	entry := &models.RecommendationCacheEntry{
		Subject:     subject,
		Algorithm:   algorithm,
		Fingerprint: fingerprint,
		Params:      params,
		Items:       candidates.Items,
		Fallback:    candidates.Fallback,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := c.backend.Set(ctx, c.key(subject, algorithm, fingerprint), data, ttl); err != nil {
		return nil, fmt.Errorf("failed to write cache entry: %w", err)
	}
	return entry, nil
}

// InvalidateSubject drops every entry of a subject across algorithms and parameters.
func (c *RecommendationCache) InvalidateSubject(ctx context.Context, subject string) (int, error) {
	if c == nil || c.backend == nil {
		return 0, nil
	}
	return c.backend.DeletePrefix(ctx, fmt.Sprintf("%s:%s:", c.prefix, subject))
}

// RedisCacheBackend stores cache entries in Redis.
type RedisCacheBackend struct {
	client *redis.Client
}

func NewRedisCacheBackend(client *redis.Client) *RedisCacheBackend {
	return &RedisCacheBackend{client: client}
}

func (r *RedisCacheBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (r *RedisCacheBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// DeletePrefix scans for matching keys instead of using KEYS so large keyspaces
// do not block the server.
func (r *RedisCacheBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

type localItem struct {
	value      []byte
	expiration int64
}

// LocalCacheBackend is an in-process cache for single-instance deployments and tests.
type LocalCacheBackend struct {
	items   map[string]localItem
	mu      sync.RWMutex
	maxSize int
	now     func() time.Time
}

func NewLocalCacheBackend(maxSize int) *LocalCacheBackend {
	return &LocalCacheBackend{
		items:   make(map[string]localItem),
		maxSize: maxSize,
		now:     time.Now,
	}
}

func (c *LocalCacheBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[key]
	if !exists || c.now().UnixNano() > item.expiration {
		return nil, false, nil
	}
	return item.value, true, nil
}

func (c *LocalCacheBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.maxSize > 0 && len(c.items) >= c.maxSize {
		c.evictLocked()
	}

	c.items[key] = localItem{
		value:      value,
		expiration: c.now().Add(ttl).UnixNano(),
	}
	return nil
}

// evictLocked drops expired items, or an arbitrary one when nothing has expired.
func (c *LocalCacheBackend) evictLocked() {
	now := c.now().UnixNano()
	removed := false
	for k, item := range c.items {
		if now > item.expiration {
			delete(c.items, k)
			removed = true
		}
	}
	if removed {
		return
	}
	for k := range c.items {
		delete(c.items, k)
		return
	}
}

func (c *LocalCacheBackend) DeletePrefix(_ context.Context, prefix string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deleted := 0
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
			deleted++
		}
	}
	return deleted, nil
}

func (c *LocalCacheBackend) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
