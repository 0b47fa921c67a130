package main

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v9"
	"go.uber.org/zap"
)

// Cache memoizes expensive read aggregations. It is never the source of
// truth: a miss always falls through to the store, and every write that
// can change a cached value deletes the affected keys before it returns.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, val []byte, ttl time.Duration)
	Delete(keys ...string)
}

// Key namespace: {entityKind}:{ownerUserId}.
func conversationListKey(userID string) string {
	return "conversation-list:" + userID
}

func presenceKey(userID string) string {
	return "presence:" + userID
}

type cacheEntry struct {
	val     []byte
	expires time.Time
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	done    chan struct{}
}

func newMemoryCache() *memoryCache {
	c := &memoryCache{
		entries: map[string]cacheEntry{},
		done:    make(chan struct{}),
	}
	go c.janitor()
	return c
}

func (c *memoryCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.val, true
}

func (c *memoryCache) Set(key string, val []byte, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{val: val, expires: time.Now().Add(ttl)}
	c.mu.Unlock()
}

func (c *memoryCache) Delete(keys ...string) {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	c.mu.Unlock()
}

func (c *memoryCache) janitor() {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case now := <-t.C:
			c.mu.Lock()
			for k, e := range c.entries {
				if now.After(e.expires) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}

func (c *memoryCache) Close() {
	close(c.done)
}

// redisCache shares the cache between nodes when redis is enabled.
// Failures degrade to misses; the store stays authoritative.
type redisCache struct {
	rdb *redis.Client
	log *zap.SugaredLogger
}

func newRedisCache(rdb *redis.Client) *redisCache {
	return &redisCache{rdb: rdb, log: zap.S().With("component", "rediscache")}
}

func (c *redisCache) Get(key string) ([]byte, bool) {
	val, err := c.rdb.Get(context.Background(), key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Error("get:", key, err)
		}
		return nil, false
	}
	return val, true
}

func (c *redisCache) Set(key string, val []byte, ttl time.Duration) {
	if err := c.rdb.Set(context.Background(), key, val, ttl).Err(); err != nil {
		c.log.Error("set:", key, err)
	}
}

func (c *redisCache) Delete(keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(context.Background(), keys...).Err(); err != nil {
		c.log.Error("del:", keys, err)
	}
}
