// Copyright 2021-2023
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"
)

const cachePrefix = "folio:"

// Cache is a two level byte cache: a process local LRU in front of an optional
// shared redis instance. Values are lz4 compressed and expire after ttl.
type Cache struct {
	local *lru.Cache
	rdb   *redis.Client
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry struct {
	val     []byte
	expires time.Time
}

// NewCache creates a cache holding at most localSize entries in process. When redisURL
// is non-empty entries are also written to redis so that other processes can see them.
func NewCache(localSize int, redisURL string, ttl time.Duration) (*Cache, error) {
	if localSize <= 0 {
		localSize = 1024
	}

	local, err := lru.New(localSize)
	if err != nil {
		log.Error().Err(err).Int("LocalSize", localSize).Msg("could not create LRU cache")
		return nil, err
	}

	c := &Cache{
		local: local,
		ttl:   ttl,
		now:   time.Now,
	}

	if redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Error().Err(err).Msg("could not parse redis URL")
			return nil, err
		}
		c.rdb = redis.NewClient(opt)
	}

	return c, nil
}

// Set stores bytes under key
func (c *Cache) Set(ctx context.Context, key string, bytes []byte) error {
	compressed, err := Compress(bytes)
	if err != nil {
		return err
	}

	c.local.Add(key, &cacheEntry{val: compressed, expires: c.now().Add(c.ttl)})

	if c.rdb != nil {
		return c.rdb.Set(ctx, cachePrefix+key, compressed, c.ttl).Err()
	}
	return nil
}

// Get returns the bytes stored under key; ok is false on a miss or an expired entry
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok := c.local.Get(key); ok {
		entry := v.(*cacheEntry)
		if c.now().Before(entry.expires) {
			out, err := Decompress(entry.val)
			return out, err == nil, err
		}
		c.local.Remove(key)
	}

	if c.rdb == nil {
		return nil, false, nil
	}

	val, err := c.rdb.Get(ctx, cachePrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	c.local.Add(key, &cacheEntry{val: val, expires: c.now().Add(c.ttl)})
	out, err := Decompress(val)
	return out, err == nil, err
}

// Purge drops the given keys from both levels; with no keys the whole local cache is cleared
func (c *Cache) Purge(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		c.local.Purge()
		return
	}

	redisKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		c.local.Remove(k)
		redisKeys = append(redisKeys, cachePrefix+k)
	}

	if c.rdb != nil {
		if err := c.rdb.Del(ctx, redisKeys...).Err(); err != nil {
			log.Warn().Err(err).Int("NumKeys", len(keys)).Msg("could not purge keys from redis")
		}
	}
}

// Close releases the redis connection, if any
func (c *Cache) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}
