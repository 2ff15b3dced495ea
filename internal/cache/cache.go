/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// Cache provides the basic operations of a keyed cache of msgpack-encoded values.
type Cache interface {
	// Set stores value under key. A zero ttl keeps the entry until it is deleted.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Get decodes the entry stored under key into data and reports whether
	// it was found. A miss is not an error.
	Get(ctx context.Context, key string, data interface{}) (bool, error)

	// Delete removes key from both the local and the Redis tier.
	Delete(ctx context.Context, key string) error
}

// RedisCache implements Cache on Redis with a local TinyLFU tier in front.
type RedisCache struct {
	cache *cache.Cache
}

// Options tunes the local tier. Zero values fall back to the defaults below.
type Options struct {
	LocalSize int
	LocalTTL  time.Duration
}

const (
	defaultLocalSize = 128000
	defaultLocalTTL  = time.Minute
)

// NewCache wraps an existing Redis client. The local tier is per process, so an
// entry deleted by another process may still be served locally for LocalTTL.
func NewCache(client redis.UniversalClient, opts Options) *RedisCache {
	if opts.LocalSize <= 0 {
		opts.LocalSize = defaultLocalSize
	}
	if opts.LocalTTL <= 0 {
		opts.LocalTTL = defaultLocalTTL
	}
	return &RedisCache{cache: cache.New(&cache.Options{
		Redis:      client,
		LocalCache: cache.NewTinyLFU(opts.LocalSize, opts.LocalTTL),
	})}
}

func (r *RedisCache) Set(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	// go-redis/cache reads a zero TTL as one hour and a negative TTL as none.
	if ttl <= 0 {
		ttl = -1
	}
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: data,
		TTL:   ttl,
	})
}

func (r *RedisCache) Get(ctx context.Context, key string, data interface{}) (bool, error) {
	err := r.cache.Get(ctx, key, data)
	if errors.Is(err, cache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	err := r.cache.Delete(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}
