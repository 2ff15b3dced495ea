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

package agent

import (
	"context"
	"sort"

	"github.com/blnkfinance/floorsync/internal/cache"
	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps responses in the two-tier cache and tracks membership in
// Redis sets, so several agent processes can share one cache.
type RedisStorage struct {
	client redis.UniversalClient
	cache  cache.Cache
	prefix string
}

func NewRedisStorage(client redis.UniversalClient, prefix string) *RedisStorage {
	return &RedisStorage{
		client: client,
		cache:  cache.NewCache(client, cache.Options{}),
		prefix: prefix,
	}
}

func (s *RedisStorage) collectionsKey() string {
	return s.prefix + ":collections"
}

func (s *RedisStorage) entriesKey(name string) string {
	return s.prefix + ":collection:" + name
}

func (s *RedisStorage) entryKey(name, key string) string {
	return s.prefix + ":entry:" + name + ":" + key
}

func (s *RedisStorage) Open(ctx context.Context, name string) (Collection, error) {
	if err := s.client.SAdd(ctx, s.collectionsKey(), name).Err(); err != nil {
		return nil, err
	}
	return &redisCollection{storage: s, name: name}, nil
}

func (s *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	keys, err := s.client.SMembers(ctx, s.entriesKey(name)).Result()
	if err != nil {
		return false, err
	}
	for _, key := range keys {
		if err := s.cache.Delete(ctx, s.entryKey(name, key)); err != nil {
			return false, err
		}
	}
	if err := s.client.Del(ctx, s.entriesKey(name)).Err(); err != nil {
		return false, err
	}
	removed, err := s.client.SRem(ctx, s.collectionsKey(), name).Result()
	if err != nil {
		return false, err
	}
	return removed > 0, nil
}

func (s *RedisStorage) Keys(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.collectionsKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

type redisCollection struct {
	storage *RedisStorage
	name    string
}

func (c *redisCollection) Match(ctx context.Context, key string) (*CachedResponse, error) {
	var resp CachedResponse
	found, err := c.storage.cache.Get(ctx, c.storage.entryKey(c.name, key), &resp)
	if err != nil || !found {
		return nil, err
	}
	return &resp, nil
}

func (c *redisCollection) Put(ctx context.Context, key string, resp *CachedResponse) error {
	if err := c.storage.cache.Set(ctx, c.storage.entryKey(c.name, key), resp, 0); err != nil {
		return err
	}
	return c.storage.client.SAdd(ctx, c.storage.entriesKey(c.name), key).Err()
}

func (c *redisCollection) Delete(ctx context.Context, key string) (bool, error) {
	if err := c.storage.cache.Delete(ctx, c.storage.entryKey(c.name, key)); err != nil {
		return false, err
	}
	removed, err := c.storage.client.SRem(ctx, c.storage.entriesKey(c.name), key).Result()
	if err != nil {
		return false, err
	}
	return removed > 0, nil
}

func (c *redisCollection) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.storage.client.SMembers(ctx, c.storage.entriesKey(c.name)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
