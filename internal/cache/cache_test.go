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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, Options{LocalSize: 100, LocalTTL: time.Second}), mr
}

func TestSet(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "testKey", "testValue", 10*time.Minute))
	assert.True(t, mr.Exists("testKey"))

	require.NoError(t, c.Set(ctx, "forever", "testValue", 0))
	assert.Equal(t, time.Duration(0), mr.TTL("forever"))
}

func TestGet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	setValue := map[string]string{"hello": "world"}
	require.NoError(t, c.Set(ctx, "testKey", setValue, 10*time.Minute))

	var getValue map[string]string
	found, err := c.Get(ctx, "testKey", &getValue)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, setValue, getValue)
}

func TestGetNonExistentKey(t *testing.T) {
	c, _ := newTestCache(t)

	var getValue map[string]string
	found, err := c.Get(context.Background(), "nonExistentKey", &getValue)
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, getValue)
}

func TestDelete(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "testKey", "testValue", 10*time.Minute))
	require.NoError(t, c.Delete(ctx, "testKey"))
	assert.False(t, mr.Exists("testKey"))

	var got string
	found, err := c.Get(ctx, "testKey", &got)
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, c.Delete(ctx, "neverSet"))
}
