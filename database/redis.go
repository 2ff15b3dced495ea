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

package database

import (
	"context"
	"strings"

	"github.com/blnkfinance/floorsync/model"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic retries when another writer touches the key mid-cycle.
const maxTxRetries = 10

// RedisStore keeps the queue as one JSON string key. Updates use WATCH/MULTI
// so a concurrent writer forces the cycle to run again on fresh state.
type RedisStore struct {
	client   redis.UniversalClient
	key      string
	maxBytes int
}

func NewRedisStore(client redis.UniversalClient, key string, maxBytes int) *RedisStore {
	return &RedisStore{client: client, key: key, maxBytes: maxBytes}
}

func (r *RedisStore) Load(ctx context.Context) ([]model.QueuedSubmission, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err == redis.Nil {
		return []model.QueuedSubmission{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load queue")
	}
	items, err := decodeList(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode queue")
	}
	return items, nil
}

func (r *RedisStore) Update(ctx context.Context, fn Mutator) error {
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, r.key).Bytes()
		if err != nil && err != redis.Nil {
			return errors.Wrap(err, "read queue")
		}
		items, err := decodeList(data)
		if err != nil {
			return errors.Wrap(err, "decode queue")
		}

		next, err := fn(items)
		if err != nil {
			return err
		}
		encoded, err := encodeList(next, r.maxBytes)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.key, encoded, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, r.key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil && isRedisOOM(err) {
			return ErrQuotaExceeded
		}
		return err
	}
	return errors.New("queue update lost too many write races")
}

func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return errors.Wrap(err, "clear queue")
	}
	return nil
}

// Close is a no-op; the client is shared with the rest of the process.
func (r *RedisStore) Close() error {
	return nil
}

func isRedisOOM(err error) bool {
	return strings.HasPrefix(err.Error(), "OOM ")
}
