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
	"encoding/json"
	"errors"

	"github.com/blnkfinance/floorsync/model"
)

// ErrQuotaExceeded is returned when persisting the queue would exceed the
// storage available to it.
var ErrQuotaExceeded = errors.New("queue storage quota exceeded")

// Mutator receives the current ordered list and returns the list to persist.
// Returning an error aborts the write and leaves the stored list unchanged.
type Mutator func(items []model.QueuedSubmission) ([]model.QueuedSubmission, error)

// QueueStore persists the ordered list of queued submissions under one fixed key.
// Every mutation is a whole-list read-modify-write applied atomically by the engine.
type QueueStore interface {
	// Load returns the stored list ordered by created_at, then id.
	Load(ctx context.Context) ([]model.QueuedSubmission, error)

	// Update runs fn against the current list inside one transaction and persists its result.
	Update(ctx context.Context, fn Mutator) error

	// Clear removes the stored list entirely.
	Clear(ctx context.Context) error

	Close() error
}

// encodeList serializes the list, enforcing maxBytes when it is positive.
func encodeList(items []model.QueuedSubmission, maxBytes int) ([]byte, error) {
	if items == nil {
		items = []model.QueuedSubmission{}
	}
	model.SortSubmissions(items)
	data, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return nil, ErrQuotaExceeded
	}
	return data, nil
}

// decodeList parses a stored value. An empty value is an empty queue.
func decodeList(data []byte) ([]model.QueuedSubmission, error) {
	items := []model.QueuedSubmission{}
	if len(data) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	model.SortSubmissions(items)
	return items, nil
}
