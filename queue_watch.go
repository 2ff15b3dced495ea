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

package floorsync

import (
	"context"
	"sync"

	"github.com/blnkfinance/floorsync/database"
	"github.com/sirupsen/logrus"
)

// QueueWatcher drains the queue when another process adds a submission to a
// shared store while this one is online. Only growth of the newest pending id
// triggers a drain, so the writes a drain makes never re-trigger it.
type QueueWatcher struct {
	fs  *FloorSync
	key string

	mu       sync.Mutex
	lastSeen string
	wg       sync.WaitGroup
}

func NewQueueWatcher(fs *FloorSync, key string) *QueueWatcher {
	return &QueueWatcher{fs: fs, key: key}
}

func (w *QueueWatcher) HandleNotification(change database.QueueChange) error {
	if change.Key != w.key || change.Newest == "" {
		return nil
	}

	w.mu.Lock()
	if change.Newest <= w.lastSeen {
		w.mu.Unlock()
		return nil
	}
	w.lastSeen = change.Newest
	w.mu.Unlock()

	if !w.fs.Monitor().IsOnline() {
		return nil
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		result := w.fs.ProcessQueue(context.Background())
		if result.Err != nil {
			logrus.WithError(result.Err).Warn("queue change drain failed")
		}
	}()
	return nil
}

// Wait blocks until drains started by notifications have finished.
func (w *QueueWatcher) Wait() {
	w.wg.Wait()
}
