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
	"testing"

	"github.com/blnkfinance/floorsync/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueWatcherDrainsOnNewSubmission(t *testing.T) {
	writer := &MockWriter{}
	fs, _ := newTestFloorSync(t, writer, true)
	ctx := context.Background()

	receipt, err := fs.Queue().Enqueue(ctx, enqueueRequest(t))
	require.NoError(t, err)

	w := NewQueueWatcher(fs, testConfiguration().Queue.StorageKey)
	require.NoError(t, w.HandleNotification(database.QueueChange{Key: testConfiguration().Queue.StorageKey, Newest: receipt.ID, Pending: 1}))
	w.Wait()

	count, err := fs.Queue().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Len(t, writer.Calls(), 1)
}

func TestQueueWatcherIgnoresRepeatsOtherKeysAndOffline(t *testing.T) {
	writer := &MockWriter{}
	fs, _ := newTestFloorSync(t, writer, true)
	ctx := context.Background()
	key := testConfiguration().Queue.StorageKey

	receipt, err := fs.Queue().Enqueue(ctx, enqueueRequest(t))
	require.NoError(t, err)

	w := NewQueueWatcher(fs, key)
	w.lastSeen = receipt.ID

	require.NoError(t, w.HandleNotification(database.QueueChange{Key: key, Newest: receipt.ID, Pending: 1}))
	require.NoError(t, w.HandleNotification(database.QueueChange{Key: "other", Newest: receipt.ID + "z", Pending: 1}))
	require.NoError(t, w.HandleNotification(database.QueueChange{Key: key, Pending: 0}))

	fs.Monitor().SetOnline(false)
	require.NoError(t, w.HandleNotification(database.QueueChange{Key: key, Newest: receipt.ID + "z", Pending: 1}))
	w.Wait()

	assert.Empty(t, writer.Calls())
	count, err := fs.Queue().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
