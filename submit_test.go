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
	"encoding/json"
	"errors"
	"testing"

	"github.com/blnkfinance/floorsync/internal/notification"
	"github.com/blnkfinance/floorsync/model"
	"github.com/blnkfinance/floorsync/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitOfflineQueuesWithoutNetwork(t *testing.T) {
	writer := &MockWriter{}
	fs, sink := newTestFloorSync(t, writer, false)
	ctx := context.Background()

	res := fs.Submit(ctx, "storage_ledger", storageLedger(), SubmitOptions{Owner: model.OwnerContext{TenantID: "t1", UserID: "u1"}})
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.True(t, res.Queued)
	assert.NotEmpty(t, res.ID)
	assert.Empty(t, writer.Calls())

	item, err := fs.Queue().Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, item.Status)
	assert.Equal(t, model.FormStorageLedger, item.FormType)
	assert.Equal(t, "t1", item.Owner.TenantID)

	queued := sink.OfType(notification.EventQueued)
	require.Len(t, queued, 1)
	assert.Equal(t, 1, queued[0].Pending)
	assert.Equal(t, []string{res.ID}, queued[0].IDs)
}

func TestSubmitOnlineWritesDirectly(t *testing.T) {
	writer := &MockWriter{}
	fs, sink := newTestFloorSync(t, writer, true)
	ctx := context.Background()

	ledger := storageLedger()
	res := fs.Submit(ctx, "storage_ledger", ledger, SubmitOptions{Owner: model.OwnerContext{TenantID: "t1", UserID: "u1"}})
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.False(t, res.Queued)
	assert.Empty(t, res.ID)

	calls := writer.Calls()
	require.Len(t, calls, 1)
	raw, err := json.Marshal(ledger)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(calls[0].Payload))
	assert.Equal(t, "u1", calls[0].Owner.UserID)

	count, err := fs.Queue().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Len(t, sink.OfType(notification.EventSynced), 1)
}

func TestSubmitFallsBackOnRetryableFailure(t *testing.T) {
	for _, kind := range []model.ErrorKind{model.ErrorKindNetwork, model.ErrorKindTimeout} {
		t.Run(string(kind), func(t *testing.T) {
			fs, _ := newTestFloorSync(t, failingWriter(kind), true)
			res := fs.Submit(context.Background(), "storage_ledger", storageLedger(), SubmitOptions{})
			require.NoError(t, res.Err)
			assert.True(t, res.Queued)

			count, err := fs.Queue().Count(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, count)
		})
	}
}

func TestSubmitReturnsNonRetryableFailure(t *testing.T) {
	for _, kind := range []model.ErrorKind{model.ErrorKindValidation, model.ErrorKindAuthorization} {
		t.Run(string(kind), func(t *testing.T) {
			fs, sink := newTestFloorSync(t, failingWriter(kind), true)
			res := fs.Submit(context.Background(), "storage_ledger", storageLedger(), SubmitOptions{})
			require.Error(t, res.Err)
			assert.False(t, res.Success)
			assert.False(t, res.Queued)
			assert.Equal(t, kind, remote.KindOf(res.Err))

			count, err := fs.Queue().Count(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 0, count)
			assert.Empty(t, sink.OfType(notification.EventQueued))
		})
	}
}

func TestSubmitRejectsInvalidPayload(t *testing.T) {
	writer := &MockWriter{}
	fs, _ := newTestFloorSync(t, writer, true)

	res := fs.Submit(context.Background(), "storage_ledger", nil, SubmitOptions{})
	assert.True(t, errors.Is(res.Err, ErrInvalidSubmission))

	bad := storageLedger()
	bad.Movement = "sideways"
	res = fs.Submit(context.Background(), "storage_ledger", bad, SubmitOptions{})
	assert.True(t, errors.Is(res.Err, ErrInvalidSubmission))
	assert.Empty(t, writer.Calls())
}
