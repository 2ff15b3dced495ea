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
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/blnkfinance/floorsync/config"
	"github.com/blnkfinance/floorsync/database"
	"github.com/blnkfinance/floorsync/internal/notification"
	"github.com/blnkfinance/floorsync/model"
	"github.com/blnkfinance/floorsync/remote"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []notification.Event
}

func (r *recordingSink) Notify(_ context.Context, event notification.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordingSink) OfType(eventType notification.EventType) []notification.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notification.Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func testConfiguration() *config.Configuration {
	return &config.Configuration{
		ProjectName: "Floorsync",
		DataSource:  config.DataSourceConfig{Dns: "memory://"},
		Queue: config.QueueConfig{
			StorageKey:   config.DefaultStorageKey,
			MaxRetries:   3,
			WebhookQueue: config.DefaultWebhookQueue,
			WakeQueue:    config.DefaultWakeQueue,
		},
		Sync: config.SyncConfig{WriteTimeout: time.Second},
	}
}

// newTestFloorSync builds a service over an in-memory store.
func newTestFloorSync(t *testing.T, writer *MockWriter, online bool) (*FloorSync, *recordingSink) {
	t.Helper()
	return newTestFloorSyncWithStore(t, database.NewMemoryStore(0), writer, online)
}

func newTestFloorSyncWithStore(t *testing.T, store database.QueueStore, writer *MockWriter, online bool) (*FloorSync, *recordingSink) {
	t.Helper()
	config.MockConfig(testConfiguration())

	sink := &recordingSink{}
	fs, err := NewFloorSync(store, writer, WithMonitor(NewConnectivityMonitor(online)), WithNotifier(sink))
	require.NoError(t, err)
	return fs, sink
}

func storageLedger() model.StorageLedger {
	return model.StorageLedger{
		ItemCode:  "BTN-" + gofakeit.DigitN(4),
		Movement:  gofakeit.RandomString([]string{"in", "out"}),
		Quantity:  decimal.NewFromInt(int64(gofakeit.Number(1, 500))),
		Location:  "A" + gofakeit.DigitN(2),
		EntryDate: "2024-04-22",
	}
}

func enqueueRequest(t *testing.T) EnqueueRequest {
	t.Helper()
	raw, err := json.Marshal(storageLedger())
	require.NoError(t, err)
	return EnqueueRequest{
		FormType: model.FormStorageLedger,
		Target:   "storage_ledger",
		Payload:  raw,
		Owner:    model.OwnerContext{TenantID: "tenant_" + gofakeit.DigitN(3), UserID: gofakeit.UUID()},
	}
}

func mustEnqueue(t *testing.T, q *SubmissionQueue) string {
	t.Helper()
	receipt, err := q.Enqueue(context.Background(), enqueueRequest(t))
	require.NoError(t, err)
	return receipt.ID
}

func TestNewFloorSyncRequiresCollaborators(t *testing.T) {
	config.MockConfig(testConfiguration())

	_, err := NewFloorSync(nil, &MockWriter{})
	assert.Error(t, err)

	fs, err := NewFloorSync(database.NewMemoryStore(0), &MockWriter{})
	require.NoError(t, err)
	assert.True(t, fs.Monitor().IsOnline())
	assert.Nil(t, fs.Tasks())
	assert.Equal(t, 3, fs.Queue().MaxRetries())
	assert.NoError(t, fs.Close())
}

func TestStartRecoversStuckSubmissions(t *testing.T) {
	fs, _ := newTestFloorSync(t, &MockWriter{}, true)
	ctx := context.Background()

	id := mustEnqueue(t, fs.Queue())
	claimed, err := fs.Queue().claim(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, fs.Start(ctx))

	item, err := fs.Queue().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, item.Status)
}

func newSQLiteStoreForTest(t *testing.T) database.QueueStore {
	t.Helper()
	db, dialect, err := database.ConnectDB("sqlite://" + filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	_, err = database.Migrate(db, dialect)
	require.NoError(t, err)

	store := database.NewSQLStore(db, dialect, config.DefaultStorageKey, 0)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStartLeavesAnotherProcessLiveAttemptAlone(t *testing.T) {
	store := newSQLiteStoreForTest(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	writerA := &MockWriter{InsertFunc: func(context.Context, string, json.RawMessage, model.OwnerContext) (*remote.Record, error) {
		close(entered)
		<-release
		return &remote.Record{}, nil
	}}
	writerB := &MockWriter{}

	a, _ := newTestFloorSyncWithStore(t, store, writerA, true)
	b, _ := newTestFloorSyncWithStore(t, store, writerB, true)
	ctx := context.Background()

	id := mustEnqueue(t, a.Queue())
	done := make(chan SyncResult, 1)
	go func() { done <- a.ProcessQueue(ctx) }()
	<-entered

	require.NoError(t, b.Start(ctx))
	item, err := b.Queue().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSyncing, item.Status)

	result := b.ProcessQueue(ctx)
	assert.Empty(t, result.Successful)
	assert.Empty(t, writerB.Calls())

	close(release)
	assert.Equal(t, []string{id}, (<-done).Successful)

	count, err := b.Queue().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestStartRecoversStaleAttemptOnSharedStore(t *testing.T) {
	store := newSQLiteStoreForTest(t)
	fs, _ := newTestFloorSyncWithStore(t, store, &MockWriter{}, true)
	ctx := context.Background()

	id := mustEnqueue(t, fs.Queue())
	_, err := fs.Queue().claim(ctx, id)
	require.NoError(t, err)

	fs.Queue().now = func() time.Time { return time.Now().Add(5 * time.Second) }
	require.NoError(t, fs.Start(ctx))

	item, err := fs.Queue().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, item.Status)
}

func newMemoryStoreForTest() database.QueueStore {
	return database.NewMemoryStore(0)
}
