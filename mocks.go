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
	"sync"
	"time"

	"github.com/blnkfinance/floorsync/model"
	"github.com/blnkfinance/floorsync/remote"
)

// WriterCall records one Insert made against a MockWriter.
type WriterCall struct {
	Target   string
	Payload  json.RawMessage
	Owner    model.OwnerContext
	Started  time.Time
	Finished time.Time
}

// MockWriter is a scripted remote.Writer. InsertFunc decides each outcome; when
// it is nil every insert succeeds.
type MockWriter struct {
	InsertFunc func(ctx context.Context, target string, payload json.RawMessage, owner model.OwnerContext) (*remote.Record, error)

	mu    sync.Mutex
	calls []WriterCall
}

func (m *MockWriter) Insert(ctx context.Context, target string, payload json.RawMessage, owner model.OwnerContext) (*remote.Record, error) {
	call := WriterCall{Target: target, Payload: payload, Owner: owner, Started: time.Now()}

	var (
		record *remote.Record
		err    error
	)
	if m.InsertFunc != nil {
		record, err = m.InsertFunc(ctx, target, payload, owner)
	} else {
		record = &remote.Record{Target: target, StatusCode: 201, InsertedAt: time.Now().UTC()}
	}

	call.Finished = time.Now()
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
	return record, err
}

// Calls returns the completed inserts in completion order.
func (m *MockWriter) Calls() []WriterCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WriterCall, len(m.calls))
	copy(out, m.calls)
	return out
}
