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
package mocks

import (
	"context"

	"github.com/blnkfinance/floorsync/database"
	"github.com/blnkfinance/floorsync/model"
	"github.com/stretchr/testify/mock"
)

// MockQueueStore is a mock implementation of the database.QueueStore interface.
// Update runs the mutator against the list registered with On("Load") when the
// expectation returns no error, so callers see their mutation applied.
type MockQueueStore struct {
	mock.Mock
}

var _ database.QueueStore = (*MockQueueStore)(nil)

func (m *MockQueueStore) Load(ctx context.Context) ([]model.QueuedSubmission, error) {
	args := m.Called(ctx)
	items, _ := args.Get(0).([]model.QueuedSubmission)
	return items, args.Error(1)
}

func (m *MockQueueStore) Update(ctx context.Context, fn database.Mutator) error {
	args := m.Called(ctx, fn)
	if err := args.Error(0); err != nil {
		return err
	}
	items, _ := m.Load(ctx)
	_, err := fn(model.CloneSubmissions(items))
	return err
}

func (m *MockQueueStore) Clear(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockQueueStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
