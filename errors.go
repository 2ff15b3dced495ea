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
	"errors"
	"fmt"

	"github.com/blnkfinance/floorsync/database"
	"github.com/blnkfinance/floorsync/model"
)

var (
	// ErrSubmissionInFlight is returned when a caller tries to change a submission
	// whose remote write is still in progress.
	ErrSubmissionInFlight = errors.New("submission is syncing and cannot be changed until the attempt resolves")

	ErrSubmissionNotFound = errors.New("submission not found")

	ErrInvalidSubmission = errors.New("invalid submission")
)

// StoreWriteError reports a failed persistent store operation. It is fatal to
// the operation that raised it.
type StoreWriteError struct {
	Op  string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("queue store %s failed: %v", e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error {
	return e.Err
}

// QuotaExceededError is the warning raised when the queue is full and only a
// pending submission is left to evict. Candidate is that submission; repeat the
// enqueue with EvictPending set to drop it. Candidate is nil when nothing at
// all can be evicted.
type QuotaExceededError struct {
	Candidate *model.QueuedSubmission
}

func (e *QuotaExceededError) Error() string {
	if e.Candidate == nil {
		return "queue storage is full and holds nothing that can be evicted"
	}
	return fmt.Sprintf("queue storage is full; pending submission %s must be evicted to continue", e.Candidate.ID)
}

func (e *QuotaExceededError) Unwrap() error {
	return database.ErrQuotaExceeded
}
