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
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blnkfinance/floorsync/database"
	"github.com/blnkfinance/floorsync/internal/notification"
	"github.com/blnkfinance/floorsync/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("floorsync")

// SubmissionQueue is the typed API over the persistent queue store. Every
// mutation is one whole-list read-modify-write; mu keeps cycles issued from this
// process from interleaving and the store transaction covers other processes.
type SubmissionQueue struct {
	mu         sync.Mutex
	store      database.QueueStore
	maxRetries int
	notifier   notification.Sink
	now        func() time.Time
}

// EnqueueRequest describes a submission to persist. Payload is the raw form
// record; it is decoded against FormType and validated before it is stored.
type EnqueueRequest struct {
	FormType     model.FormType
	Target       string
	Payload      json.RawMessage
	Owner        model.OwnerContext
	EvictPending bool
}

// EnqueueReceipt identifies the stored submission and lists anything evicted to make room for it.
type EnqueueReceipt struct {
	ID      string                   `json:"id"`
	Evicted []model.QueuedSubmission `json:"evicted,omitempty"`
}

// QueueStats breaks the queue down by status.
type QueueStats struct {
	Pending int `json:"pending"`
	Syncing int `json:"syncing"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

func NewSubmissionQueue(store database.QueueStore, maxRetries int, notifier notification.Sink) *SubmissionQueue {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if notifier == nil {
		notifier = notification.LogSink{}
	}
	return &SubmissionQueue{
		store:      store,
		maxRetries: maxRetries,
		notifier:   notifier,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// MaxRetries is the retry ceiling stamped on new submissions.
func (q *SubmissionQueue) MaxRetries() int {
	return q.maxRetries
}

// Enqueue validates and persists a new pending submission. When the store is
// full it evicts the oldest failed submissions first. If only pending
// submissions remain it returns a *QuotaExceededError unless req.EvictPending is set.
func (q *SubmissionQueue) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueReceipt, error) {
	ctx, span := tracer.Start(ctx, "Enqueue Submission")
	defer span.End()

	if err := validateRequest(req); err != nil {
		span.RecordError(err)
		return nil, err
	}

	now := q.now()
	item := model.QueuedSubmission{
		ID:         model.GenerateSubmissionID(),
		FormType:   req.FormType,
		Target:     req.Target,
		Payload:    append(json.RawMessage(nil), req.Payload...),
		Owner:      req.Owner,
		CreatedAt:  now,
		UpdatedAt:  now,
		RetryCount: 0,
		MaxRetries: q.maxRetries,
		Status:     model.StatusPending,
	}
	span.SetAttributes(attribute.String("submission.id", item.ID), attribute.String("submission.form_type", string(item.FormType)))

	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := map[string]bool{}
	var evictedItems []model.QueuedSubmission
	for {
		err := q.store.Update(ctx, func(items []model.QueuedSubmission) ([]model.QueuedSubmission, error) {
			kept := items[:0]
			for _, it := range items {
				if !evicted[it.ID] {
					kept = append(kept, it)
				}
			}
			return append(kept, item), nil
		})
		if err == nil {
			break
		}
		if !errors.Is(err, database.ErrQuotaExceeded) {
			return nil, q.storeError("enqueue", err)
		}

		victim, err := q.evictionCandidate(ctx, evicted, req.EvictPending)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		evicted[victim.ID] = true
		evictedItems = append(evictedItems, victim)
	}

	if len(evictedItems) > 0 {
		ids := make([]string, 0, len(evictedItems))
		for _, it := range evictedItems {
			ids = append(ids, it.ID)
			logrus.WithFields(logrus.Fields{
				"submission_id": it.ID,
				"status":        it.Status,
				"created_at":    it.CreatedAt,
			}).Warn("evicted submission to free queue storage")
		}
		q.notify(ctx, notification.Event{Type: notification.EventEvicted, Count: len(ids), IDs: ids})
	}

	logrus.WithFields(logrus.Fields{"submission_id": item.ID, "form_type": item.FormType}).Info("submission queued")
	return &EnqueueReceipt{ID: item.ID, Evicted: evictedItems}, nil
}

// evictionCandidate picks the oldest failed submission not yet evicted, then the
// oldest pending one when allowPending is set. Syncing submissions are never evicted.
func (q *SubmissionQueue) evictionCandidate(ctx context.Context, evicted map[string]bool, allowPending bool) (model.QueuedSubmission, error) {
	items, err := q.store.Load(ctx)
	if err != nil {
		return model.QueuedSubmission{}, q.storeError("load for eviction", err)
	}

	var pending *model.QueuedSubmission
	for i := range items {
		if evicted[items[i].ID] {
			continue
		}
		switch items[i].Status {
		case model.StatusFailed:
			return items[i], nil
		case model.StatusPending:
			if pending == nil {
				pending = &items[i]
			}
		}
	}

	if pending == nil {
		return model.QueuedSubmission{}, &QuotaExceededError{}
	}
	if !allowPending {
		candidate := *pending
		return model.QueuedSubmission{}, &QuotaExceededError{Candidate: &candidate}
	}
	return *pending, nil
}

func validateRequest(req EnqueueRequest) error {
	if !req.FormType.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidSubmission, model.ErrUnknownFormType, req.FormType)
	}
	if strings.TrimSpace(req.Target) == "" {
		return fmt.Errorf("%w: target is required", ErrInvalidSubmission)
	}
	if _, err := model.DecodePayload(req.FormType, req.Payload); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
	}
	return nil
}

// List returns every submission in FIFO order.
func (q *SubmissionQueue) List(ctx context.Context) ([]model.QueuedSubmission, error) {
	items, err := q.store.Load(ctx)
	if err != nil {
		return nil, q.storeError("list", err)
	}
	return items, nil
}

func (q *SubmissionQueue) Get(ctx context.Context, id string) (*model.QueuedSubmission, error) {
	items, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	i := model.IndexOf(items, id)
	if i < 0 {
		return nil, ErrSubmissionNotFound
	}
	return &items[i], nil
}

// Remove deletes a submission. Removing an unknown id is a no-op. A syncing
// submission cannot be removed until its attempt resolves.
func (q *SubmissionQueue) Remove(ctx context.Context, id string) error {
	return q.update(ctx, "remove", func(items []model.QueuedSubmission) ([]model.QueuedSubmission, error) {
		i := model.IndexOf(items, id)
		if i < 0 {
			return items, nil
		}
		if items[i].Status == model.StatusSyncing {
			return nil, ErrSubmissionInFlight
		}
		return append(items[:i], items[i+1:]...), nil
	})
}

// Count returns the number of submissions still awaiting sync (pending and syncing).
func (q *SubmissionQueue) Count(ctx context.Context) (int, error) {
	stats, err := q.Stats(ctx)
	if err != nil {
		return 0, err
	}
	return stats.Pending + stats.Syncing, nil
}

func (q *SubmissionQueue) Stats(ctx context.Context) (QueueStats, error) {
	items, err := q.List(ctx)
	if err != nil {
		return QueueStats{}, err
	}
	var stats QueueStats
	for _, it := range items {
		switch it.Status {
		case model.StatusPending:
			stats.Pending++
		case model.StatusSyncing:
			stats.Syncing++
		case model.StatusFailed:
			stats.Failed++
		}
	}
	stats.Total = len(items)
	return stats, nil
}

// Retry returns a failed submission to pending with a fresh retry budget.
// Retrying a pending submission is a no-op.
func (q *SubmissionQueue) Retry(ctx context.Context, id string) error {
	return q.update(ctx, "retry", func(items []model.QueuedSubmission) ([]model.QueuedSubmission, error) {
		i := model.IndexOf(items, id)
		if i < 0 {
			return nil, ErrSubmissionNotFound
		}
		switch items[i].Status {
		case model.StatusSyncing:
			return nil, ErrSubmissionInFlight
		case model.StatusFailed:
			q.resetForRetry(&items[i])
		}
		return items, nil
	})
}

// RetryFailed returns every failed submission to pending and reports how many moved.
func (q *SubmissionQueue) RetryFailed(ctx context.Context) (int, error) {
	moved := 0
	err := q.update(ctx, "retry failed", func(items []model.QueuedSubmission) ([]model.QueuedSubmission, error) {
		moved = 0
		for i := range items {
			if items[i].Status == model.StatusFailed {
				q.resetForRetry(&items[i])
				moved++
			}
		}
		return items, nil
	})
	return moved, err
}

func (q *SubmissionQueue) resetForRetry(item *model.QueuedSubmission) {
	item.Status = model.StatusPending
	item.RetryCount = 0
	item.LastError = ""
	item.ErrorKind = ""
	item.UpdatedAt = q.now()
}

// RecoverStuck returns syncing submissions last touched more than olderThan ago
// to pending. They were left behind by a process that stopped mid-attempt, so
// their remote write may or may not have landed. Zero recovers all of them.
func (q *SubmissionQueue) RecoverStuck(ctx context.Context, olderThan time.Duration) ([]string, error) {
	var recovered []string
	cutoff := q.now().Add(-olderThan)
	err := q.update(ctx, "recover stuck", func(items []model.QueuedSubmission) ([]model.QueuedSubmission, error) {
		recovered = recovered[:0]
		for i := range items {
			if items[i].Status != model.StatusSyncing {
				continue
			}
			if olderThan > 0 && items[i].UpdatedAt.After(cutoff) {
				continue
			}
			items[i].Status = model.StatusPending
			items[i].UpdatedAt = q.now()
			recovered = append(recovered, items[i].ID)
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	if len(recovered) > 0 {
		logrus.WithField("count", len(recovered)).Warn("recovered submissions stuck in syncing")
	}
	return recovered, nil
}

// Teardown removes every queued submission. It runs on sign-out so one
// tenant's queued work never leaks into the next session.
func (q *SubmissionQueue) Teardown(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.store.Clear(ctx); err != nil {
		return q.storeError("teardown", err)
	}
	logrus.Info("submission queue cleared")
	return nil
}

// claim marks a pending submission as syncing and returns it. It returns nil
// when the submission was removed or is no longer pending.
func (q *SubmissionQueue) claim(ctx context.Context, id string) (*model.QueuedSubmission, error) {
	var claimed *model.QueuedSubmission
	err := q.update(ctx, "mark syncing", func(items []model.QueuedSubmission) ([]model.QueuedSubmission, error) {
		claimed = nil
		i := model.IndexOf(items, id)
		if i < 0 || items[i].Status != model.StatusPending {
			return items, nil
		}
		items[i].Status = model.StatusSyncing
		items[i].UpdatedAt = q.now()
		it := items[i]
		claimed = &it
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// complete removes a submission whose remote write succeeded.
func (q *SubmissionQueue) complete(ctx context.Context, id string) error {
	return q.update(ctx, "complete", func(items []model.QueuedSubmission) ([]model.QueuedSubmission, error) {
		i := model.IndexOf(items, id)
		if i < 0 {
			return items, nil
		}
		return append(items[:i], items[i+1:]...), nil
	})
}

// recordFailure applies the retry policy to a failed attempt and reports
// whether the submission is now terminally failed.
func (q *SubmissionQueue) recordFailure(ctx context.Context, id string, kind model.ErrorKind, message string) (bool, error) {
	terminal := false
	err := q.update(ctx, "record failure", func(items []model.QueuedSubmission) ([]model.QueuedSubmission, error) {
		terminal = false
		i := model.IndexOf(items, id)
		if i < 0 {
			return items, nil
		}
		it := &items[i]
		it.LastError = message
		it.ErrorKind = kind
		it.UpdatedAt = q.now()

		if !kind.Retryable() {
			it.Status = model.StatusFailed
			terminal = true
			return items, nil
		}

		it.RetryCount++
		if it.RetryCount >= it.MaxRetries {
			it.RetryCount = it.MaxRetries
			it.Status = model.StatusFailed
			terminal = true
		} else {
			it.Status = model.StatusPending
		}
		return items, nil
	})
	return terminal, err
}

// update runs fn under the process mutex. Errors returned by fn pass through
// untouched; anything else is a store failure.
func (q *SubmissionQueue) update(ctx context.Context, op string, fn database.Mutator) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var fnErr error
	err := q.store.Update(ctx, func(items []model.QueuedSubmission) ([]model.QueuedSubmission, error) {
		out, err := fn(items)
		fnErr = err
		return out, err
	})
	if err == nil {
		return nil
	}
	if fnErr != nil && errors.Is(err, fnErr) {
		return err
	}
	return q.storeError(op, err)
}

func (q *SubmissionQueue) storeError(op string, err error) error {
	storeErr := &StoreWriteError{Op: op, Err: err}
	notification.NotifyError(storeErr)
	return storeErr
}

func (q *SubmissionQueue) notify(ctx context.Context, event notification.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = q.now()
	}
	q.notifier.Notify(ctx, event)
}
