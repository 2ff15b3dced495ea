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
	"time"

	"github.com/blnkfinance/floorsync/internal/notification"
	"github.com/blnkfinance/floorsync/model"
	"github.com/blnkfinance/floorsync/remote"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

type SubmitOptions struct {
	Owner model.OwnerContext
	// EvictPending allows a full queue to drop its oldest pending submission.
	EvictPending bool
}

// SubmitResult tells the caller whether the record reached the remote store
// (Queued false) or was saved for later (Queued true).
type SubmitResult struct {
	Success bool   `json:"success"`
	Queued  bool   `json:"queued"`
	ID      string `json:"id,omitempty"`
	Err     error  `json:"-"`
}

// Submit is the single entry point for form-producing callers. Offline, the
// record is queued without a network attempt. Online, it is written directly
// and queued only if the write fails with a retryable error. A rejected record
// is returned as an error and never queued.
func (f *FloorSync) Submit(ctx context.Context, target string, payload model.FormPayload, opts SubmitOptions) SubmitResult {
	ctx, span := tracer.Start(ctx, "Submit Form")
	defer span.End()

	if payload == nil {
		return SubmitResult{Err: fmt.Errorf("%w: payload is required", ErrInvalidSubmission)}
	}
	span.SetAttributes(attribute.String("submission.form_type", string(payload.FormType())), attribute.String("submission.target", target))

	if err := payload.Validate(); err != nil {
		return SubmitResult{Err: fmt.Errorf("%w: %w", ErrInvalidSubmission, err)}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return SubmitResult{Err: err}
	}

	req := EnqueueRequest{
		FormType:     payload.FormType(),
		Target:       target,
		Payload:      raw,
		Owner:        opts.Owner,
		EvictPending: opts.EvictPending,
	}

	if !f.monitor.IsOnline() {
		span.SetAttributes(attribute.String("submission.path", "offline"))
		return f.saveForLater(ctx, req)
	}

	writeCtx, cancel := context.WithTimeout(ctx, f.writeTimeout)
	_, err = f.writer.Insert(writeCtx, target, raw, opts.Owner)
	cancel()

	if err == nil {
		span.SetAttributes(attribute.String("submission.path", "direct"))
		f.notifier.Notify(ctx, notification.Event{Type: notification.EventSynced, Count: 1, Timestamp: time.Now().UTC()})
		return SubmitResult{Success: true}
	}

	if remote.IsRetryable(err) {
		logrus.WithError(err).WithField("target", target).Warn("direct submission failed, saving for later")
		span.SetAttributes(attribute.String("submission.path", "fallback"))
		return f.saveForLater(ctx, req)
	}

	span.RecordError(err)
	return SubmitResult{Err: err}
}

func (f *FloorSync) saveForLater(ctx context.Context, req EnqueueRequest) SubmitResult {
	receipt, err := f.queue.Enqueue(ctx, req)
	if err != nil {
		var quotaErr *QuotaExceededError
		if errors.As(err, &quotaErr) {
			logrus.WithError(err).Warn("queue storage is full")
		}
		return SubmitResult{Err: err}
	}

	pending, err := f.queue.Count(ctx)
	if err != nil {
		logrus.WithError(err).Error("failed to count pending submissions")
	}
	f.notifier.Notify(ctx, notification.Event{Type: notification.EventQueued, Count: 1, Pending: pending, IDs: []string{receipt.ID}, Timestamp: time.Now().UTC()})
	return SubmitResult{Success: true, Queued: true, ID: receipt.ID}
}
