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
	"fmt"
	"sync/atomic"
	"time"

	"github.com/blnkfinance/floorsync/internal/notification"
	"github.com/blnkfinance/floorsync/model"
	"github.com/blnkfinance/floorsync/remote"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
)

// DrainGuard makes drains exclusive across processes sharing one store.
type DrainGuard interface {
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

// SyncResult is the outcome of one drain. Skipped means another drain was
// already running and this call did nothing. Err aggregates store failures;
// it never stops the drain.
type SyncResult struct {
	Successful []string `json:"successful"`
	Failed     []string `json:"failed"`
	Skipped    bool     `json:"skipped"`
	Err        error    `json:"-"`
}

func emptyResult() SyncResult {
	return SyncResult{Successful: []string{}, Failed: []string{}}
}

// SyncOrchestrator drains the submission queue against the remote writer.
type SyncOrchestrator struct {
	queue        *SubmissionQueue
	writer       remote.Writer
	monitor      *ConnectivityMonitor
	notifier     notification.Sink
	writeTimeout time.Duration
	guard        DrainGuard
	draining     atomic.Bool
}

func NewSyncOrchestrator(queue *SubmissionQueue, writer remote.Writer, monitor *ConnectivityMonitor, notifier notification.Sink, writeTimeout time.Duration) *SyncOrchestrator {
	if notifier == nil {
		notifier = notification.LogSink{}
	}
	return &SyncOrchestrator{
		queue:        queue,
		writer:       writer,
		monitor:      monitor,
		notifier:     notifier,
		writeTimeout: writeTimeout,
	}
}

// SetDrainGuard installs a cross-process guard. It must be called before the first drain.
func (o *SyncOrchestrator) SetDrainGuard(guard DrainGuard) {
	o.guard = guard
}

// IsDraining reports whether a drain is running in this process.
func (o *SyncOrchestrator) IsDraining() bool {
	return o.draining.Load()
}

// ProcessQueue drains pending submissions in FIFO order, one at a time. A call
// made while another drain is running returns at once with Skipped set.
func (o *SyncOrchestrator) ProcessQueue(ctx context.Context) SyncResult {
	result := emptyResult()
	if !o.draining.CompareAndSwap(false, true) {
		result.Skipped = true
		return result
	}
	defer o.draining.Store(false)

	ctx, span := tracer.Start(ctx, "Process Submission Queue")
	defer span.End()

	if o.guard != nil {
		release, ok, err := o.guard.TryAcquire(ctx)
		if err != nil {
			result.Err = fmt.Errorf("acquire drain lock: %w", err)
			return result
		}
		if !ok {
			result.Skipped = true
			return result
		}
		defer release()
	}

	items, err := o.queue.List(ctx)
	if err != nil {
		result.Err = err
		return result
	}

	var errs error
	for _, item := range items {
		if item.Status != model.StatusPending {
			continue
		}
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}

		claimed, err := o.queue.claim(ctx, item.ID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if claimed == nil {
			continue
		}

		ok, terminal, err := o.attempt(ctx, *claimed)
		errs = multierr.Append(errs, err)
		switch {
		case ok:
			result.Successful = append(result.Successful, claimed.ID)
		case terminal:
			result.Failed = append(result.Failed, claimed.ID)
		}
	}
	result.Err = errs

	span.SetAttributes(
		attribute.Int("sync.successful", len(result.Successful)),
		attribute.Int("sync.failed", len(result.Failed)),
	)
	if errs != nil {
		span.RecordError(errs)
	}
	o.report(ctx, result)
	return result
}

// attempt performs one remote write and books its outcome. Neither the write
// nor the bookkeeping follows cancellation of ctx: once the item is syncing
// only the write timeout may end the attempt.
func (o *SyncOrchestrator) attempt(ctx context.Context, item model.QueuedSubmission) (ok bool, terminal bool, err error) {
	bookCtx := context.WithoutCancel(ctx)
	writeCtx := bookCtx
	if o.writeTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(bookCtx, o.writeTimeout)
		defer cancel()
	}

	_, writeErr := o.writer.Insert(writeCtx, item.Target, item.Payload, item.Owner)

	if writeErr == nil {
		if err := o.queue.complete(bookCtx, item.ID); err != nil {
			return true, false, err
		}
		return true, false, nil
	}

	kind := remote.KindOf(writeErr)
	logrus.WithFields(logrus.Fields{
		"submission_id": item.ID,
		"error_kind":    kind,
		"retry_count":   item.RetryCount,
	}).WithError(writeErr).Warn("submission sync attempt failed")

	terminal, err = o.queue.recordFailure(bookCtx, item.ID, kind, writeErr.Error())
	return false, terminal, err
}

// report emits one aggregated notification per outcome kind.
func (o *SyncOrchestrator) report(ctx context.Context, result SyncResult) {
	if len(result.Successful) == 0 && len(result.Failed) == 0 {
		return
	}
	pending, err := o.queue.Count(ctx)
	if err != nil {
		logrus.WithError(err).Error("failed to count pending submissions")
	}
	now := time.Now().UTC()

	if n := len(result.Successful); n > 0 {
		o.notifier.Notify(ctx, notification.Event{Type: notification.EventSynced, Count: n, Pending: pending, IDs: result.Successful, Timestamp: now})
	}
	if n := len(result.Failed); n > 0 {
		o.notifier.Notify(ctx, notification.Event{Type: notification.EventSyncFailed, Count: n, Pending: pending, IDs: result.Failed, Timestamp: now})
	}
	logrus.WithFields(logrus.Fields{
		"successful": len(result.Successful),
		"failed":     len(result.Failed),
		"pending":    pending,
	}).Info("submission queue drained")
}

// SetupOnlineSync drains the queue once on every transition to online and
// passes the result to onResult. Overlapping transitions are absorbed by the
// drain guard. The returned function unsubscribes.
func (o *SyncOrchestrator) SetupOnlineSync(onResult func(SyncResult)) func() {
	return o.monitor.Subscribe(func(t Transition) {
		if !t.Online {
			return
		}
		go func() {
			result := o.ProcessQueue(context.Background())
			if onResult != nil {
				onResult(result)
			}
		}()
	})
}

// Wake handles the background connectivity-restored hint. Correctness never
// depends on it; the online transition and manual trigger still drain.
func (o *SyncOrchestrator) Wake(ctx context.Context, tag string) SyncResult {
	logrus.WithField("tag", tag).Info("background sync wake received")
	return o.ProcessQueue(ctx)
}
