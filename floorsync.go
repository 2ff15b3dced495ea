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
	"errors"
	"time"

	"github.com/blnkfinance/floorsync/config"
	"github.com/blnkfinance/floorsync/database"
	redlock "github.com/blnkfinance/floorsync/internal/lock"
	"github.com/blnkfinance/floorsync/internal/notification"
	redis_db "github.com/blnkfinance/floorsync/internal/redis-db"
	"github.com/blnkfinance/floorsync/remote"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// FloorSync wires the submission queue, the sync orchestrator, the connectivity
// monitor and the remote writer into one service.
type FloorSync struct {
	store        database.QueueStore
	queue        *SubmissionQueue
	orchestrator *SyncOrchestrator
	monitor      *ConnectivityMonitor
	writer       remote.Writer
	notifier     notification.Fanout
	tasks        *TaskQueue
	redis        redis.UniversalClient
	writeTimeout time.Duration
}

type Option func(*FloorSync)

// WithNotifier adds a sink that receives every queue notification.
func WithNotifier(sink notification.Sink) Option {
	return func(f *FloorSync) {
		f.notifier = append(f.notifier, sink)
	}
}

// WithMonitor replaces the default connectivity monitor, which starts online.
func WithMonitor(monitor *ConnectivityMonitor) Option {
	return func(f *FloorSync) {
		f.monitor = monitor
	}
}

// NewFloorSync builds the service around an opened queue store and a remote writer.
// Redis is optional: when configured it backs webhook delivery, background
// wake-ups and, if enabled, the cross-process drain lock.
func NewFloorSync(store database.QueueStore, writer remote.Writer, opts ...Option) (*FloorSync, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if store == nil || writer == nil {
		return nil, errors.New("queue store and remote writer are required")
	}

	f := &FloorSync{
		store:        store,
		writer:       writer,
		notifier:     notification.Fanout{notification.LogSink{}},
		writeTimeout: configuration.Sync.WriteTimeout,
	}
	if f.writeTimeout <= 0 {
		f.writeTimeout = config.DefaultWriteTimeout
	}

	if configuration.Redis.Dns != "" {
		redisClient, err := redis_db.NewRedisClient([]string{configuration.Redis.Dns}, configuration.Redis.SkipTLSVerify)
		if err != nil {
			return nil, err
		}
		f.redis = redisClient.Client()

		f.tasks, err = NewTaskQueue(configuration)
		if err != nil {
			return nil, err
		}
		if configuration.Notification.Webhook.Url != "" {
			notification.RegisterWebhookSender(func(event string, payload interface{}) error {
				return f.tasks.SendWebhook(NewWebhook{Event: event, Payload: payload})
			})
			f.notifier = append(f.notifier, notification.WebhookSink{})
		}
	}

	for _, opt := range opts {
		opt(f)
	}
	if f.monitor == nil {
		f.monitor = NewConnectivityMonitor(true)
	}

	f.queue = NewSubmissionQueue(store, configuration.Queue.MaxRetries, f.notifier)
	f.orchestrator = NewSyncOrchestrator(f.queue, writer, f.monitor, f.notifier, f.writeTimeout)

	if configuration.Queue.DistributedGuard && f.redis != nil {
		f.orchestrator.SetDrainGuard(redlock.NewDrainLock(f.redis, configuration.Queue.StorageKey+":drain", 4*f.writeTimeout))
	}
	return f, nil
}

func (f *FloorSync) Queue() *SubmissionQueue { return f.queue }

func (f *FloorSync) Orchestrator() *SyncOrchestrator { return f.orchestrator }

func (f *FloorSync) Monitor() *ConnectivityMonitor { return f.monitor }

// Notifier returns the sink every queue notification is fanned out to.
func (f *FloorSync) Notifier() notification.Sink { return f.notifier }

// Redis returns the shared Redis client, or nil when Redis is not configured.
func (f *FloorSync) Redis() redis.UniversalClient { return f.redis }

// Tasks returns the background task queue, or nil when Redis is not configured.
func (f *FloorSync) Tasks() *TaskQueue { return f.tasks }

// ProcessQueue drains the queue now; it is the manual "sync now" trigger.
func (f *FloorSync) ProcessQueue(ctx context.Context) SyncResult {
	return f.orchestrator.ProcessQueue(ctx)
}

// Start recovers submissions left syncing by a previous run. Only the memory
// store is private to this process; on any other engine another process may
// still be writing, so only attempts older than any live write are recovered.
func (f *FloorSync) Start(ctx context.Context) error {
	olderThan := 4 * f.writeTimeout
	if _, private := f.store.(*database.MemoryStore); private {
		olderThan = 0
	}
	_, err := f.queue.RecoverStuck(ctx, olderThan)
	return err
}

// Teardown clears the queue on sign-out.
func (f *FloorSync) Teardown(ctx context.Context) error {
	return f.queue.Teardown(ctx)
}

func (f *FloorSync) Close() error {
	var errs []error
	if f.tasks != nil {
		errs = append(errs, f.tasks.Close())
	}
	if f.redis != nil {
		errs = append(errs, f.redis.Close())
	}
	errs = append(errs, f.store.Close())
	if err := errors.Join(errs...); err != nil {
		logrus.WithError(err).Warn("floorsync shutdown was not clean")
		return err
	}
	return nil
}
