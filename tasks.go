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
	"log"
	"time"

	"github.com/blnkfinance/floorsync/config"
	redis_db "github.com/blnkfinance/floorsync/internal/redis-db"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// TypeSyncWake is the task type of the background connectivity-restored trigger.
const TypeSyncWake = "sync:wake"

// TaskQueue carries background work for the worker process: webhook deliveries
// and sync wake-ups.
type TaskQueue struct {
	Client       *asynq.Client
	Inspector    *asynq.Inspector
	webhookQueue string
	wakeQueue    string
}

// WakePayload is the body of a sync:wake task.
type WakePayload struct {
	Tag         string    `json:"tag"`
	RequestedAt time.Time `json:"requested_at"`
}

// RedisClientOpt converts the configured Redis DNS into asynq connection options.
func RedisClientOpt(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}, nil
}

func NewTaskQueue(conf *config.Configuration) (*TaskQueue, error) {
	queueOptions, err := RedisClientOpt(conf)
	if err != nil {
		return nil, err
	}
	return &TaskQueue{
		Client:       asynq.NewClient(queueOptions),
		Inspector:    asynq.NewInspector(queueOptions),
		webhookQueue: conf.Queue.WebhookQueue,
		wakeQueue:    conf.Queue.WakeQueue,
	}, nil
}

// EnqueueWake schedules a drain in the worker process. Wake-ups for one tag are
// deduplicated for a minute; a duplicate is not an error.
func (q *TaskQueue) EnqueueWake(ctx context.Context, tag string) error {
	payload, err := json.Marshal(WakePayload{Tag: tag, RequestedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TypeSyncWake, payload, asynq.Queue(q.wakeQueue), asynq.Unique(time.Minute), asynq.MaxRetry(1))
	info, err := q.Client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		log.Println(err, info)
		return err
	}
	logrus.WithField("tag", tag).Info("sync wake enqueued")
	return nil
}

// SendWebhook enqueues a webhook notification task.
func (q *TaskQueue) SendWebhook(newWebhook NewWebhook) error {
	payload, err := json.Marshal(newWebhook)
	if err != nil {
		return err
	}
	task := asynq.NewTask(q.webhookQueue, payload, asynq.Queue(q.webhookQueue))
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}

func (q *TaskQueue) Close() error {
	return errors.Join(q.Client.Close(), q.Inspector.Close())
}

// ProcessWake is the worker handler for sync:wake tasks.
func (f *FloorSync) ProcessWake(ctx context.Context, task *asynq.Task) error {
	var payload WakePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}
	result := f.orchestrator.Wake(ctx, payload.Tag)
	if result.Err != nil {
		return result.Err
	}
	return nil
}
