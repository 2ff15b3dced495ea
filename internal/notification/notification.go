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

package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/blnkfinance/floorsync/config"
	"github.com/blnkfinance/floorsync/internal/request"
	"github.com/sirupsen/logrus"
)

// EventType names the badge events produced for the UI.
type EventType string

const (
	EventQueued     EventType = "queued"
	EventSynced     EventType = "synced"
	EventSyncFailed EventType = "syncFailed"
	EventEvicted    EventType = "evicted"
	EventStorageLow EventType = "storageLow"
)

// Event is one aggregated notification. Count is the number of submissions the
// event covers; Pending is the badge count after the event was applied.
type Event struct {
	Type      EventType `json:"type"`
	Count     int       `json:"count"`
	Pending   int       `json:"pending"`
	IDs       []string  `json:"ids,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives notification events. Implementations must not block the caller for long.
type Sink interface {
	Notify(ctx context.Context, event Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, event Event)

func (f SinkFunc) Notify(ctx context.Context, event Event) { f(ctx, event) }

// LogSink writes events to logrus.
type LogSink struct{}

func (LogSink) Notify(_ context.Context, event Event) {
	entry := logrus.WithFields(logrus.Fields{
		"event":   event.Type,
		"count":   event.Count,
		"pending": event.Pending,
	})
	switch event.Type {
	case EventSyncFailed, EventEvicted, EventStorageLow:
		entry.Warn(describe(event))
	default:
		entry.Info(describe(event))
	}
}

func describe(event Event) string {
	switch event.Type {
	case EventQueued:
		return fmt.Sprintf("saved %d submission(s) for later", event.Count)
	case EventSynced:
		return fmt.Sprintf("synced %d submission(s)", event.Count)
	case EventSyncFailed:
		return fmt.Sprintf("%d submission(s) failed to sync", event.Count)
	case EventEvicted:
		return fmt.Sprintf("evicted %d submission(s) to free storage", event.Count)
	}
	if event.Message != "" {
		return event.Message
	}
	return string(event.Type)
}

// Fanout delivers each event to every sink in order.
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, event Event) {
	for _, sink := range f {
		if sink != nil {
			sink.Notify(ctx, event)
		}
	}
}

// WebhookSender enqueues an outbound webhook. It is registered by the service at
// start-up so this package does not import the queueing layer.
type WebhookSender func(event string, payload interface{}) error

var (
	senderMu      sync.RWMutex
	webhookSender WebhookSender
)

func RegisterWebhookSender(sender WebhookSender) {
	senderMu.Lock()
	webhookSender = sender
	senderMu.Unlock()
}

// WebhookSink forwards events to the registered webhook sender.
type WebhookSink struct{}

func (WebhookSink) Notify(_ context.Context, event Event) {
	senderMu.RLock()
	sender := webhookSender
	senderMu.RUnlock()
	if sender == nil {
		return
	}
	if err := sender("submissions."+string(event.Type), event); err != nil {
		logrus.WithError(err).WithField("event", event.Type).Error("failed to queue notification webhook")
	}
}

// SlackNotification posts an error message to the configured Slack webhook.
func SlackNotification(err error) {
	data := json.RawMessage(fmt.Sprintf(`{
		"blocks": [
			{
				"type": "header",
				"text": {
					"type": "plain_text",
					"text": "Error From Floorsync 🐞",
					"emoji": true
				}
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Error:*\n%v"
					},
					{
						"type": "mrkdwn",
						"text": "*Time:*\n%v"
					}
				]
			}
		]
	}`, jsonEscape(err.Error()), time.Now().Format(time.RFC822)))

	conf, err := config.Fetch()
	if err != nil {
		log.Println(err)
		return
	}

	payload, err := request.ToJsonReq(&data)
	if err != nil {
		log.Println(err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, conf.Notification.Slack.WebhookUrl, payload)
	if err != nil {
		log.Println(err)
		return
	}

	_, err = request.Call(&http.Client{Timeout: 10 * time.Second}, req, nil)
	if err != nil {
		log.Println(err)
	}
}

// jsonEscape makes s safe to embed inside a JSON string literal.
func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}

// NotifyError logs the error and forwards it to Slack when configured. It never blocks.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)

		conf, err := config.Fetch()
		if err != nil {
			log.Println(err)
			return
		}

		if conf.Notification.Slack.WebhookUrl != "" {
			SlackNotification(systemError)
		}
	}(systemError)
}
