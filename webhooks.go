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
	"net/http"
	"time"

	"github.com/blnkfinance/floorsync/config"
	"github.com/blnkfinance/floorsync/internal/request"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	webhookEventHeader    = "X-Floorsync-Event"
	webhookDeliveryHeader = "X-Floorsync-Delivery"
)

// NewWebhook represents the structure of a webhook notification.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

var webhookClient = &http.Client{Timeout: 30 * time.Second}

// deliverWebhook posts the notification to the configured URL. The delivery id
// stays the same across asynq retries so receivers can drop duplicates.
func deliverWebhook(ctx context.Context, conf config.WebhookConfig, deliveryID string, data NewWebhook) error {
	payload, err := request.ToJsonReq(data)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conf.Url, payload)
	if err != nil {
		return err
	}
	for key, value := range conf.Headers {
		req.Header.Set(key, value)
	}
	req.Header.Set(webhookEventHeader, data.Event)
	if deliveryID != "" {
		req.Header.Set(webhookDeliveryHeader, deliveryID)
	}

	if _, err := request.Call(webhookClient, req, nil); err != nil {
		return err
	}
	return nil
}

// ProcessWebhook is the worker handler for webhook tasks. A failed delivery is
// returned so asynq retries it.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var data NewWebhook
	if err := json.Unmarshal(task.Payload(), &data); err != nil {
		logrus.WithError(err).Error("dropping malformed webhook task")
		return err
	}

	ctx, span := tracer.Start(ctx, "Deliver Webhook")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.event", data.Event))

	deliveryID, _ := asynq.GetTaskID(ctx)
	entry := logrus.WithFields(logrus.Fields{"event": data.Event, "delivery": deliveryID})
	if err := deliverWebhook(ctx, conf.Notification.Webhook, deliveryID, data); err != nil {
		span.RecordError(err)
		entry.WithError(err).Warn("webhook delivery failed")
		return err
	}
	entry.Info("webhook delivered")
	return nil
}
