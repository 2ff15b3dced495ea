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

package agent

import (
	"context"
	"time"
)

// Message is delivered to the agent's event loop through Post.
type Message interface {
	messageName() string
}

// SyncRegistration records interest in a background sync tag.
type SyncRegistration struct {
	Tag string
}

// ConnectivityRestored fires the sync trigger for every registered tag.
type ConnectivityRestored struct {
	At time.Time
}

// Push carries a raw push message body.
type Push struct {
	Data []byte
}

func (SyncRegistration) messageName() string     { return "sync-registration" }
func (ConnectivityRestored) messageName() string { return "connectivity-restored" }
func (Push) messageName() string                 { return "push" }

type PushAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// PushPayload is the notification body shown by the push handler.
type PushPayload struct {
	Title   string                 `json:"title"`
	Body    string                 `json:"body"`
	Icon    string                 `json:"icon,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Actions []PushAction           `json:"actions,omitempty"`
	Tag     string                 `json:"tag,omitempty"`
}

// SyncTrigger wakes whatever drains the submission queue for tag.
type SyncTrigger func(ctx context.Context, tag string) error

// PushHandler displays a decoded push message.
type PushHandler func(ctx context.Context, payload PushPayload)
