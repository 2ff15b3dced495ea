package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// SubmissionStatus is the lifecycle state of a queued submission.
// A synced submission is removed from the queue, so there is no synced state.
type SubmissionStatus string

const (
	StatusPending SubmissionStatus = "pending"
	StatusSyncing SubmissionStatus = "syncing"
	StatusFailed  SubmissionStatus = "failed"
)

// ErrorKind classifies the last failure recorded against a submission.
type ErrorKind string

const (
	ErrorKindNetwork       ErrorKind = "network"
	ErrorKindTimeout       ErrorKind = "timeout"
	ErrorKindValidation    ErrorKind = "validation"
	ErrorKindAuthorization ErrorKind = "authorization"
)

// Retryable reports whether a failure of this kind may succeed on a later attempt.
func (k ErrorKind) Retryable() bool {
	return k == ErrorKindNetwork || k == ErrorKindTimeout
}

// OwnerContext carries the tenant and user identifiers the remote write needs.
// It is captured when a submission is enqueued and never re-derived at sync time,
// because the acting session may have changed by then.
type OwnerContext struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	SiteID   string `json:"site_id,omitempty"`
}

// QueuedSubmission is the unit of durable work held by the submission queue.
type QueuedSubmission struct {
	ID         string           `json:"id"`
	FormType   FormType         `json:"form_type"`
	Target     string           `json:"target"`
	Payload    json.RawMessage  `json:"payload"`
	Owner      OwnerContext     `json:"owner"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	RetryCount int              `json:"retry_count"`
	MaxRetries int              `json:"max_retries"`
	Status     SubmissionStatus `json:"status"`
	LastError  string           `json:"last_error,omitempty"`
	ErrorKind  ErrorKind        `json:"error_kind,omitempty"`
}

// Active reports whether the submission still counts towards the pending badge.
func (s QueuedSubmission) Active() bool {
	return s.Status != StatusFailed
}

// GenerateSubmissionID returns a time-ordered identifier with a module prefix.
// UUIDv7 keeps lexical order aligned with creation order, so FIFO order can be
// recovered from ids alone.
func GenerateSubmissionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("sub_%s", id.String())
}

// SortSubmissions orders submissions by CreatedAt ascending, breaking ties by ID.
func SortSubmissions(items []QueuedSubmission) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

// IndexOf returns the position of the submission with the given id, or -1.
func IndexOf(items []QueuedSubmission, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

// CloneSubmissions copies the slice so callers cannot mutate queue state through it.
// Payload bytes are shared; they are never written after enqueue.
func CloneSubmissions(items []QueuedSubmission) []QueuedSubmission {
	if items == nil {
		return []QueuedSubmission{}
	}
	out := make([]QueuedSubmission, len(items))
	copy(out, items)
	return out
}
