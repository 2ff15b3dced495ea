package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/blnkfinance/floorsync/internal/request"
	"github.com/blnkfinance/floorsync/model"
	"github.com/sony/gobreaker"
)

const (
	KindNetwork       = model.ErrorKindNetwork
	KindTimeout       = model.ErrorKindTimeout
	KindValidation    = model.ErrorKindValidation
	KindAuthorization = model.ErrorKindAuthorization
)

// Error is the failure shape of the remote write primitive.
type Error struct {
	Kind       model.ErrorKind
	Message    string
	StatusCode int
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s error (%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote %s error: %s", e.Kind, e.Message)
}

// Retryable reports whether a later attempt may succeed.
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// KindOf extracts the error kind. Errors that did not come from a Writer are
// treated as transport failures.
func KindOf(err error) model.ErrorKind {
	var remoteErr *Error
	if errors.As(err, &remoteErr) {
		return remoteErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindNetwork
}

// IsRetryable reports whether err is a network or timeout failure.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// classify maps a transport or HTTP failure onto the remote error taxonomy.
func classify(err error) *Error {
	var remoteErr *Error
	if errors.As(err, &remoteErr) {
		return remoteErr
	}

	var statusErr *request.StatusError
	if errors.As(err, &statusErr) {
		return &Error{Kind: kindForStatus(statusErr.StatusCode), Message: statusErr.Body, StatusCode: statusErr.StatusCode}
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &Error{Kind: KindNetwork, Message: err.Error()}
	}

	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return &Error{Kind: KindTimeout, Message: err.Error()}
	}
	return &Error{Kind: KindNetwork, Message: err.Error()}
}

func kindForStatus(status int) model.ErrorKind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuthorization
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return KindNetwork
	case status >= 400:
		return KindValidation
	}
	return KindNetwork
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
