package apierror_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/blnkfinance/floorsync/internal/apierror"
	"github.com/stretchr/testify/assert"
)

func TestNewAPIError(t *testing.T) {
	details := "queue row locked by another writer"
	apiErr := apierror.NewAPIError(apierror.ErrInternalServer, "Something went wrong", details)

	assert.Equal(t, apierror.ErrInternalServer, apiErr.Code)
	assert.Equal(t, "Something went wrong", apiErr.Message)
	assert.Equal(t, details, apiErr.Details)
	assert.Equal(t, "INTERNAL_SERVER_ERROR: Something went wrong", apiErr.Error())
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"not found", apierror.NewAPIError(apierror.ErrNotFound, "submission not found", nil), http.StatusNotFound},
		{"conflict", apierror.NewAPIError(apierror.ErrConflict, "submission is syncing", nil), http.StatusConflict},
		{"invalid input", apierror.NewAPIError(apierror.ErrInvalidInput, "invalid input", nil), http.StatusBadRequest},
		{"rejected", apierror.NewAPIError(apierror.ErrRejected, "remote rejected record", nil), http.StatusUnprocessableEntity},
		{"unauthorized", apierror.NewAPIError(apierror.ErrUnauthorized, "remote refused credentials", nil), http.StatusUnauthorized},
		{"storage full", apierror.NewAPIError(apierror.ErrStorageFull, "queue full", nil), http.StatusInsufficientStorage},
		{"unavailable", apierror.NewAPIError(apierror.ErrUnavailable, "redis down", nil), http.StatusServiceUnavailable},
		{"internal", apierror.NewAPIError(apierror.ErrInternalServer, "internal", nil), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("handler: %w", apierror.NewAPIError(apierror.ErrNotFound, "gone", nil)), http.StatusNotFound},
		{"unknown", errors.New("unknown error"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, apierror.MapErrorToHTTPStatus(tt.err))
		})
	}
}
