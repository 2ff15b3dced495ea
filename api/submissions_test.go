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

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blnkfinance/floorsync"
	"github.com/blnkfinance/floorsync/config"
	"github.com/blnkfinance/floorsync/database"
	"github.com/blnkfinance/floorsync/internal/apierror"
	"github.com/blnkfinance/floorsync/model"
	"github.com/blnkfinance/floorsync/remote"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T, writer *floorsync.MockWriter, online bool) (*gin.Engine, *floorsync.FloorSync) {
	t.Helper()
	config.MockConfig(&config.Configuration{
		ProjectName: "Floorsync",
		DataSource:  config.DataSourceConfig{Dns: "memory://"},
		Queue:       config.QueueConfig{StorageKey: config.DefaultStorageKey, MaxRetries: 3},
		Sync:        config.SyncConfig{WriteTimeout: time.Second},
	})
	fs, err := floorsync.NewFloorSync(database.NewMemoryStore(0), writer, floorsync.WithMonitor(floorsync.NewConnectivityMonitor(online)))
	require.NoError(t, err)
	return NewAPI(fs).Router(), fs
}

func rejectingWriter(kind model.ErrorKind) *floorsync.MockWriter {
	return &floorsync.MockWriter{InsertFunc: func(context.Context, string, json.RawMessage, model.OwnerContext) (*remote.Record, error) {
		return nil, &remote.Error{Kind: kind, Message: "rejected by remote"}
	}}
}

func submissionBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"form_type": model.FormCuttingLedger,
		"target":    "cutting_ledger",
		"tenant_id": "tenant_" + gofakeit.DigitN(3),
		"user_id":   gofakeit.UUID(),
		"payload": map[string]interface{}{
			"material":   "denim",
			"roll_id":    "R-" + gofakeit.DigitN(5),
			"cut":        "12.5",
			"wastage":    "0.4",
			"unit":       "m",
			"entry_date": "2024-04-22",
		},
	})
	require.NoError(t, err)
	return body
}

func do(router *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSubmitOnline(t *testing.T) {
	writer := &floorsync.MockWriter{}
	router, _ := setupRouter(t, writer, true)

	w := do(router, http.MethodPost, "/submissions", submissionBody(t))
	assert.Equal(t, http.StatusCreated, w.Code)

	var res floorsync.SubmitResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.False(t, res.Queued)
	require.Len(t, writer.Calls(), 1)
	assert.Equal(t, "cutting_ledger", writer.Calls()[0].Target)
}

func TestSubmitOfflineQueues(t *testing.T) {
	router, _ := setupRouter(t, &floorsync.MockWriter{}, false)

	w := do(router, http.MethodPost, "/submissions", submissionBody(t))
	assert.Equal(t, http.StatusAccepted, w.Code)

	var res floorsync.SubmitResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Queued)
	require.NotEmpty(t, res.ID)

	w = do(router, http.MethodGet, "/submissions/"+res.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var item model.QueuedSubmission
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &item))
	assert.Equal(t, model.StatusPending, item.Status)

	w = do(router, http.MethodGet, "/submissions/count", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestSubmitValidation(t *testing.T) {
	router, _ := setupRouter(t, &floorsync.MockWriter{}, true)

	w := do(router, http.MethodPost, "/submissions", []byte(`{"form_type":"cutting_ledger"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/submissions", []byte(`{"form_type":"cutting_ledger","target":"cutting_ledger","tenant_id":"t","user_id":"u","payload":{"material":"denim"}}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/submissions", []byte("{"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitRejectedByRemote(t *testing.T) {
	router, fs := setupRouter(t, rejectingWriter(model.ErrorKindValidation), true)

	w := do(router, http.MethodPost, "/submissions", submissionBody(t))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var apiErr apierror.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
	assert.Equal(t, apierror.ErrRejected, apiErr.Code)

	count, err := fs.Queue().Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSubmissionLifecycleRoutes(t *testing.T) {
	router, fs := setupRouter(t, rejectingWriter(model.ErrorKindAuthorization), false)

	w := do(router, http.MethodPost, "/submissions", submissionBody(t))
	require.Equal(t, http.StatusAccepted, w.Code)
	var res floorsync.SubmitResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))

	w = do(router, http.MethodPost, "/sync", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), res.ID)

	w = do(router, http.MethodGet, "/submissions?status=failed", nil)
	var failed []model.QueuedSubmission
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &failed))
	require.Len(t, failed, 1)
	assert.Equal(t, model.ErrorKindAuthorization, failed[0].ErrorKind)

	w = do(router, http.MethodPost, "/submissions/"+res.ID+"/retry", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(router, http.MethodGet, "/submissions?status=pending", nil)
	assert.Contains(t, w.Body.String(), res.ID)

	fs.ProcessQueue(context.Background())
	w = do(router, http.MethodPost, "/submissions/retry-failed", nil)
	assert.JSONEq(t, `{"retried":1}`, w.Body.String())

	w = do(router, http.MethodDelete, "/submissions/"+res.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(router, http.MethodGet, "/submissions/"+res.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(router, http.MethodPost, "/submissions/"+res.ID+"/retry", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConnectivityRoutes(t *testing.T) {
	router, fs := setupRouter(t, &floorsync.MockWriter{}, false)

	w := do(router, http.MethodPost, "/connectivity", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/connectivity", []byte(`{"online":true}`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"changed":true`)
	assert.True(t, fs.Monitor().IsOnline())

	w = do(router, http.MethodGet, "/connectivity", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"online":true`)
}

func TestTeardownRoute(t *testing.T) {
	router, fs := setupRouter(t, &floorsync.MockWriter{}, false)
	do(router, http.MethodPost, "/submissions", submissionBody(t))
	do(router, http.MethodPost, "/submissions", submissionBody(t))

	w := do(router, http.MethodPost, "/session/teardown", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	items, err := fs.Queue().List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestToAPIError(t *testing.T) {
	assert.Equal(t, apierror.ErrConflict, toAPIError(floorsync.ErrSubmissionInFlight).Code)
	assert.Equal(t, apierror.ErrStorageFull, toAPIError(&floorsync.QuotaExceededError{}).Code)
	assert.Equal(t, apierror.ErrUnavailable, toAPIError(&remote.Error{Kind: remote.KindNetwork}).Code)
	assert.Equal(t, apierror.ErrStorageFull, toAPIError(&floorsync.StoreWriteError{Op: "enqueue", Err: database.ErrQuotaExceeded}).Code)
	assert.Equal(t, apierror.ErrInternalServer, toAPIError(&floorsync.StoreWriteError{Op: "enqueue", Err: context.Canceled}).Code)
}
