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
	"errors"
	"net/http"

	"github.com/blnkfinance/floorsync"
	apimodel "github.com/blnkfinance/floorsync/api/model"
	"github.com/blnkfinance/floorsync/database"
	"github.com/blnkfinance/floorsync/internal/apierror"
	"github.com/blnkfinance/floorsync/model"
	"github.com/blnkfinance/floorsync/remote"
	"github.com/gin-gonic/gin"
)

// Submit accepts a production record. It answers 201 when the record reached the
// remote store and 202 when it was saved for later.
func (a Api) Submit(c *gin.Context) {
	var newSubmission apimodel.CreateSubmission
	if err := c.ShouldBindJSON(&newSubmission); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := newSubmission.ValidateCreateSubmission(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	payload, err := newSubmission.ToPayload()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res := a.fs.Submit(c.Request.Context(), newSubmission.Target, payload, floorsync.SubmitOptions{
		Owner:        newSubmission.Owner(),
		EvictPending: newSubmission.EvictPending,
	})
	if res.Err != nil {
		respondError(c, res.Err)
		return
	}
	if res.Queued {
		c.JSON(http.StatusAccepted, res)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (a Api) ListSubmissions(c *gin.Context) {
	items, err := a.fs.Queue().List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if status := c.Query("status"); status != "" {
		filtered := make([]model.QueuedSubmission, 0, len(items))
		for _, item := range items {
			if string(item.Status) == status {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	c.JSON(http.StatusOK, items)
}

func (a Api) GetSubmission(c *gin.Context) {
	item, err := a.fs.Queue().Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (a Api) RemoveSubmission(c *gin.Context) {
	if err := a.fs.Queue().Remove(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Submission removed successfully"})
}

func (a Api) RetrySubmission(c *gin.Context) {
	if err := a.fs.Queue().Retry(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Submission scheduled for retry"})
}

func (a Api) RetryFailed(c *gin.Context) {
	n, err := a.fs.Queue().RetryFailed(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"retried": n})
}

// CountSubmissions returns the badge count along with a per-status breakdown.
func (a Api) CountSubmissions(c *gin.Context) {
	stats, err := a.fs.Queue().Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": stats.Pending + stats.Syncing, "stats": stats})
}

// Sync is the manual "sync now" trigger.
func (a Api) Sync(c *gin.Context) {
	result := a.fs.ProcessQueue(c.Request.Context())
	if result.Skipped {
		c.JSON(http.StatusAccepted, result)
		return
	}
	body := gin.H{"successful": result.Successful, "failed": result.Failed, "skipped": false}
	if result.Err != nil {
		body["error"] = result.Err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (a Api) GetConnectivity(c *gin.Context) {
	c.JSON(http.StatusOK, a.fs.Monitor().Status())
}

// SetConnectivity lets a client report its own online state.
func (a Api) SetConnectivity(c *gin.Context) {
	var update apimodel.ConnectivityUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := update.ValidateConnectivityUpdate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	changed := a.fs.Monitor().SetOnline(*update.Online)
	c.JSON(http.StatusOK, gin.H{"changed": changed, "status": a.fs.Monitor().Status()})
}

// Teardown clears the queue when the user signs out.
func (a Api) Teardown(c *gin.Context) {
	if err := a.fs.Teardown(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session queue cleared"})
}

func respondError(c *gin.Context, err error) {
	apiErr := toAPIError(err)
	c.JSON(apierror.MapErrorToHTTPStatus(apiErr), apiErr)
}

func toAPIError(err error) apierror.APIError {
	var quotaErr *floorsync.QuotaExceededError
	var remoteErr *remote.Error

	switch {
	case errors.Is(err, floorsync.ErrSubmissionNotFound):
		return apierror.NewAPIError(apierror.ErrNotFound, err.Error(), nil)
	case errors.Is(err, floorsync.ErrSubmissionInFlight):
		return apierror.NewAPIError(apierror.ErrConflict, err.Error(), nil)
	case errors.Is(err, floorsync.ErrInvalidSubmission), errors.Is(err, model.ErrUnknownFormType):
		return apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	case errors.As(err, &quotaErr):
		var details interface{}
		if quotaErr.Candidate != nil {
			details = gin.H{"evict_candidate": quotaErr.Candidate.ID, "candidate_status": quotaErr.Candidate.Status}
		}
		return apierror.APIError{Code: apierror.ErrStorageFull, Message: err.Error(), Details: details}
	case errors.Is(err, database.ErrQuotaExceeded):
		return apierror.NewAPIError(apierror.ErrStorageFull, err.Error(), nil)
	case errors.As(err, &remoteErr):
		switch remoteErr.Kind {
		case remote.KindValidation:
			return apierror.NewAPIError(apierror.ErrRejected, remoteErr.Message, nil)
		case remote.KindAuthorization:
			return apierror.NewAPIError(apierror.ErrUnauthorized, remoteErr.Message, nil)
		}
		return apierror.NewAPIError(apierror.ErrUnavailable, remoteErr.Message, nil)
	}
	return apierror.NewAPIError(apierror.ErrInternalServer, "internal error", err.Error())
}
