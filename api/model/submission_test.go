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
package model

import (
	"testing"

	"github.com/blnkfinance/floorsync/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSubmission() CreateSubmission {
	return CreateSubmission{
		FormType: model.FormDailyOutput,
		Target:   "daily_output",
		Payload:  []byte(`{"line_id":"L1","product":"ST-100","quantity":"120","rejects":"2","unit":"pcs","shift":"morning","shift_date":"2024-04-22"}`),
		TenantID: "tenant_1",
		UserID:   "user_1",
	}
}

func TestValidateCreateSubmission(t *testing.T) {
	s := validSubmission()
	assert.NoError(t, s.ValidateCreateSubmission())

	missing := CreateSubmission{}
	err := missing.ValidateCreateSubmission()
	require.Error(t, err)
	for _, field := range []string{"form_type", "target", "payload", "tenant_id", "user_id"} {
		assert.Contains(t, err.Error(), field)
	}

	unknown := validSubmission()
	unknown.FormType = "timesheet"
	assert.Error(t, unknown.ValidateCreateSubmission())
}

func TestCreateSubmissionOwner(t *testing.T) {
	s := validSubmission()
	s.SiteID = "plant-2"
	assert.Equal(t, model.OwnerContext{TenantID: "tenant_1", UserID: "user_1", SiteID: "plant-2"}, s.Owner())
}

func TestValidateConnectivityUpdate(t *testing.T) {
	empty := ConnectivityUpdate{}
	assert.Error(t, empty.ValidateConnectivityUpdate())

	online := true
	set := ConnectivityUpdate{Online: &online}
	assert.NoError(t, set.ValidateConnectivityUpdate())
}
