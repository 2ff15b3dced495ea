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
	"encoding/json"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/blnkfinance/floorsync/model"
)

// CreateSubmission is the body of POST /submissions.
type CreateSubmission struct {
	FormType     model.FormType  `json:"form_type"`
	Target       string          `json:"target"`
	Payload      json.RawMessage `json:"payload"`
	TenantID     string          `json:"tenant_id"`
	UserID       string          `json:"user_id"`
	SiteID       string          `json:"site_id"`
	EvictPending bool            `json:"evict_pending"`
}

func knownFormType(value interface{}) error {
	formType, _ := value.(model.FormType)
	if !formType.Valid() {
		return errors.New("unknown form type")
	}
	return nil
}

func (s *CreateSubmission) ValidateCreateSubmission() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.FormType, validation.Required, validation.By(knownFormType)),
		validation.Field(&s.Target, validation.Required),
		validation.Field(&s.Payload, validation.Required),
		validation.Field(&s.TenantID, validation.Required),
		validation.Field(&s.UserID, validation.Required),
	)
}

// ToPayload decodes the raw payload into the variant named by FormType.
func (s *CreateSubmission) ToPayload() (model.FormPayload, error) {
	return model.DecodePayload(s.FormType, s.Payload)
}

func (s *CreateSubmission) Owner() model.OwnerContext {
	return model.OwnerContext{TenantID: s.TenantID, UserID: s.UserID, SiteID: s.SiteID}
}

// ConnectivityUpdate is the body of POST /connectivity.
type ConnectivityUpdate struct {
	Online *bool `json:"online"`
}

func (u *ConnectivityUpdate) ValidateConnectivityUpdate() error {
	return validation.ValidateStruct(u,
		validation.Field(&u.Online, validation.NotNil),
	)
}
