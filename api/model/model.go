/*
Copyright 2024 Stamp Authors.

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
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"

	"github.com/stamp-registry/stamp/model"
)

type WalletEndpointReference struct {
	Version   int    `json:"version"`
	Endpoint  string `json:"endpoint"`
	PublicKey []byte `json:"public_key"`
}

type CreateRecipient struct {
	WalletEndpointReference WalletEndpointReference `json:"wallet_endpoint_reference"`
}

type CreateRecipientResponse struct {
	ID uuid.UUID `json:"id"`
}

type HashedAttribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Certificate struct {
	ID                  uuid.UUID         `json:"id"`
	Type                string            `json:"type"`
	Quantity            uint32            `json:"quantity"`
	Start               int64             `json:"start"`
	End                 int64             `json:"end"`
	GridArea            string            `json:"grid_area"`
	MeteringPointID     string            `json:"metering_point_id"`
	ClearTextAttributes map[string]string `json:"clear_text_attributes"`
	HashedAttributes    []HashedAttribute `json:"hashed_attributes"`
}

type IssueCertificate struct {
	RecipientID  uuid.UUID   `json:"recipient_id"`
	RegistryName string      `json:"registry_name"`
	Certificate  Certificate `json:"certificate"`
}

type IssueCertificateResponse struct {
	CertificateID uuid.UUID `json:"certificate_id"`
	RegistryName  string    `json:"registry_name"`
	IssuedState   string    `json:"issued_state"`
}

type WithdrawnCertificateResponse struct {
	ID            int       `json:"id"`
	RegistryName  string    `json:"registry_name"`
	CertificateID uuid.UUID `json:"certificate_id"`
	WithdrawnDate time.Time `json:"withdrawn_date"`
}

type PageInfo struct {
	Count  int `json:"count"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

type ResultList[T any] struct {
	Result   []T      `json:"result"`
	Metadata PageInfo `json:"metadata"`
}

var errBlankID = errors.New("cannot be blank")

// requiredUUID rejects the nil uuid. validation.Required does not, uuid.UUID
// being a fixed size array.
var requiredUUID = validation.By(func(value interface{}) error {
	if id, ok := value.(uuid.UUID); !ok || id == uuid.Nil {
		return errBlankID
	}
	return nil
})

func (r *CreateRecipient) ValidateCreateRecipient() error {
	ref := &r.WalletEndpointReference
	return validation.ValidateStruct(ref,
		validation.Field(&ref.Version, validation.Required,
			validation.In(model.WalletEndpointVersionV1).Error("We currently only support Wallet endpoint reference version 1.")),
		validation.Field(&ref.Endpoint, validation.Required, is.URL),
		validation.Field(&ref.PublicKey, validation.Required),
	)
}

func (r *CreateRecipient) ToRecipient() *model.Recipient {
	return &model.Recipient{
		WalletEndpointReferenceVersion:   r.WalletEndpointReference.Version,
		WalletEndpointReferenceEndpoint:  r.WalletEndpointReference.Endpoint,
		WalletEndpointReferencePublicKey: r.WalletEndpointReference.PublicKey,
	}
}

func (h HashedAttribute) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.Key, validation.Required),
	)
}

func (c Certificate) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ID, requiredUUID),
		validation.Field(&c.Type, validation.Required, validation.By(func(value interface{}) error {
			_, err := model.ParseCertificateType(value.(string))
			return err
		})),
		validation.Field(&c.Start, validation.Required),
		validation.Field(&c.End, validation.Required),
		validation.Field(&c.GridArea, validation.Required),
		validation.Field(&c.MeteringPointID, validation.Required),
		validation.Field(&c.HashedAttributes, validation.By(uniqueHashedKeys)),
	)
}

func uniqueHashedKeys(value interface{}) error {
	attributes, _ := value.([]HashedAttribute)
	seen := make(map[string]struct{}, len(attributes))
	for _, attr := range attributes {
		if _, ok := seen[attr.Key]; ok {
			return fmt.Errorf("duplicate key %q", attr.Key)
		}
		seen[attr.Key] = struct{}{}
	}
	return nil
}

func (i *IssueCertificate) ValidateIssueCertificate() error {
	return validation.ValidateStruct(i,
		validation.Field(&i.RecipientID, requiredUUID),
		validation.Field(&i.RegistryName, validation.Required),
		validation.Field(&i.Certificate),
	)
}

// ToCertificateParams maps a validated request onto the domain constructor input.
func (i *IssueCertificate) ToCertificateParams() (model.NewCertificateParams, error) {
	certificateType, err := model.ParseCertificateType(i.Certificate.Type)
	if err != nil {
		return model.NewCertificateParams{}, err
	}

	hashed := make([]model.HashedAttributeParam, 0, len(i.Certificate.HashedAttributes))
	for _, attr := range i.Certificate.HashedAttributes {
		hashed = append(hashed, model.HashedAttributeParam{Key: attr.Key, Value: attr.Value})
	}

	return model.NewCertificateParams{
		ID:                  i.Certificate.ID,
		RegistryName:        i.RegistryName,
		CertificateType:     certificateType,
		Quantity:            i.Certificate.Quantity,
		StartDate:           i.Certificate.Start,
		EndDate:             i.Certificate.End,
		GridArea:            i.Certificate.GridArea,
		MeteringPointID:     i.Certificate.MeteringPointID,
		ClearTextAttributes: i.Certificate.ClearTextAttributes,
		HashedAttributes:    hashed,
	}, nil
}

func NewWithdrawnCertificateResponse(w *model.WithdrawnCertificate) WithdrawnCertificateResponse {
	return WithdrawnCertificateResponse{
		ID:            w.ID,
		RegistryName:  w.RegistryName,
		CertificateID: w.Certificate.ID,
		WithdrawnDate: w.WithdrawnDate,
	}
}

// NewWithdrawnResultList maps a repository page onto the listing response.
func NewWithdrawnResultList(page model.PageResult[model.WithdrawnCertificate]) ResultList[WithdrawnCertificateResponse] {
	list := ResultList[WithdrawnCertificateResponse]{
		Result: make([]WithdrawnCertificateResponse, 0, len(page.Items)),
		Metadata: PageInfo{
			Count:  page.Count,
			Offset: page.Offset,
			Limit:  page.Limit,
			Total:  page.TotalCount,
		},
	}
	for i := range page.Items {
		list.Result = append(list.Result, NewWithdrawnCertificateResponse(&page.Items[i]))
	}
	return list
}
