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
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

// CertificateType distinguishes produced energy from consumed energy.
type CertificateType int

const (
	CertificateTypeConsumption CertificateType = 1
	CertificateTypeProduction  CertificateType = 2
)

func (t CertificateType) String() string {
	switch t {
	case CertificateTypeConsumption:
		return "Consumption"
	case CertificateTypeProduction:
		return "Production"
	default:
		return fmt.Sprintf("CertificateType(%d)", int(t))
	}
}

// ParseCertificateType maps the textual type used by intents to a CertificateType.
func ParseCertificateType(s string) (CertificateType, error) {
	switch strings.ToLower(s) {
	case "production":
		return CertificateTypeProduction, nil
	case "consumption":
		return CertificateTypeConsumption, nil
	}
	return 0, fmt.Errorf("unknown certificate type %q", s)
}

// IssuedState is the lifecycle state of a certificate. Creating is the only
// non-terminal state.
type IssuedState int

const (
	IssuedStateCreating IssuedState = 1
	IssuedStateIssued   IssuedState = 2
	IssuedStateRejected IssuedState = 3
)

func (s IssuedState) String() string {
	switch s {
	case IssuedStateCreating:
		return "Creating"
	case IssuedStateIssued:
		return "Issued"
	case IssuedStateRejected:
		return "Rejected"
	default:
		return fmt.Sprintf("IssuedState(%d)", int(s))
	}
}

// HashedAttributeKeyAssetID is the registry attribute key under which every
// hashed attribute is published.
const HashedAttributeKeyAssetID = "assetId"

const saltLength = 16

var (
	ErrInvalidPeriod     = errors.New("DateFrom must be smaller than DateTo")
	ErrInvalidTransition = errors.New("invalid certificate state transition")
)

// HashedAttribute is an attribute disclosed on the registry only as a salted hash.
// The plaintext and salt travel out of band to the recipient's wallet.
type HashedAttribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Salt  []byte `json:"salt"`
}

// Certificate is a granular certificate for one metering point and period.
type Certificate struct {
	ID                  uuid.UUID         `json:"certificate_id"`
	RegistryName        string            `json:"registry_name"`
	CertificateType     CertificateType   `json:"certificate_type"`
	Quantity            uint32            `json:"quantity"`
	StartDate           int64             `json:"start_date"`
	EndDate             int64             `json:"end_date"`
	GridArea            string            `json:"grid_area"`
	MeteringPointID     string            `json:"metering_point_id"`
	ClearTextAttributes map[string]string `json:"clear_text_attributes"`
	HashedAttributes    []HashedAttribute `json:"hashed_attributes"`
	IssuedState         IssuedState       `json:"issued_state"`
	RejectionReason     *string           `json:"rejection_reason,omitempty"`
}

// HashedAttributeParam is a hashed attribute before it is salted.
type HashedAttributeParam struct {
	Key   string
	Value string
}

// NewCertificateParams holds the data an issuance intent supplies. HashedAttributes
// keep the order the caller gave them in.
type NewCertificateParams struct {
	ID                  uuid.UUID
	RegistryName        string
	CertificateType     CertificateType
	Quantity            uint32
	StartDate           int64
	EndDate             int64
	GridArea            string
	MeteringPointID     string
	ClearTextAttributes map[string]string
	HashedAttributes    []HashedAttributeParam
}

// NewCertificate builds a certificate in the Creating state. The period is checked
// here so an invalid certificate can never be persisted, and a fresh salt is drawn
// for every hashed attribute.
func NewCertificate(p NewCertificateParams) (*Certificate, error) {
	if p.StartDate >= p.EndDate {
		return nil, ErrInvalidPeriod
	}

	cert := &Certificate{
		ID:                  p.ID,
		RegistryName:        p.RegistryName,
		CertificateType:     p.CertificateType,
		Quantity:            p.Quantity,
		StartDate:           p.StartDate,
		EndDate:             p.EndDate,
		GridArea:            p.GridArea,
		MeteringPointID:     p.MeteringPointID,
		ClearTextAttributes: map[string]string{},
		IssuedState:         IssuedStateCreating,
	}
	if cert.ID == uuid.Nil {
		cert.ID = uuid.New()
	}
	for k, v := range p.ClearTextAttributes {
		cert.ClearTextAttributes[k] = v
	}

	for _, attr := range p.HashedAttributes {
		salt, err := NewSalt()
		if err != nil {
			return nil, err
		}
		cert.HashedAttributes = append(cert.HashedAttributes, HashedAttribute{
			Key:   attr.Key,
			Value: attr.Value,
			Salt:  salt,
		})
	}

	if err := cert.Validate(); err != nil {
		return nil, err
	}
	return cert, nil
}

// Validate checks the structural fields of a certificate.
func (c *Certificate) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RegistryName, validation.Required),
		validation.Field(&c.GridArea, validation.Required),
		validation.Field(&c.MeteringPointID, validation.Required),
		validation.Field(&c.CertificateType, validation.Required, validation.In(CertificateTypeConsumption, CertificateTypeProduction)),
	)
}

// NewSalt returns fresh random bytes for a hashed attribute.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

func (c *Certificate) IsIssued() bool {
	return c.IssuedState == IssuedStateIssued
}

func (c *Certificate) IsRejected() bool {
	return c.IssuedState == IssuedStateRejected
}

// Issue moves the certificate from Creating to Issued.
func (c *Certificate) Issue() error {
	if c.IssuedState != IssuedStateCreating {
		return fmt.Errorf("%w: Cannot issue when certificate is already %s", ErrInvalidTransition, c.IssuedState)
	}
	c.IssuedState = IssuedStateIssued
	return nil
}

// Reject moves the certificate from Creating to Rejected and records why.
func (c *Certificate) Reject(reason string) error {
	if c.IssuedState != IssuedStateCreating {
		return fmt.Errorf("%w: Cannot reject when certificate is already %s", ErrInvalidTransition, c.IssuedState)
	}
	c.IssuedState = IssuedStateRejected
	c.RejectionReason = &reason
	return nil
}

// HashedValue is the one-way hash published to the registry for a hashed attribute:
// base64(SHA-256(key + value + certificate id + HEX(salt))).
func (c *Certificate) HashedValue(attr HashedAttribute) string {
	input := attr.Key + attr.Value + c.ID.String() + strings.ToUpper(hex.EncodeToString(attr.Salt))
	sum := sha256.Sum256([]byte(input))
	return base64.StdEncoding.EncodeToString(sum[:])
}
