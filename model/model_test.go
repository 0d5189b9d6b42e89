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
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCertificate(t *testing.T) *Certificate {
	t.Helper()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC).Unix()
	cert, err := NewCertificate(NewCertificateParams{
		RegistryName:        "Narnia",
		CertificateType:     CertificateTypeProduction,
		Quantity:            uint32(gofakeit.Number(1, 10000)),
		StartDate:           start,
		EndDate:             start + 3600,
		GridArea:            "DK1",
		MeteringPointID:     gofakeit.Numerify("5713####"),
		ClearTextAttributes: map[string]string{"fuelCode": "F01040100"},
		HashedAttributes:    []HashedAttributeParam{{Key: "assetId", Value: "571234567890123456"}},
	})
	require.NoError(t, err)
	return cert
}

func TestNewCertificate(t *testing.T) {
	cert := newTestCertificate(t)

	assert.NotEqual(t, uuid.Nil, cert.ID)
	assert.Equal(t, IssuedStateCreating, cert.IssuedState)
	assert.Nil(t, cert.RejectionReason)
	assert.Len(t, cert.HashedAttributes, 1)
	assert.Len(t, cert.HashedAttributes[0].Salt, saltLength)
}

func TestNewCertificate_InvalidPeriod(t *testing.T) {
	tests := []struct {
		name  string
		start int64
		end   int64
	}{
		{"end before start", 7200, 3600},
		{"end equals start", 3600, 3600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cert, err := NewCertificate(NewCertificateParams{
				RegistryName:    "Narnia",
				CertificateType: CertificateTypeConsumption,
				StartDate:       tt.start,
				EndDate:         tt.end,
				GridArea:        "DK1",
				MeteringPointID: "571234",
			})
			assert.Nil(t, cert)
			assert.ErrorIs(t, err, ErrInvalidPeriod)
		})
	}
}

func TestNewCertificate_MissingFields(t *testing.T) {
	_, err := NewCertificate(NewCertificateParams{
		CertificateType: CertificateTypeProduction,
		StartDate:       0,
		EndDate:         3600,
	})
	assert.Error(t, err)
}

func TestNewCertificate_SaltsAreNotReused(t *testing.T) {
	params := NewCertificateParams{
		RegistryName:     "Narnia",
		CertificateType:  CertificateTypeProduction,
		StartDate:        0,
		EndDate:          3600,
		GridArea:         "DK1",
		MeteringPointID:  "571234",
		HashedAttributes: []HashedAttributeParam{{Key: "assetId", Value: "1"}, {Key: "address", Value: "Street 1"}},
	}
	first, err := NewCertificate(params)
	require.NoError(t, err)
	second, err := NewCertificate(params)
	require.NoError(t, err)

	assert.NotEqual(t, first.HashedAttributes[0].Salt, first.HashedAttributes[1].Salt)
	assert.NotEqual(t, first.HashedAttributes[0].Salt, second.HashedAttributes[0].Salt)
}

func TestNewCertificate_KeepsHashedAttributeOrder(t *testing.T) {
	cert, err := NewCertificate(NewCertificateParams{
		RegistryName:     "Narnia",
		CertificateType:  CertificateTypeConsumption,
		StartDate:        0,
		EndDate:          3600,
		GridArea:         "DK1",
		MeteringPointID:  "571234",
		HashedAttributes: []HashedAttributeParam{{Key: "zeta", Value: "1"}, {Key: "alpha", Value: "2"}},
	})
	require.NoError(t, err)

	require.Len(t, cert.HashedAttributes, 2)
	assert.Equal(t, "zeta", cert.HashedAttributes[0].Key)
	assert.Equal(t, "1", cert.HashedAttributes[0].Value)
	assert.Equal(t, "alpha", cert.HashedAttributes[1].Key)
	assert.Equal(t, "2", cert.HashedAttributes[1].Value)
}

func TestCertificate_Transitions(t *testing.T) {
	t.Run("issue then reject fails", func(t *testing.T) {
		cert := newTestCertificate(t)
		require.NoError(t, cert.Issue())
		assert.True(t, cert.IsIssued())

		err := cert.Reject("too late")
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Contains(t, err.Error(), "Cannot reject when certificate is already Issued")
		assert.True(t, cert.IsIssued())
	})

	t.Run("reject then issue fails", func(t *testing.T) {
		cert := newTestCertificate(t)
		require.NoError(t, cert.Reject("Rejected by the registry"))
		assert.True(t, cert.IsRejected())
		assert.Equal(t, "Rejected by the registry", *cert.RejectionReason)

		err := cert.Issue()
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Contains(t, err.Error(), "Cannot issue when certificate is already Rejected")
	})

	t.Run("guarded second issue is a no-op", func(t *testing.T) {
		cert := newTestCertificate(t)
		transitions := 0
		for i := 0; i < 2; i++ {
			if !cert.IsIssued() {
				require.NoError(t, cert.Issue())
				transitions++
			}
		}
		assert.Equal(t, 1, transitions)
	})

	t.Run("issue twice unguarded fails", func(t *testing.T) {
		cert := newTestCertificate(t)
		require.NoError(t, cert.Issue())
		assert.True(t, errors.Is(cert.Issue(), ErrInvalidTransition))
	})
}

func TestCertificate_HashedValue(t *testing.T) {
	cert := newTestCertificate(t)
	cert.ID = uuid.MustParse("b3a1f7c2-4d4e-4b8f-9a57-2f5b8f3c9d10")
	attr := HashedAttribute{Key: "assetId", Value: "571234", Salt: []byte{0x0a, 0xff}}

	sum := sha256.Sum256([]byte("assetId571234b3a1f7c2-4d4e-4b8f-9a57-2f5b8f3c9d100AFF"))
	assert.Equal(t, base64.StdEncoding.EncodeToString(sum[:]), cert.HashedValue(attr))
}

func TestParseCertificateType(t *testing.T) {
	ct, err := ParseCertificateType("Production")
	assert.NoError(t, err)
	assert.Equal(t, CertificateTypeProduction, ct)

	ct, err = ParseCertificateType("consumption")
	assert.NoError(t, err)
	assert.Equal(t, CertificateTypeConsumption, ct)

	_, err = ParseCertificateType("storage")
	assert.Error(t, err)
}

func TestWalletEndpointPosition(t *testing.T) {
	tests := []struct {
		name     string
		start    time.Time
		expected *uint32
	}{
		{"epoch", time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), ptrUint32(0)},
		{"one hour later", time.Date(2022, 1, 1, 1, 0, 0, 0, time.UTC), ptrUint32(60)},
		{"one day later", time.Date(2022, 1, 2, 0, 0, 0, 0, time.UTC), ptrUint32(1440)},
		{"not minute aligned", time.Date(2023, 1, 1, 0, 0, 30, 0, time.UTC), nil},
		{"before epoch", time.Date(2021, 12, 31, 23, 0, 0, 0, time.UTC), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, WalletEndpointPosition(tt.start.Unix()))
		})
	}
}

func ptrUint32(v uint32) *uint32 {
	return &v
}

func TestEventCodec(t *testing.T) {
	cert := newTestCertificate(t)
	evt := CertificateMarkedAsIssuedEvent{
		CertificateID:          cert.ID,
		RegistryName:           cert.RegistryName,
		RecipientID:            uuid.New(),
		WalletEndpointPosition: 42,
		Quantity:               cert.Quantity,
		RandomR:                []byte{1, 2, 3},
		HashedAttributes:       cert.HashedAttributes,
	}

	msg, err := NewOutboxMessage(evt)
	require.NoError(t, err)
	assert.Equal(t, string(EventCertificateMarkedAsIssued), msg.MessageType)

	decoded, err := msg.Event()
	require.NoError(t, err)
	assert.Equal(t, evt, decoded)

	registry, id := decoded.CertificateKey()
	assert.Equal(t, cert.RegistryName, registry)
	assert.Equal(t, cert.ID, id)
}

func TestDecodeEvent_UnknownKind(t *testing.T) {
	_, err := DecodeEvent("certificate.teleported", []byte(`{}`))
	assert.Error(t, err)
}

func TestEventKinds_AllDecodable(t *testing.T) {
	for _, kind := range EventKinds() {
		_, err := DecodeEvent(kind, []byte(`{}`))
		assert.NoError(t, err, kind)
	}
}
