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

package stamp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stamp-registry/stamp/internal/apierror"
	"github.com/stamp-registry/stamp/internal/keys"
	"github.com/stamp-registry/stamp/internal/registry"
	"github.com/stamp-registry/stamp/model"
)

var hourStart = time.Date(2024, time.May, 1, 10, 0, 0, 0, time.UTC)

func productionParams(meteringPointID string, start time.Time) model.NewCertificateParams {
	return model.NewCertificateParams{
		ID:                  uuid.New(),
		RegistryName:        testRegistry,
		CertificateType:     model.CertificateTypeProduction,
		Quantity:            1234,
		StartDate:           start.Unix(),
		EndDate:             start.Add(time.Hour).Unix(),
		GridArea:            "DK1",
		MeteringPointID:     meteringPointID,
		ClearTextAttributes: map[string]string{"fuel_code": "F01040100", "tech_code": "T020000"},
		HashedAttributes:    []model.HashedAttributeParam{{Key: "asset_id", Value: "571234567890123456"}},
	}
}

func TestIssueCertificate_EndToEnd(t *testing.T) {
	h := newHarness(t)
	h.registry.statuses = []registry.TransactionState{registry.TransactionStatePending, registry.TransactionStateCommitted}
	recipient := h.recipient(t, model.WalletEndpointVersionV1)

	cert, err := h.stamp.IssueCertificate(context.Background(), IssueRequest{
		RecipientID: recipient.ID,
		Certificate: productionParams("571234567890000001", hourStart),
	})
	require.NoError(t, err)
	assert.Equal(t, model.IssuedStateCreating, cert.IssuedState)
	assert.Equal(t, []string{string(model.EventCertificateCreated)}, h.store.outboxTypes())

	require.Empty(t, h.drain(t))

	stored := h.store.certificate(t, testRegistry, cert.ID)
	assert.Equal(t, model.IssuedStateIssued, stored.IssuedState)
	assert.Nil(t, stored.RejectionReason)
	assert.Empty(t, h.store.outboxTypes())

	assert.Equal(t, []model.EventKind{
		model.EventCertificateCreated,
		model.EventCertificateSentToRegistry,
		model.EventCertificateIssuedInRegistry,
		model.EventCertificateMarkedAsIssued,
	}, h.bus.publishedKinds())

	require.Len(t, h.bus.redelivered, 1)
	assert.Equal(t, model.EventCertificateSentToRegistry, h.bus.redelivered[0].env.Kind)
	assert.Equal(t, time.Second, h.bus.redelivered[0].delay)
	assert.Equal(t, 1, h.bus.redelivered[0].env.Attempts[StillProcessingPolicyName])
	assert.Equal(t, 2, h.registry.polls)

	require.Len(t, h.registry.sent, 1)
	sent := h.registry.sent[0]
	assert.Equal(t, testRegistry, sent.registryName)
	assert.True(t, sent.tx.Verify(h.issuer))
	assert.Equal(t, registry.PayloadTypeIssued, sent.tx.Header.PayloadType)

	var issued registry.IssuedEvent
	require.NoError(t, json.Unmarshal(sent.tx.Payload, &issued))
	assert.Equal(t, cert.ID, issued.CertificateID.StreamID)
	assert.Equal(t, registry.Period{Start: hourStart.Unix(), End: hourStart.Add(time.Hour).Unix()}, issued.Period)
	assert.Equal(t, "DK1", issued.GridArea)
	assert.Equal(t, "production", issued.Type)

	position := model.WalletEndpointPosition(hourStart.Unix())
	require.NotNil(t, position)
	ownerKey, err := keys.HKDFDeriver{}.Derive(recipient.WalletEndpointReferencePublicKey, *position)
	require.NoError(t, err)
	assert.Equal(t, ownerKey, issued.OwnerPublicKey.Content)

	require.Len(t, h.wallet.calls, 1)
	call := h.wallet.calls[0]
	assert.Equal(t, recipient.WalletEndpointReferenceEndpoint, call.endpoint)
	assert.Equal(t, []byte(recipient.WalletEndpointReferencePublicKey), call.req.PublicKey)
	assert.Equal(t, *position, call.req.Position)
	assert.Equal(t, FederatedCertificateID{Registry: testRegistry, StreamID: cert.ID}, call.req.CertificateID)
	assert.Equal(t, uint32(1234), call.req.Quantity)
	assert.True(t, keys.Commitment{Content: issued.QuantityCommitment.Content, RandomR: call.req.RandomR}.Open(1234))

	require.Len(t, call.req.HashedAttributes, 1)
	walletAttr := call.req.HashedAttributes[0]
	assert.Equal(t, "asset_id", walletAttr.Key)
	assert.Equal(t, "571234567890123456", walletAttr.Value)
	published := stored.HashedValue(model.HashedAttribute{Key: walletAttr.Key, Value: walletAttr.Value, Salt: walletAttr.Salt})
	assert.Contains(t, issued.Attributes, registry.Attribute{Key: model.HashedAttributeKeyAssetID, Value: published, Type: registry.AttributeTypeHashed})
	assert.Contains(t, issued.Attributes, registry.Attribute{Key: "fuel_code", Value: "F01040100", Type: registry.AttributeTypeCleartext})
}

func TestIssueCertificate_RejectedByRegistry(t *testing.T) {
	h := newHarness(t)
	h.registry.statuses = []registry.TransactionState{registry.TransactionStateFailed}
	recipient := h.recipient(t, model.WalletEndpointVersionV1)

	cert, err := h.stamp.IssueCertificate(context.Background(), IssueRequest{
		RecipientID: recipient.ID,
		Certificate: productionParams("571234567890000002", hourStart),
	})
	require.NoError(t, err)
	require.Empty(t, h.drain(t))

	stored := h.store.certificate(t, testRegistry, cert.ID)
	assert.Equal(t, model.IssuedStateRejected, stored.IssuedState)
	require.NotNil(t, stored.RejectionReason)
	assert.Equal(t, "Rejected by the registry", *stored.RejectionReason)
	assert.Empty(t, h.wallet.calls)
	assert.Equal(t, []model.EventKind{
		model.EventCertificateCreated,
		model.EventCertificateSentToRegistry,
		model.EventCertificateFailedInRegistry,
	}, h.bus.publishedKinds())
}

func TestIssueCertificate_InvalidPeriod(t *testing.T) {
	h := newHarness(t)
	recipient := h.recipient(t, model.WalletEndpointVersionV1)

	params := productionParams("571234567890000003", hourStart)
	params.EndDate = params.StartDate

	_, err := h.stamp.IssueCertificate(context.Background(), IssueRequest{RecipientID: recipient.ID, Certificate: params})
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))

	params.EndDate = params.StartDate - 3600
	_, err = h.stamp.IssueCertificate(context.Background(), IssueRequest{RecipientID: recipient.ID, Certificate: params})
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))

	assert.Empty(t, h.store.snapshot().certificates)
	assert.Empty(t, h.store.outboxTypes())
	assert.Empty(t, h.registry.sent)
}

func TestIssueCertificate_InvalidWalletPosition(t *testing.T) {
	h := newHarness(t)
	recipient := h.recipient(t, model.WalletEndpointVersionV1)

	tests := []struct {
		name  string
		start time.Time
	}{
		{"not minute aligned", hourStart.Add(30 * time.Second)},
		{"before position epoch", time.Date(2021, time.December, 31, 23, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.stamp.IssueCertificate(context.Background(), IssueRequest{
				RecipientID: recipient.ID,
				Certificate: productionParams("571234567890000004", tt.start),
			})
			require.Error(t, err)
			assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
			assert.Contains(t, err.Error(), "Start date must be rounded to the nearest minute")
		})
	}
	assert.Empty(t, h.store.snapshot().certificates)
}

func TestIssueCertificate_UnknownRecipient(t *testing.T) {
	h := newHarness(t)

	_, err := h.stamp.IssueCertificate(context.Background(), IssueRequest{
		RecipientID: uuid.New(),
		Certificate: productionParams("571234567890000005", hourStart),
	})
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
	assert.Empty(t, h.store.outboxTypes())
}

func TestIssueCertificate_Conflicts(t *testing.T) {
	h := newHarness(t)
	recipient := h.recipient(t, model.WalletEndpointVersionV1)

	first := productionParams("571234567890000006", hourStart)
	_, err := h.stamp.IssueCertificate(context.Background(), IssueRequest{RecipientID: recipient.ID, Certificate: first})
	require.NoError(t, err)

	t.Run("same id", func(t *testing.T) {
		again := productionParams("571234567890000099", hourStart)
		again.ID = first.ID
		_, err := h.stamp.IssueCertificate(context.Background(), IssueRequest{RecipientID: recipient.ID, Certificate: again})
		assert.True(t, apierror.Is(err, apierror.ErrConflict))
	})

	t.Run("same metering point and period", func(t *testing.T) {
		_, err := h.stamp.IssueCertificate(context.Background(), IssueRequest{
			RecipientID: recipient.ID,
			Certificate: productionParams(first.MeteringPointID, hourStart),
		})
		assert.True(t, apierror.Is(err, apierror.ErrConflict))
	})

	t.Run("next period is accepted", func(t *testing.T) {
		_, err := h.stamp.IssueCertificate(context.Background(), IssueRequest{
			RecipientID: recipient.ID,
			Certificate: productionParams(first.MeteringPointID, hourStart.Add(time.Hour)),
		})
		assert.NoError(t, err)
	})

	assert.Len(t, h.store.outboxTypes(), 2)
}

func TestIssueCertificate_CommitFailureKeepsNothing(t *testing.T) {
	h := newHarness(t)
	recipient := h.recipient(t, model.WalletEndpointVersionV1)
	h.store.commitErr = assert.AnError

	_, err := h.stamp.IssueCertificate(context.Background(), IssueRequest{
		RecipientID: recipient.ID,
		Certificate: productionParams("571234567890000007", hourStart),
	})
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInternalServer))

	h.store.commitErr = nil
	assert.Empty(t, h.store.snapshot().certificates)
	assert.Empty(t, h.store.outboxTypes())
}

func TestGetCertificate(t *testing.T) {
	h := newHarness(t)
	recipient := h.recipient(t, model.WalletEndpointVersionV1)

	cert, err := h.stamp.IssueCertificate(context.Background(), IssueRequest{
		RecipientID: recipient.ID,
		Certificate: productionParams("571234567890000008", hourStart),
	})
	require.NoError(t, err)

	got, err := h.stamp.GetCertificate(context.Background(), testRegistry, cert.ID)
	require.NoError(t, err)
	assert.Equal(t, cert.MeteringPointID, got.MeteringPointID)
	assert.Equal(t, cert.HashedAttributes, got.HashedAttributes)

	_, err = h.stamp.GetCertificate(context.Background(), testRegistry, uuid.New())
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}
