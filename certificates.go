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

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/stamp-registry/stamp/internal/apierror"
	"github.com/stamp-registry/stamp/model"
)

// IssueRequest is an accepted intent to issue one certificate to a recipient.
type IssueRequest struct {
	RecipientID uuid.UUID
	Certificate model.NewCertificateParams
}

// IssueCertificate validates and stores the certificate together with the
// outbox message that starts the choreography. Nothing is persisted when the
// period or wallet position is invalid.
func (s *Stamp) IssueCertificate(ctx context.Context, req IssueRequest) (*model.Certificate, error) {
	ctx, span := otel.Tracer("stamp.issuance").Start(ctx, "Issue certificate")
	defer span.End()

	cert, err := model.NewCertificate(req.Certificate)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	if model.WalletEndpointPosition(cert.StartDate) == nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Start date must be rounded to the nearest minute and after 2022-01-01.", nil)
	}

	uow := s.datasource.NewUnitOfWork()
	defer func() { _ = uow.Rollback() }()

	recipient, err := uow.Recipients().Get(ctx, req.RecipientID)
	if err != nil {
		return nil, err
	}

	_, err = uow.Certificates().Get(ctx, cert.RegistryName, cert.ID)
	if err == nil {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Certificate with this id already exists", nil)
	}
	if !apierror.Is(err, apierror.ErrNotFound) {
		return nil, err
	}

	if err := uow.Certificates().Create(ctx, cert); err != nil {
		return nil, err
	}

	msg, err := model.NewOutboxMessage(model.CertificateCreatedEvent{
		CertificateID:                    cert.ID,
		RegistryName:                     cert.RegistryName,
		RecipientID:                      recipient.ID,
		WalletEndpointReferencePublicKey: recipient.WalletEndpointReferencePublicKey,
		CertificateType:                  cert.CertificateType,
		Quantity:                         cert.Quantity,
		Start:                            cert.StartDate,
		End:                              cert.EndDate,
		GridArea:                         cert.GridArea,
		ClearTextAttributes:              cert.ClearTextAttributes,
		HashedAttributes:                 cert.HashedAttributes,
	})
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create outbox message", err)
	}
	if err := uow.Outbox().Create(ctx, msg); err != nil {
		return nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to store certificate", err)
	}

	intentReceivedCounter.Inc()
	logrus.WithFields(logrus.Fields{"certificate_id": cert.ID, "registry": cert.RegistryName}).Info("certificate issuance accepted")
	return cert, nil
}

func (s *Stamp) GetCertificate(ctx context.Context, registryName string, id uuid.UUID) (*model.Certificate, error) {
	uow := s.datasource.NewUnitOfWork()
	defer func() { _ = uow.Rollback() }()
	return uow.Certificates().Get(ctx, registryName, id)
}
