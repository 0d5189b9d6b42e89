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
	"github.com/stamp-registry/stamp/internal/registry"
	"github.com/stamp-registry/stamp/model"
)

// WithdrawCertificate withdraws the certificate in the registry and moves it to
// the withdrawn archive, which frees its metering point and period for a new
// certificate. The archive row is written only if the registry accepted the
// withdrawal.
func (s *Stamp) WithdrawCertificate(ctx context.Context, registryName string, id uuid.UUID) (*model.WithdrawnCertificate, error) {
	ctx, span := otel.Tracer("stamp.withdrawal").Start(ctx, "Withdraw certificate")
	defer span.End()

	uow := s.datasource.NewUnitOfWork()
	defer func() { _ = uow.Rollback() }()

	_, err := uow.WithdrawnCertificates().Get(ctx, registryName, id)
	if err == nil {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Certificate already withdrawn.", nil)
	}
	if !apierror.Is(err, apierror.ErrNotFound) {
		return nil, err
	}

	cert, err := uow.Certificates().Get(ctx, registryName, id)
	if err != nil {
		if apierror.Is(err, apierror.ErrNotFound) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Certificate not found.", err)
		}
		return nil, err
	}

	issuerKey, err := s.registries.IssuerKey(cert.GridArea)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "No issuer key for grid area", err)
	}
	tx, err := registry.BuildWithdrawnTransaction(cert.RegistryName, cert.ID, issuerKey)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to build withdrawn transaction", err)
	}

	fields := logrus.Fields{"certificate_id": cert.ID, "registry": cert.RegistryName}
	if err := s.registry.SendTransaction(ctx, cert.RegistryName, tx); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to send withdrawn transaction to registry", err)
	}
	logrus.WithFields(fields).Info("withdrawn transaction sent to registry")

	withdrawn, err := uow.WithdrawnCertificates().Withdraw(ctx, cert)
	if err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to store withdrawn certificate", err)
	}

	logrus.WithFields(fields).WithField("withdrawn_id", withdrawn.ID).Info("certificate withdrawn")
	return withdrawn, nil
}

// GetWithdrawnCertificates pages over withdrawals after fromID. Use model.NoLimit
// to read everything past the cursor.
func (s *Stamp) GetWithdrawnCertificates(ctx context.Context, fromID, skip, limit int) (model.PageResult[model.WithdrawnCertificate], error) {
	uow := s.datasource.NewUnitOfWork()
	defer func() { _ = uow.Rollback() }()

	page, err := uow.WithdrawnCertificates().GetMultiple(ctx, fromID, skip, limit)
	if err != nil {
		return page, err
	}
	if err := uow.Commit(); err != nil {
		return page, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read withdrawn certificates", err)
	}
	return page, nil
}
