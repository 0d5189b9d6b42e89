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

package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/stamp-registry/stamp/internal/apierror"
	"github.com/stamp-registry/stamp/model"
)

type recipientRepository struct {
	uow *UnitOfWork
}

func (r *recipientRepository) Create(ctx context.Context, recipient *model.Recipient) error {
	q, err := r.uow.querier(ctx)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO recipients (id, wallet_endpoint_reference_version, wallet_endpoint_reference_endpoint, wallet_endpoint_reference_public_key)
		VALUES ($1, $2, $3, $4)
	`, recipient.ID, recipient.WalletEndpointReferenceVersion, recipient.WalletEndpointReferenceEndpoint, recipient.WalletEndpointReferencePublicKey)
	if err != nil {
		return mapError(err, "Recipient with this id already exists", "Failed to create recipient")
	}
	return nil
}

func (r *recipientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Recipient, error) {
	q, err := r.uow.querier(ctx)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	recipient := model.Recipient{}
	err = q.QueryRowContext(ctx, `
		SELECT id, wallet_endpoint_reference_version, wallet_endpoint_reference_endpoint, wallet_endpoint_reference_public_key
		FROM recipients
		WHERE id = $1
	`, id).Scan(&recipient.ID, &recipient.WalletEndpointReferenceVersion, &recipient.WalletEndpointReferenceEndpoint, &recipient.WalletEndpointReferencePublicKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Recipient not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve recipient", err)
	}
	return &recipient, nil
}
