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
	"go.opentelemetry.io/otel"

	"github.com/stamp-registry/stamp/internal/apierror"
	"github.com/stamp-registry/stamp/model"
)

type certificateRepository struct {
	uow *UnitOfWork
}

// Create inserts the certificate row and its attribute rows. A second active
// certificate for the same metering point and period violates the unique index
// and is reported as a conflict.
func (r *certificateRepository) Create(ctx context.Context, cert *model.Certificate) error {
	ctx, span := otel.Tracer("stamp.database").Start(ctx, "Saving certificate to db")
	defer span.End()

	q, err := r.uow.querier(ctx)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO certificates (id, registry_name, certificate_type, quantity, start_date, end_date, grid_area, metering_point_id, issued_state, rejection_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, cert.ID, cert.RegistryName, int(cert.CertificateType), int64(cert.Quantity), cert.StartDate, cert.EndDate,
		cert.GridArea, cert.MeteringPointID, int(cert.IssuedState), cert.RejectionReason)
	if err != nil {
		return mapError(err, "Certificate with this id or metering point and period already exists", "Failed to create certificate")
	}

	for _, key := range sortedKeys(cert.ClearTextAttributes) {
		_, err = q.ExecContext(ctx, `
			INSERT INTO clear_text_attributes (certificate_id, registry_name, attribute_key, attribute_value)
			VALUES ($1, $2, $3, $4)
		`, cert.ID, cert.RegistryName, key, cert.ClearTextAttributes[key])
		if err != nil {
			return mapError(err, "Duplicate clear text attribute key", "Failed to create clear text attribute")
		}
	}

	for position, attr := range cert.HashedAttributes {
		_, err = q.ExecContext(ctx, `
			INSERT INTO hashed_attributes (certificate_id, registry_name, attribute_key, attribute_value, salt, position)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, cert.ID, cert.RegistryName, attr.Key, attr.Value, attr.Salt, position)
		if err != nil {
			return mapError(err, "Duplicate hashed attribute key", "Failed to create hashed attribute")
		}
	}

	return nil
}

func (r *certificateRepository) Get(ctx context.Context, registryName string, id uuid.UUID) (*model.Certificate, error) {
	ctx, span := otel.Tracer("stamp.database").Start(ctx, "Getting certificate from db")
	defer span.End()

	q, err := r.uow.querier(ctx)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	cert := model.Certificate{}
	var certificateType, issuedState int
	var quantity int64
	var rejectionReason sql.NullString
	err = q.QueryRowContext(ctx, `
		SELECT id, registry_name, certificate_type, quantity, start_date, end_date, grid_area, metering_point_id, issued_state, rejection_reason
		FROM certificates
		WHERE registry_name = $1 AND id = $2
	`, registryName, id).Scan(&cert.ID, &cert.RegistryName, &certificateType, &quantity, &cert.StartDate, &cert.EndDate,
		&cert.GridArea, &cert.MeteringPointID, &issuedState, &rejectionReason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Certificate not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve certificate", err)
	}
	cert.CertificateType = model.CertificateType(certificateType)
	cert.IssuedState = model.IssuedState(issuedState)
	cert.Quantity = uint32(quantity)
	if rejectionReason.Valid {
		cert.RejectionReason = &rejectionReason.String
	}

	cert.ClearTextAttributes, err = readClearTextAttributes(ctx, q, "clear_text_attributes", registryName, id)
	if err != nil {
		return nil, err
	}
	cert.HashedAttributes, err = readHashedAttributes(ctx, q, "hashed_attributes", registryName, id)
	if err != nil {
		return nil, err
	}

	return &cert, nil
}

func (r *certificateRepository) SetState(ctx context.Context, cert *model.Certificate) error {
	ctx, span := otel.Tracer("stamp.database").Start(ctx, "Updating certificate state")
	defer span.End()

	q, err := r.uow.querier(ctx)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	res, err := q.ExecContext(ctx, `
		UPDATE certificates
		SET issued_state = $1, rejection_reason = $2
		WHERE registry_name = $3 AND id = $4
	`, int(cert.IssuedState), cert.RejectionReason, cert.RegistryName, cert.ID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update certificate state", err)
	}
	return expectOneRow(res, "Certificate not found")
}

// table is one of the fixed attribute table names, never user input.
func readClearTextAttributes(ctx context.Context, q querier, table, registryName string, id uuid.UUID) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT attribute_key, attribute_value
		FROM `+table+`
		WHERE registry_name = $1 AND certificate_id = $2
	`, registryName, id)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve clear text attributes", err)
	}
	defer rows.Close()

	attributes := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan clear text attribute", err)
		}
		attributes[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over clear text attributes", err)
	}
	return attributes, nil
}

func readHashedAttributes(ctx context.Context, q querier, table, registryName string, id uuid.UUID) ([]model.HashedAttribute, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT attribute_key, attribute_value, salt
		FROM `+table+`
		WHERE registry_name = $1 AND certificate_id = $2
		ORDER BY position
	`, registryName, id)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve hashed attributes", err)
	}
	defer rows.Close()

	var attributes []model.HashedAttribute
	for rows.Next() {
		var attr model.HashedAttribute
		if err := rows.Scan(&attr.Key, &attr.Value, &attr.Salt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan hashed attribute", err)
		}
		attributes = append(attributes, attr)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over hashed attributes", err)
	}
	return attributes, nil
}
