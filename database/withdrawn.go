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
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/stamp-registry/stamp/internal/apierror"
	"github.com/stamp-registry/stamp/model"
)

const withdrawnColumns = `id, certificate_id, registry_name, certificate_type, quantity, start_date, end_date, grid_area, metering_point_id, issued_state, rejection_reason, withdrawn_date`

type withdrawnCertificateRepository struct {
	uow *UnitOfWork
}

// Withdraw copies the certificate and its attributes into the archive tables and
// deletes the originals, which frees the metering point and period for reissue.
func (r *withdrawnCertificateRepository) Withdraw(ctx context.Context, cert *model.Certificate) (*model.WithdrawnCertificate, error) {
	ctx, span := otel.Tracer("stamp.database").Start(ctx, "Withdrawing certificate")
	defer span.End()

	q, err := r.uow.querier(ctx)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	withdrawn := model.WithdrawnCertificate{Certificate: *cert}
	err = q.QueryRowContext(ctx, `
		INSERT INTO withdrawn_certificates (certificate_id, registry_name, certificate_type, quantity, start_date, end_date, grid_area, metering_point_id, issued_state, rejection_reason, withdrawn_date)
		SELECT id, registry_name, certificate_type, quantity, start_date, end_date, grid_area, metering_point_id, issued_state, rejection_reason, $3
		FROM certificates
		WHERE registry_name = $1 AND id = $2
		RETURNING id, withdrawn_date
	`, cert.RegistryName, cert.ID, time.Now().UTC()).Scan(&withdrawn.ID, &withdrawn.WithdrawnDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Certificate not found", err)
		}
		return nil, mapError(err, "Certificate already withdrawn", "Failed to archive certificate")
	}

	statements := []struct {
		query   string
		message string
	}{
		{`INSERT INTO withdrawn_clear_text_attributes (certificate_id, registry_name, attribute_key, attribute_value)
		SELECT certificate_id, registry_name, attribute_key, attribute_value
		FROM clear_text_attributes
		WHERE registry_name = $1 AND certificate_id = $2`, "Failed to archive clear text attributes"},
		{`INSERT INTO withdrawn_hashed_attributes (certificate_id, registry_name, attribute_key, attribute_value, salt, position)
		SELECT certificate_id, registry_name, attribute_key, attribute_value, salt, position
		FROM hashed_attributes
		WHERE registry_name = $1 AND certificate_id = $2`, "Failed to archive hashed attributes"},
		{`DELETE FROM clear_text_attributes WHERE registry_name = $1 AND certificate_id = $2`, "Failed to delete clear text attributes"},
		{`DELETE FROM hashed_attributes WHERE registry_name = $1 AND certificate_id = $2`, "Failed to delete hashed attributes"},
	}
	for _, stmt := range statements {
		if _, err := q.ExecContext(ctx, stmt.query, cert.RegistryName, cert.ID); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, stmt.message, err)
		}
	}

	res, err := q.ExecContext(ctx, `DELETE FROM certificates WHERE registry_name = $1 AND id = $2`, cert.RegistryName, cert.ID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete certificate", err)
	}
	if err := expectOneRow(res, "Certificate not found"); err != nil {
		return nil, err
	}

	return &withdrawn, nil
}

// Get returns the archived certificate, NOT_FOUND when it was never withdrawn.
func (r *withdrawnCertificateRepository) Get(ctx context.Context, registryName string, id uuid.UUID) (*model.WithdrawnCertificate, error) {
	ctx, span := otel.Tracer("stamp.database").Start(ctx, "Getting withdrawn certificate from db")
	defer span.End()

	q, err := r.uow.querier(ctx)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	row := q.QueryRowContext(ctx, `
		SELECT `+withdrawnColumns+`
		FROM withdrawn_certificates
		WHERE registry_name = $1 AND certificate_id = $2
	`, registryName, id)
	withdrawn, err := scanWithdrawn(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Withdrawn certificate not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve withdrawn certificate", err)
	}

	withdrawn.ClearTextAttributes, err = readClearTextAttributes(ctx, q, "withdrawn_clear_text_attributes", registryName, id)
	if err != nil {
		return nil, err
	}
	withdrawn.HashedAttributes, err = readHashedAttributes(ctx, q, "withdrawn_hashed_attributes", registryName, id)
	if err != nil {
		return nil, err
	}
	return withdrawn, nil
}

// GetMultiple pages over certificates withdrawn after fromID. The rows are first
// copied into a transaction-scoped snapshot so the total count and the page are
// read from the same data. The limit is applied as given, so 0 returns no rows;
// pass model.NoLimit for everything past the cursor.
func (r *withdrawnCertificateRepository) GetMultiple(ctx context.Context, fromID, skip, limit int) (model.PageResult[model.WithdrawnCertificate], error) {
	ctx, span := otel.Tracer("stamp.database").Start(ctx, "Listing withdrawn certificates")
	defer span.End()

	page := model.PageResult[model.WithdrawnCertificate]{Items: []model.WithdrawnCertificate{}, Offset: skip, Limit: limit}

	q, err := r.uow.querier(ctx)
	if err != nil {
		return page, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	_, err = q.ExecContext(ctx, `
		CREATE TEMPORARY TABLE withdrawn_work_table ON COMMIT DROP AS (
			SELECT `+withdrawnColumns+`
			FROM withdrawn_certificates
			WHERE id > $1
			ORDER BY id
		)
	`, fromID)
	if err != nil {
		return page, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to snapshot withdrawn certificates", err)
	}

	err = q.QueryRowContext(ctx, `SELECT count(*) FROM withdrawn_work_table`).Scan(&page.TotalCount)
	if err != nil {
		return page, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count withdrawn certificates", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT `+withdrawnColumns+`
		FROM withdrawn_work_table
		ORDER BY id
		LIMIT $1 OFFSET $2
	`, page.Limit, skip)
	if err != nil {
		return page, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve withdrawn certificates", err)
	}
	defer rows.Close()

	for rows.Next() {
		withdrawn, err := scanWithdrawn(rows)
		if err != nil {
			return page, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan withdrawn certificate", err)
		}
		page.Items = append(page.Items, *withdrawn)
	}
	if err := rows.Err(); err != nil {
		return page, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over withdrawn certificates", err)
	}

	page.Count = len(page.Items)
	return page, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWithdrawn(row rowScanner) (*model.WithdrawnCertificate, error) {
	var withdrawn model.WithdrawnCertificate
	var certificateType, issuedState int
	var quantity int64
	var rejectionReason sql.NullString
	err := row.Scan(&withdrawn.ID, &withdrawn.Certificate.ID, &withdrawn.RegistryName, &certificateType, &quantity,
		&withdrawn.StartDate, &withdrawn.EndDate, &withdrawn.GridArea, &withdrawn.MeteringPointID, &issuedState,
		&rejectionReason, &withdrawn.WithdrawnDate)
	if err != nil {
		return nil, err
	}
	withdrawn.CertificateType = model.CertificateType(certificateType)
	withdrawn.IssuedState = model.IssuedState(issuedState)
	withdrawn.Quantity = uint32(quantity)
	if rejectionReason.Valid {
		withdrawn.RejectionReason = &rejectionReason.String
	}
	return &withdrawn, nil
}
