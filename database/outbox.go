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

type outboxRepository struct {
	uow *UnitOfWork
}

// Create stores the message in the current transaction, next to the change it announces.
func (r *outboxRepository) Create(ctx context.Context, msg *model.OutboxMessage) error {
	q, err := r.uow.querier(ctx)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	if msg.Created.IsZero() {
		msg.Created = time.Now().UTC()
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO outbox_messages (id, message_type, json_payload, created)
		VALUES ($1, $2, $3, $4)
	`, msg.ID, msg.MessageType, msg.JsonPayload, msg.Created)
	if err != nil {
		return mapError(err, "Outbox message already exists", "Failed to create outbox message")
	}
	return nil
}

// GetFirstNonProcessed returns the oldest pending message, or nil when there is none.
func (r *outboxRepository) GetFirstNonProcessed(ctx context.Context) (*model.OutboxMessage, error) {
	ctx, span := otel.Tracer("stamp.database").Start(ctx, "Fetching oldest outbox message")
	defer span.End()

	q, err := r.uow.querier(ctx)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	msg := model.OutboxMessage{}
	err = q.QueryRowContext(ctx, `
		SELECT id, message_type, json_payload, created
		FROM outbox_messages
		ORDER BY created
		LIMIT 1
	`).Scan(&msg.ID, &msg.MessageType, &msg.JsonPayload, &msg.Created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve outbox message", err)
	}
	return &msg, nil
}

// Delete removes a relayed message. Exactly one row must go.
func (r *outboxRepository) Delete(ctx context.Context, id uuid.UUID) error {
	q, err := r.uow.querier(ctx)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	res, err := q.ExecContext(ctx, `DELETE FROM outbox_messages WHERE id = $1`, id)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete outbox message", err)
	}
	return expectOneRow(res, "Outbox message not found")
}
