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

	"github.com/google/uuid"

	"github.com/stamp-registry/stamp/model"
)

// IDataSource hands out units of work. Every logical operation (an inbound intent
// or one consumed message) uses its own unit.
type IDataSource interface {
	NewUnitOfWork() IUnitOfWork
	Ping(ctx context.Context) error
}

// IUnitOfWork groups repositories that share one transaction.
type IUnitOfWork interface {
	Certificates() CertificateRepository
	WithdrawnCertificates() WithdrawnCertificateRepository
	Recipients() RecipientRepository
	Outbox() OutboxRepository
	Commit() error
	Rollback() error
}

// CertificateRepository stores active certificates with their attributes.
type CertificateRepository interface {
	Create(ctx context.Context, cert *model.Certificate) error
	Get(ctx context.Context, registryName string, id uuid.UUID) (*model.Certificate, error) // NOT_FOUND when absent
	SetState(ctx context.Context, cert *model.Certificate) error
}

// WithdrawnCertificateRepository moves certificates into the withdrawn archive and reads it back.
type WithdrawnCertificateRepository interface {
	Withdraw(ctx context.Context, cert *model.Certificate) (*model.WithdrawnCertificate, error)
	Get(ctx context.Context, registryName string, id uuid.UUID) (*model.WithdrawnCertificate, error)
	GetMultiple(ctx context.Context, fromID, skip, limit int) (model.PageResult[model.WithdrawnCertificate], error)
}

// RecipientRepository stores wallet owners.
type RecipientRepository interface {
	Create(ctx context.Context, recipient *model.Recipient) error
	Get(ctx context.Context, id uuid.UUID) (*model.Recipient, error)
}

// OutboxRepository is the durable queue between business transactions and the relay.
type OutboxRepository interface {
	Create(ctx context.Context, msg *model.OutboxMessage) error
	GetFirstNonProcessed(ctx context.Context) (*model.OutboxMessage, error) // nil when the outbox is empty
	Delete(ctx context.Context, id uuid.UUID) error
}
