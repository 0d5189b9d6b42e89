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
package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/stamp-registry/stamp/database"
	"github.com/stamp-registry/stamp/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

func (m *MockDataSource) NewUnitOfWork() database.IUnitOfWork {
	args := m.Called()
	return args.Get(0).(database.IUnitOfWork)
}

func (m *MockDataSource) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockUnitOfWork hands out the mock repositories it holds.
type MockUnitOfWork struct {
	mock.Mock
	CertificateRepo *MockCertificateRepository
	WithdrawnRepo   *MockWithdrawnCertificateRepository
	RecipientRepo   *MockRecipientRepository
	OutboxRepo      *MockOutboxRepository
}

// NewMockUnitOfWork wires a unit with fresh repository mocks.
func NewMockUnitOfWork() *MockUnitOfWork {
	return &MockUnitOfWork{
		CertificateRepo: &MockCertificateRepository{},
		WithdrawnRepo:   &MockWithdrawnCertificateRepository{},
		RecipientRepo:   &MockRecipientRepository{},
		OutboxRepo:      &MockOutboxRepository{},
	}
}

func (m *MockUnitOfWork) Certificates() database.CertificateRepository {
	return m.CertificateRepo
}

func (m *MockUnitOfWork) WithdrawnCertificates() database.WithdrawnCertificateRepository {
	return m.WithdrawnRepo
}

func (m *MockUnitOfWork) Recipients() database.RecipientRepository {
	return m.RecipientRepo
}

func (m *MockUnitOfWork) Outbox() database.OutboxRepository {
	return m.OutboxRepo
}

func (m *MockUnitOfWork) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockUnitOfWork) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

// Certificate methods

type MockCertificateRepository struct {
	mock.Mock
}

func (m *MockCertificateRepository) Create(ctx context.Context, cert *model.Certificate) error {
	args := m.Called(ctx, cert)
	return args.Error(0)
}

func (m *MockCertificateRepository) Get(ctx context.Context, registryName string, id uuid.UUID) (*model.Certificate, error) {
	args := m.Called(ctx, registryName, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Certificate), args.Error(1)
}

func (m *MockCertificateRepository) SetState(ctx context.Context, cert *model.Certificate) error {
	args := m.Called(ctx, cert)
	return args.Error(0)
}

// Withdrawn certificate methods

type MockWithdrawnCertificateRepository struct {
	mock.Mock
}

func (m *MockWithdrawnCertificateRepository) Withdraw(ctx context.Context, cert *model.Certificate) (*model.WithdrawnCertificate, error) {
	args := m.Called(ctx, cert)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WithdrawnCertificate), args.Error(1)
}

func (m *MockWithdrawnCertificateRepository) Get(ctx context.Context, registryName string, id uuid.UUID) (*model.WithdrawnCertificate, error) {
	args := m.Called(ctx, registryName, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WithdrawnCertificate), args.Error(1)
}

func (m *MockWithdrawnCertificateRepository) GetMultiple(ctx context.Context, fromID, skip, limit int) (model.PageResult[model.WithdrawnCertificate], error) {
	args := m.Called(ctx, fromID, skip, limit)
	return args.Get(0).(model.PageResult[model.WithdrawnCertificate]), args.Error(1)
}

// Recipient methods

type MockRecipientRepository struct {
	mock.Mock
}

func (m *MockRecipientRepository) Create(ctx context.Context, recipient *model.Recipient) error {
	args := m.Called(ctx, recipient)
	return args.Error(0)
}

func (m *MockRecipientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Recipient, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Recipient), args.Error(1)
}

// Outbox methods

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) Create(ctx context.Context, msg *model.OutboxMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockOutboxRepository) GetFirstNonProcessed(ctx context.Context) (*model.OutboxMessage, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.OutboxMessage), args.Error(1)
}

func (m *MockOutboxRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
