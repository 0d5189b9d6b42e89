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

	"github.com/sirupsen/logrus"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UnitOfWork holds at most one open transaction. The transaction is opened by the
// first repository statement (or an explicit Begin) and closed by Commit or
// Rollback, after which the unit can start over. A unit must not be shared
// between goroutines.
type UnitOfWork struct {
	db *sql.DB
	tx *sql.Tx
}

func NewUnitOfWork(db *sql.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// Begin opens the transaction if none is open and returns it.
func (u *UnitOfWork) Begin(ctx context.Context) (*sql.Tx, error) {
	if u.tx != nil {
		return u.tx, nil
	}
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	u.tx = tx
	return tx, nil
}

func (u *UnitOfWork) querier(ctx context.Context) (querier, error) {
	tx, err := u.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// Commit persists the open transaction. A failed commit is rolled back before
// the error is returned. Either way the unit is reset.
func (u *UnitOfWork) Commit() error {
	tx := u.tx
	u.tx = nil
	if tx == nil {
		return nil
	}

	if err := tx.Commit(); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logrus.Errorf("rollback after failed commit: %v", rbErr)
		}
		return err
	}
	return nil
}

// Rollback discards the open transaction, if any, and resets the unit.
func (u *UnitOfWork) Rollback() error {
	tx := u.tx
	u.tx = nil
	if tx == nil {
		return nil
	}
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (u *UnitOfWork) Certificates() CertificateRepository {
	return &certificateRepository{uow: u}
}

func (u *UnitOfWork) WithdrawnCertificates() WithdrawnCertificateRepository {
	return &withdrawnCertificateRepository{uow: u}
}

func (u *UnitOfWork) Recipients() RecipientRepository {
	return &recipientRepository{uow: u}
}

func (u *UnitOfWork) Outbox() OutboxRepository {
	return &outboxRepository{uow: u}
}
