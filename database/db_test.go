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
	"errors"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/stamp-registry/stamp/config"
	"github.com/stamp-registry/stamp/internal/apierror"
)

func TestGetDBConnection_Failure(t *testing.T) {
	// Reset the instance and once for testing purposes
	instance = nil
	once = sync.Once{}

	mockConfig := &config.Configuration{
		DataSource: config.DataSourceConfig{
			Dns: "invalid-dns",
		},
	}

	_, err := GetDBConnection(mockConfig)
	assert.Error(t, err)
}

func TestConnectDB_Failure(t *testing.T) {
	db, err := ConnectDB("invalid-dns")
	assert.Error(t, err)
	assert.Nil(t, db)
}

func TestDatasource_Ping(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectPing()

	assert.NoError(t, ds.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMapError(t *testing.T) {
	err := mapError(&pq.Error{Code: "23505", Message: "unique_violation"}, "conflict", "internal")
	assert.True(t, apierror.Is(err, apierror.ErrConflict))

	err = mapError(errors.New("connection reset"), "conflict", "internal")
	assert.True(t, apierror.Is(err, apierror.ErrInternalServer))
}

func TestExpectOneRow(t *testing.T) {
	assert.NoError(t, expectOneRow(sqlmock.NewResult(0, 1), "gone"))
	assert.True(t, apierror.Is(expectOneRow(sqlmock.NewResult(0, 0), "gone"), apierror.ErrNotFound))
	assert.Error(t, expectOneRow(sqlmock.NewErrorResult(errors.New("no rows info")), "gone"))
}
