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
	"sort"
	"sync"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/stamp-registry/stamp/config"
	"github.com/stamp-registry/stamp/internal/apierror"
)

// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

// Datasource owns the connection pool. All reads and writes go through a UnitOfWork.
type Datasource struct {
	Conn *sql.DB
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// ConnectDB opens a postgres pool and checks it is reachable. The schema is owned
// by the embedded migrations, see `stamp migrate up`.
func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		logrus.Errorf("database Connection error ❌: %v", err)
		return nil, err
	}
	return db, nil
}

// NewUnitOfWork returns a fresh unit bound to the pool.
func (d Datasource) NewUnitOfWork() IUnitOfWork {
	return NewUnitOfWork(d.Conn)
}

// Ping reports whether the store is reachable.
func (d Datasource) Ping(ctx context.Context) error {
	return d.Conn.PingContext(ctx)
}

// mapError turns a driver error into an APIError. Unique violations become conflicts.
func mapError(err error, conflictMessage, message string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return apierror.NewAPIError(apierror.ErrConflict, conflictMessage, err)
	}
	return apierror.NewAPIError(apierror.ErrInternalServer, message, err)
}

// expectOneRow fails unless exactly one row was affected.
func expectOneRow(res sql.Result, message string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, message, err)
	}
	if n != 1 {
		return apierror.NewAPIError(apierror.ErrNotFound, message, errors.New("expected exactly one affected row"))
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
