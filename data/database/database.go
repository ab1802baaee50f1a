// Copyright 2021-2023
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package database

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
)

// PgxIface is the subset of pgxpool.Pool used by the stores; pgxmock implements it too
type PgxIface interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

var (
	ErrEmptyURL = errors.New("database url cannot be an empty string")
)

//go:embed schema.sql
var schemaSQL string

var (
	openTransactions     = make(map[string]string)
	openTransactionsLock sync.Mutex
)

// Connect opens a pool against url and verifies the server is reachable
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		log.Error().Stack().Msg("database url cannot be an empty string")
		return nil, ErrEmptyURL
	}

	pool, err := pgxpool.Connect(ctx, url)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not connect to pool")
		return nil, err
	}

	if err = pool.Ping(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not ping database server")
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// Migrate creates the tables used by folio if they do not exist
func Migrate(ctx context.Context, db PgxIface) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		log.Error().Stack().Err(err).Msg("could not apply schema")
		return err
	}
	return nil
}

// Begin starts a transaction on db and records the caller until it is committed or
// rolled back so that leaked transactions can be found with LogOpenTransactions
func Begin(ctx context.Context, db PgxIface) (pgx.Tx, error) {
	trx, err := db.Begin(ctx)
	if err != nil {
		return nil, err
	}

	_, file, lineno, ok := runtime.Caller(1)
	caller := fmt.Sprintf("[%v] %s:%d", ok, file, lineno)
	trxID := uuid.New().String()

	openTransactionsLock.Lock()
	openTransactions[trxID] = caller
	openTransactionsLock.Unlock()

	return &FolioTx{
		id: trxID,
		tx: trx,
	}, nil
}

// LogOpenTransactions writes an INFO log for each open transaction
func LogOpenTransactions() {
	openTransactionsLock.Lock()
	defer openTransactionsLock.Unlock()

	for k, v := range openTransactions {
		log.Info().Str("TrxId", k).Str("Caller", v).Msg("open transaction")
	}
}

// NumOpenTransactions returns how many transactions started with Begin are still open
func NumOpenTransactions() int {
	openTransactionsLock.Lock()
	defer openTransactionsLock.Unlock()
	return len(openTransactions)
}

// Rollback rolls trx back and logs, rather than returns, a failure to do so
func Rollback(ctx context.Context, trx pgx.Tx) {
	if err := trx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		log.Error().Stack().Err(err).Msg("could not rollback transaction")
	}
}
