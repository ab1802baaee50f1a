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

// Wrapper around a pgx transaction to help debug if transactions are leaking

import (
	"context"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnsupported = errors.New("unsupported function")
)

type FolioTx struct {
	id string
	tx pgx.Tx
}

func (t *FolioTx) forget() {
	openTransactionsLock.Lock()
	delete(openTransactions, t.id)
	openTransactionsLock.Unlock()
}

// Begin is not supported; folio never nests transactions
func (t *FolioTx) Begin(ctx context.Context) (pgx.Tx, error) {
	log.Error().Stack().Msg("sub-transactions not supported")
	return nil, ErrUnsupported
}

func (t *FolioTx) BeginFunc(ctx context.Context, f func(pgx.Tx) error) (err error) {
	log.Error().Stack().Msg("sub-transactions not supported")
	return ErrUnsupported
}

func (t *FolioTx) Commit(ctx context.Context) error {
	t.forget()
	return t.tx.Commit(ctx)
}

func (t *FolioTx) Rollback(ctx context.Context) error {
	t.forget()
	return t.tx.Rollback(ctx)
}

func (t *FolioTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return t.tx.CopyFrom(ctx, tableName, columnNames, rowSrc)
}

func (t *FolioTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return t.tx.SendBatch(ctx, b)
}

func (t *FolioTx) LargeObjects() pgx.LargeObjects {
	return t.tx.LargeObjects()
}

func (t *FolioTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return t.tx.Prepare(ctx, name, sql)
}

func (t *FolioTx) Exec(ctx context.Context, sql string, arguments ...interface{}) (commandTag pgconn.CommandTag, err error) {
	return t.tx.Exec(ctx, sql, arguments...)
}

func (t *FolioTx) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return t.tx.Query(ctx, sql, args...)
}

func (t *FolioTx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return t.tx.QueryRow(ctx, sql, args...)
}

func (t *FolioTx) QueryFunc(ctx context.Context, sql string, args []interface{}, scans []interface{}, f func(pgx.QueryFuncRow) error) (pgconn.CommandTag, error) {
	return t.tx.QueryFunc(ctx, sql, args, scans, f)
}

// Conn returns the underlying *Conn that on which this transaction is executing.
func (t *FolioTx) Conn() *pgx.Conn {
	return t.tx.Conn()
}
