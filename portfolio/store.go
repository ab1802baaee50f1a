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

package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/modelfolio/folio/data"
	"github.com/modelfolio/folio/data/database"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Store persists portfolio documents. Commit and SaveValuation are conditional
// on the version the caller loaded.
type Store interface {
	Load(ctx context.Context, id uuid.UUID) (*Portfolio, error)
	List(ctx context.Context) ([]*Portfolio, error)
	Create(ctx context.Context, p *Portfolio) error

	// Commit writes cash and holdings together with trx and bumps the version
	Commit(ctx context.Context, p *Portfolio, expectedVersion int64, trx *Transaction) error

	// SaveValuation writes derived fields without changing the version
	SaveValuation(ctx context.Context, p *Portfolio) error

	// Delete removes the portfolio and everything that references it
	Delete(ctx context.Context, id uuid.UUID) error

	SavePriceLog(ctx context.Context, entry *PriceLog) error
	PriceLogs(ctx context.Context, id uuid.UUID, from, to time.Time) ([]*PriceLog, error)
	Transactions(ctx context.Context, id uuid.UUID) ([]*Transaction, error)
}

// PgStore keeps each portfolio as a JSONB document next to a version column
type PgStore struct {
	db  database.PgxIface
	now func() time.Time
}

func NewPgStore(db database.PgxIface) *PgStore {
	return &PgStore{
		db:  db,
		now: time.Now,
	}
}

// WithClock replaces the clock used for updated_at
func (s *PgStore) WithClock(now func() time.Time) *PgStore {
	s.now = now
	return s
}

func scanPortfolio(row pgx.Row) (*Portfolio, error) {
	var (
		id        uuid.UUID
		name      string
		version   int64
		doc       []byte
		createdAt time.Time
		updatedAt time.Time
	)

	if err := row.Scan(&id, &name, &version, &doc, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	p := &Portfolio{}
	if err := json.Unmarshal(doc, p); err != nil {
		return nil, fmt.Errorf("decode portfolio %s: %w", id, err)
	}

	p.ID = id
	p.Name = name
	p.Version = version
	p.CreatedAt = createdAt
	p.UpdatedAt = updatedAt
	if p.Holdings == nil {
		p.Holdings = make([]*Holding, 0)
	}

	return p, nil
}

const portfolioColumns = "id, name, version, doc, created_at, updated_at"

func (s *PgStore) Load(ctx context.Context, id uuid.UUID) (*Portfolio, error) {
	row := s.db.QueryRow(ctx, "SELECT "+portfolioColumns+" FROM portfolios WHERE id = $1", id)
	p, err := scanPortfolio(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPortfolioNotFound, id)
	}
	if err != nil {
		log.Error().Stack().Err(err).Str("PortfolioID", id.String()).Msg("could not load portfolio")
		return nil, err
	}
	return p, nil
}

func (s *PgStore) List(ctx context.Context) ([]*Portfolio, error) {
	rows, err := s.db.Query(ctx, "SELECT "+portfolioColumns+" FROM portfolios ORDER BY name")
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not list portfolios")
		return nil, err
	}
	defer rows.Close()

	portfolios := make([]*Portfolio, 0)
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			log.Error().Stack().Err(err).Msg("could not scan portfolio")
			return nil, err
		}
		portfolios = append(portfolios, p)
	}

	return portfolios, rows.Err()
}

func (s *PgStore) Create(ctx context.Context, p *Portfolio) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}

	now := s.now()
	_, err = s.db.Exec(ctx, `INSERT INTO portfolios (id, name, version, doc, created_at, updated_at)
	VALUES ($1, $2, 1, $3, $4, $4)`, p.ID, p.Name, doc, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrPortfolioExists, p.Name)
		}
		log.Error().Stack().Err(err).Str("PortfolioID", p.ID.String()).Msg("could not create portfolio")
		return err
	}

	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

func (s *PgStore) Commit(ctx context.Context, p *Portfolio, expectedVersion int64, trx *Transaction) error {
	subLog := log.With().Str("PortfolioID", p.ID.String()).Int64("ExpectedVersion", expectedVersion).Logger()

	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}

	tx, err := database.Begin(ctx, s.db)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("unable to get database transaction")
		return err
	}

	now := s.now()
	tag, err := tx.Exec(ctx, `UPDATE portfolios SET doc = $1, version = version + 1, updated_at = $2
	WHERE id = $3 AND version = $4`, doc, now, p.ID, expectedVersion)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not update portfolio")
		database.Rollback(ctx, tx)
		return err
	}

	if tag.RowsAffected() == 0 {
		database.Rollback(ctx, tx)
		return ErrConcurrentModification
	}

	if trx != nil {
		_, err = tx.Exec(ctx, `INSERT INTO portfolio_transactions (id, portfolio_id, kind, ticker, exchange,
		num_shares, price_per_share, total_value, realized_pnl, cash_before, cash_after, source_id, event_date)
	VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10::numeric, $11::numeric, $12, $13)`,
			trx.ID, trx.PortfolioID, string(trx.Kind), trx.Symbol, string(trx.Exchange), trx.Quantity,
			trx.Price.String(), trx.Amount.String(), trx.RealizedPnL.String(), trx.CashBefore.String(),
			trx.CashAfter.String(), trx.SourceID, trx.Date)
		if err != nil {
			subLog.Error().Stack().Err(err).Msg("could not save transaction")
			database.Rollback(ctx, tx)
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		subLog.Error().Stack().Err(err).Msg("failed to commit portfolio transaction")
		database.Rollback(ctx, tx)
		return err
	}

	p.Version = expectedVersion + 1
	p.UpdatedAt = now
	return nil
}

func (s *PgStore) SaveValuation(ctx context.Context, p *Portfolio) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, "UPDATE portfolios SET doc = $1 WHERE id = $2 AND version = $3", doc, p.ID, p.Version)
	if err != nil {
		log.Error().Stack().Err(err).Str("PortfolioID", p.ID.String()).Msg("could not save valuation")
		return err
	}

	if tag.RowsAffected() == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (s *PgStore) Delete(ctx context.Context, id uuid.UUID) error {
	subLog := log.With().Str("PortfolioID", id.String()).Logger()

	tx, err := database.Begin(ctx, s.db)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("unable to get database transaction")
		return err
	}

	for _, sql := range []string{
		"DELETE FROM price_logs WHERE portfolio_id = $1",
		"DELETE FROM calculation_logs WHERE portfolio_id = $1",
		"DELETE FROM portfolio_transactions WHERE portfolio_id = $1",
	} {
		if _, err := tx.Exec(ctx, sql, id); err != nil {
			subLog.Error().Stack().Err(err).Str("Query", sql).Msg("could not delete dependent rows")
			database.Rollback(ctx, tx)
			return err
		}
	}

	tag, err := tx.Exec(ctx, "DELETE FROM portfolios WHERE id = $1", id)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not delete portfolio")
		database.Rollback(ctx, tx)
		return err
	}

	if tag.RowsAffected() == 0 {
		database.Rollback(ctx, tx)
		return fmt.Errorf("%w: %s", ErrPortfolioNotFound, id)
	}

	if err := tx.Commit(ctx); err != nil {
		subLog.Error().Stack().Err(err).Msg("failed to commit delete")
		database.Rollback(ctx, tx)
		return err
	}

	return nil
}

func (s *PgStore) Transactions(ctx context.Context, id uuid.UUID) ([]*Transaction, error) {
	rows, err := s.db.Query(ctx, `SELECT id, portfolio_id, kind, ticker, exchange, num_shares,
	price_per_share::text, total_value::text, realized_pnl::text, cash_before::text, cash_after::text,
	source_id, event_date FROM portfolio_transactions WHERE portfolio_id = $1 ORDER BY event_date`, id)
	if err != nil {
		log.Error().Stack().Err(err).Str("PortfolioID", id.String()).Msg("could not query transactions")
		return nil, err
	}
	defer rows.Close()

	result := make([]*Transaction, 0)
	for rows.Next() {
		var (
			trx                                    Transaction
			kind, exchange                         string
			price, amount, realized, before, after string
		)
		if err := rows.Scan(&trx.ID, &trx.PortfolioID, &kind, &trx.Symbol, &exchange, &trx.Quantity,
			&price, &amount, &realized, &before, &after, &trx.SourceID, &trx.Date); err != nil {
			return nil, err
		}
		trx.Kind = TransactionKind(kind)
		trx.Exchange = data.Exchange(exchange)
		if err := parseDecimals(
			decimalField{price, &trx.Price},
			decimalField{amount, &trx.Amount},
			decimalField{realized, &trx.RealizedPnL},
			decimalField{before, &trx.CashBefore},
			decimalField{after, &trx.CashAfter},
		); err != nil {
			return nil, err
		}
		result = append(result, &trx)
	}

	return result, rows.Err()
}

type decimalField struct {
	raw string
	out *decimal.Decimal
}

func parseDecimals(fields ...decimalField) error {
	for _, f := range fields {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return err
		}
		*f.out = d
	}
	return nil
}
