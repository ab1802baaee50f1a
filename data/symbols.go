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

package data

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/modelfolio/folio/data/database"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const symbolColumns = `ticker, exchange, current_price::text, previous_price::text,
	today_closing_price::text, closing_price_updated_at, last_updated`

// SymbolStore is the PostgreSQL backed symbol registry
type SymbolStore struct {
	db  database.PgxIface
	now func() time.Time
}

func NewSymbolStore(db database.PgxIface) *SymbolStore {
	return &SymbolStore{
		db:  db,
		now: time.Now,
	}
}

// WithClock replaces the clock used to stamp price updates
func (s *SymbolStore) WithClock(now func() time.Time) *SymbolStore {
	s.now = now
	return s
}

func scanSymbols(rows pgx.Rows) ([]*Symbol, error) {
	defer rows.Close()

	result := make([]*Symbol, 0)
	for rows.Next() {
		var (
			ticker, exchange      string
			current, previous     string
			closing               *string
			closingAt, lastUpdate *time.Time
		)

		if err := rows.Scan(&ticker, &exchange, &current, &previous, &closing, &closingAt, &lastUpdate); err != nil {
			return nil, err
		}

		sym := &Symbol{
			Ticker:                ticker,
			Exchange:              Exchange(exchange),
			ClosingPriceUpdatedAt: closingAt,
			LastUpdated:           lastUpdate,
		}

		var err error
		if sym.CurrentPrice, err = decimal.NewFromString(current); err != nil {
			return nil, fmt.Errorf("current price of %s: %w", sym.Key(), err)
		}
		if sym.PreviousPrice, err = decimal.NewFromString(previous); err != nil {
			return nil, fmt.Errorf("previous price of %s: %w", sym.Key(), err)
		}
		if closing != nil {
			closingPrice, err := decimal.NewFromString(*closing)
			if err != nil {
				return nil, fmt.Errorf("closing price of %s: %w", sym.Key(), err)
			}
			sym.TodayClosingPrice = decimal.NewNullDecimal(closingPrice)
		}

		result = append(result, sym)
	}

	return result, rows.Err()
}

func splitKeys(keys []SymbolKey) (tickers []string, exchanges []string) {
	tickers = make([]string, len(keys))
	exchanges = make([]string, len(keys))
	for idx, k := range keys {
		tickers[idx] = k.Ticker
		exchanges[idx] = string(k.Exchange)
	}
	return
}

// Symbols returns the registry entries for keys
func (s *SymbolStore) Symbols(ctx context.Context, keys []SymbolKey) (map[SymbolKey]*Symbol, error) {
	result := make(map[SymbolKey]*Symbol, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	tickers, exchanges := splitKeys(keys)
	rows, err := s.db.Query(ctx, `SELECT `+symbolColumns+` FROM symbols
	WHERE (ticker, exchange) IN (SELECT * FROM unnest($1::text[], $2::text[]))`, tickers, exchanges)
	if err != nil {
		log.Error().Stack().Err(err).Int("NumSymbols", len(keys)).Msg("could not query symbols")
		return nil, err
	}

	symbols, err := scanSymbols(rows)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not scan symbols")
		return nil, err
	}

	for _, sym := range symbols {
		result[sym.Key()] = sym
	}
	return result, nil
}

// List returns every symbol in the registry ordered by exchange and ticker
func (s *SymbolStore) List(ctx context.Context) ([]*Symbol, error) {
	rows, err := s.db.Query(ctx, `SELECT `+symbolColumns+` FROM symbols ORDER BY exchange, ticker`)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not list symbols")
		return nil, err
	}
	return scanSymbols(rows)
}

// Tracked returns the keys of every symbol in the registry
func (s *SymbolStore) Tracked(ctx context.Context) ([]SymbolKey, error) {
	rows, err := s.db.Query(ctx, "SELECT ticker, exchange FROM symbols ORDER BY exchange, ticker")
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not query tracked symbols")
		return nil, err
	}
	defer rows.Close()

	keys := make([]SymbolKey, 0)
	for rows.Next() {
		var ticker, exchange string
		if err := rows.Scan(&ticker, &exchange); err != nil {
			log.Error().Stack().Err(err).Msg("could not scan tracked symbol")
			return nil, err
		}
		keys = append(keys, SymbolKey{Ticker: ticker, Exchange: Exchange(exchange)})
	}

	return keys, rows.Err()
}

// ApplyQuotes moves current_price into previous_price and stores the new price
// for every update in one statement. Closing runs also set the closing price.
func (s *SymbolStore) ApplyQuotes(ctx context.Context, updates []PriceUpdate, closing bool) error {
	if len(updates) == 0 {
		return nil
	}

	tickers := make([]string, len(updates))
	exchanges := make([]string, len(updates))
	prices := make([]string, len(updates))
	for idx, u := range updates {
		tickers[idx] = u.Key.Ticker
		exchanges[idx] = string(u.Key.Exchange)
		prices[idx] = u.Price.String()
	}

	closingSet := ""
	if closing {
		closingSet = ", today_closing_price = u.price::numeric, closing_price_updated_at = $4"
	}

	sql := `UPDATE symbols s SET previous_price = s.current_price, current_price = u.price::numeric, last_updated = $4` + closingSet + `
	FROM (SELECT * FROM unnest($1::text[], $2::text[], $3::text[]) AS t(ticker, exchange, price)) u
	WHERE s.ticker = u.ticker AND s.exchange = u.exchange`

	tag, err := s.db.Exec(ctx, sql, tickers, exchanges, prices, s.now())
	if err != nil {
		log.Error().Stack().Err(err).Int("NumUpdates", len(updates)).Bool("Closing", closing).Msg("bulk price update failed")
		return err
	}

	if int(tag.RowsAffected()) != len(updates) {
		log.Warn().Int64("RowsAffected", tag.RowsAffected()).Int("NumUpdates", len(updates)).Msg("bulk price update did not touch every symbol")
	}

	return nil
}

// Add registers a new symbol with an initial price
func (s *SymbolStore) Add(ctx context.Context, key SymbolKey, price decimal.Decimal) error {
	tag, err := s.db.Exec(ctx, `INSERT INTO symbols (ticker, exchange, current_price, previous_price, last_updated)
	VALUES ($1, $2, $3::numeric, $3::numeric, $4) ON CONFLICT DO NOTHING`, key.Ticker, string(key.Exchange), price.String(), s.now())
	if err != nil {
		log.Error().Stack().Err(err).Str("Symbol", key.String()).Msg("could not insert symbol")
		return err
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSymbolExists, key)
	}

	return nil
}
