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
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// PriceLog is the value of a portfolio at the end of a calendar day
type PriceLog struct {
	PortfolioID   uuid.UUID       `json:"portfolioID"`
	Date          time.Time       `json:"date"`
	TotalValue    decimal.Decimal `json:"totalValue"`
	CashBalance   decimal.Decimal `json:"cashBalance"`
	HoldingsValue decimal.Decimal `json:"holdingsValue"`
}

// SavePriceLog upserts the snapshot for entry.Date so repeated closing runs on
// the same day keep a single row
func (s *PgStore) SavePriceLog(ctx context.Context, entry *PriceLog) error {
	_, err := s.db.Exec(ctx, `INSERT INTO price_logs (portfolio_id, log_date, total_value, cash_balance, holdings_value)
	VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric)
	ON CONFLICT (portfolio_id, log_date) DO UPDATE SET
		total_value = EXCLUDED.total_value,
		cash_balance = EXCLUDED.cash_balance,
		holdings_value = EXCLUDED.holdings_value`,
		entry.PortfolioID, entry.Date, entry.TotalValue.String(), entry.CashBalance.String(), entry.HoldingsValue.String())
	if err != nil {
		log.Error().Stack().Err(err).Str("PortfolioID", entry.PortfolioID.String()).Time("Date", entry.Date).Msg("could not save price log")
		return err
	}
	return nil
}

// PriceLogs returns the snapshots between from and to inclusive, oldest first
func (s *PgStore) PriceLogs(ctx context.Context, id uuid.UUID, from, to time.Time) ([]*PriceLog, error) {
	rows, err := s.db.Query(ctx, `SELECT log_date, total_value::text, cash_balance::text, holdings_value::text
	FROM price_logs WHERE portfolio_id = $1 AND log_date BETWEEN $2 AND $3 ORDER BY log_date`, id, from, to)
	if err != nil {
		log.Error().Stack().Err(err).Str("PortfolioID", id.String()).Msg("could not query price logs")
		return nil, err
	}
	defer rows.Close()

	logs := make([]*PriceLog, 0)
	for rows.Next() {
		entry := &PriceLog{PortfolioID: id}
		var total, cash, holdings string
		if err := rows.Scan(&entry.Date, &total, &cash, &holdings); err != nil {
			return nil, err
		}
		if err := parseDecimals(
			decimalField{total, &entry.TotalValue},
			decimalField{cash, &entry.CashBalance},
			decimalField{holdings, &entry.HoldingsValue},
		); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}

	return logs, rows.Err()
}
