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
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/modelfolio/folio/data/database"
	"github.com/rs/zerolog/log"
)

// AuditSink receives the trace of every valuation run. It never influences
// the valuation itself.
type AuditSink interface {
	Append(ctx context.Context, entry *CalculationLog) error
	Read(ctx context.Context, filter AuditFilter) ([]*CalculationLog, error)
}

// AuditFilter narrows Read; zero values match everything
type AuditFilter struct {
	PortfolioID uuid.UUID
	Status      string
	Since       time.Time
	Limit       int
}

// PgAuditLog stores calculation logs in the calculation_logs table
type PgAuditLog struct {
	db database.PgxIface
}

func NewPgAuditLog(db database.PgxIface) *PgAuditLog {
	return &PgAuditLog{db: db}
}

func (a *PgAuditLog) Append(ctx context.Context, entry *CalculationLog) error {
	steps, err := json.Marshal(entry.Steps)
	if err != nil {
		return err
	}

	_, err = a.db.Exec(ctx, `INSERT INTO calculation_logs (id, portfolio_id, mode, status, started_at, completed_at, steps)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.PortfolioID, entry.Mode, entry.Status, entry.StartedAt, entry.CompletedAt, steps)
	if err != nil {
		log.Error().Stack().Err(err).Str("PortfolioID", entry.PortfolioID.String()).Msg("could not append calculation log")
		return err
	}
	return nil
}

func (a *PgAuditLog) Read(ctx context.Context, filter AuditFilter) ([]*CalculationLog, error) {
	where := make([]string, 0, 3)
	args := make([]interface{}, 0, 4)

	if filter.PortfolioID != uuid.Nil {
		args = append(args, filter.PortfolioID)
		where = append(where, fmt.Sprintf("portfolio_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		where = append(where, fmt.Sprintf("started_at >= $%d", len(args)))
	}

	sql := "SELECT id, portfolio_id, mode, status, started_at, completed_at, steps FROM calculation_logs"
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := a.db.Query(ctx, sql, args...)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not read calculation logs")
		return nil, err
	}
	defer rows.Close()

	entries := make([]*CalculationLog, 0)
	for rows.Next() {
		entry := &CalculationLog{}
		var steps []byte
		if err := rows.Scan(&entry.ID, &entry.PortfolioID, &entry.Mode, &entry.Status, &entry.StartedAt, &entry.CompletedAt, &steps); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(steps, &entry.Steps); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// Purge deletes calculation logs that started before cutoff and returns how
// many were removed
func (a *PgAuditLog) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := a.db.Exec(ctx, "DELETE FROM calculation_logs WHERE started_at < $1", cutoff)
	if err != nil {
		log.Error().Stack().Err(err).Time("Cutoff", cutoff).Msg("could not purge calculation logs")
		return 0, err
	}
	return tag.RowsAffected(), nil
}
