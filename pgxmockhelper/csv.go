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

package pgxmockhelper

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pashagolub/pgxmock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CSVRows loads pgxmock result rows from a CSV fixture. Column values are
// converted according to the type map; unmapped columns are passed through as
// strings. Supported conversions: date, timestamp, int, float64, nulltext and
// nulltimestamp (empty cells become nil pointers).
type CSVRows struct {
	rows    [][]any
	header  []string
	dateCol int
}

func NewCSVRows(csvFn string, typeMap map[string]string) *CSVRows {
	subLog := log.With().Str("CsvFn", csvFn).Logger()

	rows := &CSVRows{
		dateCol: -1,
		rows:    make([][]any, 0),
	}
	rawData, err := os.ReadFile(csvFn)
	if err != nil {
		subLog.Panic().Err(err).Msg("could not read file")
	}

	// break raw data into an array of lines
	lines := strings.Split(string(rawData), "\n")

	// sanity checks:
	// - array length is at least 2 (header + trailing newline)
	// - make sure last line ends in newline
	if len(lines) < 2 {
		subLog.Panic().Int("NumLines", len(lines)).Msg("input file does not have enough lines, need at least 2 (header + trailing new line)")
	}
	if lines[len(lines)-1] != "" {
		subLog.Panic().Msg("input file is missing a trailing new line")
	}

	rows.header = strings.Split(lines[0], ",")
	lines = lines[1 : len(lines)-1]

	for _, ll := range lines {
		cols := make([]any, len(rows.header))
		parts := strings.Split(ll, ",")
		if len(parts) != len(rows.header) {
			subLog.Panic().Str("Line", ll).Int("NumCols", len(parts)).Msg("row does not match header")
		}
		for idx, val := range parts {
			colName := rows.header[idx]
			switch typeMap[colName] {
			case "date":
				parsed, err := time.Parse("2006-01-02", val)
				if err != nil {
					subLog.Panic().Err(err).Str("Val", val).Msg("could not convert val to datetime of format 2006-01-02")
				}
				cols[idx] = parsed
				rows.dateCol = idx
			case "timestamp":
				cols[idx] = parseTimestamp(subLog, val)
			case "nulltimestamp":
				if val == "" {
					cols[idx] = (*time.Time)(nil)
					continue
				}
				ts := parseTimestamp(subLog, val)
				cols[idx] = &ts
			case "int":
				parsed, err := strconv.Atoi(val)
				if err != nil {
					subLog.Panic().Err(err).Str("Val", val).Msg("could not convert val to int")
				}
				cols[idx] = parsed
			case "float64":
				parsed, err := strconv.ParseFloat(val, 64)
				if err != nil {
					subLog.Panic().Err(err).Str("Val", val).Msg("could not convert val to float64")
				}
				cols[idx] = parsed
			case "nulltext":
				if val == "" {
					cols[idx] = (*string)(nil)
					continue
				}
				v := val
				cols[idx] = &v
			default:
				cols[idx] = val
			}
		}
		rows.rows = append(rows.rows, cols)
	}

	return rows
}

func parseTimestamp(subLog zerolog.Logger, val string) time.Time {
	parsed, err := time.Parse(time.RFC3339, val)
	if err != nil {
		subLog.Panic().Err(err).Str("Val", val).Msg("could not convert val to RFC3339 timestamp")
	}
	return parsed
}

// Between keeps only rows whose date column falls within [a, b]
func (csvRows *CSVRows) Between(a time.Time, b time.Time) *CSVRows {
	newRows := make([][]any, 0, len(csvRows.rows))
	if len(csvRows.rows) == 0 {
		return csvRows
	}
	if csvRows.dateCol == -1 {
		log.Panic().Time("a", a).Time("b", b).Msg("no date column found")
	}
	for _, row := range csvRows.rows {
		t := row[csvRows.dateCol].(time.Time)
		if (t.Before(b) || t.Equal(b)) && (t.After(a) || t.Equal(a)) {
			newRows = append(newRows, row)
		}
	}
	csvRows.rows = newRows
	return csvRows
}

// Len returns the number of loaded rows
func (csvRows *CSVRows) Len() int {
	return len(csvRows.rows)
}

func (csvRows *CSVRows) Rows() *pgxmock.Rows {
	r := pgxmock.NewRows(csvRows.header)
	for _, row := range csvRows.rows {
		r.AddRow(row...)
	}
	return r
}

// MockMarketHolidays expects the market holiday query and answers it from fn
func MockMarketHolidays(db pgxmock.PgxConnIface, fn string) {
	db.ExpectQuery("SELECT event_date, early_close FROM market_holidays").WillReturnRows(
		NewCSVRows(fn, map[string]string{
			"event_date":  "date",
			"early_close": "int",
		}).Rows())
}

// MockSymbols expects a symbol query and answers it from fn. Prices are
// returned as text the way the store selects them.
func MockSymbols(db pgxmock.PgxConnIface, fn string) {
	db.ExpectQuery("SELECT ticker, exchange").WillReturnRows(
		NewCSVRows(fn, map[string]string{
			"today_closing_price":      "nulltext",
			"closing_price_updated_at": "nulltimestamp",
			"last_updated":             "nulltimestamp",
		}).Rows())
}
