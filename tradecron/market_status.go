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

package tradecron

import (
	"context"
	"sync"
	"time"

	"github.com/modelfolio/folio/common"
	"github.com/modelfolio/folio/data/database"
	"github.com/rs/zerolog/log"
)

// Calendar holds the market holidays of an exchange. Days that close early
// are stored with their close time (e.g. 1300); full holidays are stored as 0.
type Calendar struct {
	mu       sync.RWMutex
	tz       *time.Location
	holidays map[int64]int
}

func NewCalendar(tz *time.Location) *Calendar {
	return &Calendar{
		tz:       tz,
		holidays: make(map[int64]int),
	}
}

// Add registers a holiday; earlyClose of 0 closes the market for the whole day
func (cal *Calendar) Add(day time.Time, earlyClose int) {
	cal.mu.Lock()
	defer cal.mu.Unlock()
	cal.holidays[cal.midnight(day).Unix()] = earlyClose
}

// Len returns the number of holidays in the calendar
func (cal *Calendar) Len() int {
	cal.mu.RLock()
	defer cal.mu.RUnlock()
	return len(cal.holidays)
}

func (cal *Calendar) lookup(t time.Time) (int, bool) {
	if cal == nil {
		return 0, false
	}
	cal.mu.RLock()
	defer cal.mu.RUnlock()
	close, ok := cal.holidays[cal.midnight(t).Unix()]
	return close, ok
}

func (cal *Calendar) midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, cal.tz)
}

// LoadCalendar retrieves market holidays from the database
func LoadCalendar(ctx context.Context, db database.PgxIface) (*Calendar, error) {
	cal := NewCalendar(common.GetTimezone())

	rows, err := db.Query(ctx, "SELECT event_date, early_close FROM market_holidays ORDER BY event_date ASC")
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not load market holidays")
		return nil, err
	}
	defer rows.Close()

	var dt time.Time
	var earlyClose int
	for rows.Next() {
		if err := rows.Scan(&dt, &earlyClose); err != nil {
			log.Error().Stack().Err(err).Msg("could not scan market holiday")
			return nil, err
		}
		cal.Add(dt, earlyClose)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	log.Debug().Int("NumHolidays", cal.Len()).Msg("loaded market holidays")
	return cal, nil
}

type MarketStatus struct {
	marketHours *MarketHours
	calendar    *Calendar
	tz          *time.Location
}

func NewMarketStatus(hours *MarketHours, cal *Calendar) *MarketStatus {
	tz := common.GetTimezone()
	if cal != nil {
		tz = cal.tz
	}
	return &MarketStatus{
		marketHours: hours,
		calendar:    cal,
		tz:          tz,
	}
}

// EarlyClose returns close time of an early close market day, e.g. 1300
func (ms *MarketStatus) EarlyClose(t time.Time) int {
	close, _ := ms.calendar.lookup(t)
	return close
}

// IsMarketHoliday returns true if the specified date is a market holiday
func (ms *MarketStatus) IsMarketHoliday(t time.Time) bool {
	close, ok := ms.calendar.lookup(t)
	if close != 0 {
		return false
	}
	return ok
}

// IsMarketOpen returns true if the specified time is during market hours
// (i.e. not a market holiday or weekend)
func (ms *MarketStatus) IsMarketOpen(t time.Time) bool {
	if !ms.IsMarketDay(t) {
		return false
	}

	closeTime := ms.marketHours.Close
	if earlyClose := ms.EarlyClose(t); earlyClose != 0 {
		closeTime = earlyClose
	}

	timeOfDay := t.Hour()*100 + t.Minute()
	if timeOfDay < ms.marketHours.Open || timeOfDay > closeTime {
		return false
	}

	return true
}

// IsMarketDay returns true if the specified date is a valid trading day
// (i.e. not a market holiday or weekend)
func (ms *MarketStatus) IsMarketDay(t time.Time) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !ms.IsMarketHoliday(t)
}

// NextFirstTradingDayOfMonth returns the first trading day of the next month
func (ms *MarketStatus) NextFirstTradingDayOfMonth(t time.Time) time.Time {
	d := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, ms.tz)
	d = d.AddDate(0, 1, 0)
	for !ms.IsMarketDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// NextFirstTradingDayOfWeek returns the first trading day of the week.
func (ms *MarketStatus) NextFirstTradingDayOfWeek(t time.Time) time.Time {
	daysToWeekBegin := (8 - t.Weekday()) % 7
	t2 := t.AddDate(0, 0, int(daysToWeekBegin))
	for !ms.IsMarketDay(t2) {
		t2 = t2.AddDate(0, 0, 1)
	}

	return time.Date(t2.Year(), t2.Month(), t2.Day(), 0, 0, 0, 0, ms.tz)
}

// NextLastTradingDayOfMonth returns the last trading day of the specified month; where a trading day is defined
// as a day the market is open
func (ms *MarketStatus) NextLastTradingDayOfMonth(t time.Time) time.Time {
	firstOfMonth := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, ms.tz)
	lastOfMonth := firstOfMonth.AddDate(0, 1, -1)
	for !ms.IsMarketDay(lastOfMonth) {
		lastOfMonth = lastOfMonth.AddDate(0, 0, -1)
	}
	return lastOfMonth
}

// NextLastTradingDayOfWeek returns the next last trading day of week
func (ms *MarketStatus) NextLastTradingDayOfWeek(t time.Time) time.Time {
	daysToFriday := time.Friday - t.Weekday()
	lastDayOfWeek := t.AddDate(0, 0, int(daysToFriday))
	for !ms.IsMarketDay(lastDayOfWeek) {
		lastDayOfWeek = lastDayOfWeek.AddDate(0, 0, -1)
	}

	return time.Date(lastDayOfWeek.Year(), lastDayOfWeek.Month(), lastDayOfWeek.Day(), 0, 0, 0, 0, ms.tz)
}
