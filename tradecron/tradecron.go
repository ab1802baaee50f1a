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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

var (
	ErrConflictingModifiers = errors.New("conflicting modifiers in tradecron spec")
	ErrUnknownModifier      = errors.New("unknown tradecron modifier")
	ErrMalformedTimeSpec    = errors.New("malformed tradecron time spec")
	ErrFieldOutOfBounds     = errors.New("tradecron field out of bounds")
)

const (
	AtOpen       = "@open"
	AtClose      = "@close"
	AtWeekBegin  = "@weekbegin"
	AtWeekEnd    = "@weekend"
	AtMonthBegin = "@monthbegin"
	AtMonthEnd   = "@monthend"
)

type MarketHours struct {
	Open  int
	Close int
}

type TradeCron struct {
	Schedule       cron.Schedule
	ScheduleString string
	TimeSpec       string
	TimeFlag       string
	DateFlag       string
	marketStatus   *MarketStatus
}

// Hours are HHMM in the market timezone
var (
	RegularHours = MarketHours{
		Open:  915,
		Close: 1530,
	}
	// ExtendedHours covers the NSE pre-open and closing sessions
	ExtendedHours = MarketHours{
		Open:  900,
		Close: 1600,
	}
)

// TradeCron enables market aware scheduling. It supports schedules via the standard
// CRON format of: Minutes(Min) Hours(H) DayOfMonth(DoM) Month(M) DayOfWeek(DoW)
// See: https://en.wikipedia.org/wiki/Cron
//
// '*' wildcards only execute during market open hours; schedules anchored with
// @open or @close run on every trading day even when the anchored time falls
// outside market hours (e.g. 15 minutes after the close)
//
// Additional market-aware modifiers are supported:
//
//	@open       - Run at market open; replaces Minute and Hour field
//	              e.g., @open * * *
//	@close      - Run at market close; replaces Minute and Hour field
//	@weekbegin  - Run on first trading day of week; replaces DayOfMonth field
//	@weekend    - Run on last trading day of week; replaces DayOfMonth field
//	@monthbegin - Run at market open or timespec on first trading day of month
//	@monthend   - Run at market close or timespec on last trading day of month
//
// Examples:
//   - every 5 minutes: */5 * * * *
//   - market open on tuesdays: @open * * 2
//   - 15 minutes after market open: @open 15
//   - an hour before market close: @close -60
//   - market open on first trading day of week: @weekbegin
//   - market open on last trading day of month: @open @monthend
//
// cal supplies market holidays; a nil calendar treats every weekday as a
// trading day.
func New(cronSpec string, hours MarketHours, cal *Calendar) (*TradeCron, error) {
	fields, modifiers := splitModifiers(expandBriefFormat(strings.TrimSpace(cronSpec)))

	timeFlag, dateFlag, err := classifyModifiers(modifiers)
	if err != nil {
		return nil, err
	}

	timeSpec := strings.Join(fields, " ")
	switch timeFlag {
	case AtOpen:
		timeSpec, err = parseTimeRelativeTo(fields, hours.Open/100, hours.Open%100)
	case AtClose:
		timeSpec, err = parseTimeRelativeTo(fields, hours.Close/100, hours.Close%100)
	}
	if err != nil {
		return nil, err
	}

	schedule, err := specParser.Parse(timeSpec)
	if err != nil {
		log.Error().Err(err).Str("TimeSpec", timeSpec).Str("TradeCronSpec", cronSpec).Msg("robfig/cron could not parse timespec")
		return nil, err
	}

	return &TradeCron{
		Schedule:       schedule,
		ScheduleString: cronSpec,
		TimeSpec:       timeSpec,
		DateFlag:       dateFlag,
		TimeFlag:       timeFlag,
		marketStatus:   NewMarketStatus(&hours, cal),
	}, nil
}

var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// modifierSlot records which part of the schedule a modifier replaces; at most
// one modifier may fill each slot
var modifierSlot = map[string]string{
	AtOpen:       "time",
	AtClose:      "time",
	AtWeekBegin:  "date",
	AtWeekEnd:    "date",
	AtMonthBegin: "date",
	AtMonthEnd:   "date",
}

// splitModifiers separates the @ modifiers from the cron fields
func splitModifiers(spec string) (fields []string, modifiers []string) {
	for _, token := range strings.Split(spec, " ") {
		switch {
		case token == "":
		case token[0] == '@':
			modifiers = append(modifiers, token)
		default:
			fields = append(fields, token)
		}
	}
	return fields, modifiers
}

func classifyModifiers(modifiers []string) (timeFlag string, dateFlag string, err error) {
	for _, modifier := range modifiers {
		slot, ok := modifierSlot[modifier]
		if !ok {
			return "", "", fmt.Errorf("%w: %s", ErrUnknownModifier, modifier)
		}

		target := &timeFlag
		if slot == "date" {
			target = &dateFlag
		}
		if *target != "" {
			return "", "", fmt.Errorf("%w: %s and %s", ErrConflictingModifiers, *target, modifier)
		}
		*target = modifier
	}
	return timeFlag, dateFlag, nil
}

// IsTradeDay evaluates the given date against the schedule and returns true if the date falls
// on a trading day according to the schedule. The time portion of the schedule is ignored when
// evaluating this function
func (tc *TradeCron) IsTradeDay(forDate time.Time) bool {
	t1 := time.Date(forDate.Year(), forDate.Month(), forDate.Day(), 0, 0, 0, 0, tc.marketStatus.tz)
	t0 := t1.AddDate(0, 0, -1)
	t0 = time.Date(t0.Year(), t0.Month(), t0.Day(), 23, 59, 59, 999_999_999, tc.marketStatus.tz)
	next := tc.Next(t0)
	nextDate := time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, tc.marketStatus.tz)
	return nextDate.Equal(t1)
}

// Next returns the first time after forDate that matches the schedule and falls
// on a trading day (or inside market hours for schedules without @open/@close)
func (tc *TradeCron) Next(forDate time.Time) time.Time {
	checkDate := tc.anchor(forDate, tc.Schedule.Next(forDate))

	const maxIters = 5000
	for iter := 0; ; iter++ {
		checkDate = tc.Schedule.Next(checkDate)
		if tc.eligible(checkDate) {
			return checkDate
		}
		if iter > maxIters {
			log.Panic().Str("TimeSpec", tc.TimeSpec).Msg("something is wrong with tradecron schedule as it appears to be in an infinite loop")
		}
	}
}

func (tc *TradeCron) eligible(t time.Time) bool {
	if tc.TimeFlag != "" {
		return tc.marketStatus.IsMarketDay(t)
	}
	return tc.marketStatus.IsMarketOpen(t)
}

func (tc *TradeCron) midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, tc.marketStatus.tz)
}

// anchor fast-forwards the search start to the trading day selected by the
// date modifier; next is the unconstrained schedule match after forDate
func (tc *TradeCron) anchor(forDate, next time.Time) time.Time {
	ms := tc.marketStatus
	nextDay := tc.midnight(next)

	switch tc.DateFlag {
	case AtWeekBegin:
		return pickDay(nextDay, ms.NextFirstTradingDayOfWeek(forDate), forDate, ms.NextFirstTradingDayOfWeek)
	case AtWeekEnd:
		return pickDay(nextDay, ms.NextLastTradingDayOfWeek(forDate), forDate, ms.NextLastTradingDayOfWeek)
	case AtMonthBegin:
		startOfMonth := time.Date(forDate.Year(), forDate.Month(), 1, 23, 59, 59, 999_999_999, ms.tz).AddDate(0, 0, -1)
		thisMonth := ms.NextFirstTradingDayOfMonth(startOfMonth)
		nextMonth := ms.NextFirstTradingDayOfMonth(forDate)
		if nextDay.Equal(thisMonth) || nextDay.Equal(nextMonth) {
			return forDate
		}
		sameTime := time.Date(nextMonth.Year(), nextMonth.Month(), nextMonth.Day(), next.Hour(), next.Minute(), next.Second(), next.Nanosecond(), next.Location())
		if next.After(sameTime) {
			return ms.NextFirstTradingDayOfMonth(next)
		}
		return nextMonth
	case AtMonthEnd:
		following := time.Date(next.Year(), next.Month(), 1, 0, 0, 0, 0, ms.tz).AddDate(0, 1, 0)
		return pickDay(nextDay, ms.NextLastTradingDayOfMonth(next), forDate, func(time.Time) time.Time {
			return ms.NextLastTradingDayOfMonth(following)
		})
	default:
		return forDate
	}
}

// pickDay chooses where to resume the search relative to the target trading day
func pickDay(nextDay, target, forDate time.Time, after func(time.Time) time.Time) time.Time {
	switch {
	case nextDay.Before(target):
		return target
	case nextDay.Equal(target):
		return forDate
	default:
		return after(nextDay)
	}
}
