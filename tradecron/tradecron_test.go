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

package tradecron_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"

	"github.com/modelfolio/folio/common"
	"github.com/modelfolio/folio/pgxmockhelper"
	"github.com/modelfolio/folio/tradecron"
)

func ist(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, common.GetTimezone())
}

var _ = Describe("Tradecron", func() {
	var (
		dbPool   pgxmock.PgxConnIface
		calendar *tradecron.Calendar
	)

	BeforeEach(func() {
		var err error
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())

		pgxmockhelper.MockMarketHolidays(dbPool, "../testdata/market_holidays.csv")
		calendar, err = tradecron.LoadCalendar(context.Background(), dbPool)
		Expect(err).To(BeNil())
		Expect(dbPool.ExpectationsWereMet()).To(Succeed())
	})

	It("loads every holiday in the fixture", func() {
		Expect(calendar.Len()).To(Equal(15))
	})

	It("surfaces database errors when loading holidays", func() {
		dbPool.ExpectQuery("SELECT event_date, early_close FROM market_holidays").WillReturnError(errors.New("connection reset"))
		_, err := tradecron.LoadCalendar(context.Background(), dbPool)
		Expect(err).To(MatchError("connection reset"))
	})

	DescribeTable("when parsing tradecron spec",
		func(spec string, hours tradecron.MarketHours, expectedTimeSpec string, expectedTimeFlag string, expectedDateFlag string, expectedError error) {
			cron, err := tradecron.New(spec, hours, calendar)
			if expectedError == nil {
				Expect(err).To(BeNil())
				Expect(cron.ScheduleString).To(Equal(spec))
				Expect(cron.TimeSpec).To(Equal(expectedTimeSpec))
				Expect(cron.TimeFlag).To(Equal(expectedTimeFlag))
				Expect(cron.DateFlag).To(Equal(expectedDateFlag))
			} else {
				Expect(err).To(MatchError(expectedError))
			}
		},
		Entry("every 5 minutes", "*/5 * * * *", tradecron.RegularHours, "*/5 * * * *", "", "", nil),
		Entry("every 5 minutes brief form", "*/5", tradecron.RegularHours, "*/5 * * * *", "", "", nil),
		Entry("every 5 minutes 3 of 5 fields specified", "*/5 * *", tradecron.RegularHours, "*/5 * * * *", "", "", nil),
		Entry("every 5 minutes trailing whitespace", "*/5 ", tradecron.RegularHours, "*/5 * * * *", "", "", nil),
		Entry("every 5 minutes leading whitespace", " */5", tradecron.RegularHours, "*/5 * * * *", "", "", nil),
		Entry("malformed timespec with invalid characters", "$/5 * * * *", tradecron.RegularHours, "", "", "", errors.New("failed to parse int from $: strconv.Atoi: parsing \"$\": invalid syntax")),
		Entry("at market open", "@open", tradecron.RegularHours, "15 9 * * *", "@open", "", nil),
		Entry("15 minutes after market open", "@open 15", tradecron.RegularHours, "30 9 * * *", "@open", "", nil),
		Entry("5 minutes before market open", "@open -5 0 * * *", tradecron.RegularHours, "10 9 * * *", "@open", "", nil),
		Entry("1 hour after market open", "@open 0 1 * * *", tradecron.RegularHours, "15 10 * * *", "@open", "", nil),
		Entry("90 minutes after market open", "@open 90 0 * * *", tradecron.RegularHours, "45 10 * * *", "@open", "", nil),
		Entry("15 hours after market open", "@open 0 15 * * *", tradecron.RegularHours, "", "", "", tradecron.ErrFieldOutOfBounds),
		Entry("10 hours before market open", "@open 0 -10 * * *", tradecron.RegularHours, "", "", "", tradecron.ErrFieldOutOfBounds),
		Entry("15 minutes after market close", "@close 15", tradecron.RegularHours, "45 15 * * *", "@close", "", nil),
		Entry("an hour before market close", "@close -60", tradecron.RegularHours, "30 14 * * *", "@close", "", nil),
		Entry("1 hour after market close", "@close 0 1 * * *", tradecron.RegularHours, "30 16 * * *", "@close", "", nil),
		Entry("9 hours after market close", "@close 0 9 * * *", tradecron.RegularHours, "", "", "", tradecron.ErrFieldOutOfBounds),
		Entry("5 minutes after market open, extended hours", "@open 5 0 * * *", tradecron.ExtendedHours, "5 9 * * *", "@open", "", nil),
		Entry("5 minutes before market close, extended hours", "@close -5 0 * * *", tradecron.ExtendedHours, "55 15 * * *", "@close", "", nil),
		Entry("annually", "@monthend * * * 12 *", tradecron.RegularHours, "* * * 12 *", "", "@monthend", nil),
		Entry("both @open @close specified", "@open @close", tradecron.RegularHours, "", "", "", tradecron.ErrConflictingModifiers),
		Entry("both @weekbegin @weekend specified", "@weekbegin @weekend", tradecron.RegularHours, "", "", "", tradecron.ErrConflictingModifiers),
		Entry("both @weekbegin @monthend specified", "@weekbegin @monthend", tradecron.RegularHours, "", "", "", tradecron.ErrConflictingModifiers),
		Entry("both @monthbegin @monthend specified", "@monthbegin @monthend", tradecron.RegularHours, "", "", "", tradecron.ErrConflictingModifiers),
		Entry("@weekbegin with interval", "@weekbegin */5", tradecron.RegularHours, "*/5 * * * *", "", "@weekbegin", nil),
		Entry("unknown modifier", "@modifier", tradecron.RegularHours, "", "", "", tradecron.ErrUnknownModifier),
	)

	DescribeTable("when evaluating next trade day",
		func(spec string, hours tradecron.MarketHours, given time.Time, expected time.Time) {
			cron, err := tradecron.New(spec, hours, calendar)
			Expect(err).To(BeNil())
			Expect(cron.Next(given)).To(BeTemporally("==", expected))
		},
		Entry("every 5 minutes starting on saturday", "*/5 * * * *", tradecron.RegularHours, ist(2023, 7, 15, 0, 0), ist(2023, 7, 17, 9, 15)),
		Entry("every 5 minutes starting on monday at market open", "*/5 * * * *", tradecron.RegularHours, ist(2023, 7, 17, 9, 15), ist(2023, 7, 17, 9, 20)),
		Entry("every 5 minutes starting on monday at market close", "*/5 * * * *", tradecron.RegularHours, ist(2023, 7, 17, 15, 30), ist(2023, 7, 18, 9, 15)),
		Entry("every 5 minutes starting on monday, extended hours", "*/5 * * * *", tradecron.ExtendedHours, ist(2023, 7, 17, 0, 0), ist(2023, 7, 17, 9, 0)),
		Entry("every 5 minutes starting on republic day", "*/5 * * * *", tradecron.RegularHours, ist(2023, 1, 26, 0, 0), ist(2023, 1, 27, 9, 15)),
		Entry("15 minutes after open skips holi", "@open 15", tradecron.RegularHours, ist(2023, 3, 6, 10, 0), ist(2023, 3, 8, 9, 30)),
		Entry("15 minutes after close runs outside market hours", "@close 15", tradecron.RegularHours, ist(2023, 3, 10, 16, 0), ist(2023, 3, 13, 15, 45)),
		Entry("an hour before close skips independence day", "@close -60", tradecron.RegularHours, ist(2023, 8, 14, 15, 0), ist(2023, 8, 16, 14, 30)),
		Entry("month end skips ram navami", "@monthend", tradecron.RegularHours, ist(2023, 3, 1, 0, 0), ist(2023, 3, 31, 9, 15)),
		Entry("month begin skips gandhi jayanti", "@monthbegin", tradecron.RegularHours, ist(2023, 9, 25, 13, 0), ist(2023, 10, 3, 9, 15)),
		Entry("week begin skips gandhi jayanti", "@weekbegin", tradecron.RegularHours, ist(2023, 10, 2, 0, 0), ist(2023, 10, 3, 9, 15)),
		Entry("week end", "@weekend", tradecron.RegularHours, ist(2023, 10, 2, 0, 0), ist(2023, 10, 6, 9, 15)),
	)

	DescribeTable("when evaluating IsTradeDay",
		func(spec string, given time.Time, expected bool) {
			cron, err := tradecron.New(spec, tradecron.RegularHours, calendar)
			Expect(err).To(BeNil())
			Expect(cron.IsTradeDay(given)).To(Equal(expected))
		},
		Entry("closing run on holi", "@close 15", ist(2023, 3, 7, 0, 0), false),
		Entry("closing run the day after holi", "@close 15", ist(2023, 3, 8, 0, 0), true),
		Entry("closing run on saturday", "@close 15", ist(2023, 3, 11, 0, 0), false),
		Entry("month end on last trading day", "@monthend", ist(2023, 3, 31, 0, 0), true),
		Entry("month end on holiday before month end", "@monthend", ist(2023, 3, 30, 0, 0), false),
		Entry("week begin after monday holiday", "@weekbegin", ist(2023, 10, 3, 0, 0), true),
		Entry("week begin mid week", "@weekbegin", ist(2023, 10, 4, 0, 0), false),
	)

	Context("with an early close", func() {
		It("closes the market at the early close time", func() {
			cal := tradecron.NewCalendar(common.GetTimezone())
			cal.Add(ist(2023, 11, 13, 0, 0), 1300)
			status := tradecron.NewMarketStatus(&tradecron.RegularHours, cal)

			Expect(status.IsMarketDay(ist(2023, 11, 13, 0, 0))).To(BeTrue())
			Expect(status.IsMarketOpen(ist(2023, 11, 13, 12, 55))).To(BeTrue())
			Expect(status.IsMarketOpen(ist(2023, 11, 13, 13, 5))).To(BeFalse())
		})

		It("treats every weekday as a trading day without a calendar", func() {
			cron, err := tradecron.New("*/5", tradecron.RegularHours, nil)
			Expect(err).To(BeNil())
			Expect(cron.Next(ist(2023, 1, 26, 0, 0))).To(BeTemporally("==", ist(2023, 1, 26, 9, 15)))
		})
	})
})
