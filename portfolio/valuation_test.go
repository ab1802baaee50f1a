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

package portfolio_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/modelfolio/folio/data"
	"github.com/modelfolio/folio/portfolio"
)

var _ = Describe("HoldingValuation", func() {
	DescribeTable("market value",
		func(qty int64, price string, expected string) {
			h := &portfolio.Holding{Symbol: "INFY", Exchange: data.NSE, BuyPrice: dec("100"), Quantity: qty}
			Expect(portfolio.MarketValue(h, dec(price)).StringFixed(2)).To(Equal(expected))
		},
		Entry("open holding", int64(10), "123.45", "1234.50"),
		Entry("fractional paise are rounded", int64(3), "10.005", "30.02"),
		Entry("closed holding is worth nothing", int64(0), "999.99", "0.00"),
	)

	DescribeTable("unrealized pnl",
		func(buy string, qty int64, price string, amount string, percent string) {
			h := &portfolio.Holding{Symbol: "INFY", Exchange: data.NSE, BuyPrice: dec(buy), Quantity: qty}
			a, p := portfolio.UnrealizedPnL(h, dec(price))
			Expect(a.StringFixed(2)).To(Equal(amount))
			Expect(p.StringFixed(2)).To(Equal(percent))
		},
		Entry("gain", "100", int64(10), "110", "100.00", "10.00"),
		Entry("loss", "850", int64(25), "657.25", "-4818.75", "-22.68"),
		Entry("zero cost basis", "0", int64(10), "50", "500.00", "0.00"),
		Entry("closed holding", "850", int64(0), "657.25", "0.00", "0.00"),
	)

	It("does not touch a closed holding when applying metrics", func() {
		h := &portfolio.Holding{Symbol: "SUPRIYA", Exchange: data.NSE, BuyPrice: dec("850"), Quantity: 0,
			MinimumInvestmentValueStock: dec("21250"), CurrentPrice: dec("657.25")}
		h.ApplyMetrics(portfolio.Metrics(h, dec("700")))
		Expect(h.CurrentPrice.Equal(dec("657.25"))).To(BeTrue())
		Expect(h.BuyPrice.Equal(dec("850"))).To(BeTrue())
		Expect(h.MinimumInvestmentValueStock.Equal(dec("21250"))).To(BeTrue())
	})

	Describe("effective price", func() {
		var (
			now    time.Time
			sym    *data.Symbol
			window = 24 * time.Hour
		)

		BeforeEach(func() {
			now = time.Date(2023, 3, 10, 16, 0, 0, 0, time.UTC)
			closedAt := now.Add(-2 * time.Hour)
			sym = &data.Symbol{
				Ticker:                "TCS",
				Exchange:              data.NSE,
				CurrentPrice:          dec("3400.10"),
				PreviousPrice:         dec("3390.00"),
				TodayClosingPrice:     decimal.NewNullDecimal(dec("3398.55")),
				ClosingPriceUpdatedAt: &closedAt,
			}
		})

		It("uses the current price in regular mode", func() {
			price, err := portfolio.EffectivePrice(sym, now, portfolio.RegularPrice, window)
			Expect(err).NotTo(HaveOccurred())
			Expect(price.String()).To(Equal("3400.1"))
		})

		It("uses a fresh closing price in closing mode", func() {
			price, err := portfolio.EffectivePrice(sym, now, portfolio.ClosingPrice, window)
			Expect(err).NotTo(HaveOccurred())
			Expect(price.String()).To(Equal("3398.55"))
		})

		It("ignores a stale closing price", func() {
			stale := now.Add(-25 * time.Hour)
			sym.ClosingPriceUpdatedAt = &stale
			price, err := portfolio.EffectivePrice(sym, now, portfolio.ClosingPrice, window)
			Expect(err).NotTo(HaveOccurred())
			Expect(price.String()).To(Equal("3400.1"))
		})

		It("honors a configured window", func() {
			stale := now.Add(-25 * time.Hour)
			sym.ClosingPriceUpdatedAt = &stale
			price, err := portfolio.EffectivePrice(sym, now, portfolio.ClosingPrice, 48*time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(price.String()).To(Equal("3398.55"))
		})

		It("falls back to the current price when no closing price is set", func() {
			sym.TodayClosingPrice = decimal.NullDecimal{}
			price, err := portfolio.EffectivePrice(sym, now, portfolio.ClosingPrice, window)
			Expect(err).NotTo(HaveOccurred())
			Expect(price.String()).To(Equal("3400.1"))
		})

		It("reports an unknown symbol as unavailable", func() {
			_, err := portfolio.EffectivePrice(nil, now, portfolio.RegularPrice, window)
			Expect(err).To(MatchError(data.ErrPriceUnavailable))
		})

		It("reports a symbol without a price as unavailable", func() {
			sym.CurrentPrice = decimal.Zero
			_, err := portfolio.EffectivePrice(sym, now, portfolio.RegularPrice, window)
			Expect(err).To(MatchError(data.ErrPriceUnavailable))
		})
	})
})

var _ = DescribeTable("ParsePriceMode",
	func(s string, expected portfolio.PriceMode, ok bool) {
		mode, err := portfolio.ParsePriceMode(s)
		if !ok {
			Expect(err).To(MatchError(portfolio.ErrUnknownPriceMode))
			return
		}
		Expect(err).NotTo(HaveOccurred())
		Expect(mode).To(Equal(expected))
		Expect(mode.String()).To(Equal(expected.String()))
	},
	Entry("regular", "regular", portfolio.RegularPrice, true),
	Entry("closing", "closing", portfolio.ClosingPrice, true),
	Entry("empty defaults to regular", "", portfolio.RegularPrice, true),
	Entry("unknown", "intraday", portfolio.RegularPrice, false),
)
