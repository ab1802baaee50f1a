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
	"math/rand"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/modelfolio/folio/data"
	"github.com/modelfolio/folio/portfolio"
)

func buy(ticker string, qty int64, price string) portfolio.Order {
	return portfolio.Order{Kind: portfolio.BuyTransaction, Symbol: nse(ticker), Quantity: qty, Price: dec(price)}
}

func sell(ticker string, qty int64, price string) portfolio.Order {
	return portfolio.Order{Kind: portfolio.SellTransaction, Symbol: nse(ticker), Quantity: qty, Price: dec(price)}
}

var _ = Describe("Transactions", func() {
	var (
		p   *portfolio.Portfolio
		now time.Time
	)

	BeforeEach(func() {
		now = time.Date(2023, 3, 10, 10, 0, 0, 0, time.UTC)
	})

	Context("selling an entire holding", func() {
		BeforeEach(func() {
			p = portfolio.New("scenario one", dec("27550.00"), dec("50000"))
			p.Holdings = append(p.Holdings, &portfolio.Holding{
				Symbol:                      "SUPRIYA",
				Exchange:                    data.NSE,
				BuyPrice:                    dec("850.00"),
				Quantity:                    25,
				Status:                      portfolio.StatusHold,
				MinimumInvestmentValueStock: dec("21250.00"),
			})
		})

		It("adds exactly the sale proceeds to cash", func() {
			trx, err := p.Sell(sell("SUPRIYA", 25, "657.25"), now)
			Expect(err).NotTo(HaveOccurred())
			Expect(trx.Amount.StringFixed(2)).To(Equal("16431.25"))
			Expect(p.CashBalance.StringFixed(2)).To(Equal("43981.25"))
			Expect(trx.CashAfter.StringFixed(2)).To(Equal("43981.25"))
		})

		It("records realized pnl separately", func() {
			trx, err := p.Sell(sell("SUPRIYA", 25, "657.25"), now)
			Expect(err).NotTo(HaveOccurred())
			Expect(trx.RealizedPnL.StringFixed(2)).To(Equal("-4818.75"))
			Expect(p.RealizedPnL.StringFixed(2)).To(Equal("-4818.75"))
			Expect(p.Holdings[0].RealizedPnL.StringFixed(2)).To(Equal("-4818.75"))
		})

		It("closes the holding and freezes its allocation", func() {
			_, err := p.Sell(sell("SUPRIYA", 25, "657.25"), now)
			Expect(err).NotTo(HaveOccurred())

			h := p.Holdings[0]
			Expect(h.Quantity).To(BeZero())
			Expect(h.Status).To(Equal(portfolio.StatusSell))
			Expect(h.State()).To(Equal(portfolio.Closed))
			Expect(h.BuyPrice.StringFixed(2)).To(Equal("850.00"))
			Expect(h.MinimumInvestmentValueStock.StringFixed(2)).To(Equal("21250.00"))
			Expect(p.Position(nse("SUPRIYA"))).To(Equal(portfolio.Closed))
		})

		It("refuses to sell the closed holding again", func() {
			_, err := p.Sell(sell("SUPRIYA", 25, "657.25"), now)
			Expect(err).NotTo(HaveOccurred())

			cash := p.CashBalance
			_, err = p.Sell(sell("SUPRIYA", 1, "657.25"), now)
			Expect(err).To(MatchError(portfolio.ErrAlreadyClosed))
			Expect(p.CashBalance.Equal(cash)).To(BeTrue())
		})

		It("opens a new holding when the symbol is bought again", func() {
			_, err := p.Sell(sell("SUPRIYA", 25, "657.25"), now)
			Expect(err).NotTo(HaveOccurred())

			_, err = p.Buy(buy("SUPRIYA", 10, "600"), now)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Holdings).To(HaveLen(2))
			Expect(p.Holdings[0].Quantity).To(BeZero())
			Expect(p.Holdings[0].MinimumInvestmentValueStock.StringFixed(2)).To(Equal("21250.00"))
			Expect(p.Holdings[1].Status).To(Equal(portfolio.StatusFreshBuy))
			Expect(p.Holdings[1].Quantity).To(Equal(int64(10)))
			Expect(p.Position(nse("SUPRIYA"))).To(Equal(portfolio.Open))
		})
	})

	Context("buying into an empty portfolio", func() {
		BeforeEach(func() {
			p = portfolio.New("scenario two", dec("5000"), dec("5000"))
		})

		It("opens a position", func() {
			Expect(p.Position(nse("INFY"))).To(Equal(portfolio.NoPosition))

			trx, err := p.Buy(buy("INFY", 10, "100.00"), now)
			Expect(err).NotTo(HaveOccurred())
			Expect(trx.Kind).To(Equal(portfolio.BuyTransaction))
			Expect(p.CashBalance.StringFixed(2)).To(Equal("4000.00"))

			h := p.OpenHolding(nse("INFY"))
			Expect(h).NotTo(BeNil())
			Expect(h.BuyPrice.StringFixed(2)).To(Equal("100.00"))
			Expect(h.Quantity).To(Equal(int64(10)))
			Expect(h.MinimumInvestmentValueStock.StringFixed(2)).To(Equal("1000.00"))
			Expect(h.Status).To(Equal(portfolio.StatusFreshBuy))
		})

		It("rejects a buy larger than cash and leaves the portfolio untouched", func() {
			before := p.Clone()
			_, err := p.Buy(buy("INFY", 51, "100.00"), now)
			Expect(err).To(MatchError(portfolio.ErrInsufficientCash))
			Expect(p).To(Equal(before))
		})

		It("allows spending the entire balance", func() {
			_, err := p.Buy(buy("INFY", 50, "100.00"), now)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.CashBalance.IsZero()).To(BeTrue())
		})

		DescribeTable("rejects malformed orders",
			func(order portfolio.Order, expected error) {
				_, err := p.Apply(order, now)
				Expect(err).To(MatchError(expected))
				Expect(p.Holdings).To(BeEmpty())
			},
			Entry("zero quantity", buy("INFY", 0, "100"), portfolio.ErrInvalidQuantity),
			Entry("negative quantity", buy("INFY", -5, "100"), portfolio.ErrInvalidQuantity),
			Entry("zero price", buy("INFY", 5, "0"), portfolio.ErrInvalidPrice),
			Entry("negative price", buy("INFY", 5, "-1"), portfolio.ErrInvalidPrice),
			Entry("sell without holding", sell("INFY", 5, "100"), portfolio.ErrHoldingNotFound),
			Entry("unknown kind", portfolio.Order{Kind: "SHORT", Symbol: nse("INFY"), Quantity: 1, Price: dec("1")}, portfolio.ErrUnknownOrderKind),
		)
	})

	Context("adding to a position", func() {
		BeforeEach(func() {
			p = portfolio.New("addon", dec("10000"), dec("0"))
			_, err := p.Buy(buy("HDFC", 10, "100"), now)
			Expect(err).NotTo(HaveOccurred())
		})

		It("blends the buy price", func() {
			_, err := p.Buy(buy("HDFC", 5, "130"), now)
			Expect(err).NotTo(HaveOccurred())

			h := p.OpenHolding(nse("HDFC"))
			Expect(h.Quantity).To(Equal(int64(15)))
			Expect(h.BuyPrice.StringFixed(2)).To(Equal("110.00"))
			Expect(h.MinimumInvestmentValueStock.StringFixed(2)).To(Equal("1650.00"))
			Expect(h.Status).To(Equal(portfolio.StatusAddonBuy))
			Expect(p.CashBalance.StringFixed(2)).To(Equal("8350.00"))
		})

		It("rounds the blended price to four places", func() {
			_, err := p.Buy(buy("HDFC", 2, "101"), now)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.OpenHolding(nse("HDFC")).BuyPrice.String()).To(Equal("100.1667"))
		})
	})

	Context("partially selling", func() {
		BeforeEach(func() {
			p = portfolio.New("scenario three", dec("1000"), dec("0"))
			p.Holdings = append(p.Holdings, &portfolio.Holding{
				Symbol:                      "TCS",
				Exchange:                    data.NSE,
				BuyPrice:                    dec("100"),
				Quantity:                    10,
				Status:                      portfolio.StatusHold,
				MinimumInvestmentValueStock: dec("1000"),
			})
		})

		It("scales the allocation by the remaining quantity", func() {
			trx, err := p.Sell(sell("TCS", 5, "120"), now)
			Expect(err).NotTo(HaveOccurred())

			h := p.Holdings[0]
			Expect(h.Quantity).To(Equal(int64(5)))
			Expect(h.Status).To(Equal(portfolio.StatusPartialSell))
			Expect(h.State()).To(Equal(portfolio.PartiallySold))
			Expect(h.MinimumInvestmentValueStock.StringFixed(2)).To(Equal("500.00"))
			Expect(p.CashBalance.StringFixed(2)).To(Equal("1600.00"))
			Expect(trx.RealizedPnL.StringFixed(2)).To(Equal("100.00"))
		})

		It("rounds the allocation on every partial sell", func() {
			p.Holdings[0].MinimumInvestmentValueStock = dec("1000.01")

			_, err := p.Sell(sell("TCS", 3, "120"), now)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Holdings[0].MinimumInvestmentValueStock.String()).To(Equal("700.01"))

			_, err = p.Sell(sell("TCS", 4, "120"), now)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Holdings[0].MinimumInvestmentValueStock.String()).To(Equal("300"))
		})

		It("rejects selling more than is held", func() {
			before := p.Clone()
			_, err := p.Sell(sell("TCS", 11, "120"), now)
			Expect(err).To(MatchError(portfolio.ErrInvalidQuantity))
			Expect(p).To(Equal(before))
		})
	})

	Context("prices finer than a paisa", func() {
		BeforeEach(func() {
			p = portfolio.New("fine prices", dec("10000"), dec("0"))
		})

		It("debits exactly price times quantity on a buy", func() {
			p.CashBalance = dec("20000")
			trx, err := p.Buy(buy("INFY", 7, "1432.3318"), now)
			Expect(err).NotTo(HaveOccurred())
			Expect(trx.Amount.Equal(dec("10026.3226"))).To(BeTrue())
			Expect(p.CashBalance.Equal(dec("9973.6774"))).To(BeTrue())
			Expect(p.Holdings[0].MinimumInvestmentValueStock.Equal(dec("10026.3226"))).To(BeTrue())
		})

		It("credits exactly price times quantity on a sell", func() {
			_, err := p.Buy(buy("INFY", 3, "100"), now)
			Expect(err).NotTo(HaveOccurred())
			cashBefore := p.CashBalance

			trx, err := p.Sell(sell("INFY", 3, "657.2549"), now)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.CashBalance.Sub(cashBefore).Equal(dec("1971.7647"))).To(BeTrue())
			Expect(trx.Amount.Equal(dec("1971.7647"))).To(BeTrue())
			Expect(trx.RealizedPnL.Equal(dec("1671.7647"))).To(BeTrue())
		})
	})

	It("stamps the source id when the transaction is created", func() {
		p = portfolio.New("stamped", dec("1000"), dec("0"))
		trx, err := p.Buy(buy("INFY", 1, "10"), now)
		Expect(err).NotTo(HaveOccurred())
		Expect(trx.SourceID).To(HaveLen(16))
		Expect(trx.SourceID).To(Equal(portfolio.SourceID(trx)))
	})

	It("gives identical orders the same source id", func() {
		p = portfolio.New("source id", dec("1000"), dec("0"))
		a, err := p.Clone().Buy(buy("INFY", 1, "10"), now)
		Expect(err).NotTo(HaveOccurred())
		b, err := p.Clone().Buy(buy("INFY", 1, "10"), now)
		Expect(err).NotTo(HaveOccurred())
		Expect(a.ID).NotTo(Equal(b.ID))
		Expect(portfolio.SourceID(a)).To(Equal(portfolio.SourceID(b)))
	})

	Describe("random trade sequences", func() {
		It("never breaks the cash and frozen field invariants", func() {
			rng := rand.New(rand.NewSource(42))
			tickers := []string{"INFY", "TCS", "HDFC", "SUPRIYA"}
			p = portfolio.New("fuzz", dec("100000"), dec("100000"))

			for ii := 0; ii < 2000; ii++ {
				ticker := tickers[rng.Intn(len(tickers))]
				price := decimal.NewFromInt(int64(rng.Intn(20000000) + 1)).Shift(-4)
				qty := int64(rng.Intn(60) + 1)

				frozen := make(map[int][2]decimal.Decimal)
				for idx, h := range p.Holdings {
					if h.Quantity == 0 {
						frozen[idx] = [2]decimal.Decimal{h.BuyPrice, h.MinimumInvestmentValueStock}
					}
				}

				cashBefore := p.CashBalance
				var order portfolio.Order
				if rng.Intn(2) == 0 {
					order = buy(ticker, qty, price.String())
				} else {
					order = sell(ticker, qty, price.String())
				}

				trx, err := p.Apply(order, now)
				if err != nil {
					Expect(p.CashBalance.Equal(cashBefore)).To(BeTrue())
				} else if order.Kind == portfolio.SellTransaction {
					Expect(p.CashBalance.Sub(cashBefore).Equal(price.Mul(decimal.NewFromInt(qty)))).To(BeTrue())
					Expect(trx.Amount.Equal(p.CashBalance.Sub(cashBefore))).To(BeTrue())
				}

				Expect(p.CashBalance.IsNegative()).To(BeFalse())
				for idx, vals := range frozen {
					h := p.Holdings[idx]
					Expect(h.BuyPrice.Equal(vals[0])).To(BeTrue())
					Expect(h.MinimumInvestmentValueStock.Equal(vals[1])).To(BeTrue())
				}
			}
		})
	})
})
