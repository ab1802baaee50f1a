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

package cmd

import (
	"context"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/modelfolio/folio/data"
	"github.com/modelfolio/folio/portfolio"
)

// listStore serves Load and List from memory; other Store methods are unused
type listStore struct {
	portfolio.Store
	all []*portfolio.Portfolio
}

func (s *listStore) Load(ctx context.Context, id uuid.UUID) (*portfolio.Portfolio, error) {
	for _, p := range s.all {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, portfolio.ErrPortfolioNotFound
}

func (s *listStore) List(ctx context.Context) ([]*portfolio.Portfolio, error) {
	return s.all, nil
}

var _ = Describe("Cmd helpers", func() {
	DescribeTable("parseSymbol",
		func(input string, expected data.SymbolKey, expectedErr error) {
			key, err := parseSymbol(input)
			if expectedErr != nil {
				Expect(err).To(MatchError(expectedErr))
				return
			}
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(Equal(expected))
		},
		Entry("bare ticker defaults to NSE", "infy", data.SymbolKey{Ticker: "INFY", Exchange: data.NSE}, nil),
		Entry("explicit exchange", "BSE:supriya", data.SymbolKey{Ticker: "SUPRIYA", Exchange: data.BSE}, nil),
		Entry("whitespace is trimmed", " nse : tcs ", data.SymbolKey{Ticker: "TCS", Exchange: data.NSE}, nil),
		Entry("unknown exchange", "NYSE:IBM", data.SymbolKey{}, data.ErrUnknownExchange),
		Entry("missing ticker", "NSE:", data.SymbolKey{}, ErrInvalidSymbol),
	)

	Describe("buildOrder", func() {
		It("leaves the price zero when none is given", func() {
			order, err := buildOrder(portfolio.BuyTransaction, "INFY", "100", "", "IT")
			Expect(err).NotTo(HaveOccurred())
			Expect(order.Kind).To(Equal(portfolio.BuyTransaction))
			Expect(order.Symbol).To(Equal(data.SymbolKey{Ticker: "INFY", Exchange: data.NSE}))
			Expect(order.Quantity).To(Equal(int64(100)))
			Expect(order.Sector).To(Equal("IT"))
			Expect(order.Price.IsZero()).To(BeTrue())
		})

		It("parses an explicit price", func() {
			order, err := buildOrder(portfolio.SellTransaction, "NSE:TCS", "5", "3250.55", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(order.Price.Equal(decimal.RequireFromString("3250.55"))).To(BeTrue())
		})

		It("rejects a non numeric quantity", func() {
			_, err := buildOrder(portfolio.BuyTransaction, "INFY", "ten", "", "")
			Expect(err).To(MatchError(portfolio.ErrInvalidQuantity))
		})

		It("rejects a non numeric price", func() {
			_, err := buildOrder(portfolio.BuyTransaction, "INFY", "10", "abc", "")
			Expect(err).To(MatchError(portfolio.ErrInvalidPrice))
		})
	})

	Describe("parseDateRange", func() {
		BeforeEach(func() {
			viper.Set("market.timezone", "Asia/Kolkata")
		})

		It("defaults to the year ending today", func() {
			now := time.Date(2023, 7, 17, 20, 0, 0, 0, time.UTC) // 01:30 on the 18th in Kolkata
			begin, end, err := parseDateRange("", "", now)
			Expect(err).NotTo(HaveOccurred())
			Expect(end.Format("2006-01-02")).To(Equal("2023-07-18"))
			Expect(begin.Format("2006-01-02")).To(Equal("2022-07-18"))
		})

		It("parses explicit bounds", func() {
			begin, end, err := parseDateRange("2023-01-02", "2023-03-31", time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(begin.Format("2006-01-02")).To(Equal("2023-01-02"))
			Expect(end.Format("2006-01-02")).To(Equal("2023-03-31"))
			Expect(begin.Location().String()).To(Equal("Asia/Kolkata"))
		})

		It("rejects malformed dates", func() {
			_, _, err := parseDateRange("01/02/2023", "", time.Now())
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("resolvePortfolio", func() {
		var (
			store *listStore
			core  *portfolio.Portfolio
		)

		BeforeEach(func() {
			core = portfolio.New("Core", decimal.NewFromInt(100000), decimal.NewFromInt(10000))
			store = &listStore{all: []*portfolio.Portfolio{
				portfolio.New("Satellite", decimal.NewFromInt(5000), decimal.NewFromInt(1000)),
				core,
			}}
		})

		It("loads by id", func() {
			p, err := resolvePortfolio(context.Background(), store, core.ID.String())
			Expect(err).NotTo(HaveOccurred())
			Expect(p).To(BeIdenticalTo(core))
		})

		It("falls back to a case insensitive name match", func() {
			p, err := resolvePortfolio(context.Background(), store, "core")
			Expect(err).NotTo(HaveOccurred())
			Expect(p).To(BeIdenticalTo(core))
		})

		It("reports unknown portfolios", func() {
			_, err := resolvePortfolio(context.Background(), store, "growth")
			Expect(err).To(MatchError(portfolio.ErrPortfolioNotFound))
		})
	})

	Describe("ingestConfig", func() {
		It("reads the configured defaults", func() {
			cfg := ingestConfig()
			Expect(cfg.BatchSize).To(Equal(50))
			Expect(cfg.MaxAttempts).To(Equal(3))
			Expect(cfg.FetchTimeout).To(Equal(30 * time.Second))
			Expect(cfg.AlertFailureRate).To(Equal(0.2))
			Expect(cfg.RegularSchedules).To(Equal([]string{"@open 15", "@close -60"}))
			Expect(cfg.ClosingSchedule).To(Equal("@close 15"))
		})
	})
})
