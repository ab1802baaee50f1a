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
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/modelfolio/folio/data"
	"github.com/modelfolio/folio/portfolio"
)

var _ = Describe("Processor", func() {
	var (
		ctx       context.Context
		store     *memStore
		symbols   *fakeSymbols
		processor *portfolio.Processor
		p         *portfolio.Portfolio
		now       time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2023, 3, 10, 10, 0, 0, 0, time.UTC)
		store = newMemStore()
		symbols = newFakeSymbols()
		processor = portfolio.NewProcessor(store, symbols, portfolio.ProcessorConfig{MaxAttempts: 3}).
			WithClock(func() time.Time { return now })

		p = portfolio.New("processor", dec("5000"), dec("5000"))
		store.put(p)
	})

	It("commits a buy with its transaction record", func() {
		result, err := processor.Apply(ctx, p.ID, buy("INFY", 10, "100"))
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Portfolio.Version).To(Equal(int64(2)))
		Expect(result.Transaction.SourceID).To(HaveLen(16))
		Expect(result.Transaction.PortfolioID).To(Equal(p.ID))

		stored := store.get(p.ID)
		Expect(stored.CashBalance.StringFixed(2)).To(Equal("4000.00"))
		Expect(store.transactions[p.ID]).To(HaveLen(1))
	})

	It("persists nothing when the order is rejected", func() {
		_, err := processor.Apply(ctx, p.ID, buy("INFY", 100, "100"))
		Expect(err).To(MatchError(portfolio.ErrInsufficientCash))
		Expect(portfolio.ErrorKind(err)).To(Equal("InsufficientCash"))

		stored := store.get(p.ID)
		Expect(stored.Version).To(Equal(int64(1)))
		Expect(stored.CashBalance.StringFixed(2)).To(Equal("5000.00"))
		Expect(store.transactions[p.ID]).To(BeEmpty())
	})

	It("re-reads and re-applies after a version conflict", func() {
		store.conflicts = 2
		result, err := processor.Apply(ctx, p.ID, buy("INFY", 10, "100"))
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Portfolio.CashBalance.StringFixed(2)).To(Equal("4000.00"))
		Expect(store.commits).To(Equal(1))
	})

	It("gives up after the configured attempts", func() {
		store.conflicts = 3
		_, err := processor.Apply(ctx, p.ID, buy("INFY", 10, "100"))
		Expect(err).To(MatchError(portfolio.ErrConcurrentModification))
		Expect(portfolio.ErrorKind(err)).To(Equal("ConcurrentModification"))
		Expect(store.transactions[p.ID]).To(BeEmpty())
	})

	It("sells at the registry price when no price is given", func() {
		_, err := processor.Apply(ctx, p.ID, buy("INFY", 10, "100"))
		Expect(err).NotTo(HaveOccurred())

		symbols.set("INFY", "125.50")
		result, err := processor.Apply(ctx, p.ID, portfolio.Order{
			Kind:     portfolio.SellTransaction,
			Symbol:   nse("INFY"),
			Quantity: 4,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Transaction.Price.String()).To(Equal("125.5"))
		Expect(result.Portfolio.CashBalance.StringFixed(2)).To(Equal("4502.00"))
	})

	It("fails when no price can be resolved", func() {
		_, err := processor.Apply(ctx, p.ID, portfolio.Order{
			Kind:     portfolio.SellTransaction,
			Symbol:   nse("UNKNOWN"),
			Quantity: 1,
		})
		Expect(err).To(MatchError(data.ErrPriceUnavailable))
		Expect(portfolio.ErrorKind(err)).To(Equal("PriceUnavailable"))
	})

	It("reports a missing portfolio", func() {
		other := portfolio.New("missing", dec("1"), dec("1"))
		_, err := processor.Apply(ctx, other.ID, buy("INFY", 1, "1"))
		Expect(err).To(MatchError(portfolio.ErrPortfolioNotFound))
	})

	It("serializes concurrent orders on one portfolio", func() {
		var wg sync.WaitGroup
		for ii := 0; ii < 20; ii++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := processor.Apply(ctx, p.ID, buy("INFY", 1, "100"))
				Expect(err).NotTo(HaveOccurred())
			}()
		}
		wg.Wait()

		stored := store.get(p.ID)
		Expect(stored.CashBalance.StringFixed(2)).To(Equal("3000.00"))
		Expect(stored.OpenHolding(nse("INFY")).Quantity).To(Equal(int64(20)))
		Expect(stored.Version).To(Equal(int64(21)))
		Expect(stored.OpenHolding(nse("INFY")).MinimumInvestmentValueStock.Equal(decimal.NewFromInt(2000))).To(BeTrue())
		Expect(processor.HeldLocks()).To(BeZero())
	})

	It("releases the lock entry after every order", func() {
		for ii := 0; ii < 5; ii++ {
			other := portfolio.New("many", dec("1000"), dec("0"))
			store.put(other)
			_, err := processor.Apply(ctx, other.ID, buy("INFY", 1, "10"))
			Expect(err).NotTo(HaveOccurred())
		}
		_, err := processor.Apply(ctx, p.ID, buy("INFY", 1000, "100"))
		Expect(err).To(MatchError(portfolio.ErrInsufficientCash))
		Expect(processor.HeldLocks()).To(BeZero())
	})
})
