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

package data_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/modelfolio/folio/common"
	"github.com/modelfolio/folio/data"
)

type countingRegistry struct {
	symbols map[data.SymbolKey]*data.Symbol
	reads   int
}

func (r *countingRegistry) Symbols(ctx context.Context, keys []data.SymbolKey) (map[data.SymbolKey]*data.Symbol, error) {
	r.reads++
	out := make(map[data.SymbolKey]*data.Symbol)
	for _, k := range keys {
		if sym, ok := r.symbols[k]; ok {
			cp := *sym
			out[k] = &cp
		}
	}
	return out, nil
}

func (r *countingRegistry) Tracked(ctx context.Context) ([]data.SymbolKey, error) {
	keys := make([]data.SymbolKey, 0, len(r.symbols))
	for k := range r.symbols {
		keys = append(keys, k)
	}
	return keys, nil
}

func (r *countingRegistry) ApplyQuotes(ctx context.Context, updates []data.PriceUpdate, closing bool) error {
	for _, u := range updates {
		sym := r.symbols[u.Key]
		sym.PreviousPrice = sym.CurrentPrice
		sym.CurrentPrice = u.Price
	}
	return nil
}

func (r *countingRegistry) Add(ctx context.Context, key data.SymbolKey, price decimal.Decimal) error {
	r.symbols[key] = &data.Symbol{Ticker: key.Ticker, Exchange: key.Exchange, CurrentPrice: price, PreviousPrice: price}
	return nil
}

var _ = Describe("CachedSymbols", func() {
	var (
		registry *countingRegistry
		cached   *data.CachedSymbols
		infy     data.SymbolKey
		ctx      context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		infy = data.SymbolKey{Ticker: "INFY", Exchange: data.NSE}
		registry = &countingRegistry{symbols: map[data.SymbolKey]*data.Symbol{
			infy: {Ticker: "INFY", Exchange: data.NSE, CurrentPrice: decimal.RequireFromString("1432.55"), PreviousPrice: decimal.RequireFromString("1418.20")},
		}}

		cache, err := common.NewCache(16, "", time.Minute)
		Expect(err).To(BeNil())
		cached = data.NewCachedSymbols(registry, cache)
	})

	It("serves repeated reads from the cache", func() {
		first, err := cached.Symbols(ctx, []data.SymbolKey{infy})
		Expect(err).To(BeNil())
		second, err := cached.Symbols(ctx, []data.SymbolKey{infy})
		Expect(err).To(BeNil())

		Expect(registry.reads).To(Equal(1))
		Expect(second[infy].CurrentPrice.Equal(first[infy].CurrentPrice)).To(BeTrue())
	})

	It("drops entries when prices are written", func() {
		_, err := cached.Symbols(ctx, []data.SymbolKey{infy})
		Expect(err).To(BeNil())

		Expect(cached.ApplyQuotes(ctx, []data.PriceUpdate{{Key: infy, Price: decimal.RequireFromString("1440.10")}}, false)).To(Succeed())

		symbols, err := cached.Symbols(ctx, []data.SymbolKey{infy})
		Expect(err).To(BeNil())
		Expect(registry.reads).To(Equal(2))
		Expect(symbols[infy].CurrentPrice.String()).To(Equal("1440.1"))
		Expect(symbols[infy].PreviousPrice.String()).To(Equal("1432.55"))
	})

	It("does not cache unknown symbols", func() {
		missing := data.SymbolKey{Ticker: "WIPRO", Exchange: data.NSE}
		symbols, err := cached.Symbols(ctx, []data.SymbolKey{missing})
		Expect(err).To(BeNil())
		Expect(symbols).To(BeEmpty())

		Expect(cached.Add(ctx, missing, decimal.RequireFromString("402.30"))).To(Succeed())
		symbols, err = cached.Symbols(ctx, []data.SymbolKey{missing})
		Expect(err).To(BeNil())
		Expect(symbols[missing].CurrentPrice.String()).To(Equal("402.3"))
	})
})
