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
	"fmt"
	"time"

	"github.com/modelfolio/folio/data"
	"github.com/shopspring/decimal"
)

// PriceMode selects which registry price a valuation uses
type PriceMode int

const (
	RegularPrice PriceMode = iota
	ClosingPrice
)

// DefaultClosingFreshness is how old a closing price may be and still be used
const DefaultClosingFreshness = 24 * time.Hour

var hundred = decimal.NewFromInt(100)

func (m PriceMode) String() string {
	if m == ClosingPrice {
		return "closing"
	}
	return "regular"
}

// ParsePriceMode converts "regular" or "closing" into a PriceMode
func ParsePriceMode(s string) (PriceMode, error) {
	switch s {
	case "regular", "":
		return RegularPrice, nil
	case "closing":
		return ClosingPrice, nil
	default:
		return RegularPrice, fmt.Errorf("%w: %q", ErrUnknownPriceMode, s)
	}
}

// HoldingMetrics are the derived values of a holding at a given price
type HoldingMetrics struct {
	Price                   decimal.Decimal
	InvestmentValueAtBuy    decimal.Decimal
	InvestmentValueAtMarket decimal.Decimal
	UnrealizedPnL           decimal.Decimal
	UnrealizedPnLPercent    decimal.Decimal
}

// MarketValue is price × quantity rounded to paise; zero for a closed holding
func MarketValue(h *Holding, price decimal.Decimal) decimal.Decimal {
	if h.Quantity == 0 {
		return decimal.Zero
	}
	return price.Mul(decimal.NewFromInt(h.Quantity)).Round(2)
}

func costBasis(h *Holding) decimal.Decimal {
	return h.BuyPrice.Mul(decimal.NewFromInt(h.Quantity)).Round(2)
}

// UnrealizedPnL returns the paper gain of h at price and that gain as a percent
// of the cost basis. The percent is zero when the cost basis is zero.
func UnrealizedPnL(h *Holding, price decimal.Decimal) (amount decimal.Decimal, percent decimal.Decimal) {
	cost := costBasis(h)
	amount = MarketValue(h, price).Sub(cost)
	if cost.IsZero() {
		return amount, decimal.Zero
	}
	percent = amount.Div(cost).Mul(hundred).Round(2)
	return amount, percent
}

// Metrics computes every derived value of h at price
func Metrics(h *Holding, price decimal.Decimal) HoldingMetrics {
	amount, percent := UnrealizedPnL(h, price)
	return HoldingMetrics{
		Price:                   price,
		InvestmentValueAtBuy:    costBasis(h),
		InvestmentValueAtMarket: MarketValue(h, price),
		UnrealizedPnL:           amount,
		UnrealizedPnLPercent:    percent,
	}
}

// ApplyMetrics writes m onto an open holding. Closed holdings are left untouched.
func (h *Holding) ApplyMetrics(m HoldingMetrics) {
	if h.Quantity == 0 {
		return
	}
	h.CurrentPrice = m.Price
	h.InvestmentValueAtBuy = m.InvestmentValueAtBuy
	h.InvestmentValueAtMarket = m.InvestmentValueAtMarket
	h.UnrealizedPnL = m.UnrealizedPnL
	h.UnrealizedPnLPercent = m.UnrealizedPnLPercent
}

// EffectivePrice picks the price of sym used for a valuation at asOf. In
// closing mode the closing price wins when it was written within window of
// asOf; otherwise the current price is used.
func EffectivePrice(sym *data.Symbol, asOf time.Time, mode PriceMode, window time.Duration) (decimal.Decimal, error) {
	if sym == nil {
		return decimal.Zero, data.ErrPriceUnavailable
	}

	if mode == ClosingPrice && sym.TodayClosingPrice.Valid && sym.ClosingPriceUpdatedAt != nil &&
		asOf.Sub(*sym.ClosingPriceUpdatedAt) <= window && sym.TodayClosingPrice.Decimal.IsPositive() {
		return sym.TodayClosingPrice.Decimal, nil
	}

	if !sym.CurrentPrice.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s has no current price", data.ErrPriceUnavailable, sym.Key())
	}

	return sym.CurrentPrice, nil
}
