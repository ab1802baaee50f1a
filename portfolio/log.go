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
	"encoding/hex"

	"github.com/rs/zerolog"
)

func (o *Transaction) MarshalZerologObject(e *zerolog.Event) {
	e.Str("TransactionID", o.ID.String()).
		Str("PortfolioID", o.PortfolioID.String()).
		Time("Date", o.Date).
		Str("Kind", string(o.Kind)).
		Str("Symbol", o.Symbol).
		Str("Exchange", string(o.Exchange)).
		Int64("Quantity", o.Quantity).
		Str("Price", o.Price.String()).
		Str("Amount", o.Amount.StringFixed(2)).
		Str("RealizedPnL", o.RealizedPnL.StringFixed(2)).
		Str("CashBefore", o.CashBefore.StringFixed(2)).
		Str("CashAfter", o.CashAfter.StringFixed(2)).
		Str("SourceID", hex.EncodeToString(o.SourceID))
}

func (h *Holding) MarshalZerologObject(e *zerolog.Event) {
	e.Str("Symbol", h.Symbol).
		Str("Exchange", string(h.Exchange)).
		Str("Status", string(h.Status)).
		Int64("Quantity", h.Quantity).
		Str("BuyPrice", h.BuyPrice.String()).
		Str("MinimumInvestmentValueStock", h.MinimumInvestmentValueStock.StringFixed(2)).
		Str("InvestmentValueAtMarket", h.InvestmentValueAtMarket.StringFixed(2)).
		Strs("DataQualityIssues", h.DataQualityIssues)
}

func (p *Portfolio) MarshalZerologObject(e *zerolog.Event) {
	e.Str("PortfolioID", p.ID.String()).
		Str("Name", p.Name).
		Int64("Version", p.Version).
		Str("CashBalance", p.CashBalance.StringFixed(2)).
		Str("HoldingsValue", p.HoldingsValue.StringFixed(2)).
		Str("TotalPortfolioValue", p.TotalPortfolioValue.StringFixed(2)).
		Int("NumHoldings", len(p.Holdings))
}
