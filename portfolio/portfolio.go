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
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/modelfolio/folio/data"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientCash       = errors.New("insufficient cash")
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrInvalidPrice           = errors.New("invalid price")
	ErrAlreadyClosed          = errors.New("holding is already closed")
	ErrHoldingNotFound        = errors.New("no holding for symbol")
	ErrPortfolioNotFound      = errors.New("could not find portfolio ID in database")
	ErrPortfolioExists        = errors.New("a portfolio with that name already exists")
	ErrConcurrentModification = errors.New("portfolio was modified concurrently")
	ErrNegativeCash           = errors.New("cash balance is negative")
	ErrNegativeQuantity       = errors.New("holding quantity is negative")
	ErrGenerateHash           = errors.New("could not create a new hash")
	ErrUnknownOrderKind       = errors.New("unknown order kind")
	ErrUnknownPriceMode       = errors.New("unknown price mode")
)

type HoldingStatus string

const (
	StatusHold        HoldingStatus = "Hold"
	StatusFreshBuy    HoldingStatus = "Fresh-Buy"
	StatusPartialSell HoldingStatus = "partial-sell"
	StatusAddonBuy    HoldingStatus = "addon-buy"
	StatusSell        HoldingStatus = "Sell"
)

// PositionState is the lifecycle state of a position in one symbol
type PositionState int

const (
	NoPosition PositionState = iota
	Open
	PartiallySold
	Closed
)

func (s PositionState) String() string {
	switch s {
	case NoPosition:
		return "no-position"
	case Open:
		return "open"
	case PartiallySold:
		return "partially-sold"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Holding is one position within a portfolio. BuyPrice is the blended average
// cost and MinimumInvestmentValueStock the capital allocated to the position;
// neither changes once Quantity reaches zero.
type Holding struct {
	Symbol                      string          `json:"symbol"`
	Exchange                    data.Exchange   `json:"exchange"`
	Sector                      string          `json:"sector,omitempty"`
	BuyPrice                    decimal.Decimal `json:"buyPrice"`
	Quantity                    int64           `json:"quantity"`
	Status                      HoldingStatus   `json:"status"`
	MinimumInvestmentValueStock decimal.Decimal `json:"minimumInvestmentValueStock"`
	CurrentPrice                decimal.Decimal `json:"currentPrice"`
	RealizedPnL                 decimal.Decimal `json:"realizedPnL"`

	// derived, rewritten by every valuation pass
	InvestmentValueAtBuy    decimal.Decimal `json:"investmentValueAtBuy"`
	InvestmentValueAtMarket decimal.Decimal `json:"investmentValueAtMarket"`
	UnrealizedPnL           decimal.Decimal `json:"unrealizedPnL"`
	UnrealizedPnLPercent    decimal.Decimal `json:"unrealizedPnLPercent"`
	DataQualityIssues       []string        `json:"dataQualityIssues,omitempty"`
}

func (h *Holding) Key() data.SymbolKey {
	return data.SymbolKey{Ticker: h.Symbol, Exchange: h.Exchange}
}

// State reports where the holding is in its lifecycle
func (h *Holding) State() PositionState {
	switch {
	case h == nil:
		return NoPosition
	case h.Quantity == 0:
		return Closed
	case h.Status == StatusPartialSell:
		return PartiallySold
	default:
		return Open
	}
}

// Portfolio is the aggregate root mutated by trades and valuations
type Portfolio struct {
	ID            uuid.UUID       `json:"id"`
	Name          string          `json:"name"`
	CashBalance   decimal.Decimal `json:"cashBalance"`
	MinInvestment decimal.Decimal `json:"minInvestment"`
	Holdings      []*Holding      `json:"holdings"`
	RealizedPnL   decimal.Decimal `json:"realizedPnL"`

	HoldingsValue       decimal.Decimal `json:"holdingsValue"`
	TotalPortfolioValue decimal.Decimal `json:"totalPortfolioValue"`
	ValuedAt            *time.Time      `json:"valuedAt,omitempty"`

	Version   int64     `json:"-"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// New creates an empty portfolio funded with cash
func New(name string, cash, minInvestment decimal.Decimal) *Portfolio {
	now := time.Now()
	return &Portfolio{
		ID:            uuid.New(),
		Name:          name,
		CashBalance:   cash.Round(2),
		MinInvestment: minInvestment.Round(2),
		Holdings:      make([]*Holding, 0),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a deep copy of the portfolio
func (p *Portfolio) Clone() *Portfolio {
	out := *p
	out.Holdings = make([]*Holding, len(p.Holdings))
	for idx, h := range p.Holdings {
		hh := *h
		if h.DataQualityIssues != nil {
			hh.DataQualityIssues = append([]string(nil), h.DataQualityIssues...)
		}
		out.Holdings[idx] = &hh
	}
	if p.ValuedAt != nil {
		valuedAt := *p.ValuedAt
		out.ValuedAt = &valuedAt
	}
	return &out
}

// OpenHolding returns the holding with a positive quantity for key, or nil
func (p *Portfolio) OpenHolding(key data.SymbolKey) *Holding {
	for _, h := range p.Holdings {
		if h.Key() == key && h.Quantity > 0 {
			return h
		}
	}
	return nil
}

// Position returns the state of the position in key. A symbol that was bought
// and completely sold is Closed until it is bought again.
func (p *Portfolio) Position(key data.SymbolKey) PositionState {
	if h := p.OpenHolding(key); h != nil {
		return h.State()
	}
	for _, h := range p.Holdings {
		if h.Key() == key {
			return Closed
		}
	}
	return NoPosition
}

// OpenHoldings returns the holdings whose quantity is not zero
func (p *Portfolio) OpenHoldings() []*Holding {
	open := make([]*Holding, 0, len(p.Holdings))
	for _, h := range p.Holdings {
		if h.Quantity != 0 {
			open = append(open, h)
		}
	}
	return open
}
