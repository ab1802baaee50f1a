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

	"github.com/google/uuid"
	"github.com/modelfolio/folio/data"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/zeebo/blake3"
)

type TransactionKind string

const (
	BuyTransaction  TransactionKind = "BUY"
	SellTransaction TransactionKind = "SELL"
)

// Order is a request to trade Quantity shares of Symbol. A zero Price asks the
// processor to use the symbol's current registry price.
type Order struct {
	Kind     TransactionKind
	Symbol   data.SymbolKey
	Sector   string
	Quantity int64
	Price    decimal.Decimal
}

// Transaction is the immutable record of an applied order
type Transaction struct {
	ID          uuid.UUID       `json:"id"`
	PortfolioID uuid.UUID       `json:"portfolioID"`
	Kind        TransactionKind `json:"kind"`
	Symbol      string          `json:"symbol"`
	Exchange    data.Exchange   `json:"exchange"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
	RealizedPnL decimal.Decimal `json:"realizedPnL"`
	CashBefore  decimal.Decimal `json:"cashBefore"`
	CashAfter   decimal.Decimal `json:"cashAfter"`
	Date        time.Time       `json:"date"`
	SourceID    []byte          `json:"sourceID"`
}

// Apply executes order against the portfolio
func (p *Portfolio) Apply(order Order, at time.Time) (*Transaction, error) {
	switch order.Kind {
	case BuyTransaction:
		return p.Buy(order, at)
	case SellTransaction:
		return p.Sell(order, at)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOrderKind, order.Kind)
	}
}

func validateOrder(order Order) error {
	if order.Quantity <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, order.Quantity)
	}
	if !order.Price.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidPrice, order.Price)
	}
	return nil
}

// Buy adds order.Quantity shares at order.Price. An open position is averaged
// up; otherwise a new Fresh-Buy holding is appended and any closed holding for
// the symbol stays untouched. The portfolio is not modified on error.
func (p *Portfolio) Buy(order Order, at time.Time) (*Transaction, error) {
	if err := validateOrder(order); err != nil {
		return nil, err
	}

	qty := decimal.NewFromInt(order.Quantity)
	cost := order.Price.Mul(qty)
	if p.CashBalance.LessThan(cost) {
		return nil, fmt.Errorf("%w: need %s have %s", ErrInsufficientCash, cost.StringFixed(2), p.CashBalance.StringFixed(2))
	}

	trx, err := p.newTransaction(order, cost, at)
	if err != nil {
		return nil, err
	}

	h := p.OpenHolding(order.Symbol)
	if h == nil {
		h = &Holding{
			Symbol:                      order.Symbol.Ticker,
			Exchange:                    order.Symbol.Exchange,
			Sector:                      order.Sector,
			BuyPrice:                    order.Price.Round(4),
			Quantity:                    order.Quantity,
			Status:                      StatusFreshBuy,
			MinimumInvestmentValueStock: cost,
			CurrentPrice:                order.Price,
		}
		p.Holdings = append(p.Holdings, h)
	} else {
		oldQty := decimal.NewFromInt(h.Quantity)
		blended := h.BuyPrice.Mul(oldQty).Add(order.Price.Mul(qty)).Div(oldQty.Add(qty))
		h.BuyPrice = blended.Round(4)
		h.Quantity += order.Quantity
		h.MinimumInvestmentValueStock = h.MinimumInvestmentValueStock.Add(cost)
		h.Status = StatusAddonBuy
		if order.Sector != "" {
			h.Sector = order.Sector
		}
	}

	p.CashBalance = p.CashBalance.Sub(cost)
	trx.CashAfter = p.CashBalance

	log.Debug().Object("Transaction", trx).Msg("applied buy")
	return trx, nil
}

// Sell removes order.Quantity shares at order.Price. Cash grows by exactly the
// sale proceeds; the realized gain is recorded on the holding and portfolio but
// never added to cash. The portfolio is not modified on error.
func (p *Portfolio) Sell(order Order, at time.Time) (*Transaction, error) {
	if err := validateOrder(order); err != nil {
		return nil, err
	}

	h := p.OpenHolding(order.Symbol)
	if h == nil {
		if p.Position(order.Symbol) == Closed {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyClosed, order.Symbol)
		}
		return nil, fmt.Errorf("%w: %s", ErrHoldingNotFound, order.Symbol)
	}

	if order.Quantity > h.Quantity {
		return nil, fmt.Errorf("%w: cannot sell %d of %d shares", ErrInvalidQuantity, order.Quantity, h.Quantity)
	}

	qty := decimal.NewFromInt(order.Quantity)
	proceeds := order.Price.Mul(qty)
	realized := proceeds.Sub(h.BuyPrice.Mul(qty))

	trx, err := p.newTransaction(order, proceeds, at)
	if err != nil {
		return nil, err
	}
	trx.RealizedPnL = realized

	prevQty := h.Quantity
	remaining := prevQty - order.Quantity
	if remaining > 0 {
		h.MinimumInvestmentValueStock = h.MinimumInvestmentValueStock.
			Mul(decimal.NewFromInt(remaining)).
			Div(decimal.NewFromInt(prevQty)).
			Round(2)
		h.Quantity = remaining
		h.Status = StatusPartialSell
	} else {
		// terminal: BuyPrice and MinimumInvestmentValueStock are frozen from here on
		h.Quantity = 0
		h.Status = StatusSell
		h.InvestmentValueAtBuy = decimal.Zero
		h.InvestmentValueAtMarket = decimal.Zero
		h.UnrealizedPnL = decimal.Zero
		h.UnrealizedPnLPercent = decimal.Zero
	}
	h.CurrentPrice = order.Price
	h.RealizedPnL = h.RealizedPnL.Add(realized)

	p.RealizedPnL = p.RealizedPnL.Add(realized)
	p.CashBalance = p.CashBalance.Add(proceeds)
	trx.CashAfter = p.CashBalance

	log.Debug().Object("Transaction", trx).Msg("applied sell")
	return trx, nil
}

// newTransaction records order against the current cash balance and stamps its
// SourceID; the caller fills in CashAfter
func (p *Portfolio) newTransaction(order Order, amount decimal.Decimal, at time.Time) (*Transaction, error) {
	trx := &Transaction{
		ID:          uuid.New(),
		PortfolioID: p.ID,
		Kind:        order.Kind,
		Symbol:      order.Symbol.Ticker,
		Exchange:    order.Symbol.Exchange,
		Quantity:    order.Quantity,
		Price:       order.Price,
		Amount:      amount,
		CashBefore:  p.CashBalance,
		Date:        at,
	}
	if err := computeTransactionSourceID(trx); err != nil {
		return nil, err
	}
	return trx, nil
}

// computeTransactionSourceID calculates a 16-byte blake3 hash using the date,
// portfolio, symbol, kind, price, quantity and amount
func computeTransactionSourceID(t *Transaction) error {
	h := blake3.New()

	d, err := t.Date.UTC().MarshalText()
	if err != nil {
		return err
	}

	parts := [][]byte{
		d,
		t.PortfolioID[:],
		[]byte(t.Exchange),
		[]byte(t.Symbol),
		[]byte(t.Kind),
		[]byte(t.Price.String()),
		[]byte(fmt.Sprintf("%d", t.Quantity)),
		[]byte(t.Amount.String()),
	}

	for _, part := range parts {
		if _, err := h.Write(part); err != nil {
			log.Error().Stack().Err(err).Msg("could not write to blake3 hasher")
			return err
		}
	}

	digest := h.Digest()
	buf := make([]byte, 16)
	n, err := digest.Read(buf)
	if err != nil {
		return err
	}
	if n != 16 {
		return ErrGenerateHash
	}

	t.SourceID = buf
	return nil
}
