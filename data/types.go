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

package data

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
)

// ParseExchange converts a user supplied exchange name into an Exchange
func ParseExchange(s string) (Exchange, error) {
	switch Exchange(strings.ToUpper(strings.TrimSpace(s))) {
	case NSE:
		return NSE, nil
	case BSE:
		return BSE, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownExchange, s)
	}
}

// SymbolKey uniquely identifies a tradeable instrument
type SymbolKey struct {
	Ticker   string   `json:"ticker"`
	Exchange Exchange `json:"exchange"`
}

func (k SymbolKey) String() string {
	return fmt.Sprintf("%s:%s", k.Exchange, k.Ticker)
}

// Symbol is the registry entry for an instrument. CurrentPrice is always the
// most recent successfully fetched price and PreviousPrice the CurrentPrice it
// replaced.
type Symbol struct {
	Ticker                string              `json:"ticker"`
	Exchange              Exchange            `json:"exchange"`
	CurrentPrice          decimal.Decimal     `json:"currentPrice"`
	PreviousPrice         decimal.Decimal     `json:"previousPrice"`
	TodayClosingPrice     decimal.NullDecimal `json:"todayClosingPrice"`
	ClosingPriceUpdatedAt *time.Time          `json:"closingPriceUpdatedAt,omitempty"`
	LastUpdated           *time.Time          `json:"lastUpdated,omitempty"`
}

func (s *Symbol) Key() SymbolKey {
	return SymbolKey{Ticker: s.Ticker, Exchange: s.Exchange}
}

// Quote is a successful provider response
type Quote struct {
	Price decimal.Decimal
	AsOf  time.Time
}

// PriceUpdate is a quote ready to be written to the registry
type PriceUpdate struct {
	Key   SymbolKey
	Price decimal.Decimal
	AsOf  time.Time
}
