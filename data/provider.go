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
	"context"

	"github.com/shopspring/decimal"
)

// QuoteProvider fetches the last traded price of a symbol from an external
// source. Implementations must honor ctx cancellation and be safe to retry.
type QuoteProvider interface {
	Fetch(ctx context.Context, key SymbolKey) (*Quote, error)
}

// SymbolReader returns registry entries for the requested keys. Keys without an
// entry are absent from the returned map.
type SymbolReader interface {
	Symbols(ctx context.Context, keys []SymbolKey) (map[SymbolKey]*Symbol, error)
}

// SymbolRegistry is the shared store of current prices
type SymbolRegistry interface {
	SymbolReader

	// Tracked lists every symbol that ingestion should refresh
	Tracked(ctx context.Context) ([]SymbolKey, error)

	// ApplyQuotes writes all updates in a single atomic operation. Closing
	// runs additionally record the price as today's closing price.
	ApplyQuotes(ctx context.Context, updates []PriceUpdate, closing bool) error

	Add(ctx context.Context, key SymbolKey, price decimal.Decimal) error
}
