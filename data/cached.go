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

	"github.com/goccy/go-json"
	"github.com/modelfolio/folio/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// CachedSymbols fronts a SymbolRegistry with a read cache. Entries are dropped
// whenever ApplyQuotes or Add writes through it.
type CachedSymbols struct {
	registry SymbolRegistry
	cache    *common.Cache
}

func NewCachedSymbols(registry SymbolRegistry, cache *common.Cache) *CachedSymbols {
	return &CachedSymbols{
		registry: registry,
		cache:    cache,
	}
}

func cacheKey(key SymbolKey) string {
	return "symbol:" + key.String()
}

func (c *CachedSymbols) Symbols(ctx context.Context, keys []SymbolKey) (map[SymbolKey]*Symbol, error) {
	result := make(map[SymbolKey]*Symbol, len(keys))
	misses := make([]SymbolKey, 0, len(keys))

	for _, k := range keys {
		raw, ok, err := c.cache.Get(ctx, cacheKey(k))
		if err != nil {
			log.Warn().Err(err).Str("Symbol", k.String()).Msg("symbol cache read failed")
		}
		if !ok {
			misses = append(misses, k)
			continue
		}

		sym := &Symbol{}
		if err := json.Unmarshal(raw, sym); err != nil {
			log.Warn().Err(err).Str("Symbol", k.String()).Msg("could not decode cached symbol")
			misses = append(misses, k)
			continue
		}
		result[k] = sym
	}

	if len(misses) == 0 {
		return result, nil
	}

	fetched, err := c.registry.Symbols(ctx, misses)
	if err != nil {
		return nil, err
	}

	for k, sym := range fetched {
		result[k] = sym
		raw, err := json.Marshal(sym)
		if err != nil {
			log.Warn().Err(err).Str("Symbol", k.String()).Msg("could not encode symbol for cache")
			continue
		}
		if err := c.cache.Set(ctx, cacheKey(k), raw); err != nil {
			log.Warn().Err(err).Str("Symbol", k.String()).Msg("symbol cache write failed")
		}
	}

	return result, nil
}

func (c *CachedSymbols) Tracked(ctx context.Context) ([]SymbolKey, error) {
	return c.registry.Tracked(ctx)
}

func (c *CachedSymbols) ApplyQuotes(ctx context.Context, updates []PriceUpdate, closing bool) error {
	if err := c.registry.ApplyQuotes(ctx, updates, closing); err != nil {
		return err
	}

	keys := make([]string, len(updates))
	for idx, u := range updates {
		keys[idx] = cacheKey(u.Key)
	}
	c.cache.Purge(ctx, keys...)
	return nil
}

func (c *CachedSymbols) Add(ctx context.Context, key SymbolKey, price decimal.Decimal) error {
	if err := c.registry.Add(ctx, key, price); err != nil {
		return err
	}
	c.cache.Purge(ctx, cacheKey(key))
	return nil
}
