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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelfolio/folio/data"
	"github.com/modelfolio/folio/observability/opentelemetry"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const DefaultMaxAttempts = 3

type ProcessorConfig struct {
	// MaxAttempts counts the first try
	MaxAttempts int
}

// Processor applies orders to stored portfolios. Each order is applied to a
// fresh copy and committed with a version check; on conflict it is re-read and
// re-applied.
type Processor struct {
	store   Store
	symbols data.SymbolReader
	cfg     ProcessorConfig
	now     func() time.Time

	locksMu sync.Mutex
	locks   map[uuid.UUID]*portfolioLock
}

// Result is a committed order
type Result struct {
	Portfolio   *Portfolio
	Transaction *Transaction
}

func NewProcessor(store Store, symbols data.SymbolReader, cfg ProcessorConfig) *Processor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Processor{
		store:   store,
		symbols: symbols,
		cfg:     cfg,
		now:     time.Now,
		locks:   make(map[uuid.UUID]*portfolioLock),
	}
}

func (pr *Processor) WithClock(now func() time.Time) *Processor {
	pr.now = now
	return pr
}

// portfolioLock serializes orders for one portfolio; waiters counts the
// goroutines holding or queued on mu
type portfolioLock struct {
	mu      sync.Mutex
	waiters int
}

// lock blocks until no other order for id is in flight. The returned func
// releases the lock and drops the entry once nobody is waiting on it.
func (pr *Processor) lock(id uuid.UUID) func() {
	pr.locksMu.Lock()
	l, ok := pr.locks[id]
	if !ok {
		l = &portfolioLock{}
		pr.locks[id] = l
	}
	l.waiters++
	pr.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		pr.locksMu.Lock()
		l.waiters--
		if l.waiters == 0 {
			delete(pr.locks, id)
		}
		pr.locksMu.Unlock()
	}
}

// Apply executes order against portfolio id. Nothing is persisted when an
// error is returned.
func (pr *Processor) Apply(ctx context.Context, id uuid.UUID, order Order) (*Result, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "processor.Apply")
	defer span.End()

	span.SetAttributes(
		attribute.String("PortfolioID", id.String()),
		attribute.String("Kind", string(order.Kind)),
		attribute.String("Symbol", order.Symbol.String()),
	)

	subLog := log.With().Str("PortfolioID", id.String()).Str("Kind", string(order.Kind)).Str("Symbol", order.Symbol.String()).Int64("Quantity", order.Quantity).Logger()

	unlock := pr.lock(id)
	defer unlock()

	if order.Price.IsZero() {
		price, err := pr.currentPrice(ctx, order.Symbol)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "price unavailable")
			return nil, err
		}
		order.Price = price
	}

	for attempt := 1; attempt <= pr.cfg.MaxAttempts; attempt++ {
		p, err := pr.store.Load(ctx, id)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		expected := p.Version
		trx, err := p.Apply(order, pr.now())
		if err != nil {
			subLog.Info().Err(err).Msg("order rejected")
			span.SetStatus(codes.Error, ErrorKind(err))
			return nil, err
		}

		err = pr.store.Commit(ctx, p, expected, trx)
		if errors.Is(err, ErrConcurrentModification) {
			subLog.Warn().Int("Attempt", attempt).Msg("concurrent modification; retrying from a fresh read")
			continue
		}
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		subLog.Info().Object("Transaction", trx).Msg("order applied")
		return &Result{Portfolio: p, Transaction: trx}, nil
	}

	span.SetStatus(codes.Error, "concurrent modification")
	return nil, fmt.Errorf("%w: gave up after %d attempts", ErrConcurrentModification, pr.cfg.MaxAttempts)
}

func (pr *Processor) currentPrice(ctx context.Context, key data.SymbolKey) (decimal.Decimal, error) {
	symbols, err := pr.symbols.Symbols(ctx, []data.SymbolKey{key})
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s", data.ErrPriceUnavailable, err)
	}
	return EffectivePrice(symbols[key], pr.now(), RegularPrice, 0)
}
