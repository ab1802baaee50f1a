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
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelfolio/folio/common"
	"github.com/modelfolio/folio/data"
	"github.com/modelfolio/folio/observability/opentelemetry"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type EngineConfig struct {
	ClosingFreshness       time.Duration
	MinInvestmentTolerance decimal.Decimal
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ClosingFreshness:       DefaultClosingFreshness,
		MinInvestmentTolerance: decimal.RequireFromString("0.05"),
	}
}

// Engine recomputes the derived fields of portfolios from registry prices. It
// never changes cash or quantities.
type Engine struct {
	symbols data.SymbolReader
	store   Store
	audit   AuditSink
	cfg     EngineConfig
	now     func() time.Time
}

// Valuation is the outcome of valuing one portfolio
type Valuation struct {
	Portfolio *Portfolio
	Trace     *CalculationLog
	Warnings  []string
}

// BatchResult collects the per portfolio outcome of RunBatch
type BatchResult struct {
	Succeeded []uuid.UUID
	Failed    map[uuid.UUID]error
}

func NewEngine(symbols data.SymbolReader, store Store, audit AuditSink, cfg EngineConfig) *Engine {
	if cfg.ClosingFreshness <= 0 {
		cfg.ClosingFreshness = DefaultClosingFreshness
	}
	return &Engine{
		symbols: symbols,
		store:   store,
		audit:   audit,
		cfg:     cfg,
		now:     time.Now,
	}
}

// WithClock replaces the clock used for freshness checks and trace timestamps
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Valuate values a copy of p; p itself is not modified. A returned error means
// the run ended in CRITICAL_ERROR and the trace says why.
func (e *Engine) Valuate(ctx context.Context, p *Portfolio, mode PriceMode) (*Valuation, error) {
	asOf := e.now()
	trace := newCalculationLog(p.ID, mode, asOf)
	out := p.Clone()
	subLog := log.With().Str("PortfolioID", p.ID.String()).Str("Mode", mode.String()).Logger()

	// STEP 1: resolve a price for every distinct open symbol
	keys := make([]data.SymbolKey, 0, len(out.Holdings))
	seen := make(map[data.SymbolKey]bool)
	for _, h := range out.Holdings {
		if h.Quantity > 0 && !seen[h.Key()] {
			seen[h.Key()] = true
			keys = append(keys, h.Key())
		}
	}

	prices := make(map[data.SymbolKey]decimal.Decimal, len(keys))
	unavailable := make(map[data.SymbolKey]string)
	symbols, err := e.symbols.Symbols(ctx, keys)
	if err != nil {
		subLog.Warn().Err(err).Msg("symbol registry read failed; falling back to cached prices")
		symbols = map[data.SymbolKey]*data.Symbol{}
		for _, k := range keys {
			unavailable[k] = fmt.Sprintf("registry read failed: %s", err)
		}
	}

	for _, k := range keys {
		if _, ok := unavailable[k]; ok {
			continue
		}
		price, err := EffectivePrice(symbols[k], asOf, mode, e.cfg.ClosingFreshness)
		if err != nil {
			unavailable[k] = err.Error()
			continue
		}
		prices[k] = price
	}

	trace.record(StepPriceFetch, e.now(), map[string]string{
		"symbols": keyList(keys),
	}, map[string]string{
		"resolved":    fmt.Sprintf("%d", len(prices)),
		"unavailable": fmt.Sprintf("%d", len(unavailable)),
	})

	// STEP 2: per holding valuation
	holdingsValue := decimal.Zero
	for _, h := range out.Holdings {
		if h.Quantity < 0 {
			err := fmt.Errorf("%w: %s has quantity %d", ErrNegativeQuantity, h.Key(), h.Quantity)
			trace.fail(e.now(), err)
			return &Valuation{Portfolio: p, Trace: trace}, err
		}
		if h.Quantity == 0 {
			continue
		}

		h.DataQualityIssues = nil
		price, ok := prices[h.Key()]
		if !ok {
			price = h.CurrentPrice
			issue := fmt.Sprintf("price unavailable (%s); using cached price %s", unavailable[h.Key()], h.CurrentPrice.StringFixed(2))
			h.DataQualityIssues = append(h.DataQualityIssues, issue)
			subLog.Warn().Str("Symbol", h.Key().String()).Str("Reason", unavailable[h.Key()]).Msg("using cached price")
		}

		h.ApplyMetrics(Metrics(h, price))
		holdingsValue = holdingsValue.Add(h.InvestmentValueAtMarket)
	}

	trace.record(StepHoldingValuation, e.now(), map[string]string{
		"holdings": fmt.Sprintf("%d", len(out.Holdings)),
	}, map[string]string{
		"open":          fmt.Sprintf("%d", len(out.OpenHoldings())),
		"holdingsValue": holdingsValue.StringFixed(2),
	})

	// STEP 3: minimum investment check
	allocated := decimal.Zero
	for _, h := range out.Holdings {
		if h.Quantity > 0 {
			allocated = allocated.Add(h.MinimumInvestmentValueStock)
		}
	}
	effectiveMin := decimal.Max(out.MinInvestment, allocated)
	threshold := effectiveMin.Mul(decimal.NewFromInt(1).Sub(e.cfg.MinInvestmentTolerance)).Round(2)
	step3 := map[string]string{
		"effectiveMinInvestment": effectiveMin.StringFixed(2),
		"threshold":              threshold.StringFixed(2),
		"warning":                "false",
	}
	if out.CashBalance.Add(holdingsValue).LessThan(threshold) {
		msg := fmt.Sprintf("portfolio value %s is below minimum investment threshold %s",
			out.CashBalance.Add(holdingsValue).StringFixed(2), threshold.StringFixed(2))
		trace.warn(msg)
		step3["warning"] = "true"
		subLog.Warn().Str("Threshold", threshold.StringFixed(2)).Msg("portfolio below minimum investment")
	}
	trace.record(StepMinInvestment, e.now(), map[string]string{
		"minInvestment": out.MinInvestment.StringFixed(2),
		"allocated":     allocated.StringFixed(2),
	}, step3)

	// STEP 4: cash is owned by the transaction processor and only read here
	if out.CashBalance.IsNegative() {
		err := fmt.Errorf("%w: %s", ErrNegativeCash, out.CashBalance.StringFixed(2))
		trace.fail(e.now(), err)
		return &Valuation{Portfolio: p, Trace: trace}, err
	}
	trace.record(StepCashBalance, e.now(), nil, map[string]string{
		"cashBalance": out.CashBalance.StringFixed(2),
	})

	// STEP 5
	total := out.CashBalance.Add(holdingsValue)
	trace.record(StepTotalValue, e.now(), nil, map[string]string{
		"totalPortfolioValue": total.StringFixed(2),
	})

	// STEP 6
	out.HoldingsValue = holdingsValue
	out.TotalPortfolioValue = total
	out.ValuedAt = &asOf

	issues := 0
	for _, h := range out.Holdings {
		issues += len(h.DataQualityIssues)
	}
	trace.record(StepSummary, e.now(), nil, map[string]string{
		"holdingsValue":       holdingsValue.StringFixed(2),
		"totalPortfolioValue": total.StringFixed(2),
		"realizedPnL":         out.RealizedPnL.StringFixed(2),
		"dataQualityIssues":   fmt.Sprintf("%d", issues),
		"warnings":            strings.Join(trace.Warnings, "; "),
	})
	trace.complete(e.now())

	return &Valuation{
		Portfolio: out,
		Trace:     trace,
		Warnings:  trace.Warnings,
	}, nil
}

// Run loads, values and saves one portfolio. Closing mode also writes the
// day's PriceLog. The trace is always appended to the audit sink.
func (e *Engine) Run(ctx context.Context, id uuid.UUID, mode PriceMode) (*Valuation, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "engine.Run")
	defer span.End()

	span.SetAttributes(
		attribute.String("PortfolioID", id.String()),
		attribute.String("Mode", mode.String()),
	)

	subLog := log.With().Str("PortfolioID", id.String()).Str("Mode", mode.String()).Logger()

	valuation, err := e.run(ctx, id, mode)
	if valuation != nil && valuation.Trace != nil && e.audit != nil {
		if auditErr := e.audit.Append(ctx, valuation.Trace); auditErr != nil {
			subLog.Warn().Err(auditErr).Msg("could not append calculation log")
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "valuation failed")
		subLog.Error().Err(err).Msg("valuation failed")
		return valuation, err
	}

	subLog.Info().Object("Portfolio", valuation.Portfolio).Int("NumWarnings", len(valuation.Warnings)).Msg("valuation complete")
	return valuation, nil
}

func (e *Engine) run(ctx context.Context, id uuid.UUID, mode PriceMode) (*Valuation, error) {
	var valuation *Valuation

	// a trade may commit between load and save; value the fresh copy once more
	for attempt := 0; attempt < 2; attempt++ {
		p, err := e.store.Load(ctx, id)
		if err != nil {
			trace := newCalculationLog(id, mode, e.now())
			trace.fail(e.now(), err)
			return &Valuation{Trace: trace}, err
		}

		valuation, err = e.Valuate(ctx, p, mode)
		if err != nil {
			return valuation, err
		}

		err = e.store.SaveValuation(ctx, valuation.Portfolio)
		if errors.Is(err, ErrConcurrentModification) && attempt == 0 {
			log.Debug().Str("PortfolioID", id.String()).Msg("portfolio changed during valuation; retrying")
			continue
		}
		if err != nil {
			valuation.Trace.fail(e.now(), fmt.Errorf("save valuation: %w", err))
			return valuation, err
		}
		break
	}

	if mode == ClosingPrice {
		p := valuation.Portfolio
		entry := &PriceLog{
			PortfolioID:   p.ID,
			Date:          common.Today(e.now()),
			TotalValue:    p.TotalPortfolioValue,
			CashBalance:   p.CashBalance,
			HoldingsValue: p.HoldingsValue,
		}
		if err := e.store.SavePriceLog(ctx, entry); err != nil {
			valuation.Trace.fail(e.now(), fmt.Errorf("save price log: %w", err))
			return valuation, err
		}
	}

	return valuation, nil
}

// RunBatch values every portfolio in ids, or all portfolios when ids is empty.
// A failure is recorded against its portfolio and the batch carries on.
func (e *Engine) RunBatch(ctx context.Context, ids []uuid.UUID, mode PriceMode) (*BatchResult, error) {
	if len(ids) == 0 {
		portfolios, err := e.store.List(ctx)
		if err != nil {
			return nil, err
		}
		ids = make([]uuid.UUID, len(portfolios))
		for idx, p := range portfolios {
			ids[idx] = p.ID
		}
	}

	result := &BatchResult{
		Succeeded: make([]uuid.UUID, 0, len(ids)),
		Failed:    make(map[uuid.UUID]error),
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := e.Run(ctx, id, mode); err != nil {
			result.Failed[id] = err
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}

	log.Info().Int("Succeeded", len(result.Succeeded)).Int("Failed", len(result.Failed)).Str("Mode", mode.String()).Msg("valuation batch finished")
	return result, nil
}

func keyList(keys []data.SymbolKey) string {
	parts := make([]string, len(keys))
	for idx, k := range keys {
		parts[idx] = k.String()
	}
	return strings.Join(parts, ",")
}
