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

package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-co-op/gocron"
	"github.com/modelfolio/folio/common"
	"github.com/modelfolio/folio/data"
	"github.com/modelfolio/folio/notify"
	"github.com/modelfolio/folio/observability/opentelemetry"
	"github.com/modelfolio/folio/tradecron"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Publisher broadcasts run summaries to interested listeners
type Publisher interface {
	Publish(subject string, v interface{}) error
}

// ClosingHook is invoked after a scheduled closing run wrote at least one price
type ClosingHook func(ctx context.Context, summary *RunSummary)

// Scheduler refreshes the prices of every tracked symbol, either on demand
// through Run or on the market aware schedules started by Start
type Scheduler struct {
	provider     data.QuoteProvider
	registry     data.SymbolRegistry
	notifier     notify.Notifier
	publisher    Publisher
	calendar     *tradecron.Calendar
	afterClosing ClosingHook
	cfg          Config
	cron         *gocron.Scheduler
	now          func() time.Time
}

func NewScheduler(provider data.QuoteProvider, registry data.SymbolRegistry, cfg Config) *Scheduler {
	return &Scheduler{
		provider: provider,
		registry: registry,
		notifier: notify.Log{},
		cfg:      cfg.normalize(),
		now:      time.Now,
	}
}

func (s *Scheduler) WithNotifier(n notify.Notifier) *Scheduler {
	s.notifier = n
	return s
}

func (s *Scheduler) WithPublisher(p Publisher) *Scheduler {
	s.publisher = p
	return s
}

// WithCalendar sets the market holidays used to skip scheduled runs
func (s *Scheduler) WithCalendar(cal *tradecron.Calendar) *Scheduler {
	s.calendar = cal
	return s
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

func (s *Scheduler) OnClosing(hook ClosingHook) *Scheduler {
	s.afterClosing = hook
	return s
}

// Run performs one ingestion run. Per-symbol failures are collected in the
// summary; an error is returned only when every symbol failed, the registry
// could not be read or written, or ctx was cancelled.
func (s *Scheduler) Run(ctx context.Context, kind RunKind) (*RunSummary, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "ingest.Run")
	defer span.End()

	summary := newRunSummary(kind, s.now())
	subLog := log.With().Str("RunID", summary.RunID.String()).Str("Kind", kind.String()).Logger()
	span.SetAttributes(
		attribute.String("RunID", summary.RunID.String()),
		attribute.String("Kind", kind.String()),
	)

	keys, err := s.registry.Tracked(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "could not list tracked symbols")
		subLog.Error().Stack().Err(err).Msg("could not list tracked symbols")
		return summary, fmt.Errorf("list tracked symbols: %w", err)
	}

	summary.Total = len(keys)
	subLog.Info().Int("NumSymbols", len(keys)).Int("BatchSize", s.cfg.BatchSize).Msg("starting price ingestion")

	updates := make([]data.PriceUpdate, 0, len(keys))
	for start := 0; start < len(keys); start += s.cfg.BatchSize {
		if start > 0 {
			if err := sleep(ctx, s.cfg.BatchDelay); err != nil {
				subLog.Warn().Err(err).Int("Processed", start).Msg("ingestion cancelled between batches")
				return summary, err
			}
		}

		end := start + s.cfg.BatchSize
		if end > len(keys) {
			end = len(keys)
		}

		for _, key := range keys[start:end] {
			quote, attempts, err := s.fetch(ctx, key, subLog)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					subLog.Warn().Err(ctxErr).Str("Symbol", key.String()).Msg("ingestion cancelled")
					return summary, ctxErr
				}
				subLog.Warn().Err(err).Str("Symbol", key.String()).Int("Attempts", attempts).Msg("could not fetch price")
				summary.Failures = append(summary.Failures, &Failure{
					Symbol:   key,
					Attempts: attempts,
					Reason:   err.Error(),
					Err:      err,
				})
				continue
			}

			updates = append(updates, data.PriceUpdate{
				Key:   key,
				Price: quote.Price,
				AsOf:  quote.AsOf,
			})
		}

		subLog.Debug().Int("BatchStart", start).Int("BatchEnd", end).Int("Updates", len(updates)).Msg("batch complete")
	}

	if len(updates) > 0 {
		if err := s.registry.ApplyQuotes(ctx, updates, kind == ClosingRun); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "could not write prices")
			subLog.Error().Stack().Err(err).Int("NumUpdates", len(updates)).Msg("could not write prices to registry")
			summary.Duration = s.now().Sub(summary.StartedAt)
			return summary, fmt.Errorf("apply quotes: %w", err)
		}
	}

	summary.Updated = len(updates)
	summary.Duration = s.now().Sub(summary.StartedAt)
	span.SetAttributes(
		attribute.Int("Total", summary.Total),
		attribute.Int("Updated", summary.Updated),
	)

	s.report(ctx, summary, subLog)

	if summary.Total > 0 && summary.Updated == 0 {
		span.SetStatus(codes.Error, "provider unreachable")
		return summary, ErrProviderUnreachable
	}

	return summary, nil
}

// fetch retrieves a single quote with a fixed delay between attempts. Each
// attempt is bounded by the fetch timeout.
func (s *Scheduler) fetch(ctx context.Context, key data.SymbolKey, subLog zerolog.Logger) (*data.Quote, int, error) {
	var quote *data.Quote
	attempts := 0

	op := func() error {
		attempts++
		fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
		defer cancel()

		q, err := s.provider.Fetch(fetchCtx, key)
		if err != nil {
			return err
		}
		quote = q
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.RetryDelay), uint64(s.cfg.MaxAttempts-1)),
		ctx,
	)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		subLog.Debug().Err(err).Str("Symbol", key.String()).Int("Attempt", attempts).Dur("Wait", wait).Msg("retrying price fetch")
	})

	return quote, attempts, err
}

// report logs the summary, alerts when too many symbols failed and publishes
// the summary. Notification and publishing failures are only logged.
func (s *Scheduler) report(ctx context.Context, summary *RunSummary, subLog zerolog.Logger) {
	subLog.Info().Object("Summary", summary).Msg("price ingestion finished")
	for _, f := range summary.Failures {
		subLog.Warn().Str("Symbol", f.Symbol.String()).Int("Attempts", f.Attempts).Str("Reason", f.Reason).Str("Kind", f.Kind()).Msg("symbol failed")
	}

	if summary.FailureRate() > s.cfg.AlertFailureRate && s.notifier != nil {
		subject := summary.Subject()
		body := summary.Report()
		for _, recipient := range s.cfg.AlertRecipients {
			if err := s.notifier.Notify(ctx, recipient, subject, body); err != nil {
				subLog.Error().Err(err).Str("Recipient", recipient).Msg("could not send ingestion alert")
			}
		}
	}

	if s.publisher != nil && s.cfg.SummarySubject != "" {
		if err := s.publisher.Publish(s.cfg.SummarySubject, summary); err != nil {
			subLog.Error().Err(err).Str("Subject", s.cfg.SummarySubject).Msg("could not publish ingestion summary")
		}
	}
}

// Start registers the regular and closing schedules and starts them in the
// background. Runs of the same schedule never overlap.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = gocron.NewScheduler(common.GetTimezone())
	s.cron.SingletonModeAll()

	for _, spec := range s.cfg.RegularSchedules {
		if err := s.schedule(ctx, spec, RegularRun); err != nil {
			return err
		}
	}

	if s.cfg.ClosingSchedule != "" {
		if err := s.schedule(ctx, s.cfg.ClosingSchedule, ClosingRun); err != nil {
			return err
		}
	}

	s.cron.StartAsync()
	log.Info().Int("NumJobs", len(s.cron.Jobs())).Msg("ingestion scheduler started")
	return nil
}

func (s *Scheduler) schedule(ctx context.Context, spec string, kind RunKind) error {
	tc, err := tradecron.New(spec, tradecron.RegularHours, s.calendar)
	if err != nil {
		log.Error().Err(err).Str("Schedule", spec).Msg("invalid ingestion schedule")
		return fmt.Errorf("schedule %q: %w", spec, err)
	}

	if _, err := s.cron.Cron(tc.TimeSpec).Tag(kind.String(), spec).Do(s.scheduledRun, ctx, tc, kind); err != nil {
		log.Error().Err(err).Str("Schedule", spec).Str("TimeSpec", tc.TimeSpec).Msg("could not schedule ingestion run")
		return err
	}

	log.Info().Str("Schedule", spec).Str("TimeSpec", tc.TimeSpec).Str("Kind", kind.String()).Msg("scheduled ingestion run")
	return nil
}

func (s *Scheduler) scheduledRun(ctx context.Context, tc *tradecron.TradeCron, kind RunKind) {
	now := s.now()
	if !shouldRun(tc, now) {
		log.Debug().Str("Schedule", tc.ScheduleString).Time("Now", now).Msg("not a trading day; skipping ingestion run")
		return
	}

	summary, err := s.Run(ctx, kind)
	if err != nil {
		log.Error().Err(err).Str("Schedule", tc.ScheduleString).Msg("scheduled ingestion run failed")
	}

	if kind == ClosingRun && s.afterClosing != nil && summary != nil && summary.Updated > 0 {
		s.afterClosing(ctx, summary)
	}
}

// Stop cancels all future scheduled runs
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// shouldRun reports whether the trade cron would fire in the minute containing now
func shouldRun(tc *tradecron.TradeCron, now time.Time) bool {
	minute := now.Truncate(time.Minute)
	next := tc.Next(minute.Add(-time.Second))
	return next.Equal(minute)
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
