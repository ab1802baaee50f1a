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

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/modelfolio/folio/common"
	"github.com/modelfolio/folio/data"
	"github.com/modelfolio/folio/data/database"
	"github.com/modelfolio/folio/ingest"
	"github.com/modelfolio/folio/messenger"
	"github.com/modelfolio/folio/notify"
	"github.com/modelfolio/folio/observability/opentelemetry"
	"github.com/modelfolio/folio/portfolio"
	"github.com/modelfolio/folio/tradecron"
)

var ErrInvalidSymbol = errors.New("symbol must be specified as TICKER or EXCHANGE:TICKER")

// services holds the long lived connections shared by every sub-command
type services struct {
	pool     *pgxpool.Pool
	cache    *common.Cache
	registry *data.SymbolStore
	symbols  *data.CachedSymbols
	store    *portfolio.PgStore
	audit    *portfolio.PgAuditLog
	bus      *messenger.Messenger
	shutdown func(context.Context) error
}

// initialize configures logging and tracing then connects to the database,
// cache and (when configured) NATS
func initialize(ctx context.Context) *services {
	common.SetupLogging()

	shutdown, err := opentelemetry.Setup()
	if err != nil {
		log.Fatal().Err(err).Msg("could not setup opentelemetry")
	}

	pool, err := database.Connect(ctx, viper.GetString("database.url"))
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}

	cache, err := common.NewCache(viper.GetInt("cache.local_size"), viper.GetString("cache.redis_url"), viper.GetDuration("cache.ttl"))
	if err != nil {
		log.Fatal().Err(err).Msg("could not create cache")
	}

	registry := data.NewSymbolStore(pool)
	svc := &services{
		pool:     pool,
		cache:    cache,
		registry: registry,
		symbols:  data.NewCachedSymbols(registry, cache),
		store:    portfolio.NewPgStore(pool),
		audit:    portfolio.NewPgAuditLog(pool),
		shutdown: shutdown,
	}

	if server := viper.GetString("nats.server"); server != "" {
		bus, err := messenger.Connect(messenger.Config{
			Server:      server,
			Credentials: viper.GetString("nats.credentials"),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("could not connect to NATS")
		}
		svc.bus = bus
	}

	return svc
}

func (svc *services) Close(ctx context.Context) {
	if svc.bus != nil {
		svc.bus.Close()
	}

	if err := svc.cache.Close(); err != nil {
		log.Warn().Err(err).Msg("could not close cache")
	}

	if n := database.NumOpenTransactions(); n > 0 {
		database.LogOpenTransactions()
	}
	svc.pool.Close()

	if err := svc.shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("could not flush traces")
	}
}

func (svc *services) engine() *portfolio.Engine {
	tolerance, err := decimal.NewFromString(viper.GetString("valuation.min_investment_tolerance"))
	if err != nil {
		log.Fatal().Err(err).Str("Value", viper.GetString("valuation.min_investment_tolerance")).Msg("could not parse valuation.min_investment_tolerance")
	}

	return portfolio.NewEngine(svc.symbols, svc.store, svc.audit, portfolio.EngineConfig{
		ClosingFreshness:       viper.GetDuration("valuation.closing_freshness"),
		MinInvestmentTolerance: tolerance,
	})
}

// tiingoProvider builds the quote provider; tiingo.exchange_suffixes maps
// additional exchanges onto provider tickers, e.g. BSE: ".bse"
func tiingoProvider() *data.Tiingo {
	provider := data.NewTiingo(viper.GetString("tiingo.token"), viper.GetString("tiingo.url"), viper.GetFloat64("ingest.rate_limit"))
	for name, suffix := range viper.GetStringMapString("tiingo.exchange_suffixes") {
		ex, err := data.ParseExchange(name)
		if err != nil {
			log.Warn().Err(err).Str("Exchange", name).Msg("ignoring tiingo exchange suffix")
			continue
		}
		provider.WithExchange(ex, suffix)
	}
	return provider
}

func (svc *services) processor() *portfolio.Processor {
	return portfolio.NewProcessor(svc.store, svc.symbols, portfolio.ProcessorConfig{
		MaxAttempts: viper.GetInt("transactions.max_attempts"),
	})
}

func (svc *services) scheduler(ctx context.Context) *ingest.Scheduler {
	provider := tiingoProvider()

	calendar, err := tradecron.LoadCalendar(ctx, svc.pool)
	if err != nil {
		log.Fatal().Err(err).Msg("could not load market holidays")
	}

	sched := ingest.NewScheduler(provider, svc.symbols, ingestConfig()).
		WithNotifier(notifier()).
		WithCalendar(calendar)
	if svc.bus != nil {
		sched = sched.WithPublisher(svc.bus)
	}

	return sched
}

func ingestConfig() ingest.Config {
	return ingest.Config{
		BatchSize:        viper.GetInt("ingest.batch_size"),
		BatchDelay:       viper.GetDuration("ingest.batch_delay"),
		RetryDelay:       viper.GetDuration("ingest.retry_delay"),
		FetchTimeout:     viper.GetDuration("ingest.fetch_timeout"),
		MaxAttempts:      viper.GetInt("ingest.max_attempts"),
		AlertFailureRate: viper.GetFloat64("ingest.alert_failure_rate"),
		AlertRecipients:  viper.GetStringSlice("ingest.alert_recipients"),
		SummarySubject:   viper.GetString("ingest.summary_subject"),
		RegularSchedules: viper.GetStringSlice("ingest.regular_schedules"),
		ClosingSchedule:  viper.GetString("ingest.closing_schedule"),
	}
}

// notifier sends alerts through SendGrid when an API key is configured and
// falls back to the log otherwise
func notifier() notify.Notifier {
	apiKey := viper.GetString("sendgrid.apikey")
	if apiKey == "" {
		return notify.Log{}
	}

	email, err := notify.NewEmail(apiKey, viper.GetString("email.name"), viper.GetString("email.address"))
	if err != nil {
		log.Warn().Err(err).Msg("email alerts disabled")
		return notify.Log{}
	}
	return email
}

// resolvePortfolio loads a portfolio by id or, failing that, by name
func resolvePortfolio(ctx context.Context, store portfolio.Store, ref string) (*portfolio.Portfolio, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return store.Load(ctx, id)
	}

	all, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range all {
		if strings.EqualFold(p.Name, ref) {
			return p, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", portfolio.ErrPortfolioNotFound, ref)
}

// parseSymbol accepts INFY, NSE:INFY or BSE:SUPRIYA; the exchange defaults to NSE
func parseSymbol(s string) (data.SymbolKey, error) {
	parts := []string{"NSE", s}
	if strings.Contains(s, ":") {
		parts = strings.SplitN(s, ":", 2)
	}
	common.ArrToUpper(parts)

	if parts[1] == "" {
		return data.SymbolKey{}, fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
	}

	exchange, err := data.ParseExchange(parts[0])
	if err != nil {
		return data.SymbolKey{}, err
	}

	return data.SymbolKey{Ticker: parts[1], Exchange: exchange}, nil
}

func printPortfolio(w io.Writer, p *portfolio.Portfolio) {
	fmt.Fprintf(w, "%s (%s)\n", p.Name, p.ID)
	fmt.Fprintf(w, "Cash: %s  Holdings: %s  Total: %s  Realized P&L: %s\n",
		p.CashBalance.StringFixed(2), p.HoldingsValue.StringFixed(2), p.TotalPortfolioValue.StringFixed(2), p.RealizedPnL.StringFixed(2))
	if p.ValuedAt != nil {
		fmt.Fprintf(w, "Valued at: %s\n", p.ValuedAt.In(common.GetTimezone()).Format("2006-01-02 15:04:05"))
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Symbol", "Qty", "Buy Price", "Price", "Market Value", "Unrealized", "%", "Status"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	for _, h := range p.Holdings {
		table.Append([]string{
			h.Key().String(),
			fmt.Sprintf("%d", h.Quantity),
			h.BuyPrice.StringFixed(2),
			h.CurrentPrice.StringFixed(2),
			h.InvestmentValueAtMarket.StringFixed(2),
			h.UnrealizedPnL.StringFixed(2),
			h.UnrealizedPnLPercent.StringFixed(2),
			string(h.Status),
		})
	}
	table.Render()
}
