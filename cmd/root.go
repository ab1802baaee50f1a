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
	"fmt"
	"os"

	"github.com/modelfolio/folio/common"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var Profile bool
var Trace bool

// bind ties a viper key to an environment variable and a persistent flag
func bind(flags *pflag.FlagSet, key, env, flag string) {
	if env != "" {
		if err := viper.BindEnv(key, env); err != nil {
			log.Panic().Err(err).Str("Key", key).Msg("could not bind environment variable")
		}
	}
	if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
		log.Panic().Err(err).Str("Key", key).Msg("could not bind flag")
	}
}

func init() {
	flags := rootCmd.PersistentFlags()

	// Database
	flags.String("database-url", "", "PostgreSQL connection string")
	bind(flags, "database.url", "DATABASE_URL", "database-url")

	// Logging configuration
	flags.String("log-level", "warning", "Logging level")
	bind(flags, "log.level", "FOLIO_LOG_LEVEL", "log-level")

	flags.Bool("log-report-caller", false, "Log function name that called log statement")
	bind(flags, "log.report_caller", "FOLIO_LOG_REPORT_CALLER", "log-report-caller")

	flags.String("log-output", "stdout", "Write logs to specified output one of: file path, `stdout`, or `stderr`")
	bind(flags, "log.output", "FOLIO_LOG_OUTPUT", "log-output")

	flags.Bool("log-pretty", false, "Write human readable logs instead of JSON")
	bind(flags, "log.pretty", "FOLIO_LOG_PRETTY", "log-pretty")

	flags.String("log-loki-url", "", "Loki server to send log messages to, if blank don't send to Loki")
	bind(flags, "log.loki_url", "LOKI_URL", "log-loki-url")

	// Market
	flags.String("market-timezone", common.DefaultTimezone, "Timezone the exchange trades in")
	bind(flags, "market.timezone", "FOLIO_MARKET_TIMEZONE", "market-timezone")

	// Quote provider
	flags.String("tiingo-token", "", "Tiingo API token")
	bind(flags, "tiingo.token", "TIINGO_TOKEN", "tiingo-token")

	// Cache
	flags.String("redis-url", "", "Redis server shared by folio processes, if blank only cache in process")
	bind(flags, "cache.redis_url", "REDIS_URL", "redis-url")

	// Notifications
	flags.String("sendgrid-apikey", "", "SendGrid API key used for ingestion alerts")
	bind(flags, "sendgrid.apikey", "SENDGRID_API_KEY", "sendgrid-apikey")

	// Messaging
	flags.String("nats-server", "", "NATS server to publish events to, if blank events are not published")
	bind(flags, "nats.server", "NATS_SERVER", "nats-server")

	flags.String("nats-credentials", "", "NATS credentials file")
	bind(flags, "nats.credentials", "NATS_CREDENTIALS", "nats-credentials")

	// Tracing
	flags.String("otlp-endpoint", "", "OpenTelemetry collector endpoint, if blank tracing is disabled")
	bind(flags, "otlp.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT", "otlp-endpoint")

	flags.BoolVar(&Profile, "cpu-profile", false, "Run pprof and save in profile.out")
	flags.BoolVar(&Trace, "trace", false, "Trace program execution and save in trace.out")

	setDefaults()
}

// setDefaults registers the values used for keys that are only settable from
// the config file
func setDefaults() {
	viper.SetDefault("tiingo.url", "https://api.tiingo.com")
	viper.SetDefault("ingest.batch_size", 50)
	viper.SetDefault("ingest.batch_delay", "2s")
	viper.SetDefault("ingest.retry_delay", "1s")
	viper.SetDefault("ingest.fetch_timeout", "30s")
	viper.SetDefault("ingest.max_attempts", 3)
	viper.SetDefault("ingest.rate_limit", 10.0)
	viper.SetDefault("ingest.alert_failure_rate", 0.2)
	viper.SetDefault("ingest.alert_recipients", []string{})
	viper.SetDefault("ingest.regular_schedules", []string{"@open 15", "@close -60"})
	viper.SetDefault("ingest.closing_schedule", "@close 15")
	viper.SetDefault("ingest.summary_subject", "folio.ingest.summary")
	viper.SetDefault("valuation.closing_freshness", "24h")
	viper.SetDefault("valuation.min_investment_tolerance", "0.01")
	viper.SetDefault("transactions.max_attempts", 3)
	viper.SetDefault("cache.local_size", 4096)
	viper.SetDefault("cache.ttl", "5m")
	viper.SetDefault("email.name", "folio")
	viper.SetDefault("email.address", "")
	viper.SetDefault("nats.requests_subject", "folio.valuation.requests")
	viper.SetDefault("nats.requests_consumer", "folio-valuation")
}

var rootCmd = &cobra.Command{
	Use:     "folio",
	Version: common.CurrentVersion.String(),
	Short:   "folio values NSE/BSE portfolios and keeps their prices current",
	Long: `A portfolio backend that applies buy and sell transactions, values holdings
against regular or closing prices and ingests quotes on a market aware schedule.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
