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
	"os"
	"os/signal"
	"runtime/pprof"
	"runtime/trace"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/modelfolio/folio/ingest"
	"github.com/modelfolio/folio/messenger"
	"github.com/modelfolio/folio/portfolio"
)

func init() {
	serveCmd.Flags().Bool("no-requests", false, "Do not consume queued valuation requests")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the folio daemon",
	Long: `Run scheduled price ingestion, value every portfolio at the close and serve
valuation requests queued on NATS`,
	Run: func(cmd *cobra.Command, args []string) {
		if Profile {
			f, err := os.Create("profile.out")
			if err != nil {
				log.Fatal().Err(err).Msg("could not create profile output file")
			}
			if err := pprof.StartCPUProfile(f); err != nil {
				log.Fatal().Err(err).Msg("could not start cpu profile")
			}
			defer pprof.StopCPUProfile()
		}

		if Trace {
			f, err := os.Create("trace.out")
			if err != nil {
				log.Fatal().Err(err).Msg("failed to create trace output file")
			}
			defer func() {
				if err := f.Close(); err != nil {
					log.Fatal().Err(err).Msg("failed to close trace file")
				}
			}()

			if err := trace.Start(f); err != nil {
				log.Fatal().Err(err).Msg("failed to start trace")
			}
			defer trace.Stop()
		}

		// shutdown cleanly on interrupt
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc := initialize(ctx)
		defer svc.Close(context.Background())

		engine := svc.engine()
		sched := svc.scheduler(ctx).OnClosing(func(ctx context.Context, summary *ingest.RunSummary) {
			subLog := log.With().Str("RunID", summary.RunID.String()).Logger()
			subLog.Info().Msg("valuing portfolios at closing prices")
			result, err := engine.RunBatch(ctx, nil, portfolio.ClosingPrice)
			if err != nil {
				subLog.Error().Stack().Err(err).Msg("closing valuation batch aborted")
				return
			}
			for id, err := range result.Failed {
				subLog.Warn().Err(err).Str("PortfolioID", id.String()).Str("Kind", portfolio.ErrorKind(err)).Msg("closing valuation failed")
			}
		})

		if err := sched.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("could not start ingestion scheduler")
		}
		defer sched.Stop()

		noRequests, _ := cmd.Flags().GetBool("no-requests")
		if svc.bus != nil && !noRequests {
			go serveValuationRequests(ctx, svc.bus, engine)
		}

		log.Info().Msg("folio daemon started")
		<-ctx.Done()
		log.Info().Msg("received signal; shutting down...")
	},
}

// serveValuationRequests drains the valuation request queue until ctx is done
func serveValuationRequests(ctx context.Context, bus *messenger.Messenger, engine *portfolio.Engine) {
	subject := viper.GetString("nats.requests_subject")
	consumer := viper.GetString("nats.requests_consumer")
	subLog := log.With().Str("Subject", subject).Str("Consumer", consumer).Logger()

	queue, err := bus.ValuationRequests(subject, consumer)
	if err != nil {
		subLog.Error().Err(err).Msg("valuation requests disabled")
		return
	}
	defer func() {
		if err := queue.Close(); err != nil {
			subLog.Warn().Err(err).Msg("could not drain valuation request subscription")
		}
	}()
	subLog.Info().Msg("consuming valuation requests")

	for ctx.Err() == nil {
		req, msg, err := queue.Next(ctx)
		if err != nil {
			if errors.Is(err, messenger.ErrInvalidRequest) || ctx.Err() != nil {
				continue
			}
			subLog.Error().Err(err).Msg("could not read valuation request")
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		if req == nil {
			continue
		}

		id, mode, err := req.Parse()
		if err != nil {
			subLog.Warn().Err(err).Str("PortfolioID", req.PortfolioID).Msg("discarding invalid valuation request")
			if err := msg.Term(); err != nil {
				subLog.Error().Err(err).Msg("could not terminate message")
			}
			continue
		}

		if _, err := engine.Run(ctx, id, mode); err != nil {
			subLog.Error().Err(err).Str("PortfolioID", id.String()).Str("Kind", portfolio.ErrorKind(err)).Msg("requested valuation failed")
			if errors.Is(err, portfolio.ErrPortfolioNotFound) {
				if err := msg.Term(); err != nil {
					subLog.Error().Err(err).Msg("could not terminate message")
				}
				continue
			}
			if err := msg.Nak(); err != nil {
				subLog.Error().Err(err).Msg("could not nak message")
			}
			continue
		}

		if err := msg.Ack(); err != nil {
			subLog.Error().Err(err).Msg("could not ack message")
		}
	}
}
