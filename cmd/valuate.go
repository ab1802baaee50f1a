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
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/modelfolio/folio/messenger"
	"github.com/modelfolio/folio/portfolio"
)

var (
	valuatePortfolio string
	valuateClosing   bool
	valuateQueue     bool
)

func init() {
	valuateCmd.Flags().StringVar(&valuatePortfolio, "portfolio", "", "Portfolio to value specified by id or name; all portfolios when blank")
	valuateCmd.Flags().BoolVar(&valuateClosing, "closing", false, "Value holdings at today's closing prices and record a price log")
	valuateCmd.Flags().BoolVar(&valuateQueue, "queue", false, "Queue the request on NATS for the daemon instead of valuing in process")
	rootCmd.AddCommand(valuateCmd)
}

var valuateCmd = &cobra.Command{
	Use:   "valuate",
	Short: "Recompute holding metrics and totals for portfolios",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc := initialize(ctx)
		defer svc.Close(ctx)

		mode := portfolio.RegularPrice
		if valuateClosing {
			mode = portfolio.ClosingPrice
		}

		var ids []uuid.UUID
		if valuatePortfolio != "" {
			p, err := resolvePortfolio(ctx, svc.store, valuatePortfolio)
			if err != nil {
				log.Fatal().Err(err).Str("Portfolio", valuatePortfolio).Msg("could not load portfolio")
			}
			ids = append(ids, p.ID)
		}

		if valuateQueue {
			queueValuations(ctx, svc, ids, mode)
			return
		}

		if len(ids) == 1 {
			valuation, err := svc.engine().Run(ctx, ids[0], mode)
			if err != nil {
				log.Error().Stack().Err(err).Str("Kind", portfolio.ErrorKind(err)).Msg("valuation failed")
				svc.Close(ctx)
				os.Exit(1)
			}
			for _, warning := range valuation.Warnings {
				log.Warn().Str("PortfolioID", ids[0].String()).Msg(warning)
			}
			printPortfolio(os.Stdout, valuation.Portfolio)
			return
		}

		result, err := svc.engine().RunBatch(ctx, ids, mode)
		if err != nil {
			log.Fatal().Err(err).Msg("valuation batch aborted")
		}
		for id, err := range result.Failed {
			log.Error().Err(err).Str("PortfolioID", id.String()).Str("Kind", portfolio.ErrorKind(err)).Msg("valuation failed")
		}
		log.Info().Int("Succeeded", len(result.Succeeded)).Int("Failed", len(result.Failed)).Msg("valued portfolios")
	},
}

func queueValuations(ctx context.Context, svc *services, ids []uuid.UUID, mode portfolio.PriceMode) {
	if svc.bus == nil {
		log.Fatal().Err(messenger.ErrNotConnected).Msg("--queue requires nats.server")
	}

	if len(ids) == 0 {
		all, err := svc.store.List(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("could not list portfolios")
		}
		for _, p := range all {
			ids = append(ids, p.ID)
		}
	}

	subject := viper.GetString("nats.requests_subject")
	for _, id := range ids {
		if err := svc.bus.RequestValuation(subject, messenger.NewValuationRequest(id, mode, time.Now())); err != nil {
			log.Fatal().Err(err).Str("PortfolioID", id.String()).Msg("could not queue valuation request")
		}
	}
	log.Info().Int("NumRequests", len(ids)).Str("Subject", subject).Msg("queued valuation requests")
}
