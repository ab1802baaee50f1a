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

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/modelfolio/folio/common"
	"github.com/modelfolio/folio/data"
)

var symbolPrice string

func init() {
	addSymbolCmd.Flags().StringVar(&symbolPrice, "price", "", "Initial price; fetched from the quote provider when blank")

	symbolCmd.AddCommand(addSymbolCmd, listSymbolCmd)
	rootCmd.AddCommand(symbolCmd)
}

var symbolCmd = &cobra.Command{
	Use:   "symbol",
	Short: "Manage the symbol registry",
}

var addSymbolCmd = &cobra.Command{
	Use:   "add <symbol> [<symbol>...]",
	Short: "Start tracking symbols specified as TICKER or EXCHANGE:TICKER",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc := initialize(ctx)
		defer svc.Close(ctx)

		var provider data.QuoteProvider
		var price decimal.Decimal
		if symbolPrice != "" {
			var err error
			if price, err = decimal.NewFromString(symbolPrice); err != nil {
				log.Fatal().Err(err).Str("Price", symbolPrice).Msg("could not parse price")
			}
		} else {
			provider = tiingoProvider()
		}

		for _, arg := range args {
			key, err := parseSymbol(arg)
			if err != nil {
				log.Error().Err(err).Str("Symbol", arg).Msg("skipping symbol")
				continue
			}

			initial := price
			if provider != nil {
				quote, err := provider.Fetch(ctx, key)
				if err != nil {
					log.Error().Err(err).Str("Symbol", key.String()).Msg("could not fetch initial price")
					continue
				}
				initial = quote.Price
			}

			if err := svc.symbols.Add(ctx, key, initial); err != nil {
				log.Error().Err(err).Str("Symbol", key.String()).Msg("could not add symbol")
				continue
			}
			log.Info().Str("Symbol", key.String()).Str("Price", initial.String()).Msg("added symbol")
		}
	},
}

var listSymbolCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked symbols and their prices",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc := initialize(ctx)
		defer svc.Close(ctx)

		symbols, err := svc.registry.List(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("could not list symbols")
		}

		tz := common.GetTimezone()
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Symbol", "Price", "Previous", "Close", "Last Updated"})
		table.SetBorder(false)
		for _, sym := range symbols {
			closing := ""
			if sym.TodayClosingPrice.Valid {
				closing = sym.TodayClosingPrice.Decimal.StringFixed(2)
			}
			updated := ""
			if sym.LastUpdated != nil {
				updated = sym.LastUpdated.In(tz).Format("2006-01-02 15:04:05")
			}
			table.Append([]string{sym.Key().String(), sym.CurrentPrice.StringFixed(2), sym.PreviousPrice.StringFixed(2), closing, updated})
		}
		table.Render()
	},
}
