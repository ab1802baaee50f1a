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
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/modelfolio/folio/portfolio"
)

var (
	tradePrice  string
	tradeSector string
)

func init() {
	tradeCmd.PersistentFlags().StringVar(&tradePrice, "price", "", "Execution price; the symbol's current price when blank")
	buyCmd.Flags().StringVar(&tradeSector, "sector", "", "Sector recorded on a new holding")

	tradeCmd.AddCommand(buyCmd)
	tradeCmd.AddCommand(sellCmd)
	rootCmd.AddCommand(tradeCmd)
}

var tradeCmd = &cobra.Command{
	Use:   "trade",
	Short: "Apply buy and sell orders to a portfolio",
}

var buyCmd = &cobra.Command{
	Use:   "buy <portfolio> <symbol> <quantity>",
	Short: "Buy shares of symbol",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		trade(portfolio.BuyTransaction, args)
	},
}

var sellCmd = &cobra.Command{
	Use:   "sell <portfolio> <symbol> <quantity>",
	Short: "Sell shares of symbol",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		trade(portfolio.SellTransaction, args)
	},
}

// buildOrder turns command line arguments into an order
func buildOrder(kind portfolio.TransactionKind, symbol, quantity, price, sector string) (portfolio.Order, error) {
	key, err := parseSymbol(symbol)
	if err != nil {
		return portfolio.Order{}, err
	}

	qty, err := strconv.ParseInt(quantity, 10, 64)
	if err != nil {
		return portfolio.Order{}, fmt.Errorf("%w: %q", portfolio.ErrInvalidQuantity, quantity)
	}

	order := portfolio.Order{
		Kind:     kind,
		Symbol:   key,
		Sector:   sector,
		Quantity: qty,
	}

	if price != "" {
		order.Price, err = decimal.NewFromString(price)
		if err != nil {
			return portfolio.Order{}, fmt.Errorf("%w: %q", portfolio.ErrInvalidPrice, price)
		}
	}

	return order, nil
}

func trade(kind portfolio.TransactionKind, args []string) {
	ctx := context.Background()
	svc := initialize(ctx)
	defer svc.Close(ctx)

	order, err := buildOrder(kind, args[1], args[2], tradePrice, tradeSector)
	if err != nil {
		log.Fatal().Err(err).Strs("Args", args).Msg("invalid order")
	}

	p, err := resolvePortfolio(ctx, svc.store, args[0])
	if err != nil {
		log.Fatal().Err(err).Str("Portfolio", args[0]).Msg("could not load portfolio")
	}

	result, err := svc.processor().Apply(ctx, p.ID, order)
	if err != nil {
		log.Error().Err(err).Str("Kind", portfolio.ErrorKind(err)).Str("PortfolioID", p.ID.String()).Msg("order rejected")
		svc.Close(ctx)
		os.Exit(1)
	}

	trx := result.Transaction
	fmt.Printf("%s %d %s @ %s = %s (cash %s -> %s)\n", trx.Kind, trx.Quantity, order.Symbol, trx.Price.StringFixed(2),
		trx.Amount.StringFixed(2), trx.CashBefore.StringFixed(2), trx.CashAfter.StringFixed(2))
	if kind == portfolio.SellTransaction {
		fmt.Printf("Realized P&L: %s\n", trx.RealizedPnL.StringFixed(2))
	}
}
