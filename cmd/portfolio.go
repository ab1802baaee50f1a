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
	"time"

	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/modelfolio/folio/common"
	"github.com/modelfolio/folio/data"
	"github.com/modelfolio/folio/portfolio"
)

var (
	createCash          string
	createMinInvestment string
	showJSON            bool
	historyFrom         string
	historyTo           string
	auditLimit          int
	auditStatus         string
)

func init() {
	createPortfolioCmd.Flags().StringVar(&createCash, "cash", "0", "Starting cash balance")
	createPortfolioCmd.Flags().StringVar(&createMinInvestment, "min-investment", "0", "Capital allocated to each new position")
	showPortfolioCmd.Flags().BoolVar(&showJSON, "json", false, "Print the portfolio document as JSON")
	historyPortfolioCmd.Flags().StringVar(&historyFrom, "from", "", "First day (YYYY-MM-DD) to include; defaults to one year ago")
	historyPortfolioCmd.Flags().StringVar(&historyTo, "to", "", "Last day (YYYY-MM-DD) to include; defaults to today")
	auditPortfolioCmd.Flags().IntVar(&auditLimit, "limit", 20, "Maximum number of calculation logs to print")
	auditPortfolioCmd.Flags().StringVar(&auditStatus, "status", "", "Only print logs with status (complete or failed)")

	portfolioCmd.AddCommand(createPortfolioCmd, deletePortfolioCmd, listPortfolioCmd, showPortfolioCmd,
		historyPortfolioCmd, transactionsPortfolioCmd, auditPortfolioCmd)
	rootCmd.AddCommand(portfolioCmd)
}

var portfolioCmd = &cobra.Command{
	Use:   "portfolio",
	Short: "Manage portfolios",
}

var createPortfolioCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an empty portfolio",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc := initialize(ctx)
		defer svc.Close(ctx)

		cash, err := decimal.NewFromString(createCash)
		if err != nil {
			log.Fatal().Err(err).Str("Cash", createCash).Msg("could not parse cash")
		}
		minInvestment, err := decimal.NewFromString(createMinInvestment)
		if err != nil {
			log.Fatal().Err(err).Str("MinInvestment", createMinInvestment).Msg("could not parse min-investment")
		}

		p := portfolio.New(args[0], cash, minInvestment)
		if err := svc.store.Create(ctx, p); err != nil {
			log.Fatal().Err(err).Str("Name", args[0]).Msg("could not create portfolio")
		}
		fmt.Println(p.ID)
	},
}

var deletePortfolioCmd = &cobra.Command{
	Use:   "delete <portfolio>",
	Short: "Delete a portfolio and its transactions",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc := initialize(ctx)
		defer svc.Close(ctx)

		p, err := resolvePortfolio(ctx, svc.store, args[0])
		if err != nil {
			log.Fatal().Err(err).Str("Portfolio", args[0]).Msg("could not load portfolio")
		}
		if err := svc.store.Delete(ctx, p.ID); err != nil {
			log.Fatal().Err(err).Str("PortfolioID", p.ID.String()).Msg("could not delete portfolio")
		}
		log.Info().Str("PortfolioID", p.ID.String()).Str("Name", p.Name).Msg("deleted portfolio")
	},
}

var listPortfolioCmd = &cobra.Command{
	Use:   "list",
	Short: "List portfolios",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc := initialize(ctx)
		defer svc.Close(ctx)

		all, err := svc.store.List(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("could not list portfolios")
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"ID", "Name", "Cash", "Total", "Holdings"})
		table.SetBorder(false)
		for _, p := range all {
			table.Append([]string{p.ID.String(), p.Name, p.CashBalance.StringFixed(2), p.TotalPortfolioValue.StringFixed(2),
				fmt.Sprintf("%d", len(p.OpenHoldings()))})
		}
		table.Render()
	},
}

var showPortfolioCmd = &cobra.Command{
	Use:   "show <portfolio>",
	Short: "Print a portfolio and its holdings as of the last valuation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc := initialize(ctx)
		defer svc.Close(ctx)

		p, err := resolvePortfolio(ctx, svc.store, args[0])
		if err != nil {
			log.Fatal().Err(err).Str("Portfolio", args[0]).Msg("could not load portfolio")
		}

		if showJSON {
			doc, err := json.MarshalIndent(p, "", "  ")
			if err != nil {
				log.Fatal().Err(err).Msg("could not serialize portfolio")
			}
			fmt.Println(string(doc))
			return
		}
		printPortfolio(os.Stdout, p)
	},
}

// parseDateRange reads YYYY-MM-DD bounds in the market timezone; blank values
// default to the year ending today
func parseDateRange(from, to string, now time.Time) (time.Time, time.Time, error) {
	tz := common.GetTimezone()
	end := common.Today(now)
	if to != "" {
		var err error
		if end, err = time.ParseInLocation("2006-01-02", to, tz); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}

	begin := end.AddDate(-1, 0, 0)
	if from != "" {
		var err error
		if begin, err = time.ParseInLocation("2006-01-02", from, tz); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}

	return begin, end, nil
}

var historyPortfolioCmd = &cobra.Command{
	Use:   "history <portfolio>",
	Short: "Print daily closing values and performance statistics",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc := initialize(ctx)
		defer svc.Close(ctx)

		begin, end, err := parseDateRange(historyFrom, historyTo, time.Now())
		if err != nil {
			log.Fatal().Err(err).Str("From", historyFrom).Str("To", historyTo).Msg("could not parse date range - expected format 2006-01-02")
		}

		p, err := resolvePortfolio(ctx, svc.store, args[0])
		if err != nil {
			log.Fatal().Err(err).Str("Portfolio", args[0]).Msg("could not load portfolio")
		}

		logs, err := svc.store.PriceLogs(ctx, p.ID, begin, end)
		if err != nil {
			log.Fatal().Err(err).Str("PortfolioID", p.ID.String()).Msg("could not load price logs")
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Date", "Total", "Cash", "Holdings"})
		table.SetBorder(false)
		for _, entry := range logs {
			table.Append([]string{entry.Date.Format("2006-01-02"), entry.TotalValue.StringFixed(2),
				entry.CashBalance.StringFixed(2), entry.HoldingsValue.StringFixed(2)})
		}
		table.Render()

		perf := portfolio.CalculatePerformance(logs)
		fmt.Printf("\nDays: %d  Total return: %.2f%%  CAGR: %.2f%%  Volatility: %.2f%%  Sharpe: %.2f\n",
			perf.Days, perf.TotalReturn*100, perf.CAGR*100, perf.AnnualizedVolatility*100, perf.SharpeRatio)
		if perf.MaxDrawDown != nil {
			fmt.Printf("Max draw down: %.2f%% (%s to %s)\n", perf.MaxDrawDown.LossPercent*100,
				perf.MaxDrawDown.Begin.Format("2006-01-02"), perf.MaxDrawDown.End.Format("2006-01-02"))
		}
	},
}

var transactionsPortfolioCmd = &cobra.Command{
	Use:   "transactions <portfolio>",
	Short: "Print the transactions applied to a portfolio",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc := initialize(ctx)
		defer svc.Close(ctx)

		p, err := resolvePortfolio(ctx, svc.store, args[0])
		if err != nil {
			log.Fatal().Err(err).Str("Portfolio", args[0]).Msg("could not load portfolio")
		}

		trxs, err := svc.store.Transactions(ctx, p.ID)
		if err != nil {
			log.Fatal().Err(err).Str("PortfolioID", p.ID.String()).Msg("could not load transactions")
		}

		tz := common.GetTimezone()
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Date", "Kind", "Symbol", "Qty", "Price", "Amount", "Realized", "Cash After"})
		table.SetBorder(false)
		for _, trx := range trxs {
			table.Append([]string{trx.Date.In(tz).Format("2006-01-02 15:04"), string(trx.Kind), data.SymbolKey{Ticker: trx.Symbol, Exchange: trx.Exchange}.String(),
				fmt.Sprintf("%d", trx.Quantity), trx.Price.StringFixed(2), trx.Amount.StringFixed(2),
				trx.RealizedPnL.StringFixed(2), trx.CashAfter.StringFixed(2)})
		}
		table.Render()
	},
}

var auditPortfolioCmd = &cobra.Command{
	Use:   "audit <portfolio>",
	Short: "Print recent calculation logs for a portfolio",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc := initialize(ctx)
		defer svc.Close(ctx)

		p, err := resolvePortfolio(ctx, svc.store, args[0])
		if err != nil {
			log.Fatal().Err(err).Str("Portfolio", args[0]).Msg("could not load portfolio")
		}

		entries, err := svc.audit.Read(ctx, portfolio.AuditFilter{
			PortfolioID: p.ID,
			Status:      auditStatus,
			Limit:       auditLimit,
		})
		if err != nil {
			log.Fatal().Err(err).Str("PortfolioID", p.ID.String()).Msg("could not read calculation logs")
		}

		doc, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			log.Fatal().Err(err).Msg("could not serialize calculation logs")
		}
		fmt.Println(string(doc))
	},
}
