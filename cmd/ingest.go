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

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/modelfolio/folio/ingest"
)

var ingestClosing bool

func init() {
	ingestCmd.Flags().BoolVar(&ingestClosing, "closing", false, "Record fetched prices as today's closing prices")
	rootCmd.AddCommand(ingestCmd)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch current prices for every tracked symbol",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc := initialize(ctx)
		defer svc.Close(ctx)

		kind := ingest.RegularRun
		if ingestClosing {
			kind = ingest.ClosingRun
		}

		summary, err := svc.scheduler(ctx).Run(ctx, kind)
		if summary != nil {
			fmt.Printf("%s: updated %d of %d symbols in %s\n", summary.Kind, summary.Updated, summary.Total, summary.Duration)
			if len(summary.Failures) > 0 {
				fmt.Print(summary.Report())
			}
		}
		if err != nil {
			log.Error().Stack().Err(err).Str("Kind", kind.String()).Msg("ingestion run failed")
			svc.Close(ctx)
			os.Exit(1)
		}
	},
}
