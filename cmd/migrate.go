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

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/modelfolio/folio/data/database"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the folio tables if they do not exist",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc := initialize(ctx)
		defer svc.Close(ctx)

		if err := database.Migrate(ctx, svc.pool); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
		log.Info().Msg("database schema is up to date")
	},
}
