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
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	if err := viper.BindEnv("audit.retention", "FOLIO_AUDIT_RETENTION"); err != nil {
		log.Panic().Err(err).Msg("could not bind audit.retention")
	}
	purgeCmd.Flags().Duration("retention", 90*24*time.Hour, "Age after which calculation logs are deleted")
	if err := viper.BindPFlag("audit.retention", purgeCmd.Flags().Lookup("retention")); err != nil {
		log.Panic().Err(err).Msg("could not bind audit.retention")
	}

	rootCmd.AddCommand(purgeCmd)
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete calculation logs older than audit.retention",
	Run: func(_ *cobra.Command, _ []string) {
		ctx := context.Background()
		svc := initialize(ctx)
		defer svc.Close(ctx)

		maxAge := time.Now().Add(-viper.GetDuration("audit.retention"))
		cnt, err := svc.audit.Purge(ctx, maxAge)
		if err != nil {
			log.Fatal().Err(err).Time("MaxAge", maxAge).Msg("could not delete calculation logs")
		}
		log.Info().Int64("NumDeleted", cnt).Time("MaxAge", maxAge).Msg("purged expired calculation logs")
	},
}
