// Copyright 2021-2022
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
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wealth-vault/wv-api/common"
	"github.com/wealth-vault/wv-api/database"
	"github.com/wealth-vault/wv-api/taxlot"
)

func init() {
	rootCmd.AddCommand(rebuildCmd)
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild [taxpayerID]",
	Args:  cobra.ExactArgs(1),
	Short: "Rebuild tax lots for a taxpayer",
	Long:  `Replay the taxpayer's full transaction history into FIFO tax lots, disposals and wash-sale adjustments, replacing prior reconstructed rows.`,
	Run: func(cmd *cobra.Command, args []string) {
		common.SetupLogging()

		taxpayerID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			log.Fatal().Err(err).Str("TaxpayerID", args[0]).Msg("taxpayerID must be an integer")
		}

		if err := database.Connect(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("could not connect to database")
		}

		opts := taxlot.EngineOptions{
			WashIncludeIRA: viper.GetBool("washsale.include_ira"),
		}

		summary, err := taxlot.NewStore().Rebuild(context.Background(), taxpayerID, opts)
		if err != nil {
			log.Fatal().Err(err).Int64("TaxpayerID", taxpayerID).Msg("rebuild failed")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			log.Fatal().Err(err).Msg("could not encode rebuild summary")
		}
	},
}
