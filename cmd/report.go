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
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wealth-vault/wv-api/common"
	"github.com/wealth-vault/wv-api/database"
	"github.com/wealth-vault/wv-api/perf"
	"github.com/wealth-vault/wv-api/valuation"
)

var (
	reportFrequency string
	reportCombined  bool
	reportSeries    bool
)

func init() {
	reportCmd.Flags().StringVar(&reportFrequency, "frequency", valuation.MonthEnd, "Valuation sampling frequency: month_end or daily")
	reportCmd.Flags().BoolVar(&reportCombined, "combined", true, "Include the combined roll-up row")
	reportCmd.Flags().BoolVar(&reportSeries, "series", false, "Include growth curves and flow markers")

	rootCmd.AddCommand(reportCmd)
}

var reportCmd = &cobra.Command{
	Use:   "report [startDate] [endDate]",
	Args:  cobra.ExactArgs(2),
	Short: "Build a performance report",
	Long:  `Compute time-weighted and money-weighted performance for every portfolio over the period, with benchmark comparison.`,
	Run: func(cmd *cobra.Command, args []string) {
		common.SetupLogging()
		common.SetupCache()

		startDate, err := time.Parse("2006-01-02", args[0])
		if err != nil {
			log.Fatal().Err(err).Str("StartDate", args[0]).Msg("cannot parse start date")
		}
		endDate, err := time.Parse("2006-01-02", args[1])
		if err != nil {
			log.Fatal().Err(err).Str("EndDate", args[1]).Msg("cannot parse end date")
		}

		if err := database.Connect(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("could not connect to database")
		}

		pgSource := perf.NewPgSource()
		builder := perf.NewBuilder(pgSource, pgSource, pgSource, benchmarkSource())

		req := &perf.Request{
			Start:                    startDate,
			End:                      endDate,
			Frequency:                reportFrequency,
			GraceDays:                viper.GetInt("performance.grace_days"),
			RiskFreeRate:             viper.GetFloat64("performance.risk_free_rate"),
			BenchmarkSymbol:          viper.GetString("benchmark.symbol"),
			IncludeCombined:          reportCombined,
			IncludeSeries:            reportSeries,
			IncludeWithholdingAsFlow: viper.GetBool("performance.include_withholding_as_flow"),
		}

		report, err := builder.Build(context.Background(), req)
		if err != nil {
			log.Fatal().Err(err).Msg("could not build performance report")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			log.Fatal().Err(err).Msg("could not encode report")
		}
	},
}
