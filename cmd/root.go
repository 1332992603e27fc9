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
	"fmt"
	"os"

	"github.com/wealth-vault/wv-api/common"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Profile bool
var Trace bool

func init() {
	// Database
	viper.BindEnv("database.url", "DATABASE_URL")
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string")
	viper.BindPFlag("database.url", rootCmd.PersistentFlags().Lookup("database-url"))

	// Cache
	viper.BindEnv("cache.redis", "CACHE_REDIS")
	rootCmd.PersistentFlags().Bool("cache-redis", false, "Use redis as a secondary cache")
	viper.BindPFlag("cache.redis", rootCmd.PersistentFlags().Lookup("cache-redis"))

	viper.BindEnv("cache.redis_url", "REDIS_URL")
	rootCmd.PersistentFlags().String("cache-redis-url", "", "Redis connection string")
	viper.BindPFlag("cache.redis_url", rootCmd.PersistentFlags().Lookup("cache-redis-url"))

	viper.BindEnv("cache.local_size", "CACHE_LOCAL_SIZE")
	rootCmd.PersistentFlags().Int("cache-local-size", 1000, "Number of entries in the local LRU cache")
	viper.BindPFlag("cache.local_size", rootCmd.PersistentFlags().Lookup("cache-local-size"))

	viper.BindEnv("cache.ttl", "CACHE_TTL")
	rootCmd.PersistentFlags().Int("cache-ttl", 3600, "Cache TTL in seconds")
	viper.BindPFlag("cache.ttl", rootCmd.PersistentFlags().Lookup("cache-ttl"))

	// Performance
	viper.BindEnv("performance.risk_free_rate", "RISK_FREE_RATE_ANNUAL")
	rootCmd.PersistentFlags().Float64("risk-free-rate", 0.0, "Annual risk-free rate used in Sharpe calculations")
	viper.BindPFlag("performance.risk_free_rate", rootCmd.PersistentFlags().Lookup("risk-free-rate"))

	viper.BindEnv("performance.grace_days", "PERF_GRACE_DAYS")
	rootCmd.PersistentFlags().Int("grace-days", 14, "Days around period boundaries to search for valuation anchors")
	viper.BindPFlag("performance.grace_days", rootCmd.PersistentFlags().Lookup("grace-days"))

	viper.BindEnv("performance.include_withholding_as_flow", "PERF_INCLUDE_WITHHOLDING_AS_FLOW")
	rootCmd.PersistentFlags().Bool("include-withholding-as-flow", false, "Treat tax withholding as an investor withdrawal instead of drag")
	viper.BindPFlag("performance.include_withholding_as_flow", rootCmd.PersistentFlags().Lookup("include-withholding-as-flow"))

	// Benchmark
	viper.BindEnv("benchmark.symbol", "BENCHMARK_SYMBOL")
	rootCmd.PersistentFlags().String("benchmark-symbol", "VOO", "Default benchmark symbol")
	viper.BindPFlag("benchmark.symbol", rootCmd.PersistentFlags().Lookup("benchmark-symbol"))

	viper.BindEnv("benchmark.api_key", "BENCHMARK_API_KEY")
	rootCmd.PersistentFlags().String("benchmark-api-key", "", "Benchmark price provider API key")
	viper.BindPFlag("benchmark.api_key", rootCmd.PersistentFlags().Lookup("benchmark-api-key"))

	viper.BindEnv("benchmark.url", "BENCHMARK_URL")
	rootCmd.PersistentFlags().String("benchmark-url", "", "Benchmark price provider base URL")
	viper.BindPFlag("benchmark.url", rootCmd.PersistentFlags().Lookup("benchmark-url"))

	viper.BindEnv("benchmark.csv_path", "BENCHMARK_CSV_PATH")
	rootCmd.PersistentFlags().String("benchmark-csv-path", "", "Optional CSV file with benchmark prices")
	viper.BindPFlag("benchmark.csv_path", rootCmd.PersistentFlags().Lookup("benchmark-csv-path"))

	// Wash sales
	viper.BindEnv("washsale.include_ira", "WASHSALE_INCLUDE_IRA")
	rootCmd.PersistentFlags().Bool("washsale-include-ira", true, "Scan IRA accounts for wash-sale replacement buys")
	viper.BindPFlag("washsale.include_ira", rootCmd.PersistentFlags().Lookup("washsale-include-ira"))

	// Logging configuration
	viper.BindEnv("log.level", "WV_LOG_LEVEL")
	rootCmd.PersistentFlags().String("log-level", "warning", "Logging level")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	viper.BindEnv("log.report_caller", "WV_LOG_REPORT_CALLER")
	rootCmd.PersistentFlags().Bool("log-report-caller", false, "Log function name that called log statement")
	viper.BindPFlag("log.report_caller", rootCmd.PersistentFlags().Lookup("log-report-caller"))

	viper.BindEnv("log.output", "WV_LOG_OUTPUT")
	rootCmd.PersistentFlags().String("log-output", "stdout", "Write logs to specified output one of: file path, `stdout`, or `stderr`")
	viper.BindPFlag("log.output", rootCmd.PersistentFlags().Lookup("log-output"))

	rootCmd.PersistentFlags().BoolVar(&Profile, "cpu-profile", false, "Run pprof and save in profile.out")
	rootCmd.PersistentFlags().BoolVar(&Trace, "trace", false, "Trace program execution and save in trace.out")
}

var rootCmd = &cobra.Command{
	Use:     "wvapi",
	Version: common.CurrentVersion.String(),
	Short:   "Wealth Vault is a portfolio accounting and performance engine",
	Long:    `Reconstructs FIFO tax lots with wash-sale deferral and computes time-weighted and money-weighted portfolio performance against a benchmark.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
