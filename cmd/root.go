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
	"fmt"
	"os"
	"time"

	"github.com/penny-vault/pvbt/common"
	"github.com/rs/zerolog/log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Profile bool
var Trace bool

// bindFlag binds a persistent flag and environment variable to a viper key
func bindFlag(key, env, flag string) {
	if err := viper.BindEnv(key, env); err != nil {
		log.Panic().Err(err).Str("Key", key).Msg("could not bind environment variable")
	}
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		log.Panic().Err(err).Str("Key", key).Msg("could not bind flag")
	}
}

func init() {
	// Defaults
	viper.SetDefault("data.provider", "yahoo")
	viper.SetDefault("data.fetch_timeout", 15*time.Second)
	viper.SetDefault("data.requests_per_second", 5.0)
	viper.SetDefault("data.burst", 2)
	viper.SetDefault("data.max_concurrency", 4)
	viper.SetDefault("data.retries", 1)
	viper.SetDefault("data.strict_calendar", true)

	viper.SetDefault("cache.local_size", 512)
	viper.SetDefault("cache.ttl", 12*time.Hour)
	viper.SetDefault("cache.redis", false)
	viper.SetDefault("cache.redis_url", "redis://localhost:6379/0")
	viper.SetDefault("cache.purge_interval", 6*time.Hour)

	viper.SetDefault("metrics.risk_free_rate", 0.02)
	viper.SetDefault("metrics.trading_days", 252)

	viper.SetDefault("server.request_timeout", 30*time.Second)
	viper.SetDefault("server.cors_origins", "http://localhost:3000, http://localhost:5173, http://127.0.0.1:5173")

	viper.SetDefault("otlp.sample_ratio", 1.0)

	// Price source
	rootCmd.PersistentFlags().String("provider", "yahoo", "Price provider, one of: yahoo, tiingo, pvdb")
	bindFlag("data.provider", "PVBT_PROVIDER", "provider")

	rootCmd.PersistentFlags().String("tiingo-token", "", "Tiingo API token")
	bindFlag("data.tiingo_token", "TIINGO_TOKEN", "tiingo-token")

	rootCmd.PersistentFlags().Bool("strict-calendar", true, "Fail when a ticker is missing a bar that another ticker has")
	bindFlag("data.strict_calendar", "PVBT_STRICT_CALENDAR", "strict-calendar")

	// Database
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string (pvdb provider)")
	bindFlag("database.url", "DATABASE_URL", "database-url")

	// Cache
	rootCmd.PersistentFlags().Bool("redis", false, "Share fetched prices through redis")
	bindFlag("cache.redis", "PVBT_REDIS", "redis")

	rootCmd.PersistentFlags().String("redis-url", "redis://localhost:6379/0", "Redis connection URL")
	bindFlag("cache.redis_url", "REDIS_URL", "redis-url")

	// Logging configuration
	rootCmd.PersistentFlags().String("log-level", "warning", "Logging level")
	bindFlag("log.level", "PVBT_LOG_LEVEL", "log-level")

	rootCmd.PersistentFlags().Bool("log-report-caller", false, "Log function name that called log statement")
	bindFlag("log.report_caller", "PVBT_LOG_REPORT_CALLER", "log-report-caller")

	rootCmd.PersistentFlags().String("log-output", "stdout", "Write logs to specified output one of: file path, `stdout`, or `stderr`")
	bindFlag("log.output", "PVBT_LOG_OUTPUT", "log-output")

	rootCmd.PersistentFlags().Bool("log-pretty", false, "Write human readable logs instead of JSON")
	bindFlag("log.pretty", "PVBT_LOG_PRETTY", "log-pretty")

	// Tracing
	rootCmd.PersistentFlags().String("otlp-endpoint", "", "OpenTelemetry collector endpoint; tracing is disabled when empty")
	bindFlag("otlp.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT", "otlp-endpoint")

	rootCmd.PersistentFlags().BoolVar(&Profile, "cpu-profile", false, "Run pprof and save in profile.out")
	rootCmd.PersistentFlags().BoolVar(&Trace, "trace", false, "Trace program execution and save in trace.out")
}

var rootCmd = &cobra.Command{
	Use:     "pvbt",
	Version: common.CurrentVersion.String(),
	Short:   "pvbt backtests buy-and-hold portfolios",
	Long: `Backtest a weighted basket of up to five assets with optional periodic
rebalancing and compare it against a benchmark.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		common.SetupLogging()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
