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
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/guptarohit/asciigraph"
	"github.com/olekukonko/tablewriter"
	"github.com/penny-vault/pvbt/backtest"
	"github.com/penny-vault/pvbt/common"
	"github.com/penny-vault/pvbt/observability/opentelemetry"
	"github.com/penny-vault/pvbt/portfolio"
	"github.com/rs/zerolog/log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	backtestJSON   bool
	backtestPrices bool
)

func init() {
	backtestCmd.Flags().BoolVar(&backtestJSON, "json", false, "Print the response document instead of a summary")
	backtestCmd.Flags().BoolVar(&backtestPrices, "prices", false, "Print the aligned price table")

	rootCmd.AddCommand(backtestCmd)
}

var backtestCmd = &cobra.Command{
	Use:   "backtest [flags] REQUEST_FILE",
	Short: "Run a backtest from a JSON request document",
	Long: `Run a backtest described by a JSON request document. Use - to read the
request from stdin.`,
	Args:       cobra.ExactArgs(1),
	ArgAliases: []string{"REQUEST_FILE"},
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("server.request_timeout"))
		defer cancel()

		shutdownTracing, err := opentelemetry.Setup()
		if err != nil {
			log.Fatal().Err(err).Msg("could not initialize tracing")
		}
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				log.Error().Err(err).Msg("tracing shutdown failed")
			}
		}()

		body, err := readRequest(args[0])
		if err != nil {
			log.Fatal().Err(err).Str("File", args[0]).Msg("could not read request")
		}

		req := &backtest.Request{}
		if err := json.Unmarshal(body, req); err != nil {
			log.Fatal().Err(err).Msg("could not unmarshal request")
		}

		spec, err := req.ToSpec()
		if err != nil {
			log.Fatal().Err(err).Msg("invalid backtest request")
		}

		engine, _, err := newEngine(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("could not initialize backtest engine")
		}

		bt, err := engine.Run(ctx, spec)
		if err != nil {
			log.Fatal().Err(err).Msg("backtest failed")
		}

		if backtestJSON {
			out, err := json.MarshalIndent(bt.Response(), "", "  ")
			if err != nil {
				log.Fatal().Err(err).Msg("could not marshal response")
			}
			fmt.Println(string(out))
			return
		}

		if backtestPrices {
			fmt.Println(bt.Prices.Table())
		}

		printSummary(os.Stdout, bt)
	},
}

func readRequest(fn string) ([]byte, error) {
	if fn == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(fn)
}

func formatOptional(v *float64, format string) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf(format, *v)
}

// printSummary writes a metrics table followed by an equity chart of the portfolio
func printSummary(w io.Writer, bt *backtest.Backtest) {
	perfs := []*backtest.Performance{bt.Portfolio}
	if bt.Benchmark != nil {
		perfs = append(perfs, bt.Benchmark)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"", "Final Value", "Total Return", "CAGR", "Max Drawdown", "Sharpe"})
	table.SetBorder(false)
	for _, perf := range perfs {
		m := perf.Metrics
		table.Append([]string{
			perf.Name,
			fmt.Sprintf("%.2f", m.FinalValue),
			fmt.Sprintf("%.2f%%", m.TotalReturn*100),
			formatOptional(percent(m.AnnualizedReturn), "%.2f%%"),
			fmt.Sprintf("%.2f%%", m.MaxDrawdown*100),
			formatOptional(m.SharpeRatio, "%.2f"),
		})
	}
	table.Render()

	curve := bt.Portfolio.Curve
	fmt.Fprintf(w, "\n%s\n\n", asciigraph.Plot(curve.Values,
		asciigraph.Height(15),
		asciigraph.Width(80),
		asciigraph.Caption(fmt.Sprintf("%s %s to %s", strings.Join(tickers(bt.Spec), "/"),
			curve.Dates[0].Format(common.DateLayout), curve.Dates[curve.Len()-1].Format(common.DateLayout))),
	))

	if len(curve.Rebalances) > 0 {
		fmt.Fprintf(w, "Rebalanced %d times (%s)\n", len(curve.Rebalances), bt.Spec.Rebalance)
	}
}

func percent(v *float64) *float64 {
	if v == nil {
		return nil
	}
	p := *v * 100
	return &p
}

func tickers(spec *portfolio.Spec) []string {
	res := make([]string, len(spec.Allocations))
	for idx, alloc := range spec.Allocations {
		res[idx] = alloc.Ticker
	}
	return res
}
