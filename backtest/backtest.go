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

package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/penny-vault/pvbt/data"
	"github.com/penny-vault/pvbt/dataframe"
	"github.com/penny-vault/pvbt/observability/opentelemetry"
	"github.com/penny-vault/pvbt/portfolio"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// PriceFetcher loads daily bars for many tickers at once; *data.Manager
// satisfies it
type PriceFetcher interface {
	FetchAll(ctx context.Context, tickers []string, interval *data.Interval) (map[string]*data.PriceSeries, error)
}

// Engine runs backtests. It is safe for concurrent use.
type Engine struct {
	fetcher        PriceFetcher
	metrics        portfolio.MetricsConfig
	strictCalendar bool
}

// Backtest is the complete result of one run. Benchmark is nil when the
// spec did not name one
type Backtest struct {
	Spec      *portfolio.Spec
	Prices    *dataframe.DataFrame
	Portfolio *Performance
	Benchmark *Performance
}

// New creates an engine
func New(fetcher PriceFetcher, metrics portfolio.MetricsConfig, strictCalendar bool) *Engine {
	return &Engine{
		fetcher:        fetcher,
		metrics:        metrics,
		strictCalendar: strictCalendar,
	}
}

// NewFromConfig creates an engine using the metrics.* and data.strict_calendar settings
func NewFromConfig(fetcher PriceFetcher) *Engine {
	strict := true
	if viper.IsSet("data.strict_calendar") {
		strict = viper.GetBool("data.strict_calendar")
	}
	return New(fetcher, portfolio.NewMetricsConfigFromConfig(), strict)
}

// Prices fetches every ticker of spec, including the benchmark, and aligns
// them on one trading calendar
func (engine *Engine) Prices(ctx context.Context, spec *portfolio.Spec) (*dataframe.DataFrame, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "backtest.Prices")
	defer span.End()

	tickers := spec.Tickers()
	interval := spec.Interval()

	span.SetAttributes(
		attribute.StringSlice("Tickers", tickers),
		attribute.String("Interval", interval.String()),
	)

	seriesMap, err := engine.fetcher.FetchAll(ctx, tickers, interval)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}

	series := make([]*data.PriceSeries, 0, len(tickers))
	for _, ticker := range tickers {
		s, ok := seriesMap[ticker]
		if !ok {
			err := &data.DataUnavailableError{Ticker: ticker, Err: data.ErrNoData}
			span.RecordError(err)
			span.SetStatus(codes.Error, "series missing")
			return nil, err
		}
		series = append(series, s)
	}

	prices, err := dataframe.Align(series, interval, engine.strictCalendar)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "align failed")
		return nil, err
	}

	return prices, nil
}

// Run validates spec, then fetches, aligns, simulates and measures the
// portfolio and its benchmark. Either the whole backtest succeeds or an
// error is returned.
func (engine *Engine) Run(ctx context.Context, spec *portfolio.Spec) (*Backtest, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "backtest.Run")
	defer span.End()

	start := time.Now()

	spec.Normalize()
	subLog := log.With().Object("Spec", spec).Logger()

	if err := spec.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid spec")
		subLog.Warn().Err(err).Msg("rejected invalid portfolio spec")
		return nil, err
	}

	prices, err := engine.Prices(ctx, spec)
	if err != nil {
		subLog.Warn().Err(err).Msg("could not load prices")
		return nil, err
	}
	priceDur := time.Since(start)

	bt := &Backtest{
		Spec:   spec,
		Prices: prices,
	}

	// the portfolio and benchmark only share read-only prices
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		curve, err := portfolio.Simulate(groupCtx, prices, spec.Allocations, spec.InitialInvestment, spec.Rebalance)
		if err != nil {
			return fmt.Errorf("simulate portfolio: %w", err)
		}
		bt.Portfolio = &Performance{
			Name:    "portfolio",
			Curve:   curve,
			Metrics: portfolio.ComputeMetrics(curve, engine.metrics),
		}
		return nil
	})

	if spec.BenchmarkTicker != "" {
		group.Go(func() error {
			curve, err := portfolio.SimulateBenchmark(groupCtx, prices, spec.BenchmarkTicker, spec.InitialInvestment)
			if err != nil {
				return fmt.Errorf("simulate benchmark %s: %w", spec.BenchmarkTicker, err)
			}
			bt.Benchmark = &Performance{
				Name:    spec.BenchmarkTicker,
				Curve:   curve,
				Metrics: portfolio.ComputeMetrics(curve, engine.metrics),
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "simulation failed")
		subLog.Error().Err(err).Msg("simulation failed")
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "context done")
		return nil, err
	}

	subLog.Info().
		Dur("PriceDur", priceDur).
		Dur("TotalDur", time.Since(start)).
		Int("NumDates", prices.Len()).
		Object("Metrics", bt.Portfolio.Metrics).
		Msg("backtest complete")

	return bt, nil
}
