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

package backtest_test

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pvbt/backtest"
	"github.com/penny-vault/pvbt/data"
	"github.com/penny-vault/pvbt/dataframe"
	"github.com/penny-vault/pvbt/portfolio"
)

var _ = Describe("Engine", func() {
	var (
		ctx     context.Context
		fetcher *fakeFetcher
		engine  *backtest.Engine
		spec    *portfolio.Spec
	)

	BeforeEach(func() {
		ctx = context.Background()
		fetcher = &fakeFetcher{
			series: map[string]*data.PriceSeries{
				// Jan 28 2021 is a Thursday
				"VFINX": makeSeries("VFINX", day(2021, 1, 28), 100, 101, 102, 104, 103, 105),
				"VUSTX": makeSeries("VUSTX", day(2021, 1, 28), 20, 20.2, 20.1, 19.9, 20.3, 20.4),
				"SPY":   makeSeries("SPY", day(2021, 1, 28), 370, 368, 375, 380, 379, 385),
				"NEWCO": makeSeries("NEWCO", day(2021, 2, 1), 10, 11, 12, 13),
			},
		}
		engine = backtest.New(fetcher, portfolio.DefaultMetricsConfig(), true)
		spec = &portfolio.Spec{
			Allocations: []portfolio.AssetAllocation{
				{Ticker: "vfinx", Weight: 0.6},
				{Ticker: "vustx", Weight: 0.4},
			},
			InitialInvestment: 10_000,
			StartDate:         day(2021, 1, 1),
			EndDate:           day(2021, 12, 31),
			Rebalance:         portfolio.RebalanceMonthly,
			BenchmarkTicker:   "spy",
		}
	})

	It("reports the portfolio and the benchmark on the same dates", func() {
		bt, err := engine.Run(ctx, spec)
		Expect(err).To(BeNil())
		Expect(bt.Prices.ColNames).To(Equal([]string{"VFINX", "VUSTX", "SPY"}))

		resp := bt.Response()
		Expect(resp.PortfolioPerformance.Dates).To(Equal([]string{
			"2021-01-28", "2021-01-29", "2021-02-01", "2021-02-02", "2021-02-03", "2021-02-04",
		}))
		Expect(resp.PortfolioPerformance.Values[0]).To(Equal(10_000.0))
		Expect(resp.PortfolioPerformance.FinalValue).To(Equal(resp.PortfolioPerformance.Values[5]))
		Expect(resp.BenchmarkPerformance).ToNot(BeNil())
		Expect(resp.BenchmarkPerformance.Dates).To(Equal(resp.PortfolioPerformance.Dates))
		Expect(resp.BenchmarkPerformance.Values[0]).To(Equal(10_000.0))
		Expect(resp.BenchmarkPerformance.FinalValue).To(BeNumerically("~", 10_000.0*385/370, 1e-9))
	})

	It("omits the benchmark when none is requested", func() {
		spec.BenchmarkTicker = ""
		bt, err := engine.Run(ctx, spec)
		Expect(err).To(BeNil())
		Expect(bt.Benchmark).To(BeNil())

		body, err := json.Marshal(bt.Response())
		Expect(err).To(BeNil())
		Expect(string(body)).ToNot(ContainSubstring("benchmark_performance"))
		Expect(string(body)).To(ContainSubstring(`"portfolio_performance"`))
		Expect(string(body)).To(ContainSubstring(`"dates":["2021-01-28"`))
	})

	It("shrinks the axis to the benchmark's history", func() {
		spec.BenchmarkTicker = "NEWCO"
		bt, err := engine.Run(ctx, spec)
		Expect(err).To(BeNil())
		Expect(bt.Prices.Start()).To(Equal(day(2021, 2, 1)))
		Expect(bt.Portfolio.Curve.Dates).To(Equal(bt.Benchmark.Curve.Dates))
		Expect(bt.Portfolio.Curve.Values[0]).To(Equal(10_000.0))
	})

	It("fails the whole request when the benchmark has no data", func() {
		spec.BenchmarkTicker = "XXXX"
		bt, err := engine.Run(ctx, spec)
		Expect(bt).To(BeNil())
		var target *data.DataUnavailableError
		Expect(errors.As(err, &target)).To(BeTrue())
		Expect(target.Ticker).To(Equal("XXXX"))
	})

	It("rejects weights summing to 0.9 before fetching prices", func() {
		spec.Allocations[1].Weight = 0.3
		_, err := engine.Run(ctx, spec)
		var verr *portfolio.ValidationError
		Expect(errors.As(err, &verr)).To(BeTrue())
		Expect(verr.Issues[0].Loc).To(Equal([]interface{}{"assets"}))
		Expect(fetcher.Calls()).To(Equal(0))
	})

	It("passes upstream failures through", func() {
		fetcher.err = &data.UpstreamFetchError{Provider: "yahoo", Ticker: "VFINX", StatusCode: 503, Err: data.ErrUpstream}
		_, err := engine.Run(ctx, spec)
		var target *data.UpstreamFetchError
		Expect(errors.As(err, &target)).To(BeTrue())
	})

	Context("when a series has a gap", func() {
		BeforeEach(func() {
			gapped := makeSeries("VUSTX", day(2021, 1, 28), 20, 20.2, 20.1, 19.9, 20.3, 20.4)
			gapped.Bars = append(gapped.Bars[:2], gapped.Bars[3:]...)
			fetcher.series["VUSTX"] = gapped
		})

		It("fails in strict mode", func() {
			_, err := engine.Run(ctx, spec)
			var target *dataframe.MissingBarError
			Expect(errors.As(err, &target)).To(BeTrue())
			Expect(target.Ticker).To(Equal("VUSTX"))
			Expect(target.Date).To(Equal(day(2021, 2, 1)))
		})

		It("drops the date in lenient mode", func() {
			lenient := backtest.New(fetcher, portfolio.DefaultMetricsConfig(), false)
			bt, err := lenient.Run(ctx, spec)
			Expect(err).To(BeNil())
			Expect(bt.Prices.Len()).To(Equal(5))
		})
	})

	It("fails when the window holds a single common date", func() {
		spec.StartDate = day(2021, 2, 4)
		spec.EndDate = day(2021, 2, 28)
		_, err := engine.Run(ctx, spec)
		var target *dataframe.InsufficientDataError
		Expect(errors.As(err, &target)).To(BeTrue())
	})

	It("produces identical output for identical input", func() {
		first, err := engine.Run(ctx, spec)
		Expect(err).To(BeNil())
		second, err := engine.Run(ctx, spec)
		Expect(err).To(BeNil())

		firstJSON, err := json.Marshal(first.Response())
		Expect(err).To(BeNil())
		secondJSON, err := json.Marshal(second.Response())
		Expect(err).To(BeNil())
		Expect(secondJSON).To(Equal(firstJSON))
	})

	It("gives a single asset the same curve with or without rebalancing", func() {
		spec.Allocations = []portfolio.AssetAllocation{{Ticker: "VFINX", Weight: 1}}
		spec.Rebalance = portfolio.RebalanceNone
		none, err := engine.Run(ctx, spec)
		Expect(err).To(BeNil())

		spec.Rebalance = portfolio.RebalanceMonthly
		monthly, err := engine.Run(ctx, spec)
		Expect(err).To(BeNil())
		Expect(monthly.Portfolio.Curve.Values).To(Equal(none.Portfolio.Curve.Values))
	})
})
