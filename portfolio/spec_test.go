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

package portfolio_test

import (
	"errors"
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pvbt/portfolio"
)

func issueLocs(err error) [][]interface{} {
	var verr *portfolio.ValidationError
	Expect(errors.As(err, &verr)).To(BeTrue())
	locs := make([][]interface{}, len(verr.Issues))
	for idx, issue := range verr.Issues {
		locs[idx] = issue.Loc
	}
	return locs
}

var _ = Describe("Spec", func() {
	var spec *portfolio.Spec

	BeforeEach(func() {
		spec = &portfolio.Spec{
			Allocations: []portfolio.AssetAllocation{
				{Ticker: "VFINX", Weight: 0.6},
				{Ticker: "VUSTX", Weight: 0.4},
			},
			InitialInvestment: 10_000,
			StartDate:         day(2020, 1, 1),
			EndDate:           day(2021, 1, 1),
			Rebalance:         portfolio.RebalanceMonthly,
			BenchmarkTicker:   "SPY",
		}
	})

	Describe("Validate", func() {
		It("accepts a well formed spec", func() {
			Expect(spec.Validate()).To(Succeed())
		})

		It("accepts weights inside the tolerance", func() {
			spec.Allocations[0].Weight = 0.60005
			Expect(spec.Validate()).To(Succeed())
		})

		It("rejects weights summing to 0.9 on the assets field", func() {
			spec.Allocations[1].Weight = 0.3
			err := spec.Validate()
			Expect(issueLocs(err)).To(Equal([][]interface{}{{"assets"}}))
			Expect(err.Error()).To(ContainSubstring("sum to 1"))
		})

		It("requires at least one asset", func() {
			spec.Allocations = nil
			Expect(issueLocs(spec.Validate())).To(Equal([][]interface{}{{"assets"}}))
		})

		It("allows at most five assets", func() {
			spec.Allocations = []portfolio.AssetAllocation{
				{Ticker: "A", Weight: 0.2}, {Ticker: "B", Weight: 0.2}, {Ticker: "C", Weight: 0.2},
				{Ticker: "D", Weight: 0.2}, {Ticker: "E", Weight: 0.1}, {Ticker: "F", Weight: 0.1},
			}
			Expect(issueLocs(spec.Validate())).To(Equal([][]interface{}{{"assets"}}))
		})

		It("flags individual weights outside (0, 1]", func() {
			spec.Allocations = []portfolio.AssetAllocation{
				{Ticker: "A", Weight: 1.5},
				{Ticker: "B", Weight: -0.5},
			}
			Expect(issueLocs(spec.Validate())).To(Equal([][]interface{}{
				{"assets", 0, "weight"},
				{"assets", 1, "weight"},
			}))
		})

		It("flags a NaN weight", func() {
			spec.Allocations[0].Weight = math.NaN()
			locs := issueLocs(spec.Validate())
			Expect(locs).To(ContainElement([]interface{}{"assets", 0, "weight"}))
		})

		It("flags empty and duplicate tickers", func() {
			spec.Allocations = []portfolio.AssetAllocation{
				{Ticker: "vfinx", Weight: 0.4},
				{Ticker: " VFINX ", Weight: 0.4},
				{Ticker: "  ", Weight: 0.2},
			}
			Expect(issueLocs(spec.Validate())).To(Equal([][]interface{}{
				{"assets", 1, "ticker"},
				{"assets", 2, "ticker"},
			}))
		})

		It("requires a positive initial investment", func() {
			spec.InitialInvestment = 0
			Expect(issueLocs(spec.Validate())).To(Equal([][]interface{}{{"initial_investment"}}))
		})

		It("requires the end date after the start date", func() {
			spec.EndDate = spec.StartDate
			Expect(issueLocs(spec.Validate())).To(Equal([][]interface{}{{"end_date"}}))
		})

		It("requires both dates", func() {
			spec.StartDate = time.Time{}
			Expect(issueLocs(spec.Validate())).To(Equal([][]interface{}{{"start_date"}}))
		})

		It("rejects an undefined rebalance frequency", func() {
			spec.Rebalance = portfolio.Rebalance(9)
			Expect(issueLocs(spec.Validate())).To(Equal([][]interface{}{{"rebalance"}}))
		})

		It("reports every problem at once", func() {
			spec.Allocations[1].Weight = 0.3
			spec.InitialInvestment = -1
			spec.EndDate = day(2019, 1, 1)
			Expect(issueLocs(spec.Validate())).To(Equal([][]interface{}{
				{"assets"},
				{"initial_investment"},
				{"end_date"},
			}))
		})
	})

	Describe("Normalize", func() {
		It("upper-cases tickers and truncates dates", func() {
			spec.Allocations[0].Ticker = " vfinx"
			spec.BenchmarkTicker = "spy "
			spec.StartDate = day(2020, 1, 1).Add(15 * time.Hour)
			spec.Normalize()
			Expect(spec.Allocations[0].Ticker).To(Equal("VFINX"))
			Expect(spec.BenchmarkTicker).To(Equal("SPY"))
			Expect(spec.StartDate).To(Equal(day(2020, 1, 1)))
		})
	})

	Describe("Tickers", func() {
		It("lists assets then the benchmark", func() {
			Expect(spec.Tickers()).To(Equal([]string{"VFINX", "VUSTX", "SPY"}))
		})

		It("does not repeat a benchmark that is also held", func() {
			spec.BenchmarkTicker = "VFINX"
			Expect(spec.Tickers()).To(Equal([]string{"VFINX", "VUSTX"}))
		})

		It("omits an empty benchmark", func() {
			spec.BenchmarkTicker = ""
			Expect(spec.Tickers()).To(Equal([]string{"VFINX", "VUSTX"}))
		})
	})
})

var _ = DescribeTable("ParseRebalance",
	func(input string, expected portfolio.Rebalance, ok bool) {
		rebalance, err := portfolio.ParseRebalance(input)
		if ok {
			Expect(err).To(BeNil())
			Expect(rebalance).To(Equal(expected))
		} else {
			Expect(errors.Is(err, portfolio.ErrUnknownRebalance)).To(BeTrue())
		}
	},
	Entry("empty", "", portfolio.RebalanceNone, true),
	Entry("None", "None", portfolio.RebalanceNone, true),
	Entry("Monthly", "Monthly", portfolio.RebalanceMonthly, true),
	Entry("quarterly lower case", "quarterly", portfolio.RebalanceQuarterly, true),
	Entry("Annually", "Annually", portfolio.RebalanceAnnually, true),
	Entry("Weekly", "Weekly", portfolio.RebalanceNone, false),
	Entry("garbage", "every tuesday", portfolio.RebalanceNone, false),
)
