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
	"github.com/penny-vault/pvbt/common"
	"github.com/penny-vault/pvbt/portfolio"
)

// PerformanceReport is the serialized form of one equity curve and its metrics
type PerformanceReport struct {
	Dates            []string  `json:"dates"`
	Values           []float64 `json:"values"`
	FinalValue       float64   `json:"final_value"`
	TotalReturn      float64   `json:"total_return"`
	AnnualizedReturn *float64  `json:"annualized_return"`
	MaxDrawdown      float64   `json:"max_drawdown"`
	SharpeRatio      *float64  `json:"sharpe_ratio"`
}

// Response is returned by the backtest endpoints
type Response struct {
	PortfolioPerformance *PerformanceReport `json:"portfolio_performance"`
	BenchmarkPerformance *PerformanceReport `json:"benchmark_performance,omitempty"`
}

// NewPerformanceReport packages a curve and its metrics
func NewPerformanceReport(perf *Performance) *PerformanceReport {
	report := &PerformanceReport{
		Dates:            make([]string, len(perf.Curve.Dates)),
		Values:           make([]float64, len(perf.Curve.Values)),
		FinalValue:       perf.Metrics.FinalValue,
		TotalReturn:      perf.Metrics.TotalReturn,
		AnnualizedReturn: perf.Metrics.AnnualizedReturn,
		MaxDrawdown:      perf.Metrics.MaxDrawdown,
		SharpeRatio:      perf.Metrics.SharpeRatio,
	}

	for idx, dt := range perf.Curve.Dates {
		report.Dates[idx] = dt.Format(common.DateLayout)
	}
	copy(report.Values, perf.Curve.Values)

	return report
}

// Response builds the wire response; the benchmark is omitted when the
// backtest had none
func (bt *Backtest) Response() *Response {
	resp := &Response{
		PortfolioPerformance: NewPerformanceReport(bt.Portfolio),
	}
	if bt.Benchmark != nil {
		resp.BenchmarkPerformance = NewPerformanceReport(bt.Benchmark)
	}
	return resp
}

// Performance pairs an equity curve with its metrics
type Performance struct {
	Name    string
	Curve   *portfolio.EquityCurve
	Metrics *portfolio.Metrics
}
