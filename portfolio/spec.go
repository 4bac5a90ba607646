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

package portfolio

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/penny-vault/pvbt/data"
)

const (
	MaxAllocations           = 5
	WeightTolerance          = 1e-4
	DefaultInitialInvestment = 10_000.0
)

// AssetAllocation is the target weight of a single ticker
type AssetAllocation struct {
	Ticker string
	Weight float64
}

// Spec describes a portfolio to simulate
type Spec struct {
	Allocations       []AssetAllocation
	InitialInvestment float64
	StartDate         time.Time
	EndDate           time.Time
	Rebalance         Rebalance
	BenchmarkTicker   string
}

// Normalize upper-cases tickers and truncates dates to midnight UTC
func (spec *Spec) Normalize() {
	for idx := range spec.Allocations {
		spec.Allocations[idx].Ticker = strings.ToUpper(strings.TrimSpace(spec.Allocations[idx].Ticker))
	}
	spec.BenchmarkTicker = strings.ToUpper(strings.TrimSpace(spec.BenchmarkTicker))
	if !spec.StartDate.IsZero() {
		spec.StartDate = data.NormalizeDate(spec.StartDate)
	}
	if !spec.EndDate.IsZero() {
		spec.EndDate = data.NormalizeDate(spec.EndDate)
	}
}

// Validate checks every field and returns a *ValidationError listing all
// problems found, or nil
func (spec *Spec) Validate() error {
	verr := &ValidationError{}

	switch {
	case len(spec.Allocations) == 0:
		verr.Add("at least one asset is required", "assets")
	case len(spec.Allocations) > MaxAllocations:
		verr.Add(fmt.Sprintf("at most %d assets are allowed", MaxAllocations), "assets")
	}

	seen := make(map[string]int, len(spec.Allocations))
	total := 0.0
	for idx, alloc := range spec.Allocations {
		ticker := strings.ToUpper(strings.TrimSpace(alloc.Ticker))
		if ticker == "" {
			verr.Add("ticker must not be empty", "assets", idx, "ticker")
		} else if first, ok := seen[ticker]; ok {
			verr.Add(fmt.Sprintf("duplicate ticker %s (also at position %d)", ticker, first), "assets", idx, "ticker")
		} else {
			seen[ticker] = idx
		}

		if math.IsNaN(alloc.Weight) || alloc.Weight <= 0 || alloc.Weight > 1 {
			verr.Add("weight must be greater than 0 and at most 1", "assets", idx, "weight")
		}
		total += alloc.Weight
	}

	if len(spec.Allocations) > 0 && !(math.Abs(total-1.0) < WeightTolerance) {
		verr.Add(fmt.Sprintf("asset weights must sum to 1 (got %g)", total), "assets")
	}

	if math.IsNaN(spec.InitialInvestment) || math.IsInf(spec.InitialInvestment, 0) || spec.InitialInvestment <= 0 {
		verr.Add("initial investment must be greater than 0", "initial_investment")
	}

	if spec.StartDate.IsZero() {
		verr.Add("start date is required", "start_date")
	}
	if spec.EndDate.IsZero() {
		verr.Add("end date is required", "end_date")
	}
	if !spec.StartDate.IsZero() && !spec.EndDate.IsZero() && !spec.EndDate.After(spec.StartDate) {
		verr.Add("end date must be after start date", "end_date")
	}

	if !spec.Rebalance.Valid() {
		verr.Add("rebalance must be one of None, Monthly, Quarterly, Annually", "rebalance")
	}

	if verr.HasIssues() {
		return verr
	}
	return nil
}

// Tickers returns the allocation tickers followed by the benchmark, without
// duplicates
func (spec *Spec) Tickers() []string {
	tickers := make([]string, 0, len(spec.Allocations)+1)
	seen := make(map[string]bool, len(spec.Allocations)+1)
	for _, alloc := range spec.Allocations {
		if !seen[alloc.Ticker] {
			seen[alloc.Ticker] = true
			tickers = append(tickers, alloc.Ticker)
		}
	}
	if spec.BenchmarkTicker != "" && !seen[spec.BenchmarkTicker] {
		tickers = append(tickers, spec.BenchmarkTicker)
	}
	return tickers
}

// Interval is the requested simulation window
func (spec *Spec) Interval() *data.Interval {
	return data.NewInterval(spec.StartDate, spec.EndDate)
}
