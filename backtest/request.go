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
	"errors"
	"fmt"
	"time"

	"github.com/penny-vault/pvbt/common"
	"github.com/penny-vault/pvbt/portfolio"
)

// AssetRequest is one entry of the assets list
type AssetRequest struct {
	Ticker string   `json:"ticker"`
	Weight *float64 `json:"weight"`
}

// Request is the body of a backtest call
type Request struct {
	Assets            []AssetRequest `json:"assets"`
	InitialInvestment *float64       `json:"initial_investment"`
	StartDate         string         `json:"start_date"`
	EndDate           string         `json:"end_date"`
	BenchmarkTicker   *string        `json:"benchmark_ticker"`
	Rebalance         *string        `json:"rebalance"`
}

// ToSpec converts the request into a validated portfolio spec. Problems are
// returned as a *portfolio.ValidationError whose locations start with "body"
func (req *Request) ToSpec() (*portfolio.Spec, error) {
	parseErr := &portfolio.ValidationError{}
	flagged := make(map[string]bool)

	spec := &portfolio.Spec{
		Allocations:       make([]portfolio.AssetAllocation, len(req.Assets)),
		InitialInvestment: portfolio.DefaultInitialInvestment,
	}

	for idx, asset := range req.Assets {
		spec.Allocations[idx].Ticker = asset.Ticker
		if asset.Weight == nil {
			parseErr.Add("field required", "body", "assets", idx, "weight")
			flagged[fmt.Sprintf("assets.%d.weight", idx)] = true
			continue
		}
		spec.Allocations[idx].Weight = *asset.Weight
	}

	if req.InitialInvestment != nil {
		spec.InitialInvestment = *req.InitialInvestment
	}

	var err error
	if spec.StartDate, err = parseDate(req.StartDate); err != nil {
		parseErr.Add(err.Error(), "body", "start_date")
		flagged["start_date"] = true
	}
	if spec.EndDate, err = parseDate(req.EndDate); err != nil {
		parseErr.Add(err.Error(), "body", "end_date")
		flagged["end_date"] = true
	}

	if req.Rebalance != nil {
		if spec.Rebalance, err = portfolio.ParseRebalance(*req.Rebalance); err != nil {
			parseErr.Add("rebalance must be one of None, Monthly, Quarterly, Annually", "body", "rebalance")
			flagged["rebalance"] = true
		}
	}

	if req.BenchmarkTicker != nil {
		spec.BenchmarkTicker = *req.BenchmarkTicker
	}

	spec.Normalize()

	if err := spec.Validate(); err != nil {
		var verr *portfolio.ValidationError
		if !errors.As(err, &verr) {
			return nil, err
		}
		for _, issue := range verr.Issues {
			if flagged[locKey(issue.Loc)] {
				continue
			}
			parseErr.Add(issue.Msg, append([]interface{}{"body"}, issue.Loc...)...)
		}
	}

	if parseErr.HasIssues() {
		return nil, parseErr
	}
	return spec, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("field required")
	}
	dt, err := time.Parse(common.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return dt, nil
}

func locKey(loc []interface{}) string {
	key := ""
	for idx, part := range loc {
		if idx > 0 {
			key += "."
		}
		key += fmt.Sprint(part)
	}
	return key
}
