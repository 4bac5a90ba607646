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
	"github.com/rs/zerolog"
)

func (o *AssetAllocation) MarshalZerologObject(e *zerolog.Event) {
	e.Str("Ticker", o.Ticker).Float64("Weight", o.Weight)
}

type allocationArray []AssetAllocation

func (arr allocationArray) MarshalZerologArray(a *zerolog.Array) {
	for idx := range arr {
		a.Object(&arr[idx])
	}
}

func (spec *Spec) MarshalZerologObject(e *zerolog.Event) {
	e.Array("Allocations", allocationArray(spec.Allocations)).
		Float64("InitialInvestment", spec.InitialInvestment).
		Time("StartDate", spec.StartDate).
		Time("EndDate", spec.EndDate).
		Str("Rebalance", spec.Rebalance.String()).
		Str("Benchmark", spec.BenchmarkTicker)
}

func (o *DrawDown) MarshalZerologObject(e *zerolog.Event) {
	e.Time("Begin", o.Begin).Time("End", o.End).Time("RecoveryDate", o.Recovery).Float64("Loss", o.Loss)
}

func (metrics *Metrics) MarshalZerologObject(e *zerolog.Event) {
	e.Float64("FinalValue", metrics.FinalValue)
	e.Float64("TotalReturn", metrics.TotalReturn)
	e.Float64("MaxDrawdown", metrics.MaxDrawdown)
	if metrics.AnnualizedReturn != nil {
		e.Float64("AnnualizedReturn", *metrics.AnnualizedReturn)
	}
	if metrics.SharpeRatio != nil {
		e.Float64("SharpeRatio", *metrics.SharpeRatio)
	}
	if metrics.Volatility != nil {
		e.Float64("Volatility", *metrics.Volatility)
	}
}
