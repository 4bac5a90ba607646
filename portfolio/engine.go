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
	"context"
	"fmt"
	"time"

	"github.com/penny-vault/pvbt/dataframe"
	"github.com/penny-vault/pvbt/observability/opentelemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RebalanceEvent records the holdings immediately after a rebalance
type RebalanceEvent struct {
	Date   time.Time
	Value  float64
	Shares map[string]float64
}

// EquityCurve is the value of a portfolio on each aligned trading date
type EquityCurve struct {
	Dates      []time.Time
	Values     []float64
	Rebalances []RebalanceEvent
}

// Len returns the number of points on the curve
func (curve *EquityCurve) Len() int {
	return len(curve.Values)
}

// FinalValue returns the last value on the curve
func (curve *EquityCurve) FinalValue() float64 {
	if len(curve.Values) == 0 {
		return 0
	}
	return curve.Values[len(curve.Values)-1]
}

// Simulate buys the allocations at the first aligned close and marks the
// holdings to market on every following date. When rebalance is not None
// the first date of each new calendar period resets every holding to its
// target weight before the day's value is recorded. Fractional shares are
// allowed and there are no transaction costs.
func Simulate(ctx context.Context, prices *dataframe.DataFrame, allocations []AssetAllocation, initial float64, rebalance Rebalance) (*EquityCurve, error) {
	_, span := otel.Tracer(opentelemetry.Name).Start(ctx, "portfolio.Simulate")
	defer span.End()

	span.SetAttributes(
		attribute.Int("NumAssets", len(allocations)),
		attribute.String("Rebalance", rebalance.String()),
	)

	if prices.Len() == 0 {
		span.SetStatus(codes.Error, "no prices")
		return nil, ErrNoPrices
	}

	cols := make([][]float64, len(allocations))
	for idx, alloc := range allocations {
		col := prices.Column(alloc.Ticker)
		if col == nil {
			err := fmt.Errorf("%w: %s", ErrTickerNotInPrices, alloc.Ticker)
			span.RecordError(err)
			span.SetStatus(codes.Error, "missing column")
			return nil, err
		}
		cols[idx] = col
	}

	// rebalancing a single holding back to 100% is a no-op
	if len(allocations) == 1 {
		rebalance = RebalanceNone
	}

	numDays := prices.Len()
	curve := &EquityCurve{
		Dates:  make([]time.Time, numDays),
		Values: make([]float64, numDays),
	}
	copy(curve.Dates, prices.Dates)

	// holdings are tracked as dollars at the last anchor row; a holding whose
	// close is unchanged since the anchor contributes nothing to the change
	anchor := 0
	anchorValue := initial
	dollars := make([]float64, len(allocations))
	for idx, alloc := range allocations {
		dollars[idx] = initial * alloc.Weight
	}
	curve.Values[0] = initial

	for row := 1; row < numDays; row++ {
		value := anchorValue
		for idx := range dollars {
			value += dollars[idx] * (cols[idx][row]/cols[idx][anchor] - 1.0)
		}

		if rebalance.StartsPeriod(prices.Dates[row-1], prices.Dates[row]) {
			event := RebalanceEvent{
				Date:   prices.Dates[row],
				Value:  value,
				Shares: make(map[string]float64, len(allocations)),
			}
			for idx, alloc := range allocations {
				dollars[idx] = value * alloc.Weight
				event.Shares[alloc.Ticker] = dollars[idx] / cols[idx][row]
			}
			anchor = row
			anchorValue = value
			curve.Rebalances = append(curve.Rebalances, event)
		}

		curve.Values[row] = value
	}

	log.Debug().Int("NumDays", numDays).Int("NumRebalances", len(curve.Rebalances)).
		Float64("FinalValue", curve.FinalValue()).Str("Rebalance", rebalance.String()).Msg("simulated portfolio")

	return curve, nil
}

// SimulateBenchmark values a buy-and-hold position in a single ticker on the
// same aligned axis as the portfolio
func SimulateBenchmark(ctx context.Context, prices *dataframe.DataFrame, ticker string, initial float64) (*EquityCurve, error) {
	return Simulate(ctx, prices, []AssetAllocation{{Ticker: ticker, Weight: 1.0}}, initial, RebalanceNone)
}
