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
	"math"
	"time"

	"github.com/spf13/viper"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// returns with a population standard deviation below this are treated as
// flat; valuing a flat basket still leaves floating point residue
const zeroVolatility = 1e-12

// MetricsConfig holds the market assumptions used by ComputeMetrics
type MetricsConfig struct {
	RiskFreeRate float64 // annual
	TradingDays  int     // per year
}

// DefaultMetricsConfig assumes a 2% risk free rate and 252 trading days
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		RiskFreeRate: 0.02,
		TradingDays:  252,
	}
}

// NewMetricsConfigFromConfig reads metrics.risk_free_rate and metrics.trading_days
func NewMetricsConfigFromConfig() MetricsConfig {
	cfg := DefaultMetricsConfig()
	if viper.IsSet("metrics.risk_free_rate") {
		cfg.RiskFreeRate = viper.GetFloat64("metrics.risk_free_rate")
	}
	if days := viper.GetInt("metrics.trading_days"); days > 0 {
		cfg.TradingDays = days
	}
	return cfg
}

// DrawDown is a decline from a peak. Loss is a positive fraction of the peak
// value; Recovery is zero if the curve never regained the peak
type DrawDown struct {
	Begin    time.Time
	End      time.Time
	Recovery time.Time
	Loss     float64
}

// Metrics summarizes an equity curve. Nil pointers are metrics that are
// undefined for the curve
type Metrics struct {
	FinalValue       float64
	TotalReturn      float64
	AnnualizedReturn *float64
	MaxDrawdown      float64
	SharpeRatio      *float64
	Volatility       *float64
	WorstDrawDown    *DrawDown
}

// ComputeMetrics derives return and risk figures from curve. Portfolio and
// benchmark curves both go through here.
func ComputeMetrics(curve *EquityCurve, cfg MetricsConfig) *Metrics {
	n := curve.Len()
	metrics := &Metrics{}
	if n == 0 {
		return metrics
	}

	first := curve.Values[0]
	metrics.FinalValue = curve.Values[n-1]
	metrics.TotalReturn = metrics.FinalValue/first - 1.0
	metrics.WorstDrawDown = maxDrawDown(curve)
	if metrics.WorstDrawDown != nil {
		metrics.MaxDrawdown = metrics.WorstDrawDown.Loss
	}

	if n < 2 || cfg.TradingDays <= 0 {
		return metrics
	}

	tradingDays := float64(cfg.TradingDays)
	annualized := math.Pow(1.0+metrics.TotalReturn, tradingDays/float64(n-1)) - 1.0
	metrics.AnnualizedReturn = &annualized

	rets := dailyReturns(curve.Values)
	mean, std := stat.PopMeanStdDev(rets, nil)
	if std > zeroVolatility && !math.IsNaN(std) {
		dailyRf := math.Pow(1.0+cfg.RiskFreeRate, 1.0/tradingDays) - 1.0
		sharpe := (mean - dailyRf) / std * math.Sqrt(tradingDays)
		vol := std * math.Sqrt(tradingDays)
		metrics.SharpeRatio = &sharpe
		metrics.Volatility = &vol
	}

	return metrics
}

// dailyReturns computes v[i]/v[i-1] - 1 for i = 1..n-1
func dailyReturns(values []float64) []float64 {
	if len(values) < 2 {
		return []float64{}
	}
	rets := make([]float64, len(values)-1)
	floats.DivTo(rets, values[1:], values[:len(values)-1])
	floats.AddConst(-1.0, rets)
	return rets
}

// maxDrawDown finds the largest peak-to-trough decline; nil when the curve
// never falls below a previous peak
func maxDrawDown(curve *EquityCurve) *DrawDown {
	var worst *DrawDown
	peak := curve.Values[0]
	peakDate := curve.Dates[0]

	for idx, value := range curve.Values {
		if value >= peak {
			if worst != nil && worst.Recovery.IsZero() && worst.Begin.Equal(peakDate) {
				worst.Recovery = curve.Dates[idx]
			}
			peak = value
			peakDate = curve.Dates[idx]
			continue
		}

		loss := (peak - value) / peak
		if worst == nil || loss > worst.Loss {
			worst = &DrawDown{
				Begin: peakDate,
				End:   curve.Dates[idx],
				Loss:  loss,
			}
		}
	}

	return worst
}
