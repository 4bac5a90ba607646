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

package dataframe

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/penny-vault/pvbt/data"
	"github.com/rs/zerolog/log"
)

// Align places every series on one shared trading-date axis covering the
// common window [max first date, min last date] of the series clipped to
// interval. Columns are named by ticker and keep the order of series.
//
// No values are filled forward. When strict is true a date that is present
// in one series and absent from another inside the common window is a
// MissingBarError; otherwise the date is dropped from the axis. A close on
// the axis that is not a positive finite number is always a MissingBarError.
func Align(series []*data.PriceSeries, interval *data.Interval, strict bool) (*DataFrame, error) {
	if len(series) == 0 {
		return nil, ErrNoColumns
	}

	subLog := log.With().Object("Interval", interval).Bool("Strict", strict).Logger()

	closes := make([]map[time.Time]float64, len(series))
	colNames := make([]string, len(series))
	seen := make(map[string]bool, len(series))

	var begin, end time.Time
	for idx, s := range series {
		if seen[s.Ticker] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateColumn, s.Ticker)
		}
		seen[s.Ticker] = true
		colNames[idx] = s.Ticker

		closes[idx] = make(map[time.Time]float64, len(s.Bars))
		var first, last time.Time
		for _, bar := range s.Bars {
			if !interval.ContainsDate(bar.Date) {
				continue
			}
			closes[idx][bar.Date] = bar.Close
			if first.IsZero() || bar.Date.Before(first) {
				first = bar.Date
			}
			if bar.Date.After(last) {
				last = bar.Date
			}
		}

		if len(closes[idx]) == 0 {
			subLog.Warn().Str("Ticker", s.Ticker).Msg("series has no bars inside the requested window")
			return nil, &data.DataUnavailableError{Ticker: s.Ticker, Err: data.ErrNoData}
		}

		if idx == 0 || first.After(begin) {
			begin = first
		}
		if idx == 0 || last.Before(end) {
			end = last
		}
	}

	if begin.After(end) {
		subLog.Warn().Time("CommonBegin", begin).Time("CommonEnd", end).Msg("series do not overlap")
		return nil, &InsufficientDataError{NumDates: 0, Begin: interval.Begin, End: interval.End}
	}

	// every date any series reports inside the common window
	candidates := make(map[time.Time]struct{})
	for _, colCloses := range closes {
		for dt := range colCloses {
			if !dt.Before(begin) && !dt.After(end) {
				candidates[dt] = struct{}{}
			}
		}
	}

	dates := make([]time.Time, 0, len(candidates))
	for dt := range candidates {
		dates = append(dates, dt)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	df := &DataFrame{
		Dates:    make([]time.Time, 0, len(dates)),
		ColNames: colNames,
		Vals:     make([][]float64, len(series)),
	}
	for idx := range df.Vals {
		df.Vals[idx] = make([]float64, 0, len(dates))
	}

	dropped := 0
	for _, dt := range dates {
		missing := ""
		for idx, colCloses := range closes {
			if _, ok := colCloses[dt]; !ok {
				missing = colNames[idx]
				break
			}
		}

		if missing != "" {
			if strict {
				subLog.Warn().Str("Ticker", missing).Time("Date", dt).Msg("bar missing inside common window")
				return nil, &MissingBarError{Ticker: missing, Date: dt, Err: ErrBarMissing}
			}
			dropped++
			continue
		}

		for idx, colCloses := range closes {
			val := colCloses[dt]
			if math.IsNaN(val) || math.IsInf(val, 0) || val <= 0 {
				subLog.Warn().Str("Ticker", colNames[idx]).Time("Date", dt).Float64("Close", val).Msg("unusable close price")
				return nil, &MissingBarError{Ticker: colNames[idx], Date: dt, Err: ErrInvalidClose}
			}
			df.Vals[idx] = append(df.Vals[idx], val)
		}
		df.Dates = append(df.Dates, dt)
	}

	if dropped > 0 {
		subLog.Debug().Int("Dropped", dropped).Msg("dropped dates not shared by every series")
	}

	if df.Len() < 2 {
		return nil, &InsufficientDataError{NumDates: df.Len(), Begin: begin, End: end}
	}

	subLog.Debug().Int("NumDates", df.Len()).Int("NumCols", df.ColCount()).Msg("aligned price series")
	return df, nil
}
