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

package data

import (
	"time"
)

// Eod is a single end-of-day bar. Close holds the split and dividend
// adjusted close when the provider offers one.
type Eod struct {
	Date  time.Time `json:"date"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// PriceSeries is an ordered list of daily bars for one ticker. Dates are
// strictly increasing and normalized to midnight UTC.
//
// Series handed out by the cache are shared between requests and must be
// treated as read-only.
type PriceSeries struct {
	Ticker string `json:"ticker"`
	Bars   []Eod  `json:"bars"`
}

// Len returns the number of bars in the series
func (series *PriceSeries) Len() int {
	return len(series.Bars)
}

// First returns the date of the first bar or the zero time if the series is empty
func (series *PriceSeries) First() time.Time {
	if len(series.Bars) == 0 {
		return time.Time{}
	}
	return series.Bars[0].Date
}

// Last returns the date of the last bar or the zero time if the series is empty
func (series *PriceSeries) Last() time.Time {
	if len(series.Bars) == 0 {
		return time.Time{}
	}
	return series.Bars[len(series.Bars)-1].Date
}

// NormalizeDate truncates t to midnight UTC of its calendar day
func NormalizeDate(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
