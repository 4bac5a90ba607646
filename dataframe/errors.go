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
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoColumns         = errors.New("no price series to align")
	ErrDuplicateColumn   = errors.New("duplicate series")
	ErrBarMissing        = errors.New("bar missing from series")
	ErrInvalidClose      = errors.New("close price is not a positive finite number")
	ErrInsufficientDates = errors.New("fewer than two common trading dates")
)

// InsufficientDataError is returned when the aligned axis is too short to
// compute a single return
type InsufficientDataError struct {
	NumDates int
	Begin    time.Time
	End      time.Time
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: %d common trading date(s) between %s and %s",
		e.NumDates, e.Begin.Format("2006-01-02"), e.End.Format("2006-01-02"))
}

func (e *InsufficientDataError) Unwrap() error {
	return ErrInsufficientDates
}

// MissingBarError names the ticker and date of a bar that is absent or
// unusable inside the common window
type MissingBarError struct {
	Ticker string
	Date   time.Time
	Err    error
}

func (e *MissingBarError) Error() string {
	return fmt.Sprintf("missing bar for %s on %s: %s", e.Ticker, e.Date.Format("2006-01-02"), e.Err)
}

func (e *MissingBarError) Unwrap() error {
	return e.Err
}
