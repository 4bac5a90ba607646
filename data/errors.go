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
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("security not found")
	ErrNoData            = errors.New("no trading data in requested window")
	ErrInvalidTimeRange  = errors.New("start must be before end")
	ErrBeginAfterEnd     = errors.New("invalid interval; begin after end date")
	ErrUpstream          = errors.New("price source request failed")
	ErrUnknownProvider   = errors.New("unknown price provider")
	ErrUnsortedSeries    = errors.New("price series dates are not strictly increasing")
	ErrMalformedResponse = errors.New("malformed price source response")
)

// DataUnavailableError is returned when the price source has nothing to
// offer for a ticker: the symbol is unknown or it did not trade in the window.
// Retrying will not help; the caller must change inputs.
type DataUnavailableError struct {
	Ticker string
	Err    error
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("no price data available for %s: %s", e.Ticker, e.Err)
}

func (e *DataUnavailableError) Unwrap() error {
	return e.Err
}

// UpstreamFetchError is returned when the price source itself fails
// (transport error, timeout, throttling or a server side error).
type UpstreamFetchError struct {
	Provider   string
	Ticker     string
	StatusCode int
	Err        error
}

func (e *UpstreamFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s request for %s failed with status %d: %s", e.Provider, e.Ticker, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s request for %s failed: %s", e.Provider, e.Ticker, e.Err)
}

func (e *UpstreamFetchError) Unwrap() error {
	return e.Err
}
