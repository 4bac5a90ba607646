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

	"github.com/rs/zerolog"
)

// Interval stores a beginning and ending date (both inclusive, daily resolution)
type Interval struct {
	Begin time.Time
	End   time.Time
}

// NewInterval creates an interval with both ends normalized to midnight UTC
func NewInterval(begin, end time.Time) *Interval {
	return &Interval{
		Begin: NormalizeDate(begin),
		End:   NormalizeDate(end),
	}
}

// Contains returns true if interval completely contains other
func (interval *Interval) Contains(other *Interval) bool {
	return !other.Begin.Before(interval.Begin) && !other.End.After(interval.End)
}

// ContainsDate returns true if dt falls on or between Begin and End
func (interval *Interval) ContainsDate(dt time.Time) bool {
	return !dt.Before(interval.Begin) && !dt.After(interval.End)
}

// Overlaps returns true if interval and other overlap
func (interval *Interval) Overlaps(other *Interval) bool {
	return !other.Begin.After(interval.End) && !other.End.Before(interval.Begin)
}

// Valid checks if the given interval is valid range and returns an error if not
func (interval *Interval) Valid() error {
	if interval.Begin.After(interval.End) {
		return ErrBeginAfterEnd
	}

	return nil
}

// String renders the interval as "begin..end" using the wire date layout
func (interval *Interval) String() string {
	return interval.Begin.Format("2006-01-02") + ".." + interval.End.Format("2006-01-02")
}

// MarshalZerologObject implement the log marshaller interface for zerolog
func (interval *Interval) MarshalZerologObject(e *zerolog.Event) {
	e.Time("Begin", interval.Begin).Time("End", interval.End)
}
