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
	"errors"
	"fmt"
	"strings"
	"time"
)

// Rebalance is how often holdings are traded back to their target weights
type Rebalance int

const (
	RebalanceNone Rebalance = iota
	RebalanceMonthly
	RebalanceQuarterly
	RebalanceAnnually
)

var (
	ErrUnknownRebalance = errors.New("unknown rebalance frequency")
)

// ParseRebalance accepts "", "None", "Monthly", "Quarterly" and "Annually"
// (case insensitive)
func ParseRebalance(s string) (Rebalance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return RebalanceNone, nil
	case "monthly":
		return RebalanceMonthly, nil
	case "quarterly":
		return RebalanceQuarterly, nil
	case "annually":
		return RebalanceAnnually, nil
	default:
		return RebalanceNone, fmt.Errorf("%w: %q", ErrUnknownRebalance, s)
	}
}

func (r Rebalance) String() string {
	switch r {
	case RebalanceNone:
		return "None"
	case RebalanceMonthly:
		return "Monthly"
	case RebalanceQuarterly:
		return "Quarterly"
	case RebalanceAnnually:
		return "Annually"
	default:
		return fmt.Sprintf("Rebalance(%d)", int(r))
	}
}

// Valid reports whether r is one of the defined frequencies
func (r Rebalance) Valid() bool {
	return r >= RebalanceNone && r <= RebalanceAnnually
}

// periodKey identifies the calendar period dt falls in; two dates belong to
// the same period iff their keys are equal
func (r Rebalance) periodKey(dt time.Time) int {
	year := dt.Year()
	month := int(dt.Month()) - 1
	switch r {
	case RebalanceMonthly:
		return year*12 + month
	case RebalanceQuarterly:
		return year*4 + month/3
	case RebalanceAnnually:
		return year
	default:
		return 0
	}
}

// StartsPeriod is true when cur is the first date of a new rebalance period
// relative to the previous trading date prev
func (r Rebalance) StartsPeriod(prev, cur time.Time) bool {
	if r == RebalanceNone {
		return false
	}
	return r.periodKey(prev) != r.periodKey(cur)
}
