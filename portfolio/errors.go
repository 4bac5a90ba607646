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
)

var (
	ErrTickerNotInPrices = errors.New("ticker not present in aligned prices")
	ErrNoPrices          = errors.New("aligned prices are empty")
)

// FieldIssue is a single validation problem. Loc is the path to the
// offending field, e.g. ["assets", 1, "weight"]
type FieldIssue struct {
	Loc []interface{}
	Msg string
}

// ValidationError collects every problem found in a request
type ValidationError struct {
	Issues []FieldIssue
}

// Add records an issue at loc
func (verr *ValidationError) Add(msg string, loc ...interface{}) {
	verr.Issues = append(verr.Issues, FieldIssue{Loc: loc, Msg: msg})
}

// HasIssues is true when at least one issue was recorded
func (verr *ValidationError) HasIssues() bool {
	return len(verr.Issues) > 0
}

func (verr *ValidationError) Error() string {
	parts := make([]string, len(verr.Issues))
	for idx, issue := range verr.Issues {
		path := make([]string, len(issue.Loc))
		for jdx, loc := range issue.Loc {
			path[jdx] = fmt.Sprint(loc)
		}
		parts[idx] = fmt.Sprintf("%s: %s", strings.Join(path, "."), issue.Msg)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
