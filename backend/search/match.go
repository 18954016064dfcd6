// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package search

import (
	"strings"
)

// Record is the searchable view of a saved game.
type Record struct {
	ID       string
	Opponent string
	Date     string // YYYY-MM-DD
}

// Match reports whether r satisfies every filter and every free text term.
// Filters on unknown keys never match.
func (q Query) Match(r Record) bool {
	for _, f := range q.Filters {
		if !f.match(r) {
			return false
		}
	}
	opp := strings.ToLower(r.Opponent)
	for _, term := range q.FreeText {
		term = strings.ToLower(term)
		if !strings.Contains(opp, term) && !strings.Contains(r.Date, term) {
			return false
		}
	}
	return true
}

func (f Filter) match(r Record) bool {
	switch f.Key {
	case "opponent", "vs":
		return f.Operator == OpEqual && strings.Contains(strings.ToLower(r.Opponent), strings.ToLower(f.Value))
	case "id":
		return f.Operator == OpEqual && r.ID == f.Value
	case "date":
		return compareDate(f, r.Date)
	}
	return false
}

// Dates are compared lexically, which is correct for ISO dates and lets a
// prefix such as 2026-04 stand for a whole month.
func compareDate(f Filter, date string) bool {
	switch f.Operator {
	case OpEqual:
		return strings.HasPrefix(date, f.Value)
	case OpGreater:
		return date > f.Value && !strings.HasPrefix(date, f.Value)
	case OpGreaterOrEqual:
		return date >= f.Value
	case OpLess:
		return date < f.Value
	case OpLessOrEqual:
		return date <= f.Value || strings.HasPrefix(date, f.Value)
	case OpRange:
		return (f.Value == "" || date >= f.Value) && (f.MaxValue == "" || date <= f.MaxValue || strings.HasPrefix(date, f.MaxValue))
	}
	return false
}
