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

package lineup

// BattingChange is a slot whose batter differs from the previous inning.
type BattingChange struct {
	Slot int    `json:"slot"`
	In   Player `json:"in"`
	Out  Player `json:"out"`
}

// FieldChange is a position whose player differs from the previous inning.
// Either side may be Unassigned.
type FieldChange struct {
	Position Position `json:"position"`
	In       PlayerID `json:"in"`
	Out      PlayerID `json:"out"`
}

// InningChanges lists what changed going into an inning.
type InningChanges struct {
	Batting []BattingChange `json:"batting"`
	Field   []FieldChange   `json:"field"`
}

// Empty reports whether nothing changed.
func (c InningChanges) Empty() bool {
	return len(c.Batting) == 0 && len(c.Field) == 0
}

// Changes compares inning n with inning n-1. Both must be materialized,
// otherwise there are no changes to report.
func Changes(g *Game, n int) InningChanges {
	c := InningChanges{Batting: []BattingChange{}, Field: []FieldChange{}}
	if n <= 1 {
		return c
	}
	cur, prev := g.Inning(n), g.Inning(n-1)
	if cur == nil || prev == nil {
		return c
	}
	for i, p := range cur.BattingOrder {
		if i >= len(prev.BattingOrder) {
			break
		}
		if old := prev.BattingOrder[i]; old.ID != p.ID {
			c.Batting = append(c.Batting, BattingChange{Slot: i + 1, In: p, Out: old})
		}
	}
	for _, pos := range FieldPositions {
		in, out := cur.FieldAssignments[pos], prev.FieldAssignments[pos]
		if in != out {
			c.Field = append(c.Field, FieldChange{Position: pos, In: in, Out: out})
		}
	}
	return c
}
