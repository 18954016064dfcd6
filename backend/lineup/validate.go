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

import (
	"fmt"
	"slices"
)

// Report summarizes field assignment problems in one inning. It never
// blocks anything.
type Report struct {
	// Duplicates are players assigned to more than one position.
	Duplicates []PlayerID `json:"duplicates"`
	// MissingPositions are field positions with nobody assigned.
	MissingPositions []Position `json:"missingPositions"`
	// ExtraHitters are batters with no field position.
	ExtraHitters []PlayerID `json:"extraHitters"`
	// Conflicts marks every position held by a duplicated player.
	Conflicts map[Position]bool `json:"conflicts"`
}

// WarningKind classifies a ValidationWarning.
type WarningKind string

const (
	WarningDuplicate       WarningKind = "duplicate"
	WarningMissingPosition WarningKind = "missingPosition"
)

// ValidationWarning is a single informational finding.
type ValidationWarning struct {
	Kind     WarningKind `json:"kind"`
	Player   PlayerID    `json:"player,omitempty"`
	Position Position    `json:"position,omitempty"`
}

func (w ValidationWarning) String() string {
	if w.Kind == WarningDuplicate {
		return fmt.Sprintf("player %d is assigned to multiple positions", w.Player)
	}
	return fmt.Sprintf("position %s is not assigned", w.Position)
}

// Validate inspects the field assignments of s.
func Validate(s *InningState) Report {
	r := Report{
		Duplicates:       []PlayerID{},
		MissingPositions: []Position{},
		ExtraHitters:     []PlayerID{},
		Conflicts:        map[Position]bool{},
	}
	first := make(map[PlayerID]Position)
	for _, pos := range FieldPositions {
		id := s.FieldAssignments[pos]
		if id == Unassigned {
			r.MissingPositions = append(r.MissingPositions, pos)
			continue
		}
		prev, seen := first[id]
		if !seen {
			first[id] = pos
			continue
		}
		r.Conflicts[prev] = true
		r.Conflicts[pos] = true
		if !slices.Contains(r.Duplicates, id) {
			r.Duplicates = append(r.Duplicates, id)
		}
	}
	for _, p := range s.BattingOrder {
		if _, ok := first[p.ID]; !ok {
			r.ExtraHitters = append(r.ExtraHitters, p.ID)
		}
	}
	return r
}

// OK reports whether there is nothing to warn about.
func (r Report) OK() bool {
	return len(r.Duplicates) == 0 && len(r.MissingPositions) == 0
}

// Warnings flattens the report into one warning per finding.
func (r Report) Warnings() []ValidationWarning {
	var out []ValidationWarning
	for _, id := range r.Duplicates {
		out = append(out, ValidationWarning{Kind: WarningDuplicate, Player: id})
	}
	for _, pos := range r.MissingPositions {
		out = append(out, ValidationWarning{Kind: WarningMissingPosition, Position: pos})
	}
	return out
}

// PositionOf returns the field position of id, or false if id has none.
// With duplicate assignments the first position in FieldPositions order wins.
func PositionOf(s *InningState, id PlayerID) (Position, bool) {
	if id == Unassigned {
		return "", false
	}
	for _, pos := range FieldPositions {
		if s.FieldAssignments[pos] == id {
			return pos, true
		}
	}
	return "", false
}

// SetFieldPosition assigns id to pos in a single inning, which is
// materialized first if needed. Later innings are not affected. Passing
// Unassigned clears the position.
func SetFieldPosition(g *Game, inning int, pos Position, id PlayerID) (*Game, error) {
	if !IsFieldPosition(pos) {
		return nil, ErrUnknownPosition
	}
	out, err := Materialize(g, inning)
	if err != nil {
		return nil, err
	}
	if out == g {
		out = g.Clone()
	}
	s := out.GameData[inning]
	if id == Unassigned {
		delete(s.FieldAssignments, pos)
		return out, nil
	}
	if _, ok := s.Player(id); !ok {
		return nil, ErrUnknownPlayer
	}
	s.FieldAssignments[pos] = id
	return out, nil
}
