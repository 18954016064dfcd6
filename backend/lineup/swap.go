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

// SwapMode selects how ApplySwap treats the two players.
type SwapMode string

const (
	// SwapSubstitute exchanges a batter with a bench player, subject to the
	// re-entry rules.
	SwapSubstitute SwapMode = "substitute"
	// SwapReorder exchanges the slots of two batters. No rules apply.
	SwapReorder SwapMode = "reorder"
)

// SwapRequest describes a swap taking effect at FromInning. A and B may be
// given in either order.
type SwapRequest struct {
	A          PlayerID `json:"a"`
	B          PlayerID `json:"b"`
	FromInning int      `json:"inning"`
	Mode       SwapMode `json:"mode"`
}

// ApplySwap returns a copy of g with the swap applied to FromInning and to
// every later inning that is already materialized. FromInning itself is
// materialized first if needed. Earlier innings are never touched.
//
// In substitute mode the entering player is checked with CanEnterSlot at
// FromInning; a refusal is returned as *IneligibleSwapError and g is left as
// it was.
func ApplySwap(g *Game, req SwapRequest) (*Game, error) {
	if req.Mode == "" {
		req.Mode = SwapSubstitute
	}
	if req.Mode != SwapSubstitute && req.Mode != SwapReorder {
		return nil, ErrUnknownMode
	}
	out, err := Materialize(g, req.FromInning)
	if err != nil {
		return nil, err
	}
	if out == g {
		out = g.Clone()
	}
	s := out.GameData[req.FromInning]

	if req.Mode == SwapReorder {
		if req.A == req.B || s.BattingSlot(req.A) == 0 || s.BattingSlot(req.B) == 0 {
			return nil, ErrNotSwappable
		}
		for n := req.FromInning; n <= Innings; n++ {
			if st := out.GameData[n]; st != nil {
				reorder(st, req.A, req.B)
			}
		}
		return out, nil
	}

	leaving, entering, ok := splitSwap(s, req.A, req.B)
	if !ok {
		return nil, ErrNotSwappable
	}
	slot := s.BattingSlot(leaving)
	if d := CanEnterSlot(entering, slot, s); !d.Allowed {
		return nil, &IneligibleSwapError{Player: entering, Slot: slot, Reason: d.Reason}
	}
	for n := req.FromInning; n <= Innings; n++ {
		if st := out.GameData[n]; st != nil {
			substitute(st, leaving, entering)
		}
	}
	return out, nil
}

// splitSwap works out which of a and b is batting and which is on the bench.
func splitSwap(s *InningState, a, b PlayerID) (leaving, entering PlayerID, ok bool) {
	switch {
	case s.BattingSlot(a) > 0 && s.OnBench(b):
		return a, b, true
	case s.BattingSlot(b) > 0 && s.OnBench(a):
		return b, a, true
	}
	return 0, 0, false
}

func reorder(s *InningState, a, b PlayerID) {
	i, j := s.battingIndex(a), s.battingIndex(b)
	if i < 0 || j < 0 {
		return
	}
	s.BattingOrder[i], s.BattingOrder[j] = s.BattingOrder[j], s.BattingOrder[i]
}

// substitute moves entering from the bench into the slot held by leaving.
// Innings where the two are not in that configuration are skipped.
func substitute(s *InningState, leaving, entering PlayerID) {
	bi, si := s.battingIndex(leaving), s.benchIndex(entering)
	if bi < 0 || si < 0 {
		return
	}
	slot := bi + 1

	if s.IsStarter(entering) {
		s.ReentryCount[entering]++
	} else if s.OriginalSlots[entering] == 0 {
		s.OriginalSlots[entering] = slot
	}
	if !s.IsStarter(leaving) && !s.IsRemoved(leaving) {
		s.SubsRemovedFromBatting = append(s.SubsRemovedFromBatting, leaving)
	}

	s.BattingOrder[bi], s.Subs[si] = s.Subs[si], s.BattingOrder[bi]

	for pos, id := range s.FieldAssignments {
		if id == leaving {
			s.FieldAssignments[pos] = entering
		}
	}
}
