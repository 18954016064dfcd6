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
	"math"
	"slices"
)

// PlayerStats counts the innings a player took part in. Total counts an
// inning once whether the player batted, fielded, or both.
type PlayerStats struct {
	Name       string  `json:"name"`
	Batting    int     `json:"batting"`
	Field      int     `json:"field"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

type tally struct {
	order []string
	stats map[string]*PlayerStats
}

func newTally(r Roster) *tally {
	t := &tally{stats: make(map[string]*PlayerStats)}
	for _, p := range r.Everyone() {
		t.get(p.Name)
	}
	return t
}

// Players are keyed by name, so two roster entries sharing a name are
// counted together.
func (t *tally) get(name string) *PlayerStats {
	if s, ok := t.stats[name]; ok {
		return s
	}
	s := &PlayerStats{Name: name}
	t.stats[name] = s
	t.order = append(t.order, name)
	return s
}

func (t *tally) add(g *Game) {
	for n := 1; n <= Innings; n++ {
		s := g.Inning(n)
		if s == nil {
			continue
		}
		for _, p := range s.BattingOrder {
			st := t.get(p.Name)
			st.Batting++
			st.Total++
		}
		for _, pos := range FieldPositions {
			id := s.FieldAssignments[pos]
			if id == Unassigned {
				continue
			}
			p, ok := s.Player(id)
			if !ok {
				continue
			}
			st := t.get(p.Name)
			st.Field++
			if s.BattingSlot(id) == 0 {
				st.Total++
			}
		}
	}
}

func (t *tally) result(games int) []PlayerStats {
	out := make([]PlayerStats, 0, len(t.order))
	for _, name := range t.order {
		s := *t.stats[name]
		if games > 0 {
			s.Percentage = math.Round(float64(s.Total)/float64(games*Innings)*1000) / 10
		}
		out = append(out, s)
	}
	slices.SortStableFunc(out, func(a, b PlayerStats) int { return b.Total - a.Total })
	return out
}

// GameMetrics counts participation in a single game for every roster
// player, plus anyone else who appears in the game.
func GameMetrics(g *Game, r Roster) []PlayerStats {
	t := newTally(r)
	t.add(g)
	return t.result(1)
}

// SeasonMetrics is GameMetrics summed over games. With no games every
// percentage is zero.
func SeasonMetrics(games []*Game, r Roster) []PlayerStats {
	t := newTally(r)
	for _, g := range games {
		t.add(g)
	}
	return t.result(len(games))
}
