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

// Package lineup implements the substitution and re-entry rules of a
// seven-inning softball game, and the per-inning lineup state they act on.
//
// All functions in this package are synchronous and pure: they never mutate
// the Game they are given and return a new one instead.
package lineup

import (
	"fmt"
	"maps"
	"slices"
)

const (
	// Innings is the number of innings in a game.
	Innings = 7
	// Slots is the number of batting order slots.
	Slots = 9
	// BenchSize is the number of substitutes on a roster.
	BenchSize = 5
)

// PlayerID identifies a roster player for the duration of a game.
type PlayerID int

// Unassigned marks a field position with nobody in it.
const Unassigned PlayerID = 0

// Player is a roster entry. Copies are embedded in every inning.
type Player struct {
	ID   PlayerID `json:"id"`
	Name string   `json:"name"`
}

// Position is a field position label.
type Position string

// PositionEH is shown for a batter with no field position (Extra Hitter).
const PositionEH Position = "EH"

// FieldPositions lists the nine field positions in display order.
var FieldPositions = []Position{"P", "C", "1B", "2B", "3B", "SS", "LF", "CF", "RF"}

// IsFieldPosition reports whether p is one of FieldPositions.
func IsFieldPosition(p Position) bool {
	return slices.Contains(FieldPositions, p)
}

// InningState is the lineup of a single inning, along with the participation
// history needed to decide substitution legality.
type InningState struct {
	BattingOrder     []Player              `json:"battingOrder"`
	Subs             []Player              `json:"subs"`
	FieldAssignments map[Position]PlayerID `json:"fieldAssignments"`

	// OriginalSlots maps a player to the first batting slot they occupied.
	OriginalSlots map[PlayerID]int `json:"originalSlots"`
	// Starters are the players who began the game in the batting order.
	Starters []PlayerID `json:"starters"`
	// ReentryCount counts how many times a starter came back in.
	ReentryCount map[PlayerID]int `json:"reentryCount"`
	// SubsRemovedFromBatting holds substitutes who batted and were then
	// taken out. It only ever grows.
	SubsRemovedFromBatting []PlayerID `json:"subsRemovedFromBatting"`
}

func (s *InningState) normalize() {
	if s.BattingOrder == nil {
		s.BattingOrder = make([]Player, 0)
	}
	if s.Subs == nil {
		s.Subs = make([]Player, 0)
	}
	if s.FieldAssignments == nil {
		s.FieldAssignments = make(map[Position]PlayerID)
	}
	if s.OriginalSlots == nil {
		s.OriginalSlots = make(map[PlayerID]int)
	}
	if s.Starters == nil {
		s.Starters = make([]PlayerID, 0)
	}
	if s.ReentryCount == nil {
		s.ReentryCount = make(map[PlayerID]int)
	}
	if s.SubsRemovedFromBatting == nil {
		s.SubsRemovedFromBatting = make([]PlayerID, 0)
	}
}

// Clone returns a deep copy of s.
func (s *InningState) Clone() *InningState {
	if s == nil {
		return nil
	}
	c := &InningState{
		BattingOrder:           slices.Clone(s.BattingOrder),
		Subs:                   slices.Clone(s.Subs),
		FieldAssignments:       maps.Clone(s.FieldAssignments),
		OriginalSlots:          maps.Clone(s.OriginalSlots),
		Starters:               slices.Clone(s.Starters),
		ReentryCount:           maps.Clone(s.ReentryCount),
		SubsRemovedFromBatting: slices.Clone(s.SubsRemovedFromBatting),
	}
	c.normalize()
	return c
}

// IsStarter reports whether id began the game in the batting order.
func (s *InningState) IsStarter(id PlayerID) bool {
	return slices.Contains(s.Starters, id)
}

// IsRemoved reports whether id is a substitute barred from batting again.
func (s *InningState) IsRemoved(id PlayerID) bool {
	return slices.Contains(s.SubsRemovedFromBatting, id)
}

// BattingSlot returns the 1-based slot of id, or 0 if id is not batting.
func (s *InningState) BattingSlot(id PlayerID) int {
	return s.battingIndex(id) + 1
}

// OnBench reports whether id is on the bench.
func (s *InningState) OnBench(id PlayerID) bool {
	return s.benchIndex(id) >= 0
}

// Player looks up id among the batters and the bench.
func (s *InningState) Player(id PlayerID) (Player, bool) {
	if i := s.battingIndex(id); i >= 0 {
		return s.BattingOrder[i], true
	}
	if i := s.benchIndex(id); i >= 0 {
		return s.Subs[i], true
	}
	return Player{}, false
}

// AllPlayers returns the batters followed by the bench.
func (s *InningState) AllPlayers() []Player {
	return append(slices.Clone(s.BattingOrder), s.Subs...)
}

func (s *InningState) battingIndex(id PlayerID) int {
	return slices.IndexFunc(s.BattingOrder, func(p Player) bool { return p.ID == id })
}

func (s *InningState) benchIndex(id PlayerID) int {
	return slices.IndexFunc(s.Subs, func(p Player) bool { return p.ID == id })
}

// Game is a whole game: metadata plus the sparse per-inning lineups. An
// inning missing from GameData has not been visited yet and is derived from
// the latest earlier inning when it is (see Materialize).
type Game struct {
	ID        string               `json:"id,omitempty"`
	Opponent  string               `json:"opponent"`
	Date      string               `json:"date"`
	UpdatedAt string               `json:"updatedAt,omitempty"`
	Status    string               `json:"status,omitempty"`
	DeletedAt int64                `json:"deletedAt,omitempty"`
	GameData  map[int]*InningState `json:"gameData"`
}

// Normalize replaces nil collections with empty ones. It is meant for games
// decoded from storage.
func (g *Game) Normalize() {
	if g.GameData == nil {
		g.GameData = make(map[int]*InningState)
	}
	for n, s := range g.GameData {
		if s == nil {
			delete(g.GameData, n)
			continue
		}
		s.normalize()
	}
}

// Clone returns a deep copy of g.
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	c := *g
	c.GameData = make(map[int]*InningState, len(g.GameData))
	for n, s := range g.GameData {
		if s != nil {
			c.GameData[n] = s.Clone()
		}
	}
	return &c
}

// Inning returns the state of inning n, or nil if n has not been materialized.
func (g *Game) Inning(n int) *InningState {
	if g == nil || g.GameData == nil {
		return nil
	}
	return g.GameData[n]
}

// NewGame creates a game whose first inning is seeded from the roster: the
// starters bat in roster order and take the field positions in order, and
// the subs sit on the bench.
func NewGame(r Roster, date string) *Game {
	first := &InningState{
		BattingOrder: slices.Clone(r.Players),
		Subs:         slices.Clone(r.Subs),
	}
	first.normalize()
	for i, p := range r.Players {
		first.OriginalSlots[p.ID] = i + 1
		first.Starters = append(first.Starters, p.ID)
		if i < len(FieldPositions) {
			first.FieldAssignments[FieldPositions[i]] = p.ID
		}
	}
	return &Game{
		Date:     date,
		GameData: map[int]*InningState{1: first},
	}
}

// Reconcile merges a remotely pushed game into the local one. The policy is
// last writer wins on the whole document: the remote copy replaces local
// state entirely. A nil remote keeps the local game.
func Reconcile(local, remote *Game) *Game {
	if remote == nil {
		return local.Clone()
	}
	g := remote.Clone()
	g.Normalize()
	return g
}

func (p Player) String() string {
	if p.Name == "" {
		return fmt.Sprintf("#%d", p.ID)
	}
	return p.Name
}
