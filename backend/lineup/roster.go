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
)

// Roster holds the nine starters and the five substitutes of the team.
type Roster struct {
	Players []Player `json:"players"`
	Subs    []Player `json:"subs"`
}

// DefaultRoster returns the placeholder roster used before anyone edits it.
func DefaultRoster() Roster {
	r := Roster{
		Players: make([]Player, 0, Slots),
		Subs:    make([]Player, 0, BenchSize),
	}
	for i := 1; i <= Slots; i++ {
		r.Players = append(r.Players, Player{ID: PlayerID(i), Name: fmt.Sprintf("Player %d", i)})
	}
	for i := 1; i <= BenchSize; i++ {
		r.Subs = append(r.Subs, Player{ID: PlayerID(Slots + i), Name: fmt.Sprintf("Sub %d", i)})
	}
	return r
}

// Validate checks the roster shape: nine starters, five subs, and unique
// positive ids.
func (r Roster) Validate() error {
	if len(r.Players) != Slots {
		return fmt.Errorf("roster needs %d players, got %d", Slots, len(r.Players))
	}
	if len(r.Subs) != BenchSize {
		return fmt.Errorf("roster needs %d subs, got %d", BenchSize, len(r.Subs))
	}
	seen := make(map[PlayerID]bool)
	for _, p := range append(append([]Player{}, r.Players...), r.Subs...) {
		if p.ID <= Unassigned {
			return fmt.Errorf("invalid player id %d", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate player id %d", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// Everyone returns starters followed by subs.
func (r Roster) Everyone() []Player {
	return append(append(make([]Player, 0, len(r.Players)+len(r.Subs)), r.Players...), r.Subs...)
}
