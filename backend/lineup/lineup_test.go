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
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	p1 PlayerID = iota + 1
	p2
	p3
	p4
	p5
	p6
	p7
	p8
	p9
	s1
	s2
	s3
	s4
	s5
)

func newTestGame() *Game {
	return NewGame(DefaultRoster(), "2026-04-01")
}

func swap(t *testing.T, g *Game, a, b PlayerID, inning int) *Game {
	t.Helper()
	out, err := ApplySwap(g, SwapRequest{A: a, B: b, FromInning: inning, Mode: SwapSubstitute})
	require.NoError(t, err)
	return out
}

func materializeAll(t *testing.T, g *Game) *Game {
	t.Helper()
	for n := 1; n <= Innings; n++ {
		var err error
		g, err = Materialize(g, n)
		require.NoError(t, err)
	}
	return g
}

func TestNewGame(t *testing.T) {
	g := newTestGame()
	require.Len(t, g.GameData, 1)
	s := g.Inning(1)
	require.NotNil(t, s)

	assert.Len(t, s.BattingOrder, Slots)
	assert.Len(t, s.Subs, BenchSize)
	assert.Len(t, s.Starters, Slots)
	assert.Empty(t, s.ReentryCount)
	assert.Empty(t, s.SubsRemovedFromBatting)
	for i, p := range s.BattingOrder {
		assert.Equal(t, i+1, s.OriginalSlots[p.ID])
		assert.Equal(t, p.ID, s.FieldAssignments[FieldPositions[i]])
	}
	assert.Equal(t, "2026-04-01", g.Date)
}

func TestCanEnterSlot(t *testing.T) {
	s := newTestGame().Inning(1)
	s.ReentryCount[p2] = 1
	s.SubsRemovedFromBatting = append(s.SubsRemovedFromBatting, s2)
	s.OriginalSlots[s3] = 6

	for _, tc := range []struct {
		name   string
		id     PlayerID
		slot   int
		want   bool
		reason string
	}{
		{"starter original slot", p1, 1, true, ""},
		{"starter other slot", p1, 2, false, "must enter original slot #1"},
		{"starter already re-entered", p2, 2, false, ReasonAlreadyReentered},
		{"fresh sub any slot", s1, 7, true, ""},
		{"removed sub", s2, 1, false, ReasonSubstituteRule},
		{"sub batted but not removed", s3, 6, false, ReasonSubstituteRule},
		{"slot zero", s1, 0, false, ReasonInvalidSlot},
		{"slot ten", s1, 10, false, ReasonInvalidSlot},
	} {
		t.Run(tc.name, func(t *testing.T) {
			d := CanEnterSlot(tc.id, tc.slot, s)
			assert.Equal(t, tc.want, d.Allowed)
			assert.Equal(t, tc.reason, d.Reason)
		})
	}
}

func TestStarterReentryScenario(t *testing.T) {
	g := newTestGame()

	// Bench P1 for S1 at inning 3.
	g = swap(t, g, p1, s1, 3)
	s3i := g.Inning(3)
	require.NotNil(t, s3i)
	assert.Equal(t, s1, s3i.BattingOrder[0].ID)
	assert.True(t, s3i.OnBench(p1))
	assert.Empty(t, s3i.SubsRemovedFromBatting)
	assert.Equal(t, 1, s3i.OriginalSlots[s1])
	assert.Empty(t, s3i.ReentryCount)
	assert.Equal(t, s1, s3i.FieldAssignments["P"])
	assert.Equal(t, p1, g.Inning(1).BattingOrder[0].ID, "earlier innings are untouched")

	// P1 comes back into slot 1 at inning 5.
	g = swap(t, g, s1, p1, 5)
	s5i := g.Inning(5)
	assert.Equal(t, p1, s5i.BattingOrder[0].ID)
	assert.Equal(t, 1, s5i.ReentryCount[p1])
	assert.Equal(t, []PlayerID{s1}, s5i.SubsRemovedFromBatting)
	assert.Nil(t, g.Inning(4))
	assert.Equal(t, s1, g.Inning(3).BattingOrder[0].ID)

	// Benching needs no eligibility check.
	g = swap(t, g, p1, s2, 6)
	assert.Equal(t, s2, g.Inning(6).BattingOrder[0].ID)

	// A second return is refused.
	_, err := ApplySwap(g, SwapRequest{A: p1, B: s2, FromInning: 7, Mode: SwapSubstitute})
	var ineligible *IneligibleSwapError
	require.ErrorAs(t, err, &ineligible)
	assert.ErrorIs(t, err, ErrIneligible)
	assert.Equal(t, p1, ineligible.Player)
	assert.Equal(t, 1, ineligible.Slot)
	assert.Equal(t, ReasonAlreadyReentered, ineligible.Reason)
}

func TestSubstituteRemovalScenario(t *testing.T) {
	g := newTestGame()
	g = swap(t, g, s1, p4, 2)
	s := g.Inning(2)
	assert.Equal(t, s1, s.BattingOrder[3].ID)
	assert.Equal(t, 4, s.OriginalSlots[s1])
	assert.False(t, s.IsRemoved(p4))

	g = swap(t, g, s1, s2, 4)
	assert.True(t, g.Inning(4).IsRemoved(s1))

	g, err := Materialize(g, 6)
	require.NoError(t, err)
	s6 := g.Inning(6)
	for slot := 1; slot <= Slots; slot++ {
		d := CanEnterSlot(s1, slot, s6)
		assert.False(t, d.Allowed, "slot %d", slot)
		assert.Equal(t, ReasonSubstituteRule, d.Reason)
	}
	_, err = ApplySwap(g, SwapRequest{A: s1, B: s2, FromInning: 6})
	assert.ErrorIs(t, err, ErrIneligible)
}

func TestStarterMustUseOriginalSlot(t *testing.T) {
	g := newTestGame()
	g = swap(t, g, p1, s1, 1)
	g, err := ApplySwap(g, SwapRequest{A: s1, B: p2, FromInning: 2, Mode: SwapReorder})
	require.NoError(t, err)
	s := g.Inning(2)
	require.Equal(t, p2, s.BattingOrder[0].ID)
	require.Equal(t, s1, s.BattingOrder[1].ID)

	_, err = ApplySwap(g, SwapRequest{A: p1, B: s1, FromInning: 2})
	var ineligible *IneligibleSwapError
	require.ErrorAs(t, err, &ineligible)
	assert.Equal(t, "must enter original slot #1", ineligible.Reason)

	// P2 moved off slot 1, but P1 may still take slot 1 back.
	g, err = ApplySwap(g, SwapRequest{A: p1, B: p2, FromInning: 2})
	require.NoError(t, err)
	assert.Equal(t, p1, g.Inning(2).BattingOrder[0].ID)
}

func TestSwapBackIsNotInverse(t *testing.T) {
	g := newTestGame()
	before := g.Inning(1).Clone()

	g = swap(t, g, p1, s1, 1)
	g = swap(t, g, s1, p1, 1)
	s := g.Inning(1)

	assert.Equal(t, before.BattingOrder, s.BattingOrder)
	assert.Equal(t, 1, s.ReentryCount[p1])
	assert.Equal(t, []PlayerID{s1}, s.SubsRemovedFromBatting)
	assert.NotEmpty(t, cmp.Diff(before, s))
}

func TestApplySwapCascade(t *testing.T) {
	g := materializeAll(t, newTestGame())
	g = swap(t, g, p2, s3, 5)
	g = swap(t, g, p2, s4, 3)

	for n := 1; n <= 2; n++ {
		assert.Equal(t, p2, g.Inning(n).BattingOrder[1].ID, "inning %d", n)
	}
	for n := 3; n <= 4; n++ {
		assert.Equal(t, s4, g.Inning(n).BattingOrder[1].ID, "inning %d", n)
		assert.Equal(t, s4, g.Inning(n).FieldAssignments["C"], "inning %d", n)
	}
	// P2 was already out in 5..7, so the later swap leaves them alone.
	for n := 5; n <= Innings; n++ {
		s := g.Inning(n)
		assert.Equal(t, s3, s.BattingOrder[1].ID, "inning %d", n)
		assert.True(t, s.OnBench(s4), "inning %d", n)
		assert.Zero(t, s.OriginalSlots[s4], "inning %d", n)
	}
}

func TestApplySwapSparse(t *testing.T) {
	g := newTestGame()
	g, err := Materialize(g, 5)
	require.NoError(t, err)

	g = swap(t, g, p9, s5, 3)
	assert.NotNil(t, g.Inning(3))
	assert.Nil(t, g.Inning(2))
	assert.Nil(t, g.Inning(4))
	assert.Nil(t, g.Inning(6))
	assert.Equal(t, s5, g.Inning(5).BattingOrder[8].ID)

	// Visiting inning 6 picks up the change from inning 5.
	s6, err := DeriveInning(g, 6)
	require.NoError(t, err)
	assert.Equal(t, s5, s6.BattingOrder[8].ID)
}

func TestApplySwapDoesNotMutateInput(t *testing.T) {
	g := materializeAll(t, newTestGame())
	before := g.Clone()
	_ = swap(t, g, p1, s1, 1)
	_, _ = ApplySwap(g, SwapRequest{A: p3, B: p4, FromInning: 2, Mode: SwapReorder})
	assert.Empty(t, cmp.Diff(before, g))
}

func TestApplySwapErrors(t *testing.T) {
	g := newTestGame()
	for _, tc := range []struct {
		name string
		req  SwapRequest
		want error
	}{
		{"inning zero", SwapRequest{A: p1, B: s1, FromInning: 0}, ErrInvalidInning},
		{"inning eight", SwapRequest{A: p1, B: s1, FromInning: 8}, ErrInvalidInning},
		{"two batters", SwapRequest{A: p1, B: p2, FromInning: 1}, ErrNotSwappable},
		{"two subs", SwapRequest{A: s1, B: s2, FromInning: 1}, ErrNotSwappable},
		{"unknown player", SwapRequest{A: p1, B: 99, FromInning: 1}, ErrNotSwappable},
		{"reorder with bench", SwapRequest{A: p1, B: s1, FromInning: 1, Mode: SwapReorder}, ErrNotSwappable},
		{"reorder same player", SwapRequest{A: p1, B: p1, FromInning: 1, Mode: SwapReorder}, ErrNotSwappable},
		{"bad mode", SwapRequest{A: p1, B: s1, FromInning: 1, Mode: "trade"}, ErrUnknownMode},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ApplySwap(g, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, err := ApplySwap(&Game{GameData: map[int]*InningState{}}, SwapRequest{A: p1, B: s1, FromInning: 3})
	assert.ErrorIs(t, err, ErrNoSourceInning)
}

func TestReorder(t *testing.T) {
	g := materializeAll(t, newTestGame())
	g, err := ApplySwap(g, SwapRequest{A: p1, B: p9, FromInning: 4, Mode: SwapReorder})
	require.NoError(t, err)

	assert.Equal(t, p1, g.Inning(3).BattingOrder[0].ID)
	for n := 4; n <= Innings; n++ {
		s := g.Inning(n)
		assert.Equal(t, p9, s.BattingOrder[0].ID)
		assert.Equal(t, p1, s.BattingOrder[8].ID)
		assert.Equal(t, 1, s.OriginalSlots[p1], "reorder keeps bookkeeping")
		assert.Empty(t, s.ReentryCount)
	}
}

func TestMaterialize(t *testing.T) {
	g := newTestGame()
	m, err := Materialize(g, 5)
	require.NoError(t, err)
	assert.Nil(t, g.Inning(5), "input is not modified")
	for n := 2; n <= 4; n++ {
		assert.Nil(t, m.Inning(n))
	}
	assert.Empty(t, cmp.Diff(g.Inning(1), m.Inning(5)))

	m.Inning(5).BattingOrder[0].Name = "changed"
	m.Inning(5).ReentryCount[p1] = 1
	assert.Equal(t, "Player 1", m.Inning(1).BattingOrder[0].Name)
	assert.Empty(t, m.Inning(1).ReentryCount)

	again, err := Materialize(m, 5)
	require.NoError(t, err)
	assert.Same(t, m, again)

	_, err = Materialize(g, 0)
	assert.ErrorIs(t, err, ErrInvalidInning)
	_, err = DeriveInning(&Game{}, 2)
	assert.ErrorIs(t, err, ErrNoSourceInning)
}

func TestMaterializeNearestLower(t *testing.T) {
	g := newTestGame()
	g = swap(t, g, p1, s1, 3)
	s, err := DeriveInning(g, 6)
	require.NoError(t, err)
	assert.Equal(t, s1, s.BattingOrder[0].ID)
}

func TestValidate(t *testing.T) {
	s := newTestGame().Inning(1)
	r := Validate(s)
	assert.True(t, r.OK())
	assert.Empty(t, r.Warnings())
	assert.Empty(t, r.ExtraHitters)

	s.FieldAssignments["SS"] = p1
	delete(s.FieldAssignments, "RF")
	r = Validate(s)
	assert.False(t, r.OK())
	assert.Equal(t, []PlayerID{p1}, r.Duplicates)
	assert.Equal(t, []Position{"RF"}, r.MissingPositions)
	assert.ElementsMatch(t, []PlayerID{p6, p9}, r.ExtraHitters)
	assert.Equal(t, map[Position]bool{"P": true, "SS": true}, r.Conflicts)
	assert.Equal(t, []ValidationWarning{
		{Kind: WarningDuplicate, Player: p1},
		{Kind: WarningMissingPosition, Position: "RF"},
	}, r.Warnings())

	pos, ok := PositionOf(s, p1)
	assert.True(t, ok)
	assert.Equal(t, Position("P"), pos)
	_, ok = PositionOf(s, p9)
	assert.False(t, ok)
}

func TestSetFieldPosition(t *testing.T) {
	g := materializeAll(t, newTestGame())
	out, err := SetFieldPosition(g, 3, "LF", s1)
	require.NoError(t, err)
	assert.Equal(t, s1, out.Inning(3).FieldAssignments["LF"])
	assert.Equal(t, p7, out.Inning(4).FieldAssignments["LF"], "no cascade")
	assert.Equal(t, p7, g.Inning(3).FieldAssignments["LF"])

	out, err = SetFieldPosition(out, 3, "LF", Unassigned)
	require.NoError(t, err)
	assert.Equal(t, []Position{"LF"}, Validate(out.Inning(3)).MissingPositions)

	_, err = SetFieldPosition(g, 3, "DH", p1)
	assert.ErrorIs(t, err, ErrUnknownPosition)
	_, err = SetFieldPosition(g, 3, "P", 99)
	assert.ErrorIs(t, err, ErrUnknownPlayer)
	_, err = SetFieldPosition(g, 9, "P", p1)
	assert.ErrorIs(t, err, ErrInvalidInning)
}

func TestChanges(t *testing.T) {
	g := newTestGame()
	assert.True(t, Changes(g, 1).Empty())

	g = swap(t, g, p4, s1, 2)
	g, err := SetFieldPosition(g, 2, "RF", s2)
	require.NoError(t, err)

	c := Changes(g, 2)
	require.Len(t, c.Batting, 1)
	assert.Equal(t, 4, c.Batting[0].Slot)
	assert.Equal(t, s1, c.Batting[0].In.ID)
	assert.Equal(t, p4, c.Batting[0].Out.ID)
	assert.Equal(t, []FieldChange{
		{Position: "2B", In: s1, Out: p4},
		{Position: "RF", In: s2, Out: p9},
	}, c.Field)

	assert.True(t, Changes(g, 4).Empty(), "inning 3 is absent")
}

func TestGameMetrics(t *testing.T) {
	r := DefaultRoster()
	g := newTestGame()
	stats := GameMetrics(g, r)
	require.Len(t, stats, Slots+BenchSize)
	assert.Equal(t, PlayerStats{Name: "Player 1", Batting: 1, Field: 1, Total: 1, Percentage: 14.3}, stats[0])
	assert.Equal(t, PlayerStats{Name: "Sub 1"}, stats[Slots])

	g = materializeAll(t, g)
	g = swap(t, g, p9, s1, 4)
	// S1 plays RF from inning 4 on, P9 sits.
	g, err := SetFieldPosition(g, 5, "LF", p9)
	require.NoError(t, err)

	byName := map[string]PlayerStats{}
	for _, s := range GameMetrics(g, r) {
		byName[s.Name] = s
	}
	assert.Equal(t, PlayerStats{Name: "Player 9", Batting: 3, Field: 4, Total: 4, Percentage: 57.1}, byName["Player 9"])
	assert.Equal(t, PlayerStats{Name: "Sub 1", Batting: 4, Field: 4, Total: 4, Percentage: 57.1}, byName["Sub 1"])
	assert.Equal(t, PlayerStats{Name: "Player 7", Batting: 7, Field: 6, Total: 7, Percentage: 100}, byName["Player 7"])
}

func TestSeasonMetrics(t *testing.T) {
	r := DefaultRoster()
	stats := SeasonMetrics(nil, r)
	require.Len(t, stats, Slots+BenchSize)
	for _, s := range stats {
		assert.Zero(t, s.Total)
		assert.Zero(t, s.Percentage)
	}

	full := materializeAll(t, newTestGame())
	stats = SeasonMetrics([]*Game{full, newTestGame()}, r)
	assert.Equal(t, "Player 1", stats[0].Name)
	assert.Equal(t, 8, stats[0].Total)
	assert.Equal(t, 57.1, stats[0].Percentage)
}

func TestReconcile(t *testing.T) {
	local := newTestGame()
	remote := swap(t, newTestGame(), p1, s1, 1)
	remote.Opponent = "Mercy"

	got := Reconcile(local, remote)
	assert.Empty(t, cmp.Diff(remote, got))
	got.Inning(1).BattingOrder[0].Name = "x"
	assert.NotEqual(t, "x", remote.Inning(1).BattingOrder[0].Name)

	kept := Reconcile(local, nil)
	assert.Empty(t, cmp.Diff(local, kept))
	assert.NotSame(t, local, kept)

	sparse := Reconcile(local, &Game{Opponent: "Mercy"})
	assert.NotNil(t, sparse.GameData)
}

func TestSwapOptions(t *testing.T) {
	g := swap(t, newTestGame(), p1, s1, 1)
	g = swap(t, g, s1, s2, 1)
	s := g.Inning(1)

	opts := SwapOptions(s2, s)
	require.Len(t, opts, BenchSize)
	allowed := map[PlayerID]bool{}
	for _, o := range opts {
		assert.Equal(t, 1, o.Slot)
		allowed[o.Player.ID] = o.Allowed
	}
	assert.Equal(t, map[PlayerID]bool{p1: true, s1: false, s3: true, s4: true, s5: true}, allowed)

	opts = SwapOptions(p1, s)
	require.Len(t, opts, Slots)
	assert.True(t, opts[0].Allowed)
	assert.False(t, opts[1].Allowed)

	assert.Nil(t, SwapOptions(99, s))

	assert.Equal(t, "Currently batting #1", Status(s2, s))
	assert.Equal(t, "Starter - can re-enter slot #1", Status(p1, s))
	assert.Equal(t, "Sub - cannot re-enter batting order", Status(s1, s))
	assert.Equal(t, "Sub - available to enter", Status(s3, s))

	g = swap(t, g, s2, p1, 1)
	g = swap(t, g, p1, s3, 1)
	assert.Equal(t, "Starter - already used re-entry", Status(p1, g.Inning(1)))
}

func TestRosterValidate(t *testing.T) {
	require.NoError(t, DefaultRoster().Validate())

	r := DefaultRoster()
	r.Subs = r.Subs[:4]
	assert.Error(t, r.Validate())

	r = DefaultRoster()
	r.Subs[0].ID = p1
	assert.ErrorContains(t, r.Validate(), "duplicate")

	r = DefaultRoster()
	r.Players[3].ID = 0
	assert.ErrorContains(t, r.Validate(), "invalid")
}

func TestGameJSON(t *testing.T) {
	doc := `{"opponent":"Mercy","date":"2026-04-01","gameData":{"1":{
		"battingOrder":[{"id":1,"name":"A"}],
		"fieldAssignments":{"P":1},
		"originalSlots":{"1":1},
		"starters":[1]},"2":null}}`
	var g Game
	require.NoError(t, json.Unmarshal([]byte(doc), &g))
	g.Normalize()

	require.Len(t, g.GameData, 1)
	s := g.Inning(1)
	assert.Equal(t, 1, s.OriginalSlots[1])
	assert.NotNil(t, s.Subs)
	assert.NotNil(t, s.ReentryCount)
	assert.NotNil(t, s.SubsRemovedFromBatting)
	assert.True(t, errors.Is(&IneligibleSwapError{}, ErrIneligible))
}
