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

// DeriveInning returns the state of inning n. A present inning is returned
// as is. A missing one is a deep copy of the nearest earlier inning; the game
// is not modified.
func DeriveInning(g *Game, n int) (*InningState, error) {
	if n < 1 || n > Innings {
		return nil, ErrInvalidInning
	}
	if s := g.Inning(n); s != nil {
		return s, nil
	}
	for src := n - 1; src >= 1; src-- {
		if s := g.Inning(src); s != nil {
			return s.Clone(), nil
		}
	}
	return nil, ErrNoSourceInning
}

// Materialize makes sure inning n is present. When it already is, g itself
// is returned. Otherwise the result is a copy of g with the derived inning
// added.
func Materialize(g *Game, n int) (*Game, error) {
	s, err := DeriveInning(g, n)
	if err != nil {
		return nil, err
	}
	if g.Inning(n) != nil {
		return g, nil
	}
	out := g.Clone()
	if out.GameData == nil {
		out.GameData = make(map[int]*InningState)
	}
	out.GameData[n] = s
	return out, nil
}
