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

package backend

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ttbt-io/lineup/backend/lineup"
)

// WriteCSV writes the slot by inning table of g. Each cell is the batter
// and their field position; an inning that was never visited shows "-".
func WriteCSV(w io.Writer, teamName string, g *lineup.Game) error {
	cw := csv.NewWriter(w)
	records := [][]string{
		{teamName},
		{fmt.Sprintf("Game: vs %s - %s", g.Opponent, g.Date)},
		{""},
	}
	header := []string{"Slot"}
	for n := 1; n <= lineup.Innings; n++ {
		header = append(header, "Inning "+strconv.Itoa(n))
	}
	records = append(records, header)

	for slot := 1; slot <= lineup.Slots; slot++ {
		row := []string{strconv.Itoa(slot)}
		for n := 1; n <= lineup.Innings; n++ {
			s := g.Inning(n)
			if s == nil || slot > len(s.BattingOrder) {
				row = append(row, "-")
				continue
			}
			p := s.BattingOrder[slot-1]
			pos, ok := lineup.PositionOf(s, p.ID)
			if !ok {
				pos = lineup.PositionEH
			}
			row = append(row, fmt.Sprintf("%s (%s)", p.Name, pos))
		}
		records = append(records, row)
	}

	if err := cw.WriteAll(records); err != nil {
		return fmt.Errorf("csv: %w", err)
	}
	return nil
}

// ExportFilename is the download name of the CSV export of g.
func ExportFilename(g *lineup.Game) string {
	clean := strings.NewReplacer("/", "-", "\\", "-", "\"", "", "\n", " ", "\r", " ")
	return clean.Replace(fmt.Sprintf("lineup-%s-%s.csv", g.Opponent, g.Date))
}
