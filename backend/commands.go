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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ttbt-io/lineup/backend/lineup"
)

// Command types.
const (
	CmdSwap        = "SWAP"
	CmdSetPosition = "SET_POSITION"
	CmdMaterialize = "MATERIALIZE"
	CmdNewGame     = "NEW_GAME"
	CmdLoadGame    = "LOAD_GAME"
	CmdSaveGame    = "SAVE_GAME"
	CmdDeleteGame  = "DELETE_GAME"
	CmdSaveRoster  = "SAVE_ROSTER"
	CmdReplace     = "REPLACE"
)

// ErrInvalidCommand is wrapped by every command validation error.
var ErrInvalidCommand = errors.New("invalid command")

const dateLayout = "2006-01-02"

// Command is a mutation requested by a client.
type Command struct {
	Type string `json:"type"`

	A      lineup.PlayerID `json:"a,omitempty"`
	B      lineup.PlayerID `json:"b,omitempty"`
	Inning int             `json:"inning,omitempty"`
	Mode   lineup.SwapMode `json:"mode,omitempty"`

	Position lineup.Position `json:"position,omitempty"`
	PlayerID lineup.PlayerID `json:"playerId,omitempty"`

	GameID   string `json:"gameId,omitempty"`
	Opponent string `json:"opponent,omitempty"`
	Date     string `json:"date,omitempty"`

	Roster *lineup.Roster `json:"roster,omitempty"`
	Game   *lineup.Game   `json:"game,omitempty"`
}

// ParseCommand decodes and validates a command.
func ParseCommand(raw []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: malformed command JSON", ErrInvalidCommand)
	}
	if err := ValidateCommand(cmd); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidCommand, fmt.Sprintf(format, args...))
}

func validateInning(n int) error {
	if n < 1 || n > lineup.Innings {
		return invalid("inning %d out of range [1, %d]", n, lineup.Innings)
	}
	return nil
}

// ValidateCommand checks the shape of a command. It does not look at the
// game, so a valid command may still be refused when applied.
func ValidateCommand(cmd Command) error {
	switch cmd.Type {
	case CmdSwap:
		if err := validateInning(cmd.Inning); err != nil {
			return err
		}
		if cmd.A <= 0 || cmd.B <= 0 {
			return invalid("swap needs two player ids")
		}
		switch cmd.Mode {
		case "", lineup.SwapSubstitute, lineup.SwapReorder:
		default:
			return invalid("unknown swap mode %q", cmd.Mode)
		}
	case CmdSetPosition:
		if err := validateInning(cmd.Inning); err != nil {
			return err
		}
		if !lineup.IsFieldPosition(cmd.Position) {
			return invalid("unknown position %q", cmd.Position)
		}
		if cmd.PlayerID < 0 {
			return invalid("invalid player id %d", cmd.PlayerID)
		}
	case CmdMaterialize:
		return validateInning(cmd.Inning)
	case CmdNewGame:
	case CmdLoadGame, CmdDeleteGame:
		if err := uuid.Validate(cmd.GameID); err != nil {
			return invalid("invalid game ID format: %s", cmd.GameID)
		}
	case CmdSaveGame:
		if strings.TrimSpace(cmd.Opponent) == "" {
			return invalid("opponent is required")
		}
		if cmd.Date != "" {
			if _, err := time.Parse(dateLayout, cmd.Date); err != nil {
				return invalid("date %q is not YYYY-MM-DD", cmd.Date)
			}
		}
	case CmdSaveRoster:
		if cmd.Roster == nil {
			return invalid("missing roster")
		}
		if err := cmd.Roster.Validate(); err != nil {
			return invalid("%v", err)
		}
	case CmdReplace:
		if cmd.Game == nil {
			return invalid("missing game")
		}
	case "":
		return invalid("missing command type")
	default:
		return invalid("unknown command type %q", cmd.Type)
	}
	return nil
}

// docState is the pair of documents a hub keeps in memory.
type docState struct {
	Game   *lineup.Game
	Roster lineup.Roster
}

// docWrite is one document change. A nil Data deletes the document.
type docWrite struct {
	Key  string
	Data json.RawMessage
}

type gameLoader interface {
	LoadGame(id string) (*lineup.Game, error)
}

// applyCommand computes the state that results from cmd and the documents
// to write for it. st is not modified. now stamps new and saved games.
func applyCommand(st docState, cmd Command, games gameLoader, now time.Time) (docState, []docWrite, error) {
	next := st
	var (
		g      *lineup.Game
		err    error
		extra  []docWrite
		roster bool
	)

	switch cmd.Type {
	case CmdSwap:
		g, err = lineup.ApplySwap(st.Game, lineup.SwapRequest{A: cmd.A, B: cmd.B, FromInning: cmd.Inning, Mode: cmd.Mode})
	case CmdSetPosition:
		g, err = lineup.SetFieldPosition(st.Game, cmd.Inning, cmd.Position, cmd.PlayerID)
	case CmdMaterialize:
		g, err = lineup.Materialize(st.Game, cmd.Inning)
		if err == nil && g == st.Game {
			return st, nil, nil
		}
	case CmdNewGame:
		g = lineup.NewGame(st.Roster, now.Format(dateLayout))
	case CmdLoadGame:
		g, err = games.LoadGame(cmd.GameID)
		if err != nil {
			return st, nil, fmt.Errorf("load game %s: %w", cmd.GameID, err)
		}
	case CmdSaveGame:
		g = st.Game.Clone()
		g.Opponent = strings.TrimSpace(cmd.Opponent)
		if cmd.Date != "" {
			g.Date = cmd.Date
		}
		if g.ID == "" {
			g.ID = uuid.NewString()
		}
		g.Status = StatusActive
		g.UpdatedAt = now.UTC().Format(time.RFC3339)
		w, err := encodeWrite(gameKey(g.ID), g)
		if err != nil {
			return st, nil, err
		}
		extra = append(extra, w)
	case CmdDeleteGame:
		if _, err := games.LoadGame(cmd.GameID); err != nil {
			return st, nil, fmt.Errorf("delete game %s: %w", cmd.GameID, err)
		}
		w, err := encodeWrite(gameKey(cmd.GameID), tombstone(cmd.GameID))
		if err != nil {
			return st, nil, err
		}
		if st.Game == nil || st.Game.ID != cmd.GameID {
			return st, []docWrite{w}, nil
		}
		// The current game no longer has a saved copy.
		g = st.Game.Clone()
		g.ID = ""
		g.Status = ""
		extra = append(extra, w)
	case CmdSaveRoster:
		next.Roster = *cmd.Roster
		roster = true
	case CmdReplace:
		g = lineup.Reconcile(st.Game, cmd.Game)
	default:
		return st, nil, invalid("unknown command type %q", cmd.Type)
	}
	if err != nil {
		return st, nil, err
	}

	var writes []docWrite
	if g != nil {
		next.Game = g
		w, err := encodeWrite(DocCurrentGame, g)
		if err != nil {
			return st, nil, err
		}
		writes = append(writes, w)
	}
	if roster {
		w, err := encodeWrite(DocRoster, next.Roster)
		if err != nil {
			return st, nil, err
		}
		writes = append(writes, w)
	}
	return next, append(writes, extra...), nil
}

func encodeWrite(key string, v any) (docWrite, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return docWrite{}, fmt.Errorf("json.Marshal %s: %w", key, err)
	}
	return docWrite{Key: key, Data: data}, nil
}

// isNotFound reports whether err means a document does not exist.
func isNotFound(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
