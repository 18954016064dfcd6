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

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ttbt-io/lineup/backend"
	"github.com/ttbt-io/lineup/backend/lineup"
)

var (
	exportGame string
	exportOut  string
)

// exportCmd writes a game as CSV.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a game lineup as CSV",
	Long: `Writes the slot by inning table of a game. By default the current game
is written to stdout. Use --out . to write lineup-<opponent>-<date>.csv in the
current directory.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportGame, "game", "current", "Saved game id, or current")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file, or . for the default file name (default: stdout)")
}

func openStore() (*backend.Store, error) {
	s, _, err := backend.OpenStorage(cfg.DataDir, os.Getenv(backend.MasterKeyEnv))
	if err != nil {
		return nil, err
	}
	return backend.NewStore(s), nil
}

func runExport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	var g *lineup.Game
	if exportGame == "" || exportGame == "current" {
		g, err = store.LoadCurrentGame()
	} else {
		g, err = store.LoadGame(exportGame)
	}
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("game %q not found", exportGame)
	}
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if exportOut != "" && exportOut != "-" {
		path := exportOut
		if path == "." {
			path = backend.ExportFilename(g)
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", path)
	}
	return backend.WriteCSV(w, cfg.TeamName, g)
}
