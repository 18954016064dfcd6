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
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// dumpCmd prints stored documents, decrypted, for debugging.
var dumpCmd = &cobra.Command{
	Use:   "dump [key...]",
	Short: "Print stored documents as JSON",
	Long: `Prints the given documents (e.g. settings/roster.json). Without
arguments every document is printed.`,
	RunE: runDump,
}

func runDump(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	keys := args
	if len(keys) == 0 {
		if keys, err = store.Keys(); err != nil {
			return err
		}
	}
	out := cmd.OutOrStdout()
	for _, key := range keys {
		data, err := store.Get(key)
		if err != nil {
			zap.S().Errorf("%s: %v", key, err)
			continue
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			zap.S().Errorf("JSON: %s: %v", key, err)
			continue
		}
		fmt.Fprintf(out, "=========== %s ===========\n%s\n", key, buf.Bytes())
	}
	return nil
}
