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
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/c2FmZQ/storage"
	"github.com/c2FmZQ/storage/crypto"
	"go.uber.org/zap"
)

// MasterKeyEnv names the environment variable holding the master key
// passphrase.
const MasterKeyEnv = "LINEUP_MASTER_KEY"

const masterKeyFile = "master.key"

// OpenStorage opens the document storage under dataDir. When the passphrase
// is set, documents are encrypted with the master key in dataDir, which is
// created on first use. Without a passphrase, an existing master key is an
// error: the data would be unreadable.
func OpenStorage(dataDir, passphrase string) (*storage.Storage, crypto.MasterKey, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, nil, err
	}
	keyFile := filepath.Join(dataDir, masterKeyFile)

	var masterKey crypto.MasterKey
	if passphrase != "" {
		var err error
		masterKey, err = crypto.ReadMasterKey([]byte(passphrase), keyFile)
		switch {
		case errors.Is(err, os.ErrNotExist):
			zap.S().Infof("Initializing new master encryption key...")
			if masterKey, err = crypto.CreateMasterKey(); err != nil {
				return nil, nil, fmt.Errorf("create master key: %w", err)
			}
			if err := masterKey.Save([]byte(passphrase), keyFile); err != nil {
				return nil, nil, fmt.Errorf("save master key: %w", err)
			}
		case err != nil:
			return nil, nil, fmt.Errorf("read master key: %w", err)
		default:
			zap.S().Infof("Loaded master encryption key.")
		}
	} else {
		if _, err := os.Stat(keyFile); err == nil {
			return nil, nil, fmt.Errorf("%s exists but %s is not set, refusing to read encrypted data in unencrypted mode", keyFile, MasterKeyEnv)
		}
		zap.S().Warnf("No %s provided. Data will be stored UNENCRYPTED.", MasterKeyEnv)
	}

	s := storage.New(dataDir, masterKey)
	s.EnableCompression(true)
	return s, masterKey, nil
}
