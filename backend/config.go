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
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the server configuration, read from a YAML file and overridden
// by LINEUP_* environment variables and command line flags.
type Config struct {
	Addr     string `yaml:"addr"`
	DataDir  string `yaml:"dataDir"`
	TeamName string `yaml:"teamName"`

	// EditPasswordHash is the bcrypt hash of the shared edit password.
	EditPasswordHash string `yaml:"editPasswordHash"`
	// TokenSecret signs edit tokens. A random one is used when empty.
	TokenSecret string `yaml:"tokenSecret"`

	AuthMode       string   `yaml:"authMode"`
	AuthCookieName string   `yaml:"authCookieName"`
	AuthJWKSURL    string   `yaml:"authJWKSURL"`
	Editors        []string `yaml:"editors"`

	Debug bool       `yaml:"debug"`
	Raft  RaftConfig `yaml:"raft"`
}

// RaftConfig configures optional replication.
type RaftConfig struct {
	Enabled   bool   `yaml:"enabled"`
	NodeID    string `yaml:"nodeId"`
	Bind      string `yaml:"bind"`
	Advertise string `yaml:"advertise"`
	Bootstrap bool   `yaml:"bootstrap"`
	// Join is the HTTP URL of an existing member to join at startup.
	Join   string `yaml:"join"`
	Secret string `yaml:"secret"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Addr:           ":8080",
		DataDir:        "data",
		TeamName:       DefaultTeamName,
		AuthMode:       AuthModePassword,
		AuthCookieName: defaultAuthCookieName,
		Raft: RaftConfig{
			Bind: "127.0.0.1:8081",
		},
	}
}

// LoadConfig reads the configuration at path. A missing file yields the
// defaults. A .env file in the working directory, if any, is loaded into the
// environment before the overrides are applied.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	str("LINEUP_ADDR", &c.Addr)
	str("LINEUP_DATA_DIR", &c.DataDir)
	str("LINEUP_TEAM_NAME", &c.TeamName)
	str("LINEUP_EDIT_PASSWORD_HASH", &c.EditPasswordHash)
	str("LINEUP_TOKEN_SECRET", &c.TokenSecret)
	str("LINEUP_AUTH_MODE", &c.AuthMode)
	str("LINEUP_AUTH_COOKIE", &c.AuthCookieName)
	str("LINEUP_AUTH_JWKS_URL", &c.AuthJWKSURL)
	if v := os.Getenv("LINEUP_EDITORS"); v != "" {
		c.Editors = nil
		for _, e := range strings.Split(v, ",") {
			if e = normalizeEmail(e); e != "" {
				c.Editors = append(c.Editors, e)
			}
		}
	}
	boolean("LINEUP_DEBUG", &c.Debug)

	boolean("LINEUP_RAFT_ENABLED", &c.Raft.Enabled)
	str("LINEUP_RAFT_NODE_ID", &c.Raft.NodeID)
	str("LINEUP_RAFT_BIND", &c.Raft.Bind)
	str("LINEUP_RAFT_ADVERTISE", &c.Raft.Advertise)
	boolean("LINEUP_RAFT_BOOTSTRAP", &c.Raft.Bootstrap)
	str("LINEUP_RAFT_JOIN", &c.Raft.Join)
	str("LINEUP_RAFT_SECRET", &c.Raft.Secret)
}

// Validate reports configuration errors that would prevent the server from
// starting.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	if c.DataDir == "" {
		return errors.New("dataDir is required")
	}
	if !slices.Contains([]string{AuthModePassword, AuthModeSSO, AuthModeMock}, c.AuthMode) {
		return fmt.Errorf("unknown authMode %q", c.AuthMode)
	}
	if c.AuthMode == AuthModeSSO && c.AuthJWKSURL == "" {
		return errors.New("authJWKSURL is required in sso mode")
	}
	if c.Raft.Enabled {
		if c.Raft.Bind == "" {
			return errors.New("raft.bind is required when raft is enabled")
		}
		if c.Raft.Secret == "" {
			return errors.New("raft.secret is required when raft is enabled")
		}
	}
	return nil
}

// Options converts the configuration into server options.
func (c *Config) Options() Options {
	opts := Options{
		Addr:             c.Addr,
		DataDir:          c.DataDir,
		TeamName:         c.TeamName,
		Debug:            c.Debug,
		AuthMode:         c.AuthMode,
		AuthCookieName:   c.AuthCookieName,
		AuthJWKSURL:      c.AuthJWKSURL,
		EditPasswordHash: c.EditPasswordHash,
		TokenSecret:      []byte(c.TokenSecret),
		RaftEnabled:      c.Raft.Enabled,
		RaftNodeID:       c.Raft.NodeID,
		RaftBind:         c.Raft.Bind,
		RaftAdvertise:    c.Raft.Advertise,
		RaftBootstrap:    c.Raft.Bootstrap,
		RaftJoin:         c.Raft.Join,
		RaftSecret:       c.Raft.Secret,
	}
	for _, e := range c.Editors {
		opts.Editors = append(opts.Editors, normalizeEmail(e))
	}
	return opts
}
