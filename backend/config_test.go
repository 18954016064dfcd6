package backend

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "lineup.yaml")
	data := `
addr: ":9000"
teamName: "Test Team"
authMode: sso
authJWKSURL: https://sso.example.com/jwks
editors:
  - coach@example.com
raft:
  enabled: true
  bind: 127.0.0.1:9001
  secret: s3cret
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "Test Team", cfg.TeamName)
	assert.Equal(t, "data", cfg.DataDir, "unset fields keep defaults")
	assert.Equal(t, AuthModeSSO, cfg.AuthMode)
	assert.Equal(t, []string{"coach@example.com"}, cfg.Editors)
	assert.True(t, cfg.Raft.Enabled)
	assert.Equal(t, "s3cret", cfg.Raft.Secret)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigBadYAML(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "lineup.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: [unterminated"), 0o600))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestConfigSaveRoundTrip(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "sub", "lineup.yaml")
	cfg := DefaultConfig()
	cfg.TeamName = "Saved Team"
	require.NoError(t, cfg.Save(path))

	got, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "Saved Team", got.TeamName)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("strings and bools", func(t *testing.T) {
		t.Setenv("LINEUP_ADDR", ":7000")
		t.Setenv("LINEUP_TOKEN_SECRET", "tok")
		t.Setenv("LINEUP_DEBUG", "true")
		t.Setenv("LINEUP_RAFT_ENABLED", "1")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, ":7000", cfg.Addr)
		assert.Equal(t, "tok", cfg.TokenSecret)
		assert.True(t, cfg.Debug)
		assert.True(t, cfg.Raft.Enabled)
	})

	t.Run("invalid bool is ignored", func(t *testing.T) {
		t.Setenv("LINEUP_DEBUG", "maybe")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.False(t, cfg.Debug)
	})

	t.Run("editors are normalized", func(t *testing.T) {
		t.Setenv("LINEUP_EDITORS", " Coach@Example.com ,, scorer@example.com")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, []string{"coach@example.com", "scorer@example.com"}, cfg.Editors)
	})

	t.Run("dotenv file", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		require.NoError(t, os.Unsetenv("LINEUP_TEAM_NAME"))
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LINEUP_TEAM_NAME=From Dotenv\n"), 0o600))
		t.Cleanup(func() { os.Unsetenv("LINEUP_TEAM_NAME") })

		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, "From Dotenv", cfg.TeamName)
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown auth mode", func(c *Config) { c.AuthMode = "ldap" }, false},
		{"sso without jwks", func(c *Config) { c.AuthMode = AuthModeSSO }, false},
		{"raft without secret", func(c *Config) { c.Raft.Enabled = true }, false},
		{"raft with secret", func(c *Config) { c.Raft.Enabled = true; c.Raft.Secret = "x" }, true},
		{"empty addr", func(c *Config) { c.Addr = "" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestConfigOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Editors = []string{" Coach@Example.com"}
	cfg.TokenSecret = "abc"
	opts := cfg.Options()
	assert.Equal(t, []string{"coach@example.com"}, opts.Editors)
	assert.Equal(t, []byte("abc"), opts.TokenSecret)
	assert.Equal(t, cfg.Addr, opts.Addr)
}
