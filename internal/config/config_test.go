// ABOUTME: Tests for configuration loading, env expansion, and persona parsing
// ABOUTME: Uses temp files so no fixtures are needed

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeTempFile(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:9000"
database:
  path: "/tmp/parley-test.db"
personas:
  path: "personas.toml"
presence:
  typing_ttl: "8s"
tools:
  result_ttl: "5m"
  suggestion_ttl: "2m"
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/parley-test.db", cfg.Database.Path)
	assert.Equal(t, "personas.toml", cfg.Personas.Path)
	assert.Equal(t, 8*time.Second, cfg.Presence.TypingTTL)
	assert.Equal(t, 5*time.Minute, cfg.Tools.ResultTTL)
	assert.Equal(t, 2*time.Minute, cfg.Tools.SuggestionTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempFile(t, "config.yaml", `{}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost:8420", cfg.Server.HTTPAddr)
	assert.Equal(t, "parley.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Second, cfg.Presence.TypingTTL)
	assert.Equal(t, 10*time.Minute, cfg.Tools.ResultTTL)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("PARLEY_TEST_DB", "/var/data/env.db")

	path := writeTempFile(t, "config.yaml", `
database:
  path: "${PARLEY_TEST_DB}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/data/env.db", cfg.Database.Path)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeTempFile(t, "config.yaml", `
presence:
  typing_ttl: "soon"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "typing_ttl")
}

func TestLoadRejectsTypingTTLOutOfRange(t *testing.T) {
	path := writeTempFile(t, "config.yaml", `
presence:
  typing_ttl: "30s"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "typing_ttl")
}

func TestLoadRejectsBadLogFormat(t *testing.T) {
	path := writeTempFile(t, "config.yaml", `
logging:
  format: "xml"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadPersonas(t *testing.T) {
	path := writeTempFile(t, "personas.toml", `
[[personas]]
id = "agent-buzz"
name = "Buzz Daly"
slug = "buzz"
avatar = "🐝"
interests = ["databases", "distributed systems"]
cooldown_seconds = 30
primary = true
model = "small-fast"
system_prompt = "You are Buzz."

[[personas]]
id = "agent-ivy"
name = "Ivy"
slug = "ivy"
interests = ["frontend"]
`)

	agents, err := LoadPersonas(path)
	require.NoError(t, err)
	require.Len(t, agents, 2)

	assert.Equal(t, "agent-buzz", agents[0].ID)
	assert.Equal(t, "Buzz Daly", agents[0].Name)
	assert.Equal(t, []string{"databases", "distributed systems"}, agents[0].Interests)
	assert.Equal(t, 30, agents[0].CooldownSeconds)
	assert.True(t, agents[0].Primary)
	assert.Equal(t, "small-fast", agents[0].Model)

	assert.Equal(t, "agent-ivy", agents[1].ID)
	assert.False(t, agents[1].Primary)
}

func TestLoadPersonasRejectsDuplicateID(t *testing.T) {
	path := writeTempFile(t, "personas.toml", `
[[personas]]
id = "a"
name = "One"

[[personas]]
id = "a"
name = "Two"
`)

	_, err := LoadPersonas(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id")
}

func TestLoadPersonasRejectsMultiplePrimaries(t *testing.T) {
	path := writeTempFile(t, "personas.toml", `
[[personas]]
id = "a"
name = "One"
primary = true

[[personas]]
id = "b"
name = "Two"
primary = true
`)

	_, err := LoadPersonas(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary")
}

func TestLoadPersonasRejectsMissingID(t *testing.T) {
	path := writeTempFile(t, "personas.toml", `
[[personas]]
name = "Anonymous"
`)

	_, err := LoadPersonas(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id is required")
}
