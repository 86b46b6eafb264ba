// ABOUTME: Tests for configuration loading
// ABOUTME: Covers defaults, env var expansion, duration parsing, and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "http://localhost:8000", cfg.Store.APIURL)
	assert.Equal(t, "agent", cfg.Store.AssistantID)
	assert.Equal(t, 10*time.Second, cfg.Operator.PollInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
store:
  api_url: https://runtime.example.com
  assistant_id: support-agent
auth:
  jwt_secret: super-secret
  token: tok
database:
  path: /tmp/loopchat.db
operator:
  poll_interval: 30s
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://runtime.example.com", cfg.Store.APIURL)
	assert.Equal(t, "support-agent", cfg.Store.AssistantID)
	assert.Equal(t, "super-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "/tmp/loopchat.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Second, cfg.Operator.PollInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
store:
  api_url: https://runtime.example.com
  assistant_id: support-agent
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Operator.PollInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("LOOPCHAT_TEST_SECRET", "from-env")
	path := writeConfig(t, `
store:
  api_url: http://localhost:8000
  assistant_id: agent
auth:
  jwt_secret: ${LOOPCHAT_TEST_SECRET}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestLoad_UnsetEnvVarExpandsEmpty(t *testing.T) {
	path := writeConfig(t, `
store:
  api_url: http://localhost:8000
  assistant_id: agent
auth:
  jwt_secret: ${LOOPCHAT_DEFINITELY_UNSET_VAR}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Auth.JWTSecret)
}

func TestLoad_BadDurationRejected(t *testing.T) {
	path := writeConfig(t, `
store:
  api_url: http://localhost:8000
  assistant_id: agent
operator:
  poll_interval: soon
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	path := writeConfig(t, `
store:
  api_url: ""
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_url")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
