package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/acmecorp/people-sync/pkg/config"
	"github.com/acmecorp/people-sync/pkg/index"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
logging:
  log_level: debug
source:
  base_url: https://sso.example.com
  realm: acme
  client_id: people-sync
  client_secret: s3cr3t
target:
  api_url: https://index.example.com
  api_token: t0k3n
  datasource: people-sync
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestNewConfigDefaults(t *testing.T) {
	assert := require.New(t)

	cfg, err := config.NewConfig(writeConfig(t, minimalConfig))
	assert.NoError(err)

	assert.Equal(":8080", cfg.Server.ListenAddress)
	assert.Equal("debug", cfg.Logging.LogLevel)
	assert.Equal(30*time.Second, cfg.Source.Timeout)
	assert.Equal(100, cfg.Source.PageSize)
	assert.Equal(index.ModeBulk, cfg.Target.Mode)
	assert.Equal(15*time.Minute, cfg.Sync.RunTimeout)
	assert.True(cfg.Auth.Enabled)
	assert.Equal("run.routes.invoke", cfg.Auth.RequiredPermission)
	assert.False(cfg.Sync.DryRun)
}

func TestNewConfigOverrides(t *testing.T) {
	assert := require.New(t)

	cfg, err := config.NewConfig(writeConfig(t, minimalConfig+`
sync:
  dry_run: true
  max_users: 50
auth:
  enabled: false
`))
	assert.NoError(err)

	assert.True(cfg.Sync.DryRun)
	assert.Equal(50, cfg.Sync.MaxUsers)
	assert.False(cfg.Auth.Enabled)
}

func TestNewConfigRejectsInvalidMode(t *testing.T) {
	assert := require.New(t)

	_, err := config.NewConfig(writeConfig(t, `
source:
  base_url: https://sso.example.com
  realm: acme
  client_id: people-sync
  client_secret: s3cr3t
target:
  api_url: https://index.example.com
  api_token: t0k3n
  datasource: people-sync
  mode: broadcast
`))
	assert.Error(err)
	assert.Contains(err.Error(), "target.mode")
}

func TestNewConfigRejectsMisplacedMaxUsers(t *testing.T) {
	assert := require.New(t)

	// max_users belongs to the sync section; a stray source key must not
	// decode silently
	_, err := config.NewConfig(writeConfig(t, `
source:
  base_url: https://sso.example.com
  realm: acme
  client_id: people-sync
  client_secret: s3cr3t
  max_users: 50
target:
  api_url: https://index.example.com
  api_token: t0k3n
  datasource: people-sync
`))
	assert.Error(err)
}

func TestNewConfigRequiresSourceCredentials(t *testing.T) {
	assert := require.New(t)

	_, err := config.NewConfig(writeConfig(t, `
target:
  api_url: https://index.example.com
  api_token: t0k3n
  datasource: people-sync
`))
	assert.Error(err)
	assert.Contains(err.Error(), "source")
}

func TestNewConfigMissingFile(t *testing.T) {
	assert := require.New(t)

	_, err := config.NewConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(err)
}
