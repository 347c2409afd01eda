package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 600*time.Millisecond, cfg.Client.UpdateInterval)
	assert.Equal(t, 8.0, cfg.Client.LineWidth)
	assert.Equal(t, "red", cfg.Client.Color)
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
log:
  level: debug
server:
  addr: 0.0.0.0:9000
  backup_interval: 30s
  peers: [http://10.0.0.2:8080]
  advertise: true
client:
  board: team
  update_interval: 250ms
  optimistic_clear: true
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.BackupInterval)
	assert.Equal(t, []string{"http://10.0.0.2:8080"}, cfg.Server.Peers)
	assert.True(t, cfg.Server.Advertise)
	assert.Equal(t, "team", cfg.Client.Board)
	assert.Equal(t, 250*time.Millisecond, cfg.Client.UpdateInterval)
	assert.True(t, cfg.Client.OptimisticClear)

	assert.Equal(t, "whiteboard.sqlite3", cfg.Server.Database)
	assert.Equal(t, 800, cfg.Client.Width)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("client:\n  colour: blue\n"))
	assert.ErrorContains(t, err, "colour")
}

func TestParseValidates(t *testing.T) {
	_, err := Parse([]byte("client:\n  width: 0\n  line_width: -1\nlog:\n  level: loud\n"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "client.width")
	assert.ErrorContains(t, err, "client.line_width")
	assert.ErrorContains(t, err, "loud")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whiteboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  database: /tmp/x.sqlite3\n"), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.sqlite3", cfg.Server.Database)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
