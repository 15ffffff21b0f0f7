package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtrauntvein/coratools/dbsource"
)

const sample = `
server:
  address: loggernet.local:6789
  user: admin
  password: secret
  dial_timeout: 3s
database:
  connect_string: db-type=mysql;db-data-source=db.local;db-initial-catalog=site
  poll_interval: 250ms
  batch_size: 50
retry:
  max_attempts: 5
  initial_delay: 200ms
  max_delay: 2s
log:
  level: debug
  format: json
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "loggernet.local:6789", cfg.Server.Address)
	assert.Equal(t, "coratools", cfg.Server.AppName)
	assert.Equal(t, 3*time.Second, cfg.Server.DialTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Database.PollInterval)
	assert.Equal(t, 50, cfg.Database.BatchSize)
	assert.Equal(t, dbsource.DefaultWorkers, cfg.Database.Workers)
	assert.Equal(t, "db", cfg.Database.Name)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)

	cs, err := cfg.Database.Connect()
	require.NoError(t, err)
	assert.Equal(t, dbsource.DBTypeMySQL, cs.Type)
	assert.Equal(t, "site", cs.InitialCatalog)
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  address: host:1\n"))
	require.NoError(t, err)
	want := Default()
	want.Server.Address = "host:1"
	assert.Equal(t, want, *cfg)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", ""},
		{"unknown key", "server:\n  address: h:1\n  colour: blue\n"},
		{"bad duration", "server:\n  address: h:1\n  dial_timeout: soon\n"},
		{"bad connect string", "server:\n  address: h:1\ndatabase:\n  connect_string: db-type=oracle\n"},
		{"bad level", "server:\n  address: h:1\nlog:\n  level: loud\n"},
		{"bad format", "server:\n  address: h:1\nlog:\n  format: xml\n"},
		{"bad retry", "server:\n  address: h:1\nretry:\n  initial_delay: 5s\n  max_delay: 1s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CORATOOLS_SERVER_ADDRESS", "override:6789")
	t.Setenv("CORATOOLS_SERVER_PASSWORD", "from-env")
	t.Setenv("CORATOOLS_DB_CONNECT_STRING", "db-type=postgresql;db-data-source=pg")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "override:6789", cfg.Server.Address)
	assert.Equal(t, "from-env", cfg.Server.Password)
	assert.Equal(t, "admin", cfg.Server.User)

	cs, err := cfg.Database.Connect()
	require.NoError(t, err)
	assert.Equal(t, dbsource.DBTypePostgreSQL, cs.Type)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coratools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "admin", cfg.Server.User)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	logger, err = NewLogger(LogConfig{Level: "DEBUG", Format: "text"}, &buf)
	require.NoError(t, err)
	logger.Debug("trace")
	assert.Contains(t, buf.String(), "msg=trace")

	_, err = NewLogger(LogConfig{Level: "loud"}, &buf)
	assert.Error(t, err)
}
