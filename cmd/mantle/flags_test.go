package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mantle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseFlags_Defaults(t *testing.T) {
	cfg, opts, err := parseFlags(nil)
	require.NoError(t, err)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.BrokerURL)
	assert.Equal(t, "localhost", cfg.DB.Host)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, "mantle", cfg.DB.Name)
	assert.Equal(t, ":4000", cfg.GraphQL.Addr)
	assert.True(t, cfg.GraphQL.Playground)
	assert.True(t, cfg.Historian)
	assert.Equal(t, 9090, cfg.MetricsPort)
	assert.Empty(t, cfg.Redis.URL)

	assert.False(t, opts.migrate)
	assert.False(t, opts.validate)
	assert.Equal(t, 30*time.Second, opts.shutdownTimeout)
}

func TestParseFlags_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("MANTLE_BROKER_URL", "tcp://from-env:1883")
	t.Setenv("MANTLE_DB_NAME", "envdb")

	cfg, _, err := parseFlags([]string{"--broker-url", "tcp://from-cli:1883"})
	require.NoError(t, err)

	// The flag wins where given; the env fills the rest.
	assert.Equal(t, "tcp://from-cli:1883", cfg.MQTT.BrokerURL)
	assert.Equal(t, "envdb", cfg.DB.Name)
}

func TestParseFlags_ConfigFileLowestPrecedence(t *testing.T) {
	path := writeConfigFile(t, `
mqtt:
  broker_url: tcp://from-file:1883
db:
  name: filedb
graphql:
  addr: ":5000"
`)
	t.Setenv("MANTLE_DB_NAME", "envdb")

	cfg, opts, err := parseFlags([]string{
		"--config", path,
		"--broker-url", "tcp://from-cli:1883",
	})
	require.NoError(t, err)

	assert.Equal(t, "tcp://from-cli:1883", cfg.MQTT.BrokerURL, "flag beats file")
	assert.Equal(t, "envdb", cfg.DB.Name, "env beats file")
	assert.Equal(t, ":5000", cfg.GraphQL.Addr, "file beats default")
	assert.Equal(t, path, opts.configPath)
}

func TestParseFlags_ConfigViaEnv(t *testing.T) {
	path := writeConfigFile(t, `
db:
  name: envfiledb
`)
	t.Setenv("MANTLE_CONFIG", path)

	cfg, _, err := parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, "envfiledb", cfg.DB.Name)
}

func TestParseFlags_ConfigFileMissing(t *testing.T) {
	_, _, err := parseFlags([]string{"--config", "/nonexistent/mantle.yaml"})
	require.Error(t, err)
}

func TestParseFlags_ProcessFlags(t *testing.T) {
	cfg, opts, err := parseFlags([]string{
		"--migrate",
		"--validate",
		"--shutdown-timeout", "5s",
		"--metrics-port", "0",
		"--historian=false",
	})
	require.NoError(t, err)

	assert.True(t, opts.migrate)
	assert.True(t, opts.validate)
	assert.Equal(t, 5*time.Second, opts.shutdownTimeout)
	assert.Equal(t, 0, cfg.MetricsPort)
	assert.False(t, cfg.Historian)
}

func TestParseFlags_UnknownFlag(t *testing.T) {
	_, _, err := parseFlags([]string{"--no-such-flag"})
	require.Error(t, err)
}

func TestPreScanConfigPath(t *testing.T) {
	t.Setenv("MANTLE_CONFIG", "")
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"separate value", []string{"--config", "a.yaml"}, "a.yaml"},
		{"equals form", []string{"--config=b.yaml"}, "b.yaml"},
		{"single dash", []string{"-config=c.yaml"}, "c.yaml"},
		{"shorthand", []string{"-c", "d.yaml"}, "d.yaml"},
		{"absent", []string{"--db-host", "x"}, ""},
		{"last one wins", []string{"--config", "a.yaml", "--config=b.yaml"}, "b.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, preScanConfigPath(tt.args))
		})
	}
}

func TestSetupLogger_Levels(t *testing.T) {
	// Construction only; output shape is slog's concern.
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		assert.NotNil(t, setupLogger(level, "json"))
		assert.NotNil(t, setupLogger(level, "text"))
	}
}
