package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", flags(t))
	require.NoError(t, err)

	assert.Equal(t, &Config{
		Port:           DefaultPort,
		Host:           DefaultHost,
		LogLevel:       DefaultLogLevel,
		LogFormat:      LogFormatAuto,
		ReconnectDelay: DefaultReconnectDelay,
		DialTimeout:    DefaultDialTimeout,
		SendQueueSize:  DefaultSendQueueSize,
	}, cfg)
	assert.Equal(t, "0.0.0.0:8765", cfg.ListenAddr())
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}

func TestLoadWithoutFlags(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "classcast.toml")
	require.NoError(t, os.WriteFile(file, []byte(`
port = 9000
host = "127.0.0.1"
name = "FromFile"
reconnect-delay = "10s"
`), 0o600))

	t.Setenv("CLASSCAST_HOST", "10.0.0.5")
	t.Setenv("CLASSCAST_API_ADDR", ":8080")
	t.Setenv("CLASSCAST_PORT", "9100")

	cfg, err := Load(file, flags(t, "--port", "9200", "--log-level", "debug"))
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Port, "flag beats env")
	assert.Equal(t, "10.0.0.5", cfg.Host, "env beats file")
	assert.Equal(t, ":8080", cfg.APIAddr)
	assert.Equal(t, "FromFile", cfg.StudentName)
	assert.Equal(t, 10*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"), nil)
	assert.ErrorIs(t, err, ErrRead)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "port too low", args: []string{"--port", "0"}},
		{name: "port too high", args: []string{"--port", "70000"}},
		{name: "log level", args: []string{"--log-level", "loud"}},
		{name: "log format", args: []string{"--log-format", "xml"}},
		{name: "reconnect delay", args: []string{"--reconnect-delay", "0s"}},
		{name: "dial timeout", args: []string{"--dial-timeout", "-1s"}},
		{name: "queue size", args: []string{"--send-queue-size", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load("", flags(t, tt.args...))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}
