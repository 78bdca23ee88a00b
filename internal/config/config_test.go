package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	Reset()
	defer Reset()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.Server.URL)
	assert.Equal(t, 3*time.Second, cfg.Transport.ReconnectDelay)
	assert.Equal(t, 10*time.Second, cfg.Transport.HandshakeTimeout)
	assert.Equal(t, int64(1024*1024), cfg.Transport.MaxMessageSize)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, DefaultGreeting, cfg.Chat.Greeting)
	assert.True(t, cfg.Chat.Markdown)
	assert.Empty(t, cfg.Debug.Addr)
}

func TestLoad_FromFile(t *testing.T) {
	Reset()
	defer Reset()

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  url: "https://shop.example.com"
transport:
  reconnect_delay: 500ms
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, "https://shop.example.com", cfg.Server.URL)
	assert.Equal(t, 500*time.Millisecond, cfg.Transport.ReconnectDelay)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	// keys absent from the file keep their defaults
	assert.Equal(t, 10*time.Second, cfg.Transport.WriteTimeout)
	assert.Equal(t, time.Minute, cfg.Transport.ReadTimeout)
	assert.Equal(t, configFile, Path())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	Reset()
	defer Reset()

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000", cfg.Server.URL)
}

func TestLoad_InvalidYAML(t *testing.T) {
	Reset()
	defer Reset()

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("server: [unterminated"), 0644))

	_, err := Load(configFile)
	assert.Error(t, err)
}

func TestLoad_EnvOverride(t *testing.T) {
	Reset()
	defer Reset()

	t.Setenv("STOREFRONT_SERVER_URL", "http://env.example:9000")
	t.Setenv("STOREFRONT_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://env.example:9000", cfg.Server.URL)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	Reset()
	defer Reset()

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("log:\n  level: debug\n"), 0644))
	t.Setenv("STOREFRONT_LOG_LEVEL", "error")

	cfg, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestSaveTo_RoundTrip(t *testing.T) {
	Reset()
	defer Reset()

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	want := Default()
	want.Server.URL = "https://saved.example"
	want.Debug.Addr = "127.0.0.1:9090"

	require.NoError(t, SaveTo(want, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://saved.example", got.Server.URL)
	assert.Equal(t, "127.0.0.1:9090", got.Debug.Addr)
	assert.Equal(t, want.Transport.ReconnectDelay, got.Transport.ReconnectDelay)
}

func TestGetConfig(t *testing.T) {
	Reset()
	defer Reset()

	assert.Nil(t, GetConfig())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Same(t, cfg, GetConfig())
}

func TestWatch_NoFileIsNoop(t *testing.T) {
	Reset()
	defer Reset()

	_, err := Load("")
	require.NoError(t, err)

	called := false
	Watch(func(*Config) { called = true })
	assert.False(t, called)
}

func TestReload_BadValueKeepsPreviousConfig(t *testing.T) {
	Reset()
	defer Reset()

	prev, err := Load("")
	require.NoError(t, err)

	viper.Set("transport.reconnect_delay", "soon")
	called := false
	err = reload(func(*Config) { called = true })
	require.Error(t, err)
	assert.False(t, called)
	assert.Same(t, prev, GetConfig())

	viper.Set("transport.reconnect_delay", "2s")
	var got *Config
	require.NoError(t, reload(func(c *Config) { got = c }))
	require.NotNil(t, got)
	assert.Equal(t, 2*time.Second, got.Transport.ReconnectDelay)
	assert.Same(t, got, GetConfig())
}
