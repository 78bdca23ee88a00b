package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"storefront/pkg/logger"
)

// Config is the root of the client configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Chat      ChatConfig      `mapstructure:"chat" yaml:"chat"`
	Debug     DebugConfig     `mapstructure:"debug" yaml:"debug"`
}

// ServerConfig locates the backend. The WebSocket scheme mirrors the URL
// scheme: http becomes ws, https becomes wss.
type ServerConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// TransportConfig tunes the connection manager.
type TransportConfig struct {
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	MaxMessageSize   int64         `mapstructure:"max_message_size" yaml:"max_message_size"`
}

// StorageConfig points at the SQLite file holding the session identity.
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig mirrors logger.LogConfig.
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// ChatConfig controls the chat transcript.
type ChatConfig struct {
	Greeting string `mapstructure:"greeting" yaml:"greeting"`
	Markdown bool   `mapstructure:"markdown" yaml:"markdown"`
}

// DebugConfig enables the local metrics/state HTTP surface when Addr is set.
type DebugConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

var (
	globalConfig *Config
	configPath   string
	mu           sync.RWMutex
)

// Load reads the configuration.
// Precedence: ENV > config file > defaults.
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	SetDefaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		expandedPath, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		configPath = expandedPath

		viper.SetConfigFile(expandedPath)
		if err := viper.ReadInConfig(); err != nil {
			// A missing file is fine; a file that does not parse is not.
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) && !os.IsNotExist(err) {
				var parseErr viper.ConfigParseError
				if errors.As(err, &parseErr) {
					return nil, fmt.Errorf("parse config %s: %w", expandedPath, err)
				}
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the last loaded configuration.
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

// Path returns the file Load was pointed at, if any.
func Path() string {
	mu.RLock()
	defer mu.RUnlock()
	return configPath
}

// Watch reloads the configuration whenever the config file changes and
// hands the new value to fn. It is a no-op when no file was loaded.
func Watch(fn func(*Config)) {
	mu.RLock()
	path := configPath
	mu.RUnlock()
	if path == "" {
		return
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		if err := reload(fn); err != nil {
			logger.Warn().Err(err).Str("file", e.Name).Msg("config reload failed, keeping previous values")
		}
	})
	viper.WatchConfig()
}

// reload decodes the current viper state and, on success, replaces the
// global config and passes it to fn.
func reload(fn func(*Config)) error {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	mu.Lock()
	globalConfig = &cfg
	mu.Unlock()
	fn(&cfg)
	return nil
}

// SaveTo writes cfg as YAML to path, creating parent directories.
func SaveTo(cfg *Config, path string) error {
	expanded, err := ExpandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(expanded, data, 0600)
}

// Reset clears loaded state (mainly for tests).
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	configPath = ""
	viper.Reset()
}
