package config

import (
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. STOREFRONT_SERVER_URL.
const EnvPrefix = "STOREFRONT"

// DefaultGreeting is shown when a sync snapshot carries no history.
const DefaultGreeting = "Hello! Welcome to the Autonomous Retail Store. I'm your Product Discovery agent. How can I help you find the perfect product today?"

// SetDefaults registers the default value of every key.
func SetDefaults() {
	viper.SetDefault("server.url", "http://localhost:8000")

	viper.SetDefault("transport.reconnect_delay", 3*time.Second)
	viper.SetDefault("transport.handshake_timeout", 10*time.Second)
	viper.SetDefault("transport.write_timeout", 10*time.Second)
	viper.SetDefault("transport.read_timeout", 60*time.Second)
	viper.SetDefault("transport.max_message_size", 1024*1024)

	viper.SetDefault("storage.path", "")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.file", "")
	viper.SetDefault("log.max_size_mb", 10)
	viper.SetDefault("log.max_backups", 3)

	viper.SetDefault("chat.greeting", DefaultGreeting)
	viper.SetDefault("chat.markdown", true)

	viper.SetDefault("debug.addr", "")
}

// Default returns the defaults as a Config value, used by `config init`.
func Default() *Config {
	return &Config{
		Server: ServerConfig{URL: "http://localhost:8000"},
		Transport: TransportConfig{
			ReconnectDelay:   3 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     10 * time.Second,
			ReadTimeout:      60 * time.Second,
			MaxMessageSize:   1024 * 1024,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Chat: ChatConfig{
			Greeting: DefaultGreeting,
			Markdown: true,
		},
	}
}
