package webhook

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration document for a webhook server.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Logger LoggerConfig `yaml:"logger"`
	App    AppConfig    `yaml:"app"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig identifies the app and its cloud connection parameters.
type AppConfig struct {
	PackageName          string        `yaml:"package_name"`
	APIKey               string        `yaml:"api_key"`
	EndpointURL          string        `yaml:"endpoint_url"`
	ConfigPath           string        `yaml:"config_path"`
	AutoReconnect        bool          `yaml:"auto_reconnect"`
	MaxReconnectAttempts uint32        `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
}

// Load reads the configuration file and fills in defaults for anything the
// document leaves unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
