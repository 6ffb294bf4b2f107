package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// App is the static application configuration read at startup. Unlike the
// storage configuration it is not part of the snapshot set.
type App struct {
	Version string `yaml:"version" mapstructure:"version"`

	// DataDir roots the storage config, category registry and default
	// tasks/topics/recovery locations.
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	Server ServerConfig `yaml:"server" mapstructure:"server"`
}

// ServerConfig configures the HTTP and MCP listeners.
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
	Mode string `yaml:"mode" mapstructure:"mode"`
}

// DefaultApp returns the default application configuration.
func DefaultApp() *App {
	return &App{
		Version: "1",
		DataDir: defaultDataDir(),
		Server: ServerConfig{
			Addr: "127.0.0.1:5050",
			Mode: "release",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskman"
	}
	return filepath.Join(home, ".taskman")
}

// AppConfigPath returns the application config file location.
func AppConfigPath() string {
	return filepath.Join(defaultDataDir(), "config.yaml")
}

// LoadApp reads the application config file, returning defaults when it does
// not exist.
func LoadApp(path string) (*App, error) {
	cfg := DefaultApp()
	if path == "" {
		path = AppConfigPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return cfg, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return cfg, err
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	return cfg, nil
}

// WriteDefaultApp writes the default application configuration to path.
func WriteDefaultApp(path string) error {
	data, err := yaml.Marshal(DefaultApp())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
