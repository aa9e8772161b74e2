// Package config resolves pluginmeta settings from defaults, an optional
// pluginmeta.yaml and PLUGINMETA_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/carved4/go-pluginmeta/pkg/descriptor"
	"github.com/carved4/go-pluginmeta/pkg/plugin"
)

const EnvPrefix = "PLUGINMETA"

type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Load   LoadConfig   `mapstructure:"load"`
	Scan   ScanConfig   `mapstructure:"scan"`
	Output OutputConfig `mapstructure:"output"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type LoadConfig struct {
	SymbolName  string `mapstructure:"symbol_name"`
	MaxFileSize int64  `mapstructure:"max_file_size"`
}

type ScanConfig struct {
	Extensions     []string `mapstructure:"extensions"`
	Workers        int      `mapstructure:"workers"`
	Recursive      bool     `mapstructure:"recursive"`
	FollowSymlinks bool     `mapstructure:"follow_symlinks"`
	Dedupe         bool     `mapstructure:"dedupe"`
}

type OutputConfig struct {
	Format  string `mapstructure:"format"`
	NoColor bool   `mapstructure:"no_color"`
}

// Formats lists the accepted output formats.
var Formats = []string{"table", "json", "yaml"}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("log.level", "warn")
	v.SetDefault("log.pretty", true)
	v.SetDefault("load.symbol_name", descriptor.SymbolName)
	v.SetDefault("load.max_file_size", plugin.DefaultMaxFileSize)
	v.SetDefault("scan.extensions", []string{".dll"})
	v.SetDefault("scan.workers", 4)
	v.SetDefault("scan.recursive", true)
	v.SetDefault("scan.follow_symlinks", false)
	v.SetDefault("scan.dedupe", true)
	v.SetDefault("output.format", "table")
	v.SetDefault("output.no_color", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configFile, or searches for pluginmeta.yaml when it is empty,
// and unmarshals the result. A missing searched-for file is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("pluginmeta")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "pluginmeta"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Load.SymbolName) == "" {
		return fmt.Errorf("load.symbol_name must not be empty")
	}
	if c.Load.MaxFileSize <= 0 {
		return fmt.Errorf("load.max_file_size must be positive, got %d", c.Load.MaxFileSize)
	}
	if c.Scan.Workers < 1 {
		return fmt.Errorf("scan.workers must be at least 1, got %d", c.Scan.Workers)
	}
	for _, f := range Formats {
		if c.Output.Format == f {
			return nil
		}
	}
	return fmt.Errorf("unsupported output format %q (want one of %s)", c.Output.Format, strings.Join(Formats, ", "))
}

// PluginOptions converts the load section into plugin.Options.
func (c *Config) PluginOptions() plugin.Options {
	return plugin.Options{
		SymbolName:  c.Load.SymbolName,
		MaxFileSize: c.Load.MaxFileSize,
	}
}
