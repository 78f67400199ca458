// Package config loads zotwatcher settings from a YAML file with
// environment overrides (ZW_ prefix), supplying defaults for everything
// that is not identity-bearing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/zotwatcher/zotwatcher/internal/filter"
	"github.com/zotwatcher/zotwatcher/internal/zotero"
)

// DefaultFileName is the config file looked up when no --config flag is
// given, searched in the working directory and ~/.config/zotwatcher.
const DefaultFileName = "zotwatcher.yaml"

// Config is the full tool configuration.
type Config struct {
	Zotero   ZoteroConfig   `mapstructure:"zotero" yaml:"zotero"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Watch    WatchConfig    `mapstructure:"watch" yaml:"watch"`
}

// ZoteroConfig holds remote API access and filtering settings.
type ZoteroConfig struct {
	APIKey        string        `mapstructure:"api_key" yaml:"api_key"`
	UserID        string        `mapstructure:"user_id" yaml:"user_id"`
	BaseURL       string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	PageSize      int           `mapstructure:"page_size" yaml:"page_size"`
	PoliteDelayMS int           `mapstructure:"polite_delay_ms" yaml:"polite_delay_ms"`
	Collections   filter.Config `mapstructure:"collections" yaml:"collections"`
}

// DatabaseConfig locates the local mirror.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig configures the rotating log file; Path empty disables it.
type LogConfig struct {
	Path       string `mapstructure:"path" yaml:"path,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// WatchConfig configures daemon mode.
type WatchConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes" yaml:"interval_minutes"`
}

func setDefaults(v *viper.Viper) {
	// Empty defaults register the keys so environment-only values are
	// seen by Unmarshal.
	v.SetDefault("zotero.api_key", "")
	v.SetDefault("zotero.user_id", "")
	v.SetDefault("zotero.base_url", "")
	v.SetDefault("log.path", "")
	v.SetDefault("zotero.page_size", 100)
	v.SetDefault("zotero.polite_delay_ms", 500)
	v.SetDefault("database.path", filepath.Join("data", "library.sqlite"))
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("watch.interval_minutes", 30)
}

// Load reads configuration from path, or from the default search
// locations when path is empty. Environment variables like
// ZW_ZOTERO_API_KEY override file values; a missing file is fine as long
// as the environment supplies what commands need.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ZW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFileName, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "zotwatcher"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Write marshals cfg to YAML at path, creating parent directories.
func Write(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ValidateRemote checks the fields every remote-touching command needs.
func (c *Config) ValidateRemote() error {
	if c.Zotero.APIKey == "" {
		return fmt.Errorf("zotero.api_key is required (or set ZW_ZOTERO_API_KEY)")
	}
	if c.Zotero.UserID == "" {
		return fmt.Errorf("zotero.user_id is required (or set ZW_ZOTERO_USER_ID)")
	}
	return nil
}

// ClientConfig translates the settings into a zotero client config.
func (c *Config) ClientConfig() zotero.Config {
	return zotero.Config{
		APIKey:      c.Zotero.APIKey,
		UserID:      c.Zotero.UserID,
		BaseURL:     c.Zotero.BaseURL,
		PageSize:    c.Zotero.PageSize,
		PoliteDelay: time.Duration(c.Zotero.PoliteDelayMS) * time.Millisecond,
	}
}

// WatchInterval returns the daemon sync interval.
func (c *Config) WatchInterval() time.Duration {
	if c.Watch.IntervalMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Watch.IntervalMinutes) * time.Minute
}
