// Package config loads sitemon settings from flags, environment and an
// optional YAML file.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix prefixes every environment override, e.g. SITEMON_LISTEN_ADDR.
const EnvPrefix = "SITEMON"

// FileName is the config file looked up in the home directory.
const FileName = ".sitemon"

// Keys.
const (
	KeyDataDir           = "data_dir"
	KeyListenAddr        = "listen_addr"
	KeyExtensionOrigin   = "extension_origin"
	KeyAllowedOrigins    = "allowed_origins"
	KeyPollInterval      = "scheduler.poll_interval"
	KeyHeartbeatInterval = "heartbeat_interval"
	KeyTabTimeout        = "tab_timeout"
	KeyTimezone          = "timezone"
	KeyEncrypted         = "storage.encrypted"
	KeyLogLevel          = "log.level"
	KeyLogFile           = "log.file"
)

// Config holds daemon and CLI configuration.
type Config struct {
	DataDir           string
	ListenAddr        string
	ExtensionOrigin   string
	AllowedOrigins    []string // glob patterns; empty means ExtensionOrigin only
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	TabTimeout        time.Duration
	Timezone          string // IANA name or "Local"
	Encrypted         bool
	LogLevel          string
	LogFile           string // empty means <DataDir>/sitemon.log
}

// Default returns default configuration.
func Default() Config {
	return Config{
		DataDir:           "~/.sitemon",
		ListenAddr:        "127.0.0.1:7878",
		ExtensionOrigin:   "chrome-extension://sitemon",
		PollInterval:      5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		TabTimeout:        3 * time.Second,
		Timezone:          "Local",
		Encrypted:         true,
		LogLevel:          "info",
	}
}

// SetDefaults registers Default() values with v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyDataDir, d.DataDir)
	v.SetDefault(KeyListenAddr, d.ListenAddr)
	v.SetDefault(KeyExtensionOrigin, d.ExtensionOrigin)
	v.SetDefault(KeyAllowedOrigins, []string{})
	v.SetDefault(KeyPollInterval, d.PollInterval)
	v.SetDefault(KeyHeartbeatInterval, d.HeartbeatInterval)
	v.SetDefault(KeyTabTimeout, d.TabTimeout)
	v.SetDefault(KeyTimezone, d.Timezone)
	v.SetDefault(KeyEncrypted, d.Encrypted)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyLogFile, "")
}

// ReadFile reads path into v. With an empty path it looks for ~/.sitemon.yaml
// and a missing file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return err
		}
		v.SetConfigFile(expanded)
		return v.ReadInConfig()
	}

	home, err := homedir.Dir()
	if err != nil {
		return err
	}
	v.AddConfigPath(home)
	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

// Load builds a Config from v, applying SITEMON_* environment overrides.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		DataDir:           v.GetString(KeyDataDir),
		ListenAddr:        v.GetString(KeyListenAddr),
		ExtensionOrigin:   strings.TrimRight(v.GetString(KeyExtensionOrigin), "/"),
		AllowedOrigins:    v.GetStringSlice(KeyAllowedOrigins),
		PollInterval:      v.GetDuration(KeyPollInterval),
		HeartbeatInterval: v.GetDuration(KeyHeartbeatInterval),
		TabTimeout:        v.GetDuration(KeyTabTimeout),
		Timezone:          v.GetString(KeyTimezone),
		Encrypted:         v.GetBool(KeyEncrypted),
		LogLevel:          v.GetString(KeyLogLevel),
		LogFile:           v.GetString(KeyLogFile),
	}

	dataDir, err := homedir.Expand(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyDataDir, err)
	}
	cfg.DataDir = dataDir
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(cfg.DataDir, "sitemon.log")
	} else if cfg.LogFile, err = homedir.Expand(cfg.LogFile); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyLogFile, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late in the daemon.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%s must not be empty", KeyDataDir)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("%s must not be empty", KeyListenAddr)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%s must be positive, got %s", KeyPollInterval, c.PollInterval)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%s must be positive, got %s", KeyHeartbeatInterval, c.HeartbeatInterval)
	}
	if c.TabTimeout <= 0 {
		return fmt.Errorf("%s must be positive, got %s", KeyTabTimeout, c.TabTimeout)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid %s: %w", KeyLogLevel, err)
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", KeyTimezone, c.Timezone, err)
	}
	return loc, nil
}

// Origins returns the origin patterns the bridge accepts.
func (c *Config) Origins() []string {
	if len(c.AllowedOrigins) > 0 {
		return c.AllowedOrigins
	}
	return []string{c.ExtensionOrigin}
}
