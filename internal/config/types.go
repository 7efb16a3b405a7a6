package config

import (
	"time"

	"github.com/yoanbernabeu/piprov/internal/constants"
)

// GlobalConfig represents ~/.config/piprov/config.yaml
type GlobalConfig struct {
	Targets        map[string]TargetConfig `yaml:"targets"`
	DefaultUser    string                  `yaml:"default_user,omitempty"`
	DefaultPort    int                     `yaml:"default_port,omitempty"`
	ConnectTimeout time.Duration           `yaml:"connect_timeout,omitempty"`
	// KnownHosts and HistoryDB default to files next to config.yaml
	KnownHosts           string   `yaml:"known_hosts,omitempty"`
	HistoryDB            string   `yaml:"history_db,omitempty"`
	HistoryRetentionDays int      `yaml:"history_retention_days,omitempty"`
	MaxParallel          int      `yaml:"max_parallel,omitempty"`
	LogLevel             string   `yaml:"log_level,omitempty"`
	LogFormat            string   `yaml:"log_format,omitempty"`
	ListenAddr           string   `yaml:"listen_addr,omitempty"`
	AllowedOrigins       []string `yaml:"allowed_origins,omitempty"`
}

// TargetConfig represents a configured host. Passwords are never stored.
type TargetConfig struct {
	Host    string `yaml:"host"`
	User    string `yaml:"user"`
	Port    int    `yaml:"port,omitempty"`
	KeyPath string `yaml:"key_path,omitempty"`
}

// DefaultGlobalConfig returns a default global configuration
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Targets:              make(map[string]TargetConfig),
		DefaultUser:          constants.DefaultUser,
		DefaultPort:          constants.DefaultSSHPort,
		ConnectTimeout:       constants.DefaultConnectTimeout,
		HistoryRetentionDays: constants.DefaultRetentionDays,
		MaxParallel:          constants.DefaultMaxParallel,
		LogLevel:             "info",
		LogFormat:            LogFormatConsole,
		ListenAddr:           constants.DefaultListenAddr,
	}
}

// Log output formats
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// fillDefaults sets zero fields to their defaults
func (c *GlobalConfig) fillDefaults() {
	d := DefaultGlobalConfig()
	if c.Targets == nil {
		c.Targets = d.Targets
	}
	if c.DefaultUser == "" {
		c.DefaultUser = d.DefaultUser
	}
	if c.DefaultPort == 0 {
		c.DefaultPort = d.DefaultPort
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HistoryRetentionDays == 0 {
		c.HistoryRetentionDays = d.HistoryRetentionDays
	}
	if c.MaxParallel == 0 {
		c.MaxParallel = d.MaxParallel
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
	if c.ListenAddr == "" {
		c.ListenAddr = d.ListenAddr
	}
}
