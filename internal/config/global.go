package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yoanbernabeu/piprov/internal/constants"
)

// Environment overrides
const (
	EnvTarget      = "PIPROV_TARGET"
	EnvSecret      = "PIPROV_SECRET"
	EnvKnownHosts  = "PIPROV_KNOWN_HOSTS"
	EnvHistoryDB   = "PIPROV_HISTORY_DB"
	EnvLogLevel    = "PIPROV_LOG_LEVEL"
	EnvMaxParallel = "PIPROV_MAX_PARALLEL"
)

// GetConfigDir returns the piprov configuration directory
func GetConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, constants.AppName), nil
}

// GetGlobalConfigPath returns the path to the global config file
func GetGlobalConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, constants.ConfigFileName), nil
}

// LoadGlobalConfig loads the global configuration from path, or from the
// default location when path is empty. A missing file gives the defaults.
func LoadGlobalConfig(path string) (*GlobalConfig, error) {
	if path == "" {
		var err error
		if path, err = GetGlobalConfigPath(); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultGlobalConfig(), nil
		}
		return nil, fmt.Errorf("failed to read global config: %w", err)
	}

	var config GlobalConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse global config: %w", err)
	}
	config.fillDefaults()

	return &config, nil
}

// SaveGlobalConfig saves the global configuration to path (default location when empty)
func SaveGlobalConfig(config *GlobalConfig, path string) error {
	if path == "" {
		var err error
		if path, err = GetGlobalConfigPath(); err != nil {
			return err
		}
	}

	// SECURITY: Use 0700 to restrict directory access to owner only
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// SECURITY: Use 0600 since the file lists reachable hosts and key paths
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write global config: %w", err)
	}

	return nil
}

// ApplyEnv overrides settings from environment variables read through getenv
func (c *GlobalConfig) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvKnownHosts); v != "" {
		c.KnownHosts = v
	}
	if v := getenv(EnvHistoryDB); v != "" {
		c.HistoryDB = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := getenv(EnvMaxParallel); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxParallel, err)
		}
		c.MaxParallel = n
	}
	return nil
}

// KnownHostsPath returns the host key store path, resolved against configDir
func (c *GlobalConfig) KnownHostsPath(configDir string) string {
	return c.resolve(c.KnownHosts, configDir, constants.KnownHostsFileName)
}

// HistoryDBPath returns the run history database path, resolved against configDir
func (c *GlobalConfig) HistoryDBPath(configDir string) string {
	return c.resolve(c.HistoryDB, configDir, constants.HistoryFileName)
}

func (c *GlobalConfig) resolve(path, configDir, fallback string) string {
	if path == "" {
		return filepath.Join(configDir, fallback)
	}
	if path == ":memory:" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	if !filepath.IsAbs(path) {
		return filepath.Join(configDir, path)
	}
	return path
}

// GetTarget retrieves a target configuration by name
func (c *GlobalConfig) GetTarget(name string) (*TargetConfig, error) {
	target, ok := c.Targets[name]
	if !ok {
		return nil, fmt.Errorf("target '%s' not found", name)
	}
	return &target, nil
}

// AddTarget adds a new target to the configuration
func (c *GlobalConfig) AddTarget(name string, target TargetConfig) error {
	if _, exists := c.Targets[name]; exists {
		return fmt.Errorf("target '%s' already exists", name)
	}

	if target.Port == 0 {
		target.Port = c.DefaultPort
		if target.Port == 0 {
			target.Port = constants.DefaultSSHPort
		}
	}
	if target.User == "" {
		target.User = c.DefaultUser
	}

	if errs := ValidateTargetConfig(&target); errs.HasErrors() {
		return errs
	}

	if c.Targets == nil {
		c.Targets = make(map[string]TargetConfig)
	}
	c.Targets[name] = target
	return nil
}

// RemoveTarget removes a target from the configuration
func (c *GlobalConfig) RemoveTarget(name string) error {
	if _, exists := c.Targets[name]; !exists {
		return fmt.Errorf("target '%s' not found", name)
	}

	delete(c.Targets, name)
	return nil
}

// ListTargets returns all target names, sorted
func (c *GlobalConfig) ListTargets() []string {
	names := make([]string, 0, len(c.Targets))
	for name := range c.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
