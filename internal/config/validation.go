package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog"

	"github.com/yoanbernabeu/piprov/internal/constants"
	"github.com/yoanbernabeu/piprov/internal/security"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// ValidateGlobalConfig validates the global configuration
func ValidateGlobalConfig(config *GlobalConfig) ValidationErrors {
	var errors ValidationErrors

	for _, name := range config.ListTargets() {
		if err := security.ValidateTargetName(name); err != nil {
			errors = append(errors, ValidationError{
				Field:   "targets." + name,
				Message: err.Error(),
			})
		}
		target := config.Targets[name]
		for _, e := range ValidateTargetConfig(&target) {
			e.Field = "targets." + name + "." + e.Field
			errors = append(errors, e)
		}
	}

	if config.MaxParallel < 1 || config.MaxParallel > constants.MaxParallelLimit {
		errors = append(errors, ValidationError{
			Field:   "max_parallel",
			Message: fmt.Sprintf("max_parallel must be between 1 and %d", constants.MaxParallelLimit),
		})
	}

	if config.ConnectTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "connect_timeout",
			Message: "connect_timeout must be positive",
		})
	}

	if config.HistoryRetentionDays < 0 {
		errors = append(errors, ValidationError{
			Field:   "history_retention_days",
			Message: "history_retention_days cannot be negative",
		})
	}

	if _, err := zerolog.ParseLevel(config.LogLevel); err != nil {
		errors = append(errors, ValidationError{
			Field:   "log_level",
			Message: "unknown log level (use trace, debug, info, warn, error)",
		})
	}

	if config.LogFormat != LogFormatConsole && config.LogFormat != LogFormatJSON {
		errors = append(errors, ValidationError{
			Field:   "log_format",
			Message: "log_format must be console or json",
		})
	}

	if _, _, err := net.SplitHostPort(config.ListenAddr); err != nil {
		errors = append(errors, ValidationError{
			Field:   "listen_addr",
			Message: "listen_addr must be host:port",
		})
	}

	return errors
}

// ValidateTargetConfig validates a target configuration
func ValidateTargetConfig(config *TargetConfig) ValidationErrors {
	var errors ValidationErrors

	if config.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "host",
			Message: "target host is required",
		})
	} else if err := security.ValidateHost(config.Host); err != nil {
		errors = append(errors, ValidationError{
			Field:   "host",
			Message: err.Error(),
		})
	}

	if config.User == "" {
		errors = append(errors, ValidationError{
			Field:   "user",
			Message: "target user is required",
		})
	} else if err := security.ValidateUnixUser(config.User); err != nil {
		errors = append(errors, ValidationError{
			Field:   "user",
			Message: err.Error(),
		})
	}

	if config.Port < 1 || config.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "port",
			Message: "port must be between 1 and 65535",
		})
	}

	return errors
}
