package config

import (
	"testing"
	"time"
)

func TestDefaultGlobalConfig(t *testing.T) {
	cfg := DefaultGlobalConfig()

	if cfg.Targets == nil {
		t.Error("expected targets map to be initialized")
	}

	if cfg.DefaultPort != 22 {
		t.Errorf("expected default port 22, got %d", cfg.DefaultPort)
	}

	if cfg.DefaultUser != "pi" {
		t.Errorf("expected default user 'pi', got %s", cfg.DefaultUser)
	}

	if cfg.ConnectTimeout != 10*time.Second {
		t.Errorf("expected connect timeout 10s, got %v", cfg.ConnectTimeout)
	}

	if errs := ValidateGlobalConfig(cfg); errs.HasErrors() {
		t.Errorf("default config is invalid: %v", errs)
	}
}

func TestFillDefaults(t *testing.T) {
	cfg := &GlobalConfig{MaxParallel: 8, LogFormat: LogFormatJSON}
	cfg.fillDefaults()

	if cfg.MaxParallel != 8 || cfg.LogFormat != LogFormatJSON {
		t.Errorf("explicit values overwritten: %+v", cfg)
	}
	if cfg.Targets == nil || cfg.LogLevel != "info" || cfg.ListenAddr == "" {
		t.Errorf("defaults not filled: %+v", cfg)
	}
}
