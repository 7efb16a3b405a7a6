package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(&buf, "WARN", "json")
	if err != nil {
		t.Fatal(err)
	}
	if l.GetLevel() != zerolog.WarnLevel {
		t.Errorf("level = %v", l.GetLevel())
	}

	l.Info().Msg("hidden")
	l.Warn().Str("host", "10.0.0.5").Msg("shown")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("not a single JSON line: %q", buf.String())
	}
	if entry["message"] != "shown" || entry["host"] != "10.0.0.5" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNewLogger_Invalid(t *testing.T) {
	if _, err := newLogger(&bytes.Buffer{}, "loud", "json"); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := newLogger(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestNewLogger_EmptyLevel(t *testing.T) {
	l, err := newLogger(&bytes.Buffer{}, "", "console")
	if err != nil {
		t.Fatal(err)
	}
	if l.GetLevel() != zerolog.InfoLevel {
		t.Errorf("level = %v", l.GetLevel())
	}
}
