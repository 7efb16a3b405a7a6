package script

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/shlex"
)

func mountTemplate() Template {
	return Template{
		Name: "nfs",
		Text: "sudo mkdir -p {{vol}} && sudo mount -t nfs {{share}} {{vol}}",
		Params: []Param{
			{Name: "vol", Required: true},
			{Name: "share", Required: true},
		},
	}
}

func TestRender(t *testing.T) {
	b := NewBuilder()

	cmd, err := b.Render(mountTemplate(), map[string]string{
		"vol":   "/mnt/nas",
		"share": "nas:/export",
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	want := "sudo mkdir -p '/mnt/nas' && sudo mount -t nfs 'nas:/export' '/mnt/nas'"
	if cmd.Text != want {
		t.Errorf("Render() = %q, want %q", cmd.Text, want)
	}
	if cmd.Name != "nfs" {
		t.Errorf("Name = %q, want nfs", cmd.Name)
	}
	if len(cmd.Params) != 2 || cmd.Params[0] != "vol" || cmd.Params[1] != "share" {
		t.Errorf("Params = %v, want [vol share]", cmd.Params)
	}
	if cmd.Redacted() != cmd.Text {
		t.Errorf("Redacted() should equal Text when no secrets are used")
	}
}

func TestRenderEscapesRoundTrip(t *testing.T) {
	b := NewBuilder()
	tpl := Template{
		Name:   "echo",
		Text:   "echo {{value}}",
		Params: []Param{{Name: "value", Required: true}},
	}

	values := []string{
		"plain",
		"/mnt/my usb",
		"it's",
		"''",
		`"double"`,
		"$(reboot)",
		"`id`",
		"a; rm -rf /",
		"a && b || c",
		"tab\there",
		`back\slash`,
		"semi;colon|pipe>redirect<in",
		"${HOME}",
		"*glob?",
	}

	for _, v := range values {
		t.Run(v, func(t *testing.T) {
			cmd, err := b.Render(tpl, map[string]string{"value": v})
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			words, err := shlex.Split(cmd.Text)
			if err != nil {
				t.Fatalf("shlex.Split(%q) error = %v", cmd.Text, err)
			}
			if len(words) != 2 {
				t.Fatalf("expected 2 words, got %d: %q", len(words), words)
			}
			if words[1] != v {
				t.Errorf("round trip = %q, want %q", words[1], v)
			}
		})
	}
}

func TestRenderMissingParameter(t *testing.T) {
	b := NewBuilder()

	_, err := b.Render(mountTemplate(), map[string]string{"share": "nas:/export"})
	var missing *MissingParameterError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingParameterError, got %v", err)
	}
	if missing.Template != "nfs" {
		t.Errorf("Template = %q, want nfs", missing.Template)
	}
	if len(missing.Names) != 1 || missing.Names[0] != "vol" {
		t.Errorf("Names = %v, want [vol]", missing.Names)
	}

	_, err = b.Render(mountTemplate(), nil)
	if !errors.As(err, &missing) || len(missing.Names) != 2 {
		t.Errorf("expected both parameters reported, got %v", err)
	}
}

func TestRenderDefaults(t *testing.T) {
	b := NewBuilder()
	tpl := Template{
		Name: "fdisk",
		Text: "sudo wipefs -a /dev/{{device}}",
		Params: []Param{
			{Name: "device", Default: "sda"},
		},
	}

	cmd, err := b.Render(tpl, map[string]string{"device": ""})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if cmd.Text != "sudo wipefs -a /dev/'sda'" {
		t.Errorf("Render() = %q", cmd.Text)
	}
}

func TestRenderUndeclaredPlaceholder(t *testing.T) {
	b := NewBuilder()
	tpl := Template{
		Name:   "broken",
		Text:   "mount {{share}} {{vol}}",
		Params: []Param{{Name: "vol", Required: true}},
	}

	_, err := b.Render(tpl, map[string]string{"vol": "/mnt", "share": "x"})
	var tplErr *TemplateError
	if !errors.As(err, &tplErr) {
		t.Fatalf("expected TemplateError, got %v", err)
	}
	if len(tplErr.Undeclared) != 1 || tplErr.Undeclared[0] != "share" {
		t.Errorf("Undeclared = %v, want [share]", tplErr.Undeclared)
	}
}

func TestRenderIgnoresExtraParameters(t *testing.T) {
	b := NewBuilder()

	cmd, err := b.Render(mountTemplate(), map[string]string{
		"vol":         "/mnt/nas",
		"share":       "nas:/export",
		"target_host": "10.0.0.5",
		"unused":      "$(reboot)",
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if strings.Contains(cmd.Text, "reboot") {
		t.Errorf("undeclared parameter leaked into command: %q", cmd.Text)
	}
}

func TestRenderValidation(t *testing.T) {
	b := NewBuilder()
	errBad := fmt.Errorf("must be absolute")
	tpl := Template{
		Name: "usb",
		Text: "sudo mkdir -p {{vol}}",
		Params: []Param{{
			Name:     "vol",
			Required: true,
			Validate: func(v string) error {
				if !strings.HasPrefix(v, "/") {
					return errBad
				}
				return nil
			},
		}},
	}

	_, err := b.Render(tpl, map[string]string{"vol": "relative"})
	var invalid *InvalidParameterError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidParameterError, got %v", err)
	}
	if invalid.Name != "vol" {
		t.Errorf("Name = %q, want vol", invalid.Name)
	}
	if !errors.Is(err, errBad) {
		t.Errorf("expected error to wrap validator error")
	}
}

func TestRenderRedactsSecrets(t *testing.T) {
	b := NewBuilder()
	tpl := Template{
		Name: "cifs",
		Text: "printf 'username=%s\\npassword=%s\\n' {{user}} {{password}} | sudo tee /etc/creds > /dev/null",
		Params: []Param{
			{Name: "user", Required: true},
			{Name: "password", Required: true, Secret: true},
		},
	}

	cmd, err := b.Render(tpl, map[string]string{"user": "media", "password": "hunter2"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(cmd.Text, "'hunter2'") {
		t.Errorf("Text should carry the real secret: %q", cmd.Text)
	}
	if strings.Contains(cmd.Redacted(), "hunter2") {
		t.Errorf("Redacted() leaked secret: %q", cmd.Redacted())
	}
	if !strings.Contains(cmd.Redacted(), RedactedValue) {
		t.Errorf("Redacted() = %q, want masked value", cmd.Redacted())
	}
	if fmt.Sprint(cmd) != cmd.Redacted() {
		t.Errorf("String() should return the redacted form")
	}
}

func TestRaw(t *testing.T) {
	cmd := Raw("uname", "uname -s")
	if cmd.Text != "uname -s" || cmd.String() != "uname -s" {
		t.Errorf("Raw() = %+v", cmd)
	}
}

func TestDescribe(t *testing.T) {
	tpl := Template{Params: []Param{
		{Name: "vol", Required: true},
		{Name: "device", Default: "sda"},
		{Name: "owner"},
	}}
	if got := Describe(tpl); got != "vol [device=sda] [owner]" {
		t.Errorf("Describe() = %q", got)
	}
}
