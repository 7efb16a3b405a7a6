package provision

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/shlex"

	"github.com/yoanbernabeu/piprov/internal/script"
)

func renderStacks(t *testing.T, params map[string]string) (script.Command, error) {
	t.Helper()
	op, err := DefaultCatalog().Lookup("stacks")
	if err != nil {
		t.Fatal(err)
	}
	values := resolveParams(op, Request{Target: testTarget(), Params: params})
	return script.NewBuilder().Render(op.Template, values)
}

func TestStacks_SelectsComponents(t *testing.T) {
	tests := []struct {
		name       string
		stacks     string
		components string
		want       string
	}{
		{"default is network", "", "", "pihole"},
		{"iot", "iot", "", "mosquitto,nodered"},
		{"all stacks", "media,network,iot", "", "pihole,mosquitto,nodered,jellyfin"},
		{"extra component", "media", "mosquitto", "mosquitto,jellyfin"},
		{"component already in stack", "network", "pihole", "pihole"},
		{"spaces and blanks", " iot , ,media", "", "mosquitto,nodered,jellyfin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := renderStacks(t, map[string]string{"vol": "/mnt/usb", "stacks": tt.stacks, "components": tt.components})
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if !strings.Contains(cmd.Text, "SERVICES='"+tt.want+"'\n") {
				t.Errorf("services line missing %q in:\n%s", tt.want, cmd.Text)
			}
		})
	}
}

func TestStacks_RejectsUnknownNames(t *testing.T) {
	tests := []struct {
		name      string
		params    map[string]string
		wantParam string
	}{
		{"unknown stack", map[string]string{"stacks": "gaming"}, "stacks"},
		{"injected stack", map[string]string{"stacks": "network;reboot"}, "stacks"},
		{"unknown component", map[string]string{"components": "$(id)"}, "components"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.params["vol"] = "/mnt/usb"
			_, err := renderStacks(t, tt.params)

			var invalid *script.InvalidParameterError
			if !errors.As(err, &invalid) {
				t.Fatalf("err = %v, want *InvalidParameterError", err)
			}
			if invalid.Name != tt.wantParam {
				t.Errorf("Name = %s, want %s", invalid.Name, tt.wantParam)
			}
		})
	}
}

func TestStacks_ScriptHasBranchPerComponent(t *testing.T) {
	cmd, err := renderStacks(t, map[string]string{"vol": "/mnt/usb"})
	if err != nil {
		t.Fatal(err)
	}

	for _, c := range Components() {
		var line string
		for _, l := range strings.Split(cmd.Text, "\n") {
			if strings.HasPrefix(strings.TrimSpace(l), c.Name+") ") {
				line = strings.TrimSpace(l)
			}
		}
		if line == "" {
			t.Errorf("no case branch for %s", c.Name)
			continue
		}
		words, err := shlex.Split(strings.TrimSuffix(strings.TrimPrefix(line, c.Name+")"), ";;"))
		if err != nil {
			t.Fatalf("shlex.Split() error = %v", err)
		}
		if words[0] != "deploy" || words[1] != c.Name {
			t.Errorf("%s branch = %q", c.Name, words)
		}
		if !strings.Contains(line, c.Image) || !strings.Contains(line, ":"+c.Data) {
			t.Errorf("%s branch misses image or data mount: %s", c.Name, line)
		}
	}
}
