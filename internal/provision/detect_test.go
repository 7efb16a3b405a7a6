package provision

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yoanbernabeu/piprov/internal/script"
	"github.com/yoanbernabeu/piprov/internal/ssh"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		model   []string
		wantPi  bool
		wantErr bool
	}{
		{"raspberry pi", []string{"Raspberry Pi 4 Model B Rev 1.4"}, true, false},
		{"generic board", []string{"Radxa ROCK 5B"}, false, false},
		{"no device tree", nil, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := scriptedManager(func(cmd script.Command) *ssh.Stream {
				switch cmd.Name {
				case "uname":
					return ssh.NewStaticStream(ssh.StdoutLines("Linux"), 0, nil)
				case "model":
					return ssh.NewStaticStream(ssh.StdoutLines(tt.model...), 0, nil)
				default:
					return ssh.NewStaticStream(ssh.StdoutLines("Debian GNU/Linux 12 (bookworm)"), 0, nil)
				}
			})
			o := NewOrchestrator(manager)

			info, err := o.Detect(context.Background(), testTarget(), "")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Detect() error = %v", err)
			}
			if info.OS != "Linux" || info.Distro != "Debian GNU/Linux 12 (bookworm)" {
				t.Errorf("info = %+v", info)
			}
			if info.IsRaspberryPi != tt.wantPi {
				t.Errorf("IsRaspberryPi = %v, want %v", info.IsRaspberryPi, tt.wantPi)
			}
			if manager.Sessions[0].CloseCount() != 1 {
				t.Error("session not closed")
			}
		})
	}
}

func TestDetect_WithoutOSRelease(t *testing.T) {
	// POSIX sh exits when "." cannot read its file, skipping any "|| true"
	manager := scriptedManager(func(cmd script.Command) *ssh.Stream {
		switch cmd.Name {
		case "uname":
			return ssh.NewStaticStream(ssh.StdoutLines("Linux"), 0, nil)
		case "os-release":
			if !strings.HasPrefix(cmd.Text, "[ -r /etc/os-release ] && ") {
				return ssh.NewStaticStream([]ssh.Line{{Text: "sh: 1: .: cannot open /etc/os-release", Source: ssh.Stderr}}, 2, nil)
			}
			return ssh.NewStaticStream(nil, 0, nil)
		default:
			return ssh.NewStaticStream(ssh.StdoutLines("Raspberry Pi 3 Model B"), 0, nil)
		}
	})
	o := NewOrchestrator(manager)

	info, err := o.Detect(context.Background(), testTarget(), "")
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if info.Distro != "" || !info.IsRaspberryPi {
		t.Errorf("info = %+v", info)
	}
}

func TestDetect_CommandFailure(t *testing.T) {
	manager := scriptedManager(func(cmd script.Command) *ssh.Stream {
		return ssh.NewStaticStream(nil, ssh.ExitUnknown, errors.New("connection reset"))
	})
	o := NewOrchestrator(manager)

	if _, err := o.Detect(context.Background(), testTarget(), ""); err == nil {
		t.Fatal("Detect() expected error")
	}
	if manager.Sessions[0].CloseCount() != 1 {
		t.Error("session not closed after failure")
	}
}

func TestTestConnection(t *testing.T) {
	unreachable := &ssh.UnreachableError{Target: "pi@10.0.0.5:22", Err: errors.New("i/o timeout")}
	tests := []struct {
		name    string
		openErr error
	}{
		{"ok", nil},
		{"unreachable", unreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &ssh.MockSession{}
			manager := &ssh.MockManager{
				OpenFunc: func(context.Context, ssh.Target) (ssh.Session, error) {
					if tt.openErr != nil {
						return nil, tt.openErr
					}
					return session, nil
				},
			}
			o := NewOrchestrator(manager)

			err := o.TestConnection(context.Background(), testTarget(), "SHA256:abc")
			if !errors.Is(err, tt.openErr) {
				t.Errorf("TestConnection() error = %v, want %v", err, tt.openErr)
			}
			if tt.openErr == nil && session.CloseCount() != 1 {
				t.Error("session not closed")
			}
			if manager.Fingerprints[0] != "SHA256:abc" {
				t.Errorf("fingerprint = %q", manager.Fingerprints[0])
			}
		})
	}
}

func TestStatus_Parse(t *testing.T) {
	for _, s := range []Status{StatusSuccess, StatusPreconditionNotMet, StatusFailure} {
		got, err := ParseStatus(s.String())
		if err != nil || got != s {
			t.Errorf("ParseStatus(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseStatus("maybe"); err == nil {
		t.Error("ParseStatus() expected error")
	}
	if PhasePreCheck.String() != "pre-check" {
		t.Errorf("PhasePreCheck = %s", PhasePreCheck)
	}
}
