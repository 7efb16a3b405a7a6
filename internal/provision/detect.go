package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/yoanbernabeu/piprov/internal/script"
	"github.com/yoanbernabeu/piprov/internal/ssh"
)

// HostInfo describes a remote host
type HostInfo struct {
	OS            string
	Model         string
	Distro        string
	IsRaspberryPi bool
}

var (
	unameCmd     = script.Raw("uname", "uname -s")
	modelCmd     = script.Raw("model", `tr -d '\0' < /proc/device-tree/model 2>/dev/null || true`)
	osReleaseCmd = script.Raw("os-release", `[ -r /etc/os-release ] && . /etc/os-release && echo "$PRETTY_NAME" || true`)
)

// TestConnection opens and closes a session to target
func (o *Orchestrator) TestConnection(ctx context.Context, target ssh.Target, trustFingerprint string) error {
	session, err := o.open(ctx, target, trustFingerprint)
	if err != nil {
		return err
	}
	return session.Close()
}

// Detect reports the operating system and board model of target
func (o *Orchestrator) Detect(ctx context.Context, target ssh.Target, trustFingerprint string) (HostInfo, error) {
	session, err := o.open(ctx, target, trustFingerprint)
	if err != nil {
		return HostInfo{}, err
	}
	defer session.Close()

	var info HostInfo
	if info.OS, err = firstLine(ctx, session, unameCmd); err != nil {
		return info, err
	}
	if info.Model, err = firstLine(ctx, session, modelCmd); err != nil {
		return info, err
	}
	if info.Distro, err = firstLine(ctx, session, osReleaseCmd); err != nil {
		return info, err
	}
	info.IsRaspberryPi = strings.Contains(info.Model, "Raspberry Pi")

	o.logger.Debug().Object("target", target).Str("os", info.OS).Str("model", info.Model).Msg("host detected")
	return info, nil
}

func (o *Orchestrator) open(ctx context.Context, target ssh.Target, trustFingerprint string) (ssh.Session, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	var opts []ssh.OpenOption
	if trustFingerprint != "" {
		opts = append(opts, ssh.WithTrustedFingerprint(trustFingerprint))
	}
	return o.sessions.Open(ctx, target, opts...)
}

// firstLine returns the first stdout line of cmd
func firstLine(ctx context.Context, session ssh.Session, cmd script.Command) (string, error) {
	stream, err := session.Run(ctx, cmd)
	if err != nil {
		return "", err
	}

	var out string
	seen := false
	for line := range stream.Lines() {
		if line.Source == ssh.Stdout && !seen {
			out = strings.TrimSpace(line.Text)
			seen = true
		}
	}

	res := stream.Wait()
	if res.Err != nil {
		return "", res.Err
	}
	if !res.Succeeded {
		return "", fmt.Errorf("%s: exit %d: %s", cmd.Name, res.ExitStatus, res.StderrSummary)
	}
	return out, nil
}
