package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yoanbernabeu/piprov/internal/config"
	"github.com/yoanbernabeu/piprov/internal/history"
	"github.com/yoanbernabeu/piprov/internal/hostkeys"
	"github.com/yoanbernabeu/piprov/internal/provision"
	"github.com/yoanbernabeu/piprov/internal/security"
	"github.com/yoanbernabeu/piprov/internal/ssh"
)

// appContext holds the configuration and SSH plumbing shared by commands
type appContext struct {
	Config    *config.GlobalConfig
	ConfigDir string
	HostKeys  *hostkeys.Store
	Sessions  *ssh.Manager
}

// loadApp loads the global config, applies environment overrides and opens
// the host key store.
func loadApp() (*appContext, error) {
	cfg, err := config.LoadGlobalConfig(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load global config: %w", err)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if errs := config.ValidateGlobalConfig(cfg); errs.HasErrors() {
		return nil, fmt.Errorf("invalid configuration: %w", errs)
	}

	dir, err := configDir()
	if err != nil {
		return nil, err
	}

	store, err := hostkeys.Open(cfg.KnownHostsPath(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to open host key store: %w", err)
	}

	return &appContext{
		Config:    cfg,
		ConfigDir: dir,
		HostKeys:  store,
		Sessions: ssh.NewManager(store,
			ssh.WithTimeout(cfg.ConnectTimeout),
			ssh.WithLogger(logger),
		),
	}, nil
}

// configDir is the directory of --config when given, the default config directory otherwise
func configDir() (string, error) {
	if f := GetConfigFile(); f != "" {
		return filepath.Dir(f), nil
	}
	return config.GetConfigDir()
}

// saveConfig writes the global config back to where it was loaded from
func (a *appContext) saveConfig() error {
	if err := config.SaveGlobalConfig(a.Config, GetConfigFile()); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// openHistory opens the run history database
func (a *appContext) openHistory() (*history.Store, error) {
	store, err := history.Open(a.Config.HistoryDBPath(a.ConfigDir))
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return store, nil
}

// orchestrator builds an Orchestrator reporting to the given sinks
func (a *appContext) orchestrator(sinks ...provision.ProgressSink) *provision.Orchestrator {
	return provision.NewOrchestrator(a.Sessions,
		provision.WithSink(provision.MultiSink(sinks)),
		provision.WithLogger(logger),
	)
}

// resolvedTarget is a target with the name it was given on the command line
type resolvedTarget struct {
	Name   string
	Target ssh.Target
}

// resolveTarget turns a configured target name or user@host[:port] into a
// Target. An empty spec falls back to $PIPROV_TARGET. The secret is not set.
func (a *appContext) resolveTarget(spec string) (resolvedTarget, error) {
	if spec == "" {
		spec = os.Getenv(config.EnvTarget)
	}
	if spec == "" {
		return resolvedTarget{}, fmt.Errorf("no target given (pass a name or user@host, or set %s)", config.EnvTarget)
	}

	if tc, ok := a.Config.Targets[spec]; ok {
		return resolvedTarget{
			Name: spec,
			Target: ssh.Target{
				Host:    tc.Host,
				Port:    tc.Port,
				User:    tc.User,
				KeyPath: ssh.ExpandHome(tc.KeyPath),
			},
		}, nil
	}

	tc, err := parseTargetSpec(spec, a.Config.DefaultUser, a.Config.DefaultPort)
	if err != nil {
		return resolvedTarget{}, err
	}
	return resolvedTarget{
		Name:   spec,
		Target: ssh.NewTarget(tc.Host, tc.User, "", tc.Port),
	}, nil
}

// parseTargetSpec parses [user@]host[:port]
func parseTargetSpec(spec, defaultUser string, defaultPort int) (config.TargetConfig, error) {
	tc := config.TargetConfig{User: defaultUser, Port: defaultPort}

	hostPart := spec
	if i := strings.LastIndex(spec, "@"); i >= 0 {
		tc.User = spec[:i]
		hostPart = spec[i+1:]
	}

	if host, port, err := net.SplitHostPort(hostPart); err == nil {
		p, err := strconv.Atoi(port)
		if err != nil {
			return tc, fmt.Errorf("invalid port in %q", spec)
		}
		tc.Host, tc.Port = host, p
	} else {
		tc.Host = strings.Trim(hostPart, "[]")
	}

	if errs := config.ValidateTargetConfig(&tc); errs.HasErrors() {
		return tc, fmt.Errorf("invalid target %q: %w", spec, errs)
	}
	return tc, nil
}

// withSecret fills the target secret from $PIPROV_SECRET or a prompt.
// Targets with an unencrypted key need no secret.
func withSecret(t ssh.Target, prompt string) (ssh.Target, error) {
	if v := os.Getenv(config.EnvSecret); v != "" {
		t.Secret = v
		return t, nil
	}

	if t.KeyPath != "" {
		info, err := ssh.InspectKey(t.KeyPath)
		if err != nil {
			return t, err
		}
		if !info.IsEncrypted {
			return t, nil
		}
		prompt = "Passphrase for " + info.Name
	}

	if !IsInteractive() {
		return t, fmt.Errorf("no credentials for %s: set %s or configure a key", t.Redacted(), config.EnvSecret)
	}
	secret, err := PromptSecret(prompt)
	if err != nil {
		return t, err
	}
	t.Secret = secret
	return t, nil
}

// connectTrusting runs fn; when it fails on an unknown host key and the
// operator accepts the fingerprint, fn is retried trusting it.
func connectTrusting(fn func(trustFingerprint string) error) error {
	err := fn("")

	var unknown *ssh.UnknownHostKeyError
	if !errors.As(err, &unknown) {
		return err
	}

	PrintWarning("The authenticity of host '%s' can't be established.", unknown.Host)
	fmt.Printf("   %s key fingerprint is %s\n", unknown.KeyType, unknown.Fingerprint)
	if !IsInteractive() {
		PrintInfo("Pin it with: piprov hostkey trust <target> --fingerprint %s", unknown.Fingerprint)
		return err
	}
	if !PromptConfirm("Trust this host key?") {
		return err
	}
	return fn(unknown.Fingerprint)
}

// describeError turns connection errors into a short operator hint
func describeError(err error) string {
	var (
		auth        *ssh.AuthenticationError
		unreachable *ssh.UnreachableError
		mismatch    *ssh.HostKeyMismatchError
	)
	switch {
	case errors.As(err, &mismatch):
		return fmt.Sprintf("host key for %s changed (%s): if this is expected run 'piprov hostkey remove %s'",
			mismatch.Host, mismatch.Fingerprint, mismatch.Host)
	case errors.As(err, &auth):
		return "authentication failed: check the user and password or key"
	case errors.As(err, &unreachable):
		return "host unreachable: check the address and that sshd is running"
	case errors.Is(err, context.Canceled):
		return "interrupted"
	}
	return security.SanitizeCommandForLog(err.Error())
}
