package ssh

import (
	"fmt"
	"net"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/yoanbernabeu/piprov/internal/constants"
	"github.com/yoanbernabeu/piprov/internal/security"
)

// Target identifies a remote host and the credentials used to reach it.
// Targets are values: build one per call and never persist the Secret.
type Target struct {
	Host    string
	Port    int
	User    string
	Secret  string
	KeyPath string
}

// NewTarget creates a Target, applying the default SSH port when port is 0
func NewTarget(host, user, secret string, port int) Target {
	if port == 0 {
		port = constants.DefaultSSHPort
	}
	return Target{Host: host, Port: port, User: user, Secret: secret}
}

// Addr returns host:port suitable for dialing
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.port()))
}

func (t Target) port() int {
	if t.Port == 0 {
		return constants.DefaultSSHPort
	}
	return t.Port
}

// Validate checks the target fields without touching the network
func (t Target) Validate() error {
	if err := security.ValidateHost(t.Host); err != nil {
		return fmt.Errorf("invalid target host: %w", err)
	}
	if err := security.ValidateUnixUser(t.User); err != nil {
		return fmt.Errorf("invalid target user: %w", err)
	}
	if t.Port < 0 || t.Port > 65535 {
		return fmt.Errorf("invalid target port: %d", t.Port)
	}
	return nil
}

// Redacted renders the target as user@host:port, never including the secret
func (t Target) Redacted() string {
	return t.User + "@" + t.Addr()
}

func (t Target) String() string {
	return t.Redacted()
}

// MarshalZerologObject logs the target without its secret
func (t Target) MarshalZerologObject(e *zerolog.Event) {
	e.Str("host", t.Host).
		Int("port", t.port()).
		Str("user", t.User).
		Bool("key", t.KeyPath != "")
}
