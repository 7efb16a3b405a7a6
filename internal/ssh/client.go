package ssh

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/yoanbernabeu/piprov/internal/constants"
	"github.com/yoanbernabeu/piprov/internal/hostkeys"
)

// HostKeyStore pins host keys
type HostKeyStore interface {
	Lookup(hostport string, remote net.Addr, key ssh.PublicKey) (hostkeys.Status, error)
	Trust(hostport string, key ssh.PublicKey) error
}

// DialFunc opens the raw TCP connection
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Manager opens authenticated SSH sessions. It keeps no pool:
// every Open dials a fresh connection owned by the returned Session.
type Manager struct {
	hostKeys HostKeyStore
	timeout  time.Duration
	logger   zerolog.Logger
	dial     DialFunc
}

// Option configures a Manager
type Option func(*Manager)

// WithTimeout bounds dialing plus the SSH handshake
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithLogger sets the logger used for connection events
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithDialFunc replaces the TCP dialer
func WithDialFunc(dial DialFunc) Option {
	return func(m *Manager) {
		if dial != nil {
			m.dial = dial
		}
	}
}

// NewManager creates a Manager verifying host keys against store
func NewManager(store HostKeyStore, opts ...Option) *Manager {
	m := &Manager{
		hostKeys: store,
		timeout:  constants.DefaultConnectTimeout,
		logger:   zerolog.Nop(),
		dial:     (&net.Dialer{}).DialContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type openOptions struct {
	trustedFingerprint string
}

// OpenOption configures a single Open call
type OpenOption func(*openOptions)

// WithTrustedFingerprint pins an unknown host key when its SHA256 fingerprint equals fp
func WithTrustedFingerprint(fp string) OpenOption {
	return func(o *openOptions) {
		o.trustedFingerprint = fp
	}
}

// Open connects and authenticates to target.
// Errors are *AuthenticationError, *UnreachableError, *UnknownHostKeyError,
// *HostKeyMismatchError or *TransportError; invalid targets fail before dialing.
func (m *Manager) Open(ctx context.Context, target Target, opts ...OpenOption) (Session, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if m.hostKeys == nil {
		return nil, fmt.Errorf("no host key store configured")
	}

	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	auth, err := authMethods(target)
	if err != nil {
		return nil, err
	}

	var hostKeyErr error
	config := &ssh.ClientConfig{
		User: target.User,
		Auth: auth,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			hostKeyErr = m.checkHostKey(hostname, remote, key, o.trustedFingerprint)
			return hostKeyErr
		},
		Timeout: m.timeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	addr := target.Addr()
	m.logger.Debug().Object("target", target).Msg("connecting")

	conn, err := m.dial(dialCtx, "tcp", addr)
	if err != nil {
		return nil, &UnreachableError{Target: target.Redacted(), Err: err}
	}

	// Closing the half-open connection unblocks the handshake on cancel
	stop := context.AfterFunc(dialCtx, func() {
		conn.Close()
	})
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	interrupted := !stop()

	if err != nil {
		conn.Close()
		switch {
		case hostKeyErr != nil:
			return nil, hostKeyErr
		case interrupted:
			return nil, &UnreachableError{Target: target.Redacted(), Err: dialCtx.Err()}
		default:
			return nil, classifyDialError(target.Redacted(), err)
		}
	}
	if interrupted {
		c.Close()
		return nil, &UnreachableError{Target: target.Redacted(), Err: dialCtx.Err()}
	}

	m.logger.Debug().Object("target", target).Msg("connected")
	return newClientSession(target, ssh.NewClient(c, chans, reqs), m.logger), nil
}

func (m *Manager) checkHostKey(hostname string, remote net.Addr, key ssh.PublicKey, trusted string) error {
	status, err := m.hostKeys.Lookup(hostname, remote, key)
	if err != nil {
		return fmt.Errorf("host key verification failed: %w", err)
	}

	fingerprint := hostkeys.Fingerprint(key)
	switch status {
	case hostkeys.Known:
		return nil
	case hostkeys.Mismatch:
		return &HostKeyMismatchError{Host: hostname, KeyType: key.Type(), Fingerprint: fingerprint}
	}

	if trusted != "" && trusted == fingerprint {
		if err := m.hostKeys.Trust(hostname, key); err != nil {
			return fmt.Errorf("failed to pin host key: %w", err)
		}
		m.logger.Info().Str("host", hostname).Str("fingerprint", fingerprint).Msg("host key pinned")
		return nil
	}

	return &UnknownHostKeyError{
		Host:        hostname,
		KeyType:     key.Type(),
		Fingerprint: fingerprint,
		Key:         key.Marshal(),
	}
}

// authMethods builds the auth chain: public key when KeyPath is set, then
// password and keyboard-interactive answering every prompt with the secret
func authMethods(target Target) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if target.KeyPath != "" {
		signer, err := LoadSigner(target.KeyPath, target.Secret)
		if err != nil {
			return nil, fmt.Errorf("failed to load private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if target.Secret != "" {
		secret := target.Secret
		methods = append(methods,
			ssh.Password(secret),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = secret
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no authentication method: provide a password or a key path")
	}
	return methods, nil
}
