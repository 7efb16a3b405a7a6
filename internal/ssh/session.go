package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/yoanbernabeu/piprov/internal/script"
)

// State is the lifecycle state of a Session
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
	StateFailed
)

// String returns the human-readable name of the state
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the session can no longer run commands.
// A failed session still moves to StateClosed on Close.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Session is an authenticated connection to one target.
// It runs one command at a time and is never reused after Close.
type Session interface {
	Run(ctx context.Context, cmd script.Command) (*Stream, error)
	State() State
	// Close releases the connection. It always succeeds and is idempotent.
	Close() error
}

// SessionManager opens sessions
type SessionManager interface {
	Open(ctx context.Context, target Target, opts ...OpenOption) (Session, error)
}

type clientSession struct {
	target Target
	client *ssh.Client
	logger zerolog.Logger

	mu        sync.Mutex
	state     State
	failed    bool
	running   bool
	closeOnce sync.Once
}

func newClientSession(target Target, client *ssh.Client, logger zerolog.Logger) *clientSession {
	return &clientSession{
		target: target,
		client: client,
		logger: logger,
		state:  StateConnected,
	}
}

func (s *clientSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run starts cmd and returns its output stream.
// Cancelling ctx closes the connection, which ends the stream with a TransportError.
func (s *clientSession) Run(ctx context.Context, cmd script.Command) (*Stream, error) {
	s.mu.Lock()
	switch {
	case s.failed:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: connection failed earlier", ErrSessionClosed)
	case s.state == StateClosed:
		s.mu.Unlock()
		return nil, ErrSessionClosed
	case s.running:
		s.mu.Unlock()
		return nil, ErrSessionBusy
	}
	s.running = true
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		s.release(false)
		return nil, &TransportError{Err: err}
	}

	session, err := s.client.NewSession()
	if err != nil {
		s.release(true)
		return nil, &TransportError{Err: fmt.Errorf("failed to create session: %w", err)}
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		s.release(false)
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		s.release(false)
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	s.logger.Debug().
		Object("target", s.target).
		Str("command", cmd.Redacted()).
		Msg("running remote command")

	if err := session.Start(cmd.Text); err != nil {
		session.Close()
		s.release(true)
		return nil, &TransportError{Err: fmt.Errorf("failed to start command: %w", err)}
	}

	stream := newStream()
	stop := context.AfterFunc(ctx, func() {
		s.client.Close()
	})

	go func() {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			stream.readLines(stdout, Stdout)
		}()
		go func() {
			defer wg.Done()
			stream.readLines(stderr, Stderr)
		}()
		wg.Wait()
		stream.closeLines()

		waitErr := session.Wait()
		exit, transportErr := exitStatus(waitErr)
		var missing *ssh.ExitMissingError
		if errors.As(waitErr, &missing) && !s.alive() {
			transportErr = fmt.Errorf("connection lost: %w", waitErr)
		}
		cancelled := !stop()
		session.Close()

		if cancelled {
			exit, transportErr = ExitUnknown, ctx.Err()
		}
		s.release(transportErr != nil)
		stream.finish(exit, transportErr)
	}()

	return stream, nil
}

// alive probes the connection; a channel closed without exit status
// looks the same whether the command was killed or the link dropped
func (s *clientSession) alive() bool {
	_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

// release marks the running command as finished; failed moves the session to StateFailed
func (s *clientSession) release(failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if failed && !s.state.Terminal() {
		s.state = StateFailed
		s.failed = true
	}
}

func (s *clientSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()

		if err := s.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Debug().Err(err).Object("target", s.target).Msg("close returned an error")
		}
	})
	return nil
}

// exitStatus maps a Wait error to an exit status, or to a transport error
func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return ExitUnknown, nil
	}
	return ExitUnknown, err
}
