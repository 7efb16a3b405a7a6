package ssh

import (
	"context"
	"sync"

	"github.com/yoanbernabeu/piprov/internal/script"
)

// MockManager is a test double that records Open calls and returns configured sessions.
// Without OpenFunc every Open returns a new MockSession.
type MockManager struct {
	OpenFunc func(ctx context.Context, target Target) (Session, error)

	mu           sync.Mutex
	Targets      []Target
	Fingerprints []string
	Sessions     []*MockSession
}

// Open records the target and delegates to OpenFunc.
func (m *MockManager) Open(ctx context.Context, target Target, opts ...OpenOption) (Session, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	m.mu.Lock()
	m.Targets = append(m.Targets, target)
	m.Fingerprints = append(m.Fingerprints, o.trustedFingerprint)
	m.mu.Unlock()

	if m.OpenFunc != nil {
		session, err := m.OpenFunc(ctx, target)
		if s, ok := session.(*MockSession); ok && err == nil {
			m.track(s)
		}
		return session, err
	}

	s := &MockSession{}
	m.track(s)
	return s, nil
}

func (m *MockManager) track(s *MockSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sessions = append(m.Sessions, s)
}

// OpenCount returns how many times Open was called
func (m *MockManager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Targets)
}

// MockSession is a test double that records commands and returns configured streams.
// Without RunFunc every command succeeds with no output.
type MockSession struct {
	RunFunc func(ctx context.Context, cmd script.Command) (*Stream, error)

	mu       sync.Mutex
	Commands []script.Command
	closes   int
}

// Run records the command and delegates to RunFunc.
func (s *MockSession) Run(ctx context.Context, cmd script.Command) (*Stream, error) {
	s.mu.Lock()
	if s.closes > 0 {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.Commands = append(s.Commands, cmd)
	s.mu.Unlock()

	if s.RunFunc != nil {
		return s.RunFunc(ctx, cmd)
	}
	return NewStaticStream(nil, 0, nil), nil
}

// State reports StateConnected until Close is called
func (s *MockSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes > 0 {
		return StateClosed
	}
	return StateConnected
}

// Close counts the call; it always succeeds.
func (s *MockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

// CloseCount returns how many times Close was called
func (s *MockSession) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// StdoutLines builds stdout lines for NewStaticStream
func StdoutLines(texts ...string) []Line {
	lines := make([]Line, len(texts))
	for i, t := range texts {
		lines[i] = Line{Text: t, Source: Stdout}
	}
	return lines
}
