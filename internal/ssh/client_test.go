package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

func echoHandler(command string, stdout, stderr io.Writer) int {
	fmt.Fprintln(stdout, command)
	return 0
}

func TestOpen_UnknownHostKey(t *testing.T) {
	srv := startTestServer(t, echoHandler)
	m := NewManager(newHostKeyStore(t))

	session, err := m.Open(context.Background(), srv.target())
	if session != nil {
		t.Fatal("expected no session for an unknown host key")
	}
	var unknown *UnknownHostKeyError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownHostKeyError, got %v", err)
	}
	if unknown.Fingerprint != srv.fingerprint() {
		t.Errorf("Fingerprint = %s, want %s", unknown.Fingerprint, srv.fingerprint())
	}
	if unknown.KeyType != ssh.KeyAlgoED25519 {
		t.Errorf("KeyType = %s, want %s", unknown.KeyType, ssh.KeyAlgoED25519)
	}
	key, err := ssh.ParsePublicKey(unknown.Key)
	if err != nil {
		t.Fatalf("Key does not parse: %v", err)
	}
	if ssh.FingerprintSHA256(key) != srv.fingerprint() {
		t.Errorf("Key does not match fingerprint")
	}
}

func TestOpen_TrustedFingerprintPinsKey(t *testing.T) {
	srv := startTestServer(t, echoHandler)
	store := newHostKeyStore(t)
	m := NewManager(store)

	_, err := m.Open(context.Background(), srv.target(), WithTrustedFingerprint("SHA256:not-the-key"))
	var unknown *UnknownHostKeyError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownHostKeyError for a wrong fingerprint, got %v", err)
	}

	session, err := m.Open(context.Background(), srv.target(), WithTrustedFingerprint(srv.fingerprint()))
	if err != nil {
		t.Fatalf("Open() with trusted fingerprint error = %v", err)
	}
	session.Close()

	// pinned now: no fingerprint needed
	session, err = m.Open(context.Background(), srv.target())
	if err != nil {
		t.Fatalf("Open() after pinning error = %v", err)
	}
	session.Close()

	entries, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected exactly one pinned key, got %d", len(entries))
	}
}

func TestOpen_HostKeyMismatch(t *testing.T) {
	srv := startTestServer(t, echoHandler)
	store := newHostKeyStore(t)

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	other, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Trust(srv.listener.Addr().String(), other); err != nil {
		t.Fatal(err)
	}

	m := NewManager(store)
	_, err = m.Open(context.Background(), srv.target(), WithTrustedFingerprint(srv.fingerprint()))
	var mismatch *HostKeyMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected HostKeyMismatchError, got %v", err)
	}
	if mismatch.Fingerprint != srv.fingerprint() {
		t.Errorf("Fingerprint = %s, want %s", mismatch.Fingerprint, srv.fingerprint())
	}
}

func TestOpen_AuthenticationFailure(t *testing.T) {
	srv := startTestServer(t, echoHandler)
	m := srv.trustedManager()

	target := srv.target()
	target.Secret = "wrong"
	_, err := m.Open(context.Background(), target)
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthenticationError, got %v", err)
	}
	if authErr.Target != target.Redacted() {
		t.Errorf("Target = %q, want %q", authErr.Target, target.Redacted())
	}
}

func TestOpen_Unreachable(t *testing.T) {
	// grab a free port and close it so nothing listens there
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().(*net.TCPAddr)
	l.Close()

	m := NewManager(newHostKeyStore(t), WithTimeout(2*time.Second))
	_, err = m.Open(context.Background(), Target{Host: "127.0.0.1", Port: addr.Port, User: "pi", Secret: "x"})
	var unreachable *UnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("expected UnreachableError, got %v", err)
	}
}

func TestOpen_HandshakeTimeout(t *testing.T) {
	// the peer of a net.Pipe never answers, so the handshake hangs until the deadline
	var peers []net.Conn
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		client, server := net.Pipe()
		peers = append(peers, server)
		return client, nil
	}
	t.Cleanup(func() {
		for _, p := range peers {
			p.Close()
		}
	})

	m := NewManager(newHostKeyStore(t), WithDialFunc(dial), WithTimeout(100*time.Millisecond))
	_, err := m.Open(context.Background(), Target{Host: "10.0.0.5", User: "pi", Secret: "x"})
	var unreachable *UnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("expected UnreachableError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded cause, got %v", err)
	}
}

func TestOpen_ContextCancelled(t *testing.T) {
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m := NewManager(newHostKeyStore(t), WithDialFunc(dial))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Open(ctx, Target{Host: "10.0.0.5", User: "pi", Secret: "x"})
	var unreachable *UnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("expected UnreachableError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled cause, got %v", err)
	}
}

func TestOpen_InvalidTargetDoesNotDial(t *testing.T) {
	dialed := false
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialed = true
		return nil, errors.New("should not dial")
	}
	m := NewManager(newHostKeyStore(t), WithDialFunc(dial))

	tests := []struct {
		name   string
		target Target
	}{
		{"empty host", Target{User: "pi", Secret: "x"}},
		{"empty user", Target{Host: "10.0.0.5", Secret: "x"}},
		{"shell in host", Target{Host: "10.0.0.5;reboot", User: "pi", Secret: "x"}},
		{"bad port", Target{Host: "10.0.0.5", User: "pi", Port: 70000, Secret: "x"}},
		{"no credentials", Target{Host: "10.0.0.5", User: "pi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Open(context.Background(), tt.target); err == nil {
				t.Error("expected error")
			}
		})
	}
	if dialed {
		t.Error("invalid targets must not reach the network")
	}
}

func TestClassifyDialError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"auth exhausted", errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password], no supported methods remain"), "auth"},
		{"refused", errors.New("dial tcp 10.0.0.5:22: connect: connection refused"), "unreachable"},
		{"no route", errors.New("dial tcp 10.0.0.5:22: connect: no route to host"), "unreachable"},
		{"cancelled", fmt.Errorf("dial: %w", context.Canceled), "unreachable"},
		{"other", errors.New("ssh: handshake failed: EOF"), "transport"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyDialError("pi@10.0.0.5:22", tt.err)
			var got string
			switch err.(type) {
			case *AuthenticationError:
				got = "auth"
			case *UnreachableError:
				got = "unreachable"
			case *TransportError:
				got = "transport"
			}
			if got != tt.want {
				t.Errorf("classifyDialError(%q) = %T, want %s", tt.err, err, tt.want)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("classified error should wrap the cause")
			}
		})
	}
}
