package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/yoanbernabeu/piprov/internal/hostkeys"
)

// exitDrop makes the test server drop the whole connection instead of exiting
const exitDrop = -100

type commandHandler func(command string, stdout, stderr io.Writer) int

// testServer is an in-process SSH server accepting password "raspberry" for user "pi"
type testServer struct {
	t        *testing.T
	listener net.Listener
	signer   ssh.Signer
	handler  commandHandler
	release  chan struct{}

	mu       sync.Mutex
	commands []string
}

func startTestServer(t *testing.T, handler commandHandler) *testServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "pi" && string(pass) == "raspberry" {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %s", c.User())
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	s := &testServer{
		t:        t,
		listener: listener,
		signer:   signer,
		handler:  handler,
		release:  make(chan struct{}),
	}
	t.Cleanup(func() {
		close(s.release)
		listener.Close()
	})

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go s.serve(conn, config)
		}
	}()
	return s
}

func (s *testServer) serve(nConn net.Conn, config *ssh.ServerConfig) {
	conn, chans, reqs, err := ssh.NewServerConn(nConn, config)
	if err != nil {
		nConn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go func() {
			for req := range requests {
				if req.Type != "exec" {
					req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
					req.Reply(false, nil)
					continue
				}
				req.Reply(true, nil)

				s.mu.Lock()
				s.commands = append(s.commands, payload.Command)
				s.mu.Unlock()

				status := s.handler(payload.Command, channel, channel.Stderr())
				if status == exitDrop {
					conn.Close()
					return
				}
				channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
				channel.Close()
				return
			}
		}()
	}
}

// block waits until the test ends
func (s *testServer) block() {
	<-s.release
}

func (s *testServer) target() Target {
	host, portStr, _ := net.SplitHostPort(s.listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return Target{Host: host, Port: port, User: "pi", Secret: "raspberry"}
}

func (s *testServer) fingerprint() string {
	return ssh.FingerprintSHA256(s.signer.PublicKey())
}

// trustedManager returns a Manager whose store already pins the server key
func (s *testServer) trustedManager(opts ...Option) *Manager {
	s.t.Helper()
	store := newHostKeyStore(s.t)
	if err := store.Trust(s.listener.Addr().String(), s.signer.PublicKey()); err != nil {
		s.t.Fatalf("failed to pin server key: %v", err)
	}
	return NewManager(store, opts...)
}

func newHostKeyStore(t *testing.T) *hostkeys.Store {
	t.Helper()
	store, err := hostkeys.Open(filepath.Join(t.TempDir(), "known_hosts"))
	if err != nil {
		t.Fatalf("failed to open host key store: %v", err)
	}
	return store
}
