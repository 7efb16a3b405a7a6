// Package hostkeys pins SSH host keys in a known_hosts formatted file.
//
// Keys are never accepted implicitly: an unknown key is reported to the
// caller, which decides whether to Trust it.
package hostkeys

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Status is the outcome of a host key lookup
type Status int

const (
	// Known means the presented key matches a pinned key
	Known Status = iota
	// Unknown means no key is pinned for the host
	Unknown
	// Mismatch means a different key is pinned for the host
	Mismatch
)

// String returns the human-readable name of the status
func (s Status) String() string {
	switch s {
	case Known:
		return "known"
	case Unknown:
		return "unknown"
	case Mismatch:
		return "mismatch"
	default:
		return "invalid"
	}
}

// Entry is one pinned key
type Entry struct {
	Hosts       []string
	KeyType     string
	Fingerprint string
}

// Store is a known_hosts file. Safe for concurrent use within one process.
type Store struct {
	path string
	mu   sync.Mutex
}

// Open returns a Store backed by path, creating the file (0600) and its directory (0700) if needed
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("known_hosts path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create known_hosts directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open known_hosts: %w", err)
	}
	f.Close()
	return &Store{path: path}, nil
}

// Path returns the backing file path
func (s *Store) Path() string {
	return s.path
}

// Lookup checks key against the pinned keys for hostport
func (s *Store) Lookup(hostport string, remote net.Addr, key ssh.PublicKey) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	callback, err := knownhosts.New(s.path)
	if err != nil {
		return Unknown, fmt.Errorf("failed to read known_hosts: %w", err)
	}

	err = callback(hostport, remote, key)
	if err == nil {
		return Known, nil
	}

	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		if len(keyErr.Want) == 0 {
			return Unknown, nil
		}
		return Mismatch, nil
	}
	var revoked *knownhosts.RevokedError
	if errors.As(err, &revoked) {
		return Mismatch, nil
	}
	return Unknown, err
}

// Trust pins key for hostport
func (s *Store) Trust(hostport string, key ssh.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts: %w", err)
	}
	defer f.Close()

	line := knownhosts.Line([]string{knownhosts.Normalize(hostport)}, key)
	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("failed to write known_hosts: %w", err)
	}
	return nil
}

// List returns every pinned key
func (s *Store) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read known_hosts: %w", err)
	}

	var entries []Entry
	rest := data
	for len(bytes.TrimSpace(rest)) > 0 {
		_, hosts, key, _, next, err := ssh.ParseKnownHosts(rest)
		if err != nil {
			return nil, fmt.Errorf("failed to parse known_hosts: %w", err)
		}
		entries = append(entries, Entry{
			Hosts:       hosts,
			KeyType:     key.Type(),
			Fingerprint: Fingerprint(key),
		})
		rest = next
	}
	return entries, nil
}

// Remove deletes every pinned key for host and returns how many lines were dropped
func (s *Store) Remove(host string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read known_hosts: %w", err)
	}

	candidates := []string{host, knownhosts.Normalize(host)}
	var kept bytes.Buffer
	removed := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) > 0 && !strings.HasPrefix(fields[0], "#") {
			hosts := strings.Split(fields[0], ",")
			if slices.ContainsFunc(hosts, func(h string) bool { return slices.Contains(candidates, h) }) {
				removed++
				continue
			}
		}
		kept.WriteString(line)
		kept.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan known_hosts: %w", err)
	}

	if removed == 0 {
		return 0, nil
	}
	if err := os.WriteFile(s.path, kept.Bytes(), 0600); err != nil {
		return 0, fmt.Errorf("failed to write known_hosts: %w", err)
	}
	return removed, nil
}

// Fingerprint returns the OpenSSH SHA256 fingerprint of key
func Fingerprint(key ssh.PublicKey) string {
	return ssh.FingerprintSHA256(key)
}
