package ssh

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/crypto/ssh"
)

// KeyInfo contains information about a private key file
type KeyInfo struct {
	Path        string // Full path to the key file
	Name        string // Key filename (e.g., "id_ed25519")
	Type        string // Key type (e.g., "ed25519", "rsa", "ecdsa")
	IsEncrypted bool   // True if key is passphrase-protected
}

// DiscoverKeys scans dir (~/.ssh when empty) for private keys.
// Keys are sorted by preference: ed25519 first, then rsa, then others.
func DiscoverKeys(dir string) ([]KeyInfo, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".ssh")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read key directory: %w", err)
	}

	var keys []KeyInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".pub") {
			continue
		}
		if !strings.HasPrefix(name, "id_") && !strings.HasSuffix(name, ".pem") {
			continue
		}

		info, err := InspectKey(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		keys = append(keys, *info)
	}

	sort.SliceStable(keys, func(i, j int) bool {
		return keyTypePriority(keys[i].Type) < keyTypePriority(keys[j].Type)
	})
	return keys, nil
}

func keyTypePriority(keyType string) int {
	switch keyType {
	case "ed25519":
		return 1
	case "rsa":
		return 2
	case "ecdsa":
		return 3
	default:
		return 4
	}
}

// InspectKey validates a private key file and returns its info
func InspectKey(path string) (*KeyInfo, error) {
	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	info := &KeyInfo{Path: path, Name: filepath.Base(path)}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if !errors.As(err, &missing) {
			return nil, fmt.Errorf("invalid SSH key: %w", err)
		}
		info.IsEncrypted = true
		if missing.PublicKey != nil {
			info.Type = keyTypeName(missing.PublicKey.Type())
		}
		return info, nil
	}
	info.Type = keyTypeName(signer.PublicKey().Type())
	return info, nil
}

// LoadSigner parses the key at path, using passphrase when the key is encrypted
func LoadSigner(path, passphrase string) (ssh.Signer, error) {
	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err == nil {
		return signer, nil
	}
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	if passphrase == "" {
		return nil, fmt.Errorf("private key %s is encrypted and no passphrase was given", filepath.Base(path))
	}
	signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt private key: %w", err)
	}
	return signer, nil
}

// ExpandHome expands a leading ~/ in path
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}

func keyTypeName(sshType string) string {
	switch {
	case sshType == ssh.KeyAlgoED25519:
		return "ed25519"
	case sshType == ssh.KeyAlgoRSA:
		return "rsa"
	case strings.HasPrefix(sshType, "ecdsa-"):
		return "ecdsa"
	default:
		return sshType
	}
}
