package security

import (
	"fmt"
	"net"
	"net/mail"
	"path"
	"regexp"
	"strings"
)

var (
	// targetNameRegex validates target configuration names
	// Allows: letters, numbers, underscores, hyphens
	// Length: 1-64 characters
	targetNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_-]{0,62}[a-zA-Z0-9])?$`)

	// unixUserRegex validates Unix usernames
	// Standard POSIX username rules
	// Length: 1-32 characters
	unixUserRegex = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)

	// hostRegex validates hostnames and IPv4 addresses (IPv6 is checked with net.ParseIP)
	hostRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9.-]{0,251}[a-zA-Z0-9])?$`)

	// blockDeviceRegex validates kernel block device names (sda, sdb, mmcblk1, nvme0n1)
	blockDeviceRegex = regexp.MustCompile(`^[a-z]+[a-z0-9]{0,15}$`)

	// mountPathRegex validates absolute mount points
	// Allows: alphanumeric, underscores, hyphens, dots, forward slashes
	mountPathRegex = regexp.MustCompile(`^/[a-zA-Z0-9_.-]+(/[a-zA-Z0-9_.-]+)*$`)

	// nfsShareRegex validates NFS exports written as host:/path
	nfsShareRegex = regexp.MustCompile(`^[a-zA-Z0-9.-]+:/[a-zA-Z0-9_./-]*$`)

	// cifsShareRegex validates SMB shares written as //host/share[/path]
	// Spaces are rejected since fstab fields are whitespace separated
	cifsShareRegex = regexp.MustCompile(`^//[a-zA-Z0-9.-]+/[a-zA-Z0-9_$.-]+(/[a-zA-Z0-9_.-]+)*$`)

	// sensitiveLogPatterns used by SanitizeCommandForLog to mask secrets
	sensitiveLogPatterns = []string{
		"password=",
		"PASSWORD=",
		"PASS=",
		"passwd=",
	}
)

// ValidateTargetName validates a target configuration name
func ValidateTargetName(name string) error {
	if name == "" {
		return fmt.Errorf("target name cannot be empty")
	}
	if len(name) > 64 {
		return fmt.Errorf("target name too long (max 64 characters)")
	}
	if !targetNameRegex.MatchString(name) {
		return fmt.Errorf("target name must contain only letters, numbers, underscores, and hyphens")
	}
	return nil
}

// ValidateUnixUser validates a Unix username
func ValidateUnixUser(user string) error {
	if user == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if len(user) > 32 {
		return fmt.Errorf("username too long (max 32 characters)")
	}
	if !unixUserRegex.MatchString(user) {
		return fmt.Errorf("username must start with a lowercase letter or underscore, followed by lowercase letters, numbers, underscores, or hyphens")
	}
	return nil
}

// ValidateHost validates a hostname or IP address (without port)
func ValidateHost(host string) error {
	if host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if len(host) > 253 {
		return fmt.Errorf("host too long (max 253 characters)")
	}
	if !hostRegex.MatchString(host) {
		return fmt.Errorf("host must be a hostname or an IP address")
	}
	return nil
}

// ValidateMountPath validates an absolute mount point on the remote host
func ValidateMountPath(p string) error {
	if p == "" {
		return fmt.Errorf("mount path cannot be empty")
	}
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("mount path must be absolute, got: %s", p)
	}
	if len(p) > 1024 {
		return fmt.Errorf("mount path too long (max 1024 characters)")
	}
	// Check for path traversal attempts
	if strings.Contains(p, "..") {
		return fmt.Errorf("mount path cannot contain path traversal (..) sequences")
	}
	if path.Clean(p) == "/" {
		return fmt.Errorf("mount path cannot be the filesystem root")
	}
	if !mountPathRegex.MatchString(p) {
		return fmt.Errorf("mount path contains invalid characters: %s", p)
	}
	return nil
}

// ValidateBlockDevice validates a kernel block device name such as "sda"
func ValidateBlockDevice(dev string) error {
	if dev == "" {
		return fmt.Errorf("device cannot be empty")
	}
	if strings.HasPrefix(dev, "/dev/") {
		return fmt.Errorf("device must be a bare name (e.g. sda), not a path")
	}
	if !blockDeviceRegex.MatchString(dev) {
		return fmt.Errorf("device name contains invalid characters: %s", dev)
	}
	return nil
}

// ValidateNFSShare validates an NFS export written as host:/path
func ValidateNFSShare(share string) error {
	if share == "" {
		return fmt.Errorf("NFS share cannot be empty")
	}
	if strings.Contains(share, "..") {
		return fmt.Errorf("NFS share cannot contain path traversal (..) sequences")
	}
	if !nfsShareRegex.MatchString(share) {
		return fmt.Errorf("NFS share must look like host:/export/path")
	}
	return nil
}

// ValidateCIFSShare validates an SMB share written as //host/share
func ValidateCIFSShare(share string) error {
	if share == "" {
		return fmt.Errorf("CIFS share cannot be empty")
	}
	if strings.Contains(share, "..") {
		return fmt.Errorf("CIFS share cannot contain path traversal (..) sequences")
	}
	if !cifsShareRegex.MatchString(share) {
		return fmt.Errorf("CIFS share must look like //host/share")
	}
	return nil
}

// ValidateShareUser validates a network share account name.
// The value is always shell-escaped; this only rejects what mount.cifs cannot parse.
func ValidateShareUser(user string) error {
	if user == "" {
		return fmt.Errorf("share user cannot be empty")
	}
	if strings.ContainsAny(user, ",\n\r") {
		return fmt.Errorf("share user cannot contain commas or line breaks")
	}
	return nil
}

// ValidateSecretLine rejects values that would break a line-oriented credentials file
func ValidateSecretLine(secret string) error {
	if strings.ContainsAny(secret, "\n\r\x00") {
		return fmt.Errorf("value cannot contain line breaks or NUL bytes")
	}
	return nil
}

// ValidateEmail validates a plain email address (no display name)
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email cannot be empty")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("invalid email address: %s", email)
	}
	return nil
}

// ValidateGitUser validates a git author name
func ValidateGitUser(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("git user name cannot be empty")
	}
	if len(name) > 128 {
		return fmt.Errorf("git user name too long (max 128 characters)")
	}
	if strings.ContainsAny(name, "\n\r\x00<>") {
		return fmt.Errorf("git user name contains invalid characters")
	}
	return nil
}

// ShellEscape escapes a string for safe use in shell commands by wrapping it
// in single quotes and escaping any internal single quotes using the POSIX
// pattern: ' → '\''
func ShellEscape(s string) string {
	// Replace single quotes with the POSIX escape sequence: end quote, escaped quote, start quote
	escaped := strings.ReplaceAll(s, "'", "'\\''")
	return "'" + escaped + "'"
}

// SanitizeCommandForLog masks sensitive values in free text before logging.
// Rendered commands carry their own redacted form; this covers error text and
// remote output that may echo credentials back.
func SanitizeCommandForLog(cmd string) string {
	result := cmd

	for _, pattern := range sensitiveLogPatterns {
		searchFrom := 0
		for {
			idx := strings.Index(result[searchFrom:], pattern)
			if idx == -1 {
				break
			}
			absIdx := searchFrom + idx
			valueStart := absIdx + len(pattern)
			valueEnd := findValueEnd(result, valueStart)
			masked := "****"
			result = result[:valueStart] + masked + result[valueEnd:]
			// Advance past the replacement to avoid infinite loop
			searchFrom = valueStart + len(masked)
		}
	}

	return result
}

// findValueEnd finds where a shell value ends (handles quoted and unquoted values)
func findValueEnd(s string, start int) int {
	if start >= len(s) {
		return start
	}

	// Handle single-quoted value, including the '\'' continuation produced by ShellEscape
	if s[start] == '\'' {
		i := start + 1
		for i < len(s) {
			end := strings.IndexByte(s[i:], '\'')
			if end == -1 {
				return len(s)
			}
			i += end + 1
			if strings.HasPrefix(s[i:], `\''`) {
				i += 3
				continue
			}
			return i
		}
		return len(s)
	}

	// Handle double-quoted value
	if s[start] == '"' {
		end := strings.Index(s[start+1:], "\"")
		if end == -1 {
			return len(s)
		}
		return start + end + 2
	}

	// Unquoted: find next whitespace or option separator
	for i := start; i < len(s); i++ {
		if s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == ',' {
			return i
		}
	}
	return len(s)
}
