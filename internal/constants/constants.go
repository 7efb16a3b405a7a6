package constants

import (
	"path"
	"strings"
	"time"
)

// Connection defaults
const (
	DefaultSSHPort        = 22
	DefaultUser           = "pi"
	DefaultConnectTimeout = 10 * time.Second
)

// Provisioning defaults
const (
	DefaultUSBDevice   = "sda"
	DefaultMaxParallel = 4
	MaxParallelLimit   = 32
	// Completion line printed by the install script right before it reboots the host
	RebootMarker = "Finished, Rebooting..."
	// Reason reported when the USB pre-check does not find the disk
	NoUSBReason = "No USB connected"
	// Root-only directory holding CIFS credential files on the target
	CredentialsDir = "/etc/piprov"
	// Image used by the portainer operation
	PortainerImage = "portainer/portainer-ce:latest"
	PortainerPort  = "9000"
	DockerNetwork  = "docker"
)

// Local paths and defaults
const (
	AppName              = "piprov"
	ConfigFileName       = "config.yaml"
	KnownHostsFileName   = "known_hosts"
	HistoryFileName      = "history.db"
	DefaultListenAddr    = "127.0.0.1:7878"
	DefaultRetentionDays = 90
	DefaultHistoryLimit  = 20
)

// DevicePath returns the /dev path for a bare block device name.
func DevicePath(device string) string {
	return path.Join("/dev", device)
}

// CredentialsFile returns the CIFS credentials file path for a mount point.
func CredentialsFile(mountPath string) string {
	name := "cifs" + strings.ReplaceAll(path.Clean(mountPath), "/", "-")
	return path.Join(CredentialsDir, name+".cred")
}
