package provision

import (
	"fmt"
	"sort"

	"github.com/yoanbernabeu/piprov/internal/constants"
	"github.com/yoanbernabeu/piprov/internal/script"
	"github.com/yoanbernabeu/piprov/internal/security"
)

// Implicit parameters, always supplied from the target
const (
	ParamTargetHost = "target_host"
	ParamTargetUser = "target_user"
)

// PreCheck is a read-only inspection run before an operation.
// The operation proceeds only when the output contains Marker(params).
type PreCheck struct {
	Template script.Template
	Marker   func(params map[string]string) string
	// Reason is reported with StatusPreconditionNotMet
	Reason string
}

// Operation is a stateless descriptor of one provisioning task
type Operation struct {
	Name     string
	Summary  string
	Template script.Template
	PreCheck *PreCheck
	// RebootsOnSuccess marks scripts whose last step reboots the host:
	// losing the connection after CompletionMarker is printed is a success.
	RebootsOnSuccess bool
	CompletionMarker string
	// Destructive operations erase data on the host
	Destructive bool
	// Container names the docker container the operation starts
	Container string
	// Derive fills parameters computed from the others, after defaults
	Derive func(params map[string]string)
}

// UserParams returns the parameters an operator may supply
func (op Operation) UserParams() []script.Param {
	var params []script.Param
	for _, p := range op.Template.Params {
		if p.Hidden || IsImplicit(p.Name) {
			continue
		}
		params = append(params, p)
	}
	return params
}

// IsImplicit reports whether name is filled in from the target
func IsImplicit(name string) bool {
	return name == ParamTargetHost || name == ParamTargetUser
}

// Catalog is a fixed set of operations
type Catalog struct {
	ops map[string]Operation
}

// NewCatalog builds a catalog, rejecting malformed templates up front
func NewCatalog(ops ...Operation) (*Catalog, error) {
	c := &Catalog{ops: make(map[string]Operation, len(ops))}
	for _, op := range ops {
		if op.Name == "" {
			return nil, fmt.Errorf("operation without a name")
		}
		if _, dup := c.ops[op.Name]; dup {
			return nil, fmt.Errorf("duplicate operation %q", op.Name)
		}
		if err := op.Template.Check(); err != nil {
			return nil, err
		}
		if op.PreCheck != nil {
			if err := op.PreCheck.Template.Check(); err != nil {
				return nil, err
			}
			if op.PreCheck.Marker == nil {
				return nil, fmt.Errorf("operation %q: pre-check without marker", op.Name)
			}
		}
		if op.RebootsOnSuccess && op.CompletionMarker == "" {
			return nil, fmt.Errorf("operation %q: reboot without completion marker", op.Name)
		}
		c.ops[op.Name] = op
	}
	return c, nil
}

// Lookup returns the named operation
func (c *Catalog) Lookup(name string) (Operation, error) {
	op, ok := c.ops[name]
	if !ok {
		return Operation{}, &UnknownOperationError{Name: name, Known: c.Names()}
	}
	return op, nil
}

// Names returns operation names sorted alphabetically
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.ops))
	for name := range c.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns operations sorted by name
func (c *Catalog) List() []Operation {
	ops := make([]Operation, 0, len(c.ops))
	for _, name := range c.Names() {
		ops = append(ops, c.ops[name])
	}
	return ops
}

var defaultCatalog *Catalog

func init() {
	c, err := NewCatalog(defaultOperations()...)
	if err != nil {
		panic(fmt.Sprintf("invalid built-in catalog: %v", err))
	}
	defaultCatalog = c
}

// DefaultCatalog returns the built-in operations
func DefaultCatalog() *Catalog {
	return defaultCatalog
}

func volParam(usage string) script.Param {
	return script.Param{Name: "vol", Required: true, Validate: security.ValidateMountPath, Usage: usage}
}

func defaultOperations() []Operation {
	return []Operation{
		{
			Name:    "usb",
			Summary: "Partition, format and mount a USB disk, persisted in /etc/fstab",
			Template: script.Template{
				Name: "usb",
				Text: `set -e
DEV=/dev/{{device}}
PART="${DEV}1"
VOL={{vol}}
OWNER={{owner}}
echo "Wiping $DEV ..."
sudo wipefs -a -f -q "$DEV"
echo "Partitioning $DEV ..."
sudo parted -s "$DEV" mklabel gpt
sudo parted -s -a optimal "$DEV" mkpart primary ext4 0% 100%
sudo partprobe "$DEV" 2>/dev/null || sleep 2
echo "Formatting $PART ..."
sudo mkfs.ext4 -F -q "$PART"
ID=$(sudo blkid -s PARTUUID -o value "$PART")
if [ -z "$ID" ]; then echo "Could not read PARTUUID of $PART" >&2; exit 1; fi
echo "Adding to fstab ..."
sudo mkdir -p "$VOL"
if ! grep -qsF "PARTUUID=$ID " /etc/fstab; then
  echo "PARTUUID=$ID $VOL ext4 defaults,noatime,nofail 0 1" | sudo tee -a /etc/fstab > /dev/null
fi
echo "Mounting ..."
mountpoint -q "$VOL" || sudo mount "$VOL"
sudo chown "$OWNER:" "$VOL"
echo "USB Device Ready"`,
				Params: []script.Param{
					volParam("mount point for the disk"),
					{Name: "device", Default: constants.DefaultUSBDevice, Validate: security.ValidateBlockDevice, Usage: "block device to wipe"},
					{Name: "owner", Validate: security.ValidateUnixUser, Usage: "owner of the mount point (default: target user)"},
				},
			},
			PreCheck: &PreCheck{
				Template: script.Template{Name: "usb-precheck", Text: "sudo env LC_ALL=C fdisk -l"},
				Marker: func(p map[string]string) string {
					return "Disk " + constants.DevicePath(p["device"]) + ":"
				},
				Reason: constants.NoUSBReason,
			},
			Destructive: true,
			Derive: func(p map[string]string) {
				if p["owner"] == "" {
					p["owner"] = p[ParamTargetUser]
				}
			},
		},
		{
			Name:    "nfs",
			Summary: "Mount an NFS export, persisted in /etc/fstab",
			Template: script.Template{
				Name: "nfs",
				Text: `set -e
SHARE={{share}}
VOL={{vol}}
echo "Creating mount directory ..."
sudo mkdir -p "$VOL"
echo "Mounting network share ..."
mountpoint -q "$VOL" || sudo mount -t nfs "$SHARE" "$VOL"
echo "Adding to fstab ..."
if ! grep -qsF "$SHARE $VOL " /etc/fstab; then
  echo "$SHARE $VOL nfs auto,nofail,_netdev 0 0" | sudo tee -a /etc/fstab > /dev/null
fi
echo "Network preparation complete"`,
				Params: []script.Param{
					volParam("local mount point"),
					{Name: "share", Required: true, Validate: security.ValidateNFSShare, Usage: "NFS export (host:/path)"},
				},
			},
		},
		{
			Name:    "cifs",
			Summary: "Mount an SMB/CIFS share using a root-only credentials file",
			Template: script.Template{
				Name: "cifs",
				Text: `set -e
SHARE={{share}}
VOL={{vol}}
CRED={{credentials}}
echo "Writing credentials ..."
sudo mkdir -p "$(dirname "$CRED")"
sudo chmod 700 "$(dirname "$CRED")"
sudo install -m 600 /dev/null "$CRED"
printf 'username=%s\npassword=%s\n' {{share_user}} {{share_password}} | sudo tee "$CRED" > /dev/null
echo "Creating mount directory ..."
sudo mkdir -p "$VOL"
echo "Mounting network share ..."
mountpoint -q "$VOL" || sudo mount -t cifs -o "credentials=$CRED" "$SHARE" "$VOL"
echo "Adding to fstab ..."
if ! grep -qsF "$SHARE $VOL " /etc/fstab; then
  echo "$SHARE $VOL cifs credentials=$CRED,nofail,_netdev 0 0" | sudo tee -a /etc/fstab > /dev/null
fi
echo "Network preparation complete"`,
				Params: []script.Param{
					volParam("local mount point"),
					{Name: "share", Required: true, Validate: security.ValidateCIFSShare, Usage: "SMB share (//host/share)"},
					{Name: "share_user", Required: true, Validate: security.ValidateShareUser, Usage: "share account name"},
					{Name: "share_password", Required: true, Secret: true, Validate: security.ValidateSecretLine, Usage: "share account password"},
					{Name: "credentials", Required: true, Hidden: true},
				},
			},
			Derive: func(p map[string]string) {
				if p["vol"] != "" {
					p["credentials"] = constants.CredentialsFile(p["vol"])
				}
			},
		},
		{
			Name:    "github",
			Summary: "Install git and initialise a repository with a global identity",
			Template: script.Template{
				Name: "github",
				Text: `set -e
VOL={{vol}}
echo "Installing git ..."
sudo apt-get update
sudo DEBIAN_FRONTEND=noninteractive apt-get install -y git
echo "Configuring repo ..."
git init "$VOL"
git config --global user.name {{gh_user}}
git config --global user.email {{gh_email}}
git config --global --list
echo "You will need to complete the remaining parts of configuration manually"`,
				Params: []script.Param{
					volParam("repository directory"),
					{Name: "gh_user", Required: true, Validate: security.ValidateGitUser, Usage: "git user.name"},
					{Name: "gh_email", Required: true, Validate: security.ValidateEmail, Usage: "git user.email"},
				},
			},
		},
		{
			Name:    "update",
			Summary: "Update package lists and upgrade the system",
			Template: script.Template{
				Name: "update",
				Text: `set -e
sudo apt-get update
sudo DEBIAN_FRONTEND=noninteractive apt-get -y upgrade
sudo DEBIAN_FRONTEND=noninteractive apt-get -y dist-upgrade
echo "System up to date"`,
			},
		},
		{
			Name:    "install",
			Summary: "Install log2ram and docker, add the user to the docker group, then reboot",
			Template: script.Template{
				Name: "install",
				Text: `set -e
USER_NAME={{target_user}}
echo "Installing git ..."
sudo DEBIAN_FRONTEND=noninteractive apt-get install -y git
echo "Installing Log2Ram ..."
TMP=$(mktemp -d)
git clone --depth 1 https://github.com/azlux/log2ram.git "$TMP/log2ram"
(cd "$TMP/log2ram" && chmod +x install.sh && sudo ./install.sh)
rm -rf "$TMP"
echo "Installing docker ..."
if ! command -v docker > /dev/null 2>&1; then
  curl -fsSL https://get.docker.com | sh
fi
sudo usermod -aG docker "$USER_NAME"
echo "Installing docker compose ..."
sudo docker compose version > /dev/null 2>&1 || sudo DEBIAN_FRONTEND=noninteractive apt-get install -y docker-compose-plugin
echo ` + script.Quote(constants.RebootMarker) + `
sudo reboot`,
				Params: []script.Param{
					{Name: ParamTargetUser, Required: true},
				},
			},
			RebootsOnSuccess: true,
			CompletionMarker: constants.RebootMarker,
		},
		{
			Name:    "portainer",
			Summary: "Run the Portainer management UI with its data under vol",
			Template: script.Template{
				Name: "portainer",
				Text: `set -e
VOL={{vol}}
HOST={{target_host}}
echo "Installing Portainer ..."
sudo docker network inspect ` + constants.DockerNetwork + ` > /dev/null 2>&1 || sudo docker network create ` + constants.DockerNetwork + `
sudo mkdir -p "$VOL/portainer"
if sudo docker container inspect portainer > /dev/null 2>&1; then
  echo "Portainer container already exists"
else
  sudo docker run -d -p 8000:8000 -p ` + constants.PortainerPort + `:9000 --restart=always --name=portainer \
    --network=` + constants.DockerNetwork + ` \
    -v /var/run/docker.sock:/var/run/docker.sock -v "$VOL/portainer:/data" ` + constants.PortainerImage + `
fi
echo "You can manage Portainer at http://$HOST:` + constants.PortainerPort + `"`,
				Params: []script.Param{
					volParam("directory holding portainer data"),
					{Name: ParamTargetHost, Required: true},
				},
			},
			Container: "portainer",
		},
		stacksOperation(),
	}
}
