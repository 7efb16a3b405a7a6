package provision

import (
	"fmt"
	"strings"

	"github.com/yoanbernabeu/piprov/internal/constants"
	"github.com/yoanbernabeu/piprov/internal/script"
)

// Stack names accepted by the stacks operation
const (
	StackNetwork = "network"
	StackIoT     = "iot"
	StackMedia   = "media"
)

// Component is one container the stacks operation can deploy.
// Data is the container path mounted from $VOL/<Name>.
type Component struct {
	Name  string
	Stack string
	Image string
	Ports []string
	Data  string
	Args  []string
}

var components = []Component{
	{
		Name:  "pihole",
		Stack: StackNetwork,
		Image: "pihole/pihole:latest",
		Ports: []string{"53:53/tcp", "53:53/udp", "8053:80"},
		Data:  "/etc/pihole",
	},
	{
		Name:  "mosquitto",
		Stack: StackIoT,
		Image: "eclipse-mosquitto:2",
		Ports: []string{"1883:1883"},
		Data:  "/mosquitto/data",
		Args:  []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
	},
	{
		Name:  "nodered",
		Stack: StackIoT,
		Image: "nodered/node-red:latest",
		Ports: []string{"1880:1880"},
		Data:  "/data",
	},
	{
		Name:  "jellyfin",
		Stack: StackMedia,
		Image: "jellyfin/jellyfin:latest",
		Ports: []string{"8096:8096"},
		Data:  "/config",
	},
}

// Components returns the deployable components in catalog order
func Components() []Component {
	return append([]Component(nil), components...)
}

func componentNames() []string {
	names := make([]string, len(components))
	for i, c := range components {
		names[i] = c.Name
	}
	return names
}

func stackNames() []string {
	return []string{StackIoT, StackMedia, StackNetwork}
}

// splitList splits a comma-separated list, dropping blanks
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func validateList(kind string, allowed []string) func(string) error {
	return func(s string) error {
		for _, item := range splitList(s) {
			if !contains(allowed, item) {
				return fmt.Errorf("unknown %s %q (known: %s)", kind, item, strings.Join(allowed, ", "))
			}
		}
		return nil
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// SelectComponents resolves stacks and extra component names into the
// components to deploy, in catalog order and without duplicates
func SelectComponents(stacks, extra []string) []Component {
	var out []Component
	for _, c := range components {
		if contains(stacks, c.Stack) || contains(extra, c.Name) {
			out = append(out, c)
		}
	}
	return out
}

// serviceNames lists the components to deploy. Unknown names are kept
// so that parameter validation reports them.
func serviceNames(stacks, extra []string) []string {
	var names []string
	for _, c := range SelectComponents(stacks, extra) {
		names = append(names, c.Name)
	}
	for _, s := range stacks {
		if !contains(stackNames(), s) {
			names = append(names, s)
		}
	}
	for _, c := range extra {
		if !contains(componentNames(), c) {
			names = append(names, c)
		}
	}
	return names
}

// deployLine renders the case branch starting c. Every word comes from the
// component table, never from operator input.
func (c Component) deployLine() string {
	words := []string{"deploy", c.Name}
	for _, p := range c.Ports {
		words = append(words, "-p", p)
	}
	words = append(words, "-v", `"$VOL/`+c.Name+`:`+c.Data+`"`, c.Image)
	words = append(words, c.Args...)
	return "    " + c.Name + ") " + strings.Join(words, " ") + " ;;"
}

func stacksScript() string {
	var cases []string
	for _, c := range components {
		cases = append(cases, c.deployLine())
	}

	return `set -e
VOL={{vol}}
SERVICES={{services}}
sudo docker network inspect ` + constants.DockerNetwork + ` > /dev/null 2>&1 || sudo docker network create ` + constants.DockerNetwork + `
deploy() {
  name=$1; shift
  if sudo docker container inspect "$name" > /dev/null 2>&1; then
    echo "$name already exists"
    return 0
  fi
  echo "Deploying $name ..."
  sudo mkdir -p "$VOL/$name"
  sudo docker run -d --name="$name" --restart=unless-stopped --network=` + constants.DockerNetwork + ` "$@"
}
for svc in $(echo "$SERVICES" | tr ',' ' '); do
  case "$svc" in
` + strings.Join(cases, "\n") + `
    *) echo "Unknown component $svc" >&2; exit 1 ;;
  esac
done
echo "Stacks deployed: $SERVICES"`
}

func stacksOperation() Operation {
	return Operation{
		Name:    "stacks",
		Summary: "Deploy the network, IoT and media container stacks",
		Template: script.Template{
			Name: "stacks",
			Text: stacksScript(),
			Params: []script.Param{
				volParam("directory holding container data"),
				{
					Name:     "stacks",
					Default:  StackNetwork,
					Validate: validateList("stack", stackNames()),
					Usage:    "comma-separated stacks: " + strings.Join(stackNames(), ", "),
				},
				{
					Name:     "components",
					Validate: validateList("component", componentNames()),
					Usage:    "extra components outside the selected stacks: " + strings.Join(componentNames(), ", "),
				},
				{Name: "services", Required: true, Hidden: true, Validate: validateList("component", componentNames())},
			},
		},
		Derive: func(p map[string]string) {
			p["services"] = strings.Join(serviceNames(splitList(p["stacks"]), splitList(p["components"])), ",")
		},
	}
}
