package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownInstance reports a lookup for a name the inventory does
	// not define.
	ErrUnknownInstance = errors.New("unknown instance")

	// ErrNoCredentials reports an instance whose credential environment
	// variables were unset at load time.
	ErrNoCredentials = errors.New("no credentials configured for instance")
)

// Instance describes one NSO deployment the control plane can reach.
// Records are immutable after loading; the tunnel and sync packages only
// ever read them.
type Instance struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	LocalPort   int    `yaml:"local_port"`

	// JumpHost is the ssh_config alias of the relay used for the forward.
	// JumpPort selects the SSH port on the relay; some jump hosts only
	// accept SSH on 443.
	JumpHost string `yaml:"jump_host"`
	JumpPort int    `yaml:"jump_port"`

	// ControlMaster indicates the jump host supports a shared control
	// connection, allowing the foreground-authenticating launch strategy.
	ControlMaster bool `yaml:"control_master"`

	// UseTunnel is false when NSO is directly reachable from this machine.
	UseTunnel bool `yaml:"use_tunnel"`
	UseHTTPS  bool `yaml:"use_https"`

	Environment string `yaml:"environment"`
	Platform    string `yaml:"platform"`
	Description string `yaml:"description"`

	// Credentials are referenced by environment variable name in the
	// inventory file and resolved at load time.
	UsernameEnv string `yaml:"username_env"`
	PasswordEnv string `yaml:"password_env"`
	Username    string `yaml:"-"`
	Password    string `yaml:"-"`
}

// APIScheme returns the URL scheme for talking to this instance's API.
func (i Instance) APIScheme() string {
	if i.UseHTTPS {
		return "https"
	}
	return "http"
}

type inventoryFile struct {
	Instances []Instance `yaml:"instances"`
}

// Inventory holds the loaded instance records keyed by name.
type Inventory struct {
	byName map[string]Instance
	order  []string
}

// LoadInventory reads and validates the instance inventory YAML file.
//
// Tunnel requirement is auto-detected: when the local hostname contains
// directMarker, instances are reachable directly and UseTunnel is forced
// off, except production instances, which always go through their jump
// host even from a directly-connected machine.
func LoadInventory(path, hostname, directMarker string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	return ParseInventory(data, hostname, directMarker)
}

// ParseInventory parses inventory YAML. Split from LoadInventory so tests
// can feed documents without touching the filesystem.
func ParseInventory(data []byte, hostname, directMarker string) (*Inventory, error) {
	var f inventoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse inventory: %w", err)
	}
	if len(f.Instances) == 0 {
		return nil, fmt.Errorf("inventory contains no instances")
	}

	direct := directMarker != "" && strings.Contains(strings.ToLower(hostname), strings.ToLower(directMarker))

	inv := &Inventory{byName: make(map[string]Instance, len(f.Instances))}
	ports := make(map[int]string, len(f.Instances))
	for _, inst := range f.Instances {
		if inst.Name == "" {
			return nil, fmt.Errorf("inventory instance missing name")
		}
		if _, dup := inv.byName[inst.Name]; dup {
			return nil, fmt.Errorf("duplicate instance name %q", inst.Name)
		}
		if inst.Host == "" || inst.Port == 0 {
			return nil, fmt.Errorf("instance %q: host and port are required", inst.Name)
		}
		if inst.UseTunnel && inst.LocalPort == 0 {
			return nil, fmt.Errorf("instance %q: local_port required for tunneled access", inst.Name)
		}
		if inst.LocalPort != 0 {
			if prev, taken := ports[inst.LocalPort]; taken {
				return nil, fmt.Errorf("instances %q and %q share local port %d", prev, inst.Name, inst.LocalPort)
			}
			ports[inst.LocalPort] = inst.Name
		}
		if inst.JumpPort == 0 {
			inst.JumpPort = 22
		}
		if direct && inst.Environment != "production" {
			inst.UseTunnel = false
		}
		if inst.UsernameEnv != "" {
			inst.Username = os.Getenv(inst.UsernameEnv)
		}
		if inst.PasswordEnv != "" {
			inst.Password = os.Getenv(inst.PasswordEnv)
		}
		inv.byName[inst.Name] = inst
		inv.order = append(inv.order, inst.Name)
	}
	return inv, nil
}

// Get returns the instance configuration by name.
func (inv *Inventory) Get(name string) (Instance, bool) {
	inst, ok := inv.byName[name]
	return inst, ok
}

// Lookup is Get with an error for the HTTP boundary to map.
func (inv *Inventory) Lookup(name string) (Instance, error) {
	inst, ok := inv.byName[name]
	if !ok {
		return Instance{}, fmt.Errorf("%w: %s", ErrUnknownInstance, name)
	}
	return inst, nil
}

// All returns instances in file order.
func (inv *Inventory) All() []Instance {
	out := make([]Instance, 0, len(inv.order))
	for _, name := range inv.order {
		out = append(out, inv.byName[name])
	}
	return out
}

// ByEnvironment returns instances for one environment (integration, e2e,
// production).
func (inv *Inventory) ByEnvironment(env string) []Instance {
	var out []Instance
	for _, inst := range inv.All() {
		if inst.Environment == env {
			out = append(out, inst)
		}
	}
	return out
}

// ByPlatform returns instances for one platform.
func (inv *Inventory) ByPlatform(platform string) []Instance {
	var out []Instance
	for _, inst := range inv.All() {
		if inst.Platform == platform {
			out = append(out, inst)
		}
	}
	return out
}
