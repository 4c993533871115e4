// Package config parses the uproot lab inventory file. The inventory maps
// lab identifiers to the devices in that topology, with shared credential
// defaults and per-device environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Role classifies a lab device for flag-based targeting.
type Role string

const (
	RoleSwitch   Role = "switch"
	RoleRouter   Role = "router"
	RoleFirewall Role = "firewall"
)

// Transport selects the management channel for Cisco nodes.
type Transport string

const (
	TransportTelnet Transport = "telnet"
	TransportSSH    Transport = "ssh"
)

// Device is one managed node in a lab topology.
type Device struct {
	Name      string    `yaml:"name" validate:"required"`
	Role      Role      `yaml:"role" validate:"required,oneof=switch router firewall"`
	Address   string    `yaml:"address" validate:"required"`
	Port      int       `yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Transport Transport `yaml:"transport,omitempty" validate:"omitempty,oneof=telnet ssh"`

	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	// Enable is the privileged-exec secret for Cisco nodes.
	Enable string `yaml:"enable,omitempty"`
	// APIKey authenticates against the pfSense REST API (firewall role).
	APIKey string `yaml:"api_key,omitempty"`

	// Baseline is the known-good configuration: a local config.xml for
	// firewalls, or a device-local file URL for IOS nodes (defaults to
	// unix:golden-backup.cfg).
	Baseline string `yaml:"baseline,omitempty"`
	// Position marks a router as the north (upstream) or south node.
	// The south router gets the management-safe fault set.
	Position string `yaml:"position,omitempty" validate:"omitempty,oneof=north south"`
	// WriteMem commits injected faults to startup config. Off by default
	// so a node reload clears the exercise.
	WriteMem bool `yaml:"write_mem,omitempty"`
}

// Lab is one topology's device inventory.
type Lab struct {
	Devices []*Device `yaml:"devices" validate:"required,min=1,dive"`
}

// Defaults supplies credentials to devices that omit their own.
type Defaults struct {
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Enable   string `yaml:"enable,omitempty"`
}

// Config is the parsed inventory file.
type Config struct {
	Defaults Defaults        `yaml:"defaults,omitempty"`
	Labs     map[string]*Lab `yaml:"labs" validate:"required,min=1"`
}

// Lab returns the inventory for labID.
func (c *Config) Lab(labID string) (*Lab, error) {
	lab, ok := c.Labs[labID]
	if !ok {
		known := make([]string, 0, len(c.Labs))
		for id := range c.Labs {
			known = append(known, id)
		}
		return nil, fmt.Errorf("unknown lab %q (configured labs: %s)", labID, strings.Join(known, ", "))
	}
	return lab, nil
}

// ByRole returns all devices in the lab with the given role, in file order.
func (l *Lab) ByRole(role Role) []*Device {
	var out []*Device
	for _, d := range l.Devices {
		if d.Role == role {
			out = append(out, d)
		}
	}
	return out
}

// Device returns the named device, or nil.
func (l *Lab) Device(name string) *Device {
	for _, d := range l.Devices {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// DialPort returns the management port, defaulting per role and transport.
func (d *Device) DialPort() int {
	if d.Port != 0 {
		return d.Port
	}
	switch {
	case d.Role == RoleFirewall:
		return 443
	case d.Transport == TransportSSH:
		return 22
	default:
		return 23
	}
}

// EnvKey returns the override environment variable for one of this
// device's fields, e.g. UPROOT_BRANCH_SWITCH1_PASSWORD.
func (d *Device) EnvKey(field string) string {
	name := strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(d.Name)
	return "UPROOT_" + strings.ToUpper(name) + "_" + strings.ToUpper(field)
}

// applyDefaults fills unset device fields from the shared defaults,
// normalizes transports, and applies environment overrides, which win
// over file values.
func (c *Config) applyDefaults() {
	for _, lab := range c.Labs {
		for _, d := range lab.Devices {
			if d.Transport == "" && d.Role != RoleFirewall {
				d.Transport = TransportTelnet
			}
			if d.Username == "" {
				d.Username = c.Defaults.Username
			}
			if d.Password == "" {
				d.Password = c.Defaults.Password
			}
			if d.Enable == "" {
				d.Enable = c.Defaults.Enable
			}
			for field, dst := range map[string]*string{
				"address":  &d.Address,
				"username": &d.Username,
				"password": &d.Password,
				"enable":   &d.Enable,
				"api_key":  &d.APIKey,
				"baseline": &d.Baseline,
			} {
				if v := os.Getenv(d.EnvKey(field)); v != "" {
					*dst = v
				}
			}
		}
	}
}

var validate = validator.New()

// Validate checks the inventory after defaults have been applied.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid inventory: %w", err)
	}
	for labID, lab := range c.Labs {
		seen := map[string]bool{}
		for _, d := range lab.Devices {
			if seen[d.Name] {
				return fmt.Errorf("lab %s: duplicate device name %q", labID, d.Name)
			}
			seen[d.Name] = true
			// Firewall credentials may live in the keyring instead of the
			// inventory, so their absence here is not an error.
		}
	}
	return nil
}
