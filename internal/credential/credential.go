// Package credential resolves device secrets. Resolution order is
// environment variable, inventory value, OS keyring, then an interactive
// prompt when stdin is a terminal. The keyring entries are written with
// `uproot cred set` so inventory files can stay secret-free.
package credential

import (
	"errors"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/zalando/go-keyring"
	"golang.org/x/term"

	"github.com/uprootnetworks/uproot/internal/config"
	"github.com/uprootnetworks/uproot/internal/log"
)

// Service is the keyring service identifier. UPROOT_KEYRING_SERVICE
// overrides it for test isolation.
const Service = "uproot"

// Fields a device secret can be stored under.
const (
	FieldPassword = "password"
	FieldEnable   = "enable"
	FieldAPIKey   = "api_key"
)

// ErrNotFound is returned when a secret resolves nowhere.
var ErrNotFound = errors.New("credential not found")

func serviceName() string {
	if s := os.Getenv("UPROOT_KEYRING_SERVICE"); s != "" {
		return s
	}
	return Service
}

// KeyringAccount returns the keyring account for a device field,
// e.g. "lab1/Branch-FW/api_key".
func KeyringAccount(labID, device, field string) string {
	return labID + "/" + device + "/" + field
}

// Resolver looks up secrets for one lab's devices.
type Resolver struct {
	LabID string
	// Interactive permits prompting on the terminal as a last resort.
	Interactive bool

	// Test seams.
	keyringGet func(service, account string) (string, error)
	readSecret func(prompt string) (string, error)
	isTerminal func() bool
}

// NewResolver returns a Resolver for labID. Interactive prompting is
// enabled when stdin is a TTY.
func NewResolver(labID string) *Resolver {
	return &Resolver{
		LabID:       labID,
		Interactive: isatty.IsTerminal(os.Stdin.Fd()),
	}
}

// Lookup resolves a secret field for the device. The inventory value has
// already absorbed env overrides at load time, so it is checked first.
// Missing optional secrets return ErrNotFound.
func (r *Resolver) Lookup(d *config.Device, field string) (string, error) {
	if v := r.inventoryValue(d, field); v != "" {
		return v, nil
	}

	get := r.keyringGet
	if get == nil {
		get = keyring.Get
	}
	v, err := get(serviceName(), KeyringAccount(r.LabID, d.Name, field))
	if err == nil && v != "" {
		log.Debug("credential from keyring", "device", d.Name, "field", field)
		return v, nil
	}
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		// Headless hosts often have no keyring daemon. Treat as a miss.
		log.Debug("keyring unavailable", "err", err)
	}

	if r.Interactive {
		return r.prompt(d, field)
	}
	return "", fmt.Errorf("%w: %s for %s (set %s, add it to the inventory, or run `uproot cred set %s %s %s`)",
		ErrNotFound, field, d.Name, d.EnvKey(field), r.LabID, d.Name, field)
}

func (r *Resolver) inventoryValue(d *config.Device, field string) string {
	switch field {
	case FieldPassword:
		return d.Password
	case FieldEnable:
		return d.Enable
	case FieldAPIKey:
		return d.APIKey
	}
	return ""
}

func (r *Resolver) prompt(d *config.Device, field string) (string, error) {
	read := r.readSecret
	if read == nil {
		read = readFromTerminal
	}
	v, err := read(fmt.Sprintf("%s %s for %s: ", d.Name, field, d.Address))
	if err != nil {
		return "", fmt.Errorf("reading %s for %s: %w", field, d.Name, err)
	}
	if v == "" {
		return "", fmt.Errorf("%w: %s for %s", ErrNotFound, field, d.Name)
	}
	return v, nil
}

func readFromTerminal(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// PromptSecret reads a secret from the terminal without echo.
func PromptSecret(prompt string) (string, error) {
	return readFromTerminal(prompt)
}

// Set stores a secret in the OS keyring.
func Set(labID, device, field, value string) error {
	if err := keyring.Set(serviceName(), KeyringAccount(labID, device, field), value); err != nil {
		return fmt.Errorf("storing %s for %s in keyring: %w", field, device, err)
	}
	return nil
}

// Delete removes a secret from the OS keyring.
func Delete(labID, device, field string) error {
	err := keyring.Delete(serviceName(), KeyringAccount(labID, device, field))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("removing %s for %s from keyring: %w", field, device, err)
	}
	return nil
}
