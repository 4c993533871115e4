package breaker

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/uprootnetworks/uproot/internal/config"
	"github.com/uprootnetworks/uproot/internal/credential"
	"github.com/uprootnetworks/uproot/internal/journal"
	"github.com/uprootnetworks/uproot/internal/log"
	"github.com/uprootnetworks/uproot/internal/pfsense"
)

// firewallClient builds an API client for a firewall device, resolving
// the API key (preferred) or basic credentials.
func (r *Runner) firewallClient(d *config.Device) (*pfsense.Client, error) {
	c := &pfsense.Client{
		Host:     fmt.Sprintf("%s:%d", d.Address, d.DialPort()),
		APIKey:   d.APIKey,
		Username: d.Username,
		Password: d.Password,
	}
	if r.firewallBaseURL != nil {
		c.BaseURL = r.firewallBaseURL(d)
	}
	if c.APIKey == "" && r.Creds != nil {
		key, err := r.Creds.Lookup(d, credential.FieldAPIKey)
		switch {
		case err == nil:
			c.APIKey = key
		case errors.Is(err, credential.ErrNotFound):
			// Fall through to basic auth.
		default:
			return nil, err
		}
	}
	if c.APIKey == "" && c.Password == "" && r.Creds != nil {
		pw, err := r.Creds.Lookup(d, credential.FieldPassword)
		if err != nil {
			return nil, fmt.Errorf("%s: no API key and no password: %w", d.Name, err)
		}
		c.Password = pw
	}
	if c.APIKey == "" && c.Password == "" {
		return nil, fmt.Errorf("%s: firewall has neither api_key nor password", d.Name)
	}
	return c, nil
}

func (r *Runner) breakFirewalls(ctx context.Context, run *journal.Run) error {
	firewalls := r.Lab.ByRole(config.RoleFirewall)
	if len(firewalls) == 0 {
		return fmt.Errorf("lab %s has no firewall devices", r.LabID)
	}

	// Pick each fault up front; the shared rand source is not safe to
	// use from the worker goroutines.
	picks := make([]int, len(firewalls))
	for i := range picks {
		picks[i] = r.Rand.Intn(len(pfsense.Faults))
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, d := range firewalls {
		fault := pfsense.Faults[picks[i]]
		g.Go(func() error {
			return r.breakOneFirewall(ctx, run, d, fault.Name, fault.Apply)
		})
	}
	return g.Wait()
}

func (r *Runner) breakOneFirewall(ctx context.Context, run *journal.Run, d *config.Device, name string, apply pfsense.FaultFunc) error {
	l := log.With("device", d.Name)

	// Dry runs must not touch the firewall at all, so bail out before
	// building a client or detecting the API version.
	if r.DryRun {
		l.Info("dry run, not applying firewall fault", "fault", name)
		return nil
	}

	client, err := r.firewallClient(d)
	if err != nil {
		return err
	}
	api, err := client.DetectPrefix(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", d.Name, err)
	}
	l.Info("introducing fault", "fault", name, "api", api)

	detail, err := apply(ctx, client, api)
	if err != nil {
		r.record(run, d.Name, name, nil, false)
		return fmt.Errorf("%s: applying %s: %w", d.Name, name, err)
	}
	r.record(run, d.Name, name, detail, true)
	l.Info("firewall broken successfully", "detail", detail)
	return nil
}
