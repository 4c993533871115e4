package breaker

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/uprootnetworks/uproot/internal/config"
	"github.com/uprootnetworks/uproot/internal/credential"
	"github.com/uprootnetworks/uproot/internal/journal"
	"github.com/uprootnetworks/uproot/internal/log"
	"github.com/uprootnetworks/uproot/internal/netwait"
	"github.com/uprootnetworks/uproot/internal/pfsense"
)

// goldenBackup is the on-device baseline for IOS nodes.
const goldenBackup = "unix:golden-backup.cfg"

const (
	gatewayWait    = 5 * time.Minute
	routerWait     = 4 * time.Minute
	netPollEvery   = 5 * time.Second
	gatewayRetryIn = 10 * time.Second
)

// Test seams for host-side commands.
var (
	routeShowOutput = func() (string, error) {
		out, err := exec.Command("ip", "route", "show", "default").CombinedOutput()
		return string(out), err
	}
	pingHost = func(ctx context.Context, host string) error {
		return exec.CommandContext(ctx, "ping", "-c", "1", "-W", "2", host).Run()
	}
	restoreFirewall = pfsense.Restore
	waitPortUp      = netwait.Up
	sleep           = func(ctx context.Context, d time.Duration) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
)

// restoreAll reverts the lab in dependency order: firewalls reboot on
// their baseline first, then the switch, then after the upstream path
// answers pings the routers come back north side first.
func (r *Runner) restoreAll(ctx context.Context, run *journal.Run) error {
	if err := r.restoreFirewalls(ctx, run); err != nil {
		return err
	}
	if err := r.restoreSwitches(ctx, run); err != nil {
		return err
	}
	if err := r.waitGateway(ctx); err != nil {
		return err
	}
	return r.restoreRouters(ctx, run)
}

func (r *Runner) restoreFirewalls(ctx context.Context, run *journal.Run) error {
	firewalls := r.Lab.ByRole(config.RoleFirewall)
	if len(firewalls) == 0 {
		log.Info("no firewalls to restore")
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, d := range firewalls {
		g.Go(func() error {
			err := r.restoreOneFirewall(ctx, d)
			r.record(run, d.Name, "restore_baseline", nil, err == nil)
			return err
		})
	}
	return g.Wait()
}

func (r *Runner) restoreOneFirewall(ctx context.Context, d *config.Device) error {
	user := d.Username
	if user == "" {
		user = "root"
	}
	password := d.Password
	if password == "" && r.Creds != nil {
		pw, err := r.Creds.Lookup(d, credential.FieldPassword)
		if err != nil {
			return fmt.Errorf("%s: ssh password: %w", d.Name, err)
		}
		password = pw
	}
	if d.Baseline == "" {
		return fmt.Errorf("%s: no baseline config.xml configured", d.Name)
	}
	if r.DryRun {
		log.Info("dry run, not restoring firewall", "device", d.Name, "baseline", d.Baseline)
		return nil
	}
	return restoreFirewall(ctx, d.Name, pfsense.RestoreOptions{
		Addr:     net.JoinHostPort(d.Address, "22"),
		User:     user,
		Password: password,
		Baseline: d.Baseline,
	})
}

func (r *Runner) restoreSwitches(ctx context.Context, run *journal.Run) error {
	for _, d := range r.Lab.ByRole(config.RoleSwitch) {
		err := r.restoreIOSDevice(ctx, d)
		r.record(run, d.Name, "restore_baseline", nil, err == nil)
		if err != nil {
			return err
		}
	}
	return nil
}

// restoreRouters brings routers back north side first, so the upstream
// path works before the management-path router is touched.
func (r *Runner) restoreRouters(ctx context.Context, run *journal.Run) error {
	ordered := routersBreakOrder(r.Lab.ByRole(config.RoleRouter))
	for i := len(ordered) - 1; i >= 0; i-- {
		d := ordered[i]
		addr := fmt.Sprintf("%s:%d", d.Address, d.DialPort())
		log.Info("waiting for router management port", "device", d.Name, "addr", addr)
		if !r.DryRun {
			if err := waitPortUp(ctx, addr, routerWait, netPollEvery); err != nil {
				return fmt.Errorf("%s: management port never came up: %w", d.Name, err)
			}
		}
		err := r.restoreIOSDevice(ctx, d)
		r.record(run, d.Name, "restore_baseline", nil, err == nil)
		if err != nil {
			return err
		}
	}
	return nil
}

// restoreIOSDevice rolls a Cisco node back with configure replace and
// saves the result.
func (r *Runner) restoreIOSDevice(ctx context.Context, d *config.Device) error {
	l := log.With("device", d.Name)
	source := d.Baseline
	if source == "" {
		source = goldenBackup
	}
	if r.DryRun {
		l.Info("dry run, not restoring device", "source", source)
		return nil
	}

	sess, err := r.connect(ctx, d)
	if err != nil {
		return err
	}
	defer sess.Close()

	l.Info("rolling back configuration", "source", source)
	if err := sess.ConfigReplace(ctx, source); err != nil {
		return fmt.Errorf("%s: configure replace: %w", d.Name, err)
	}
	l.Info("restored successfully")
	return nil
}

var viaRE = regexp.MustCompile(`\bvia\s+(\d+\.\d+\.\d+\.\d+)`)

// hostDefaultGateway reads this machine's default gateway address.
func hostDefaultGateway() (string, error) {
	out, err := routeShowOutput()
	if err != nil {
		return "", fmt.Errorf("reading default route: %w", err)
	}
	m := viaRE.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("no default gateway in %q", strings.TrimSpace(out))
	}
	return m[1], nil
}

// waitGateway blocks until the host's default gateway answers a ping,
// which means the restored firewalls are forwarding again.
func (r *Runner) waitGateway(ctx context.Context) error {
	if r.DryRun {
		return nil
	}
	gw, err := hostDefaultGateway()
	if err != nil {
		log.Warn("skipping gateway wait", "err", err)
		return nil
	}

	log.Info("waiting for default gateway to answer", "gateway", gw)
	deadline := time.Now().Add(gatewayWait)
	for {
		if err := pingHost(ctx, gw); err == nil {
			log.Info("gateway reachable", "gateway", gw)
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("default gateway %s unreachable after %s", gw, gatewayWait)
		}
		if err := sleep(ctx, gatewayRetryIn); err != nil {
			return err
		}
	}
}
