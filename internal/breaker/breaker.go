// Package breaker plans and applies fault injections per device role,
// and restores every node to its baseline. Faults are deliberately
// recoverable: nothing is written to startup config unless the device
// is configured with write_mem.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/uprootnetworks/uproot/internal/config"
	"github.com/uprootnetworks/uproot/internal/credential"
	"github.com/uprootnetworks/uproot/internal/ios"
	"github.com/uprootnetworks/uproot/internal/journal"
	"github.com/uprootnetworks/uproot/internal/log"
)

// cliSession is the slice of *ios.Session the runner uses; tests swap in
// a scripted implementation.
type cliSession interface {
	Login(ctx context.Context, username, password string) error
	EnsurePrivileged(ctx context.Context, enableSecret string) error
	Run(ctx context.Context, cmd string) (string, error)
	ConfigSet(ctx context.Context, cmds []string) error
	ConfigReplace(ctx context.Context, source string) error
	WriteMemory(ctx context.Context) error
	Close() error
}

// Runner executes break/restore actions against one lab.
type Runner struct {
	LabID   string
	Lab     *config.Lab
	Creds   *credential.Resolver
	Journal *journal.Store // optional
	DryRun  bool
	Rand    *rand.Rand

	dial func(ctx context.Context, d *config.Device, password string) (cliSession, error)
	// firewallBaseURL overrides the https://<host> API base (tests).
	firewallBaseURL func(d *config.Device) string
}

// New builds a Runner for the lab with real transports and
// time-seeded randomness.
func New(labID string, lab *config.Lab, creds *credential.Resolver, j *journal.Store, dryRun bool) *Runner {
	return &Runner{
		LabID:   labID,
		Lab:     lab,
		Creds:   creds,
		Journal: j,
		DryRun:  dryRun,
		Rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
		dial:    dialDevice,
	}
}

func dialDevice(ctx context.Context, d *config.Device, password string) (cliSession, error) {
	addr := fmt.Sprintf("%s:%d", d.Address, d.DialPort())
	switch d.Transport {
	case config.TransportSSH:
		return ios.DialSSH(ctx, d.Name, addr, d.Username, password)
	default:
		return ios.DialTelnet(ctx, d.Name, addr)
	}
}

// secret resolves a device field through the credential chain, treating
// a missing secret as empty. Unconfigured lab consoles often have none.
func (r *Runner) secret(d *config.Device, field, inventory string) (string, error) {
	if r.Creds == nil {
		return inventory, nil
	}
	v, err := r.Creds.Lookup(d, field)
	if errors.Is(err, credential.ErrNotFound) {
		return inventory, nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// connect dials a Cisco node and gets it into privileged exec.
func (r *Runner) connect(ctx context.Context, d *config.Device) (cliSession, error) {
	log.Info("connecting", "device", d.Name, "address", d.Address, "transport", string(d.Transport))
	password, err := r.secret(d, credential.FieldPassword, d.Password)
	if err != nil {
		return nil, err
	}
	enable, err := r.secret(d, credential.FieldEnable, d.Enable)
	if err != nil {
		return nil, err
	}

	sess, err := r.dial(ctx, d, password)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s (%s): %w", d.Name, d.Address, err)
	}
	if d.Transport != config.TransportSSH {
		if err := sess.Login(ctx, d.Username, password); err != nil {
			sess.Close()
			return nil, fmt.Errorf("logging in to %s: %w", d.Name, err)
		}
	}
	if err := sess.EnsurePrivileged(ctx, enable); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

// record writes a journal event when a journal is attached.
func (r *Runner) record(run *journal.Run, device, name string, detail any, ok bool) {
	if r.Journal == nil || run == nil {
		return
	}
	if err := r.Journal.Record(run, device, name, detail, ok); err != nil {
		log.Warn("journal write failed", "err", err)
	}
}

func (r *Runner) begin(action string) *journal.Run {
	if r.Journal == nil {
		return nil
	}
	run, err := r.Journal.Begin(r.LabID, action, r.DryRun)
	if err != nil {
		log.Warn("journal write failed", "err", err)
		return nil
	}
	return run
}

func (r *Runner) finish(run *journal.Run, ok bool) {
	if r.Journal == nil || run == nil {
		return
	}
	if err := r.Journal.Finish(run, ok); err != nil {
		log.Warn("journal write failed", "err", err)
	}
}

// BreakAll applies faults to every device class in the lab.
func (r *Runner) BreakAll(ctx context.Context) error {
	run := r.begin(journal.ActionBreak)
	err := r.breakAll(ctx, run)
	r.finish(run, err == nil)
	return err
}

func (r *Runner) breakAll(ctx context.Context, run *journal.Run) error {
	if err := r.breakRouters(ctx, run); err != nil {
		return err
	}
	if err := r.breakFirewalls(ctx, run); err != nil {
		return err
	}
	return r.breakSwitch(ctx, run)
}

// BreakSwitch misconfigures the lab's access switch.
func (r *Runner) BreakSwitch(ctx context.Context) error {
	run := r.begin(journal.ActionBreak)
	err := r.breakSwitch(ctx, run)
	r.finish(run, err == nil)
	return err
}

// BreakRouters applies one random fault to each router.
func (r *Runner) BreakRouters(ctx context.Context) error {
	run := r.begin(journal.ActionBreak)
	err := r.breakRouters(ctx, run)
	r.finish(run, err == nil)
	return err
}

// BreakFirewalls applies one random fault to each firewall.
func (r *Runner) BreakFirewalls(ctx context.Context) error {
	run := r.begin(journal.ActionBreak)
	err := r.breakFirewalls(ctx, run)
	r.finish(run, err == nil)
	return err
}

// RestoreAll reverts every node to its default configuration.
func (r *Runner) RestoreAll(ctx context.Context) error {
	run := r.begin(journal.ActionRestore)
	err := r.restoreAll(ctx, run)
	r.finish(run, err == nil)
	return err
}
