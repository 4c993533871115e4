package pfsense

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/uprootnetworks/uproot/internal/log"
	"github.com/uprootnetworks/uproot/internal/netwait"
)

// RestoreOptions drives a baseline restore of one firewall.
type RestoreOptions struct {
	// Addr is the SSH endpoint, host:port.
	Addr     string
	User     string
	Password string
	// Baseline is the local known-good config.xml.
	Baseline string

	// Reboot timing. Zero values get defaults.
	PreRebootDelay time.Duration // settle time before reboot (15s)
	DownWait       time.Duration // max wait for SSH to drop (60s)
	UpWait         time.Duration // max wait for SSH to return (300s)
}

func (o *RestoreOptions) defaults() {
	if o.PreRebootDelay == 0 {
		o.PreRebootDelay = 15 * time.Second
	}
	if o.DownWait == 0 {
		o.DownWait = 60 * time.Second
	}
	if o.UpWait == 0 {
		o.UpWait = 5 * time.Minute
	}
}

const remoteConfigPath = "/conf/config.xml"

// Restore uploads the baseline config.xml, reboots the firewall, and
// verifies the reboot actually happened by comparing kernel boot times.
func Restore(ctx context.Context, label string, opts RestoreOptions) error {
	opts.defaults()

	if _, err := os.Stat(opts.Baseline); err != nil {
		return fmt.Errorf("%s: baseline file missing: %s", label, opts.Baseline)
	}

	l := log.With("firewall", label)
	l.Info("restoring baseline config", "baseline", opts.Baseline, "addr", opts.Addr)

	client, err := dial(ctx, opts)
	if err != nil {
		return fmt.Errorf("%s: ssh: %w", label, err)
	}

	if err := upload(client, opts.Baseline, remoteConfigPath); err != nil {
		client.Close()
		return fmt.Errorf("%s: uploading baseline: %w", label, err)
	}

	bootBefore, err := boottime(client)
	if err != nil {
		l.Warn("could not read boot time before reboot", "err", err)
	}

	l.Info("baseline uploaded, waiting before reboot", "delay", opts.PreRebootDelay)
	select {
	case <-time.After(opts.PreRebootDelay):
	case <-ctx.Done():
		client.Close()
		return ctx.Err()
	}

	l.Info("rebooting")
	// The session dies as the box goes down; errors here are expected.
	if sess, err := client.NewSession(); err == nil {
		_ = sess.Start("reboot")
		sess.Close()
	}
	client.Close()

	l.Info("waiting for ssh to drop", "timeout", opts.DownWait)
	if err := netwait.Down(ctx, opts.Addr, opts.DownWait, 2*time.Second); err != nil {
		l.Warn("ssh never appeared to drop, continuing", "err", err)
	}

	l.Info("waiting for ssh to return", "timeout", opts.UpWait)
	if err := netwait.Up(ctx, opts.Addr, opts.UpWait, 3*time.Second); err != nil {
		return fmt.Errorf("%s: ssh did not return after reboot; check the node console in EVE-NG: %w", label, err)
	}

	client, err = dial(ctx, opts)
	if err != nil {
		return fmt.Errorf("%s: ssh after reboot: %w", label, err)
	}
	defer client.Close()

	bootAfter, err := boottime(client)
	if err != nil {
		l.Warn("could not read boot time after reboot", "err", err)
		return nil
	}
	if bootBefore != "" && bootBefore == bootAfter {
		return fmt.Errorf("%s: ssh returned but boot time did not change; the node may not have rebooted, reboot it via EVE-NG", label)
	}

	l.Info("reboot verified")
	return nil
}

func dial(ctx context.Context, opts RestoreOptions) (*ssh.Client, error) {
	cfg := &ssh.ClientConfig{
		User:            opts.User,
		Auth:            []ssh.AuthMethod{ssh.Password(opts.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", opts.Addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, opts.Addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func upload(client *ssh.Client, local, remote string) error {
	sc, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("opening sftp: %w", err)
	}
	defer sc.Close()

	src, err := os.Open(local)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := sc.Create(remote)
	if err != nil {
		return fmt.Errorf("creating %s: %w", remote, err)
	}
	if _, err := dst.ReadFrom(src); err != nil {
		dst.Close()
		return fmt.Errorf("writing %s: %w", remote, err)
	}
	return dst.Close()
}

func boottime(client *ssh.Client) (string, error) {
	sess, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer sess.Close()
	out, err := sess.Output("sysctl -n kern.boottime")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
