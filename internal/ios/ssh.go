package ios

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// sshShell adapts an interactive SSH shell to the io.ReadWriteCloser the
// session reader expects.
type sshShell struct {
	stdin   io.WriteCloser
	stdout  io.Reader
	session *ssh.Session
}

func (s *sshShell) Read(p []byte) (int, error)  { return s.stdout.Read(p) }
func (s *sshShell) Write(p []byte) (int, error) { return s.stdin.Write(p) }
func (s *sshShell) Close() error                { return s.session.Close() }

// DialSSH opens an interactive shell to a Cisco node over SSH. Lab images
// run ancient SSH stacks, so the legacy key exchanges and CBC ciphers are
// allowed and host keys are not checked.
func DialSSH(ctx context.Context, name, addr, user, password string) (*Session, error) {
	cfg := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}
	cfg.KeyExchanges = append(cfg.KeyExchanges,
		"diffie-hellman-group1-sha1", "diffie-hellman-group14-sha1")
	cfg.Ciphers = append(cfg.Ciphers, "aes128-cbc", "3des-cbc")

	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	client := ssh.NewClient(c, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("opening ssh session: %w", err)
	}
	if err := session.RequestPty("vt100", 0, 512, ssh.TerminalModes{
		ssh.ECHO: 0,
	}); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("requesting pty: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, err
	}
	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("starting shell: %w", err)
	}

	return newSession(name, &sshShell{stdin: stdin, stdout: stdout, session: session}, client.Close), nil
}
