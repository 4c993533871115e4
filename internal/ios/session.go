// Package ios drives a Cisco IOS CLI over telnet or SSH: prompt
// discovery, privileged exec, config pushes, and golden-config replace.
package ios

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/uprootnetworks/uproot/internal/log"
)

// ErrSessionDropped marks a connection that died mid-exchange. Some
// faults sever the management path while committing, so callers may
// treat this as expected.
var ErrSessionDropped = errors.New("session dropped")

// DefaultTimeout bounds a single command round trip. IOU consoles are
// slow to echo, so this is generous.
const DefaultTimeout = 20 * time.Second

// timingWindow is how long timing-mode reads wait for output to settle.
// A variable so tests can shrink it.
var timingWindow = 2 * time.Second

type chunk struct {
	data []byte
	err  error
}

// Session is one interactive CLI connection to a device.
type Session struct {
	name       string
	rwc        io.ReadWriteCloser
	extraClose func() error
	chunks     chan chunk
	pending    []byte
	done       chan struct{}
	readerDone chan struct{}
	closeOnce  sync.Once

	// Timeout bounds prompt-waited commands.
	Timeout time.Duration

	log *slog.Logger
}

func newSession(name string, rwc io.ReadWriteCloser, extraClose func() error) *Session {
	s := &Session{
		name:       name,
		rwc:        rwc,
		extraClose: extraClose,
		chunks:     make(chan chunk, 16),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
		Timeout:    DefaultTimeout,
		log:        log.With("device", name),
	}
	go s.reader()
	return s
}

// reader pumps console output into the chunk channel. Close unblocks it
// even when nothing is draining the channel, so a chatty console during
// teardown cannot strand the goroutine.
func (s *Session) reader() {
	defer close(s.readerDone)
	buf := make([]byte, 4096)
	for {
		n, err := s.rwc.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case s.chunks <- chunk{data: data}:
			case <-s.done:
				return
			}
		}
		if err != nil {
			select {
			case s.chunks <- chunk{err: err}:
			case <-s.done:
			}
			close(s.chunks)
			return
		}
	}
}

// Close tears down the connection.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	err := s.rwc.Close()
	if s.extraClose != nil {
		if cerr := s.extraClose(); err == nil {
			err = cerr
		}
	}
	return err
}

func (s *Session) write(line string) error {
	if _, err := s.rwc.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionDropped, err)
	}
	return nil
}

// endsWithPrompt reports whether the last line of out looks like an IOS
// exec or config prompt.
func endsWithPrompt(out string) bool {
	trimmed := strings.TrimRight(out, " \t")
	if trimmed == "" {
		return false
	}
	if idx := strings.LastIndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSpace(trimmed)
	if trimmed == "" {
		return false
	}
	return strings.HasSuffix(trimmed, "#") || strings.HasSuffix(trimmed, ">")
}

// collect gathers output. With a stop predicate it returns as soon as the
// predicate matches or errors at the deadline; without one it returns
// whatever arrived inside the window (timing mode).
func (s *Session) collect(ctx context.Context, window time.Duration, stop func(string) bool) (string, error) {
	var b strings.Builder
	if len(s.pending) > 0 {
		b.Write(s.pending)
		s.pending = nil
	}

	timer := time.NewTimer(window)
	defer timer.Stop()

	for {
		if stop != nil && stop(b.String()) {
			return b.String(), nil
		}
		select {
		case ch, ok := <-s.chunks:
			if !ok || ch.err != nil {
				var detail error
				if ok {
					detail = ch.err
				} else {
					detail = io.EOF
				}
				return b.String(), fmt.Errorf("%w: %v", ErrSessionDropped, detail)
			}
			b.Write(ch.data)
		case <-timer.C:
			if stop == nil {
				return b.String(), nil
			}
			return b.String(), fmt.Errorf("%s: no prompt after %s (got %q)", s.name, window, tail(b.String()))
		case <-ctx.Done():
			return b.String(), ctx.Err()
		}
	}
}

func tail(s string) string {
	const n = 120
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// FindPrompt nudges the device and returns the current prompt line.
func (s *Session) FindPrompt(ctx context.Context) (string, error) {
	if err := s.write(""); err != nil {
		return "", err
	}
	out, err := s.collect(ctx, s.Timeout, endsWithPrompt)
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimRight(out, " \t\r\n"), "\n")
	return strings.TrimSpace(lines[len(lines)-1]), nil
}

// Login answers optional Username/Password console prompts, then waits
// for an exec prompt. Devices without line authentication go straight to
// the prompt and neither credential is sent.
func (s *Session) Login(ctx context.Context, username, password string) error {
	for attempt := 0; attempt < 4; attempt++ {
		out, err := s.collect(ctx, timingWindow, nil)
		if err != nil {
			return err
		}
		switch {
		case endsWithPrompt(out):
			return nil
		case strings.Contains(out, "Username") || strings.Contains(out, "login:"):
			if username == "" {
				return fmt.Errorf("%s asked for a username but none is configured", s.name)
			}
			if err := s.write(username); err != nil {
				return err
			}
		case strings.Contains(out, "Password"):
			if password == "" {
				return fmt.Errorf("%s asked for a password but none is configured", s.name)
			}
			if err := s.write(password); err != nil {
				return err
			}
		default:
			// Console may need a nudge to print anything.
			if err := s.write(""); err != nil {
				return err
			}
		}
	}
	_, err := s.FindPrompt(ctx)
	return err
}

// EnsurePrivileged gets the session into privileged exec ("#" prompt),
// entering enable mode with the secret when needed, and disables paging.
func (s *Session) EnsurePrivileged(ctx context.Context, enableSecret string) error {
	prompt, err := s.FindPrompt(ctx)
	if err != nil {
		return err
	}

	switch {
	case strings.HasSuffix(prompt, "#"):
		// already privileged
	case strings.HasSuffix(prompt, ">"):
		if err := s.write("enable"); err != nil {
			return err
		}
		out, err := s.collect(ctx, timingWindow, nil)
		if err != nil {
			return err
		}
		if strings.Contains(out, "Password") {
			if enableSecret == "" {
				return fmt.Errorf("%s wants an enable password but none is configured; set the device's enable secret in the inventory", s.name)
			}
			if err := s.write(enableSecret); err != nil {
				return err
			}
		}
		prompt, err = s.FindPrompt(ctx)
		if err != nil {
			return err
		}
		if !strings.HasSuffix(prompt, "#") {
			return fmt.Errorf("%s: failed to enter privileged mode (prompt %q)", s.name, prompt)
		}
	default:
		return fmt.Errorf("%s: unexpected prompt %q", s.name, prompt)
	}

	_, err = s.Run(ctx, "terminal length 0")
	return err
}

// Run executes a command and returns its output with the echoed command
// and trailing prompt stripped.
func (s *Session) Run(ctx context.Context, cmd string) (string, error) {
	s.log.Debug("run", "cmd", cmd)
	if err := s.write(cmd); err != nil {
		return "", err
	}
	out, err := s.collect(ctx, s.Timeout, endsWithPrompt)
	if err != nil {
		return out, err
	}
	return cleanOutput(out, cmd), nil
}

// RunTiming executes a command and returns whatever output arrives
// within the window, without waiting for a prompt. Used where the device
// may reload, drop the line, or print interactive noise.
func (s *Session) RunTiming(ctx context.Context, cmd string, window time.Duration) (string, error) {
	s.log.Debug("run timing", "cmd", cmd, "window", window)
	if err := s.write(cmd); err != nil {
		return "", err
	}
	if window <= 0 {
		window = timingWindow
	}
	out, err := s.collect(ctx, window, nil)
	return cleanOutput(out, cmd), err
}

func cleanOutput(out, cmd string) string {
	out = strings.ReplaceAll(out, "\r\n", "\n")
	lines := strings.Split(out, "\n")
	start := 0
	if len(lines) > 0 && strings.Contains(lines[0], cmd) {
		start = 1
	}
	end := len(lines)
	if end > start && endsWithPrompt(lines[end-1]) {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}

// ConfigSet enters config mode, applies each command, and exits. The
// caller decides whether an ErrSessionDropped is fatal: faults that cut
// the management path kill the connection while committing.
func (s *Session) ConfigSet(ctx context.Context, cmds []string) error {
	if _, err := s.Run(ctx, "configure terminal"); err != nil {
		return err
	}
	for _, cmd := range cmds {
		if _, err := s.Run(ctx, cmd); err != nil {
			return fmt.Errorf("applying %q: %w", cmd, err)
		}
	}
	if _, err := s.Run(ctx, "end"); err != nil {
		return err
	}
	return nil
}

// ConfigReplace rolls the running config back to source (e.g.
// unix:golden-backup.cfg) and writes memory.
func (s *Session) ConfigReplace(ctx context.Context, source string) error {
	out, err := s.RunTiming(ctx, "configure replace "+source+" force", 30*time.Second)
	if err != nil {
		return fmt.Errorf("configure replace: %w", err)
	}
	if strings.Contains(out, "%") && strings.Contains(strings.ToLower(out), "error") {
		return fmt.Errorf("configure replace failed: %s", strings.TrimSpace(out))
	}
	if _, err := s.FindPrompt(ctx); err != nil {
		return err
	}
	return s.WriteMemory(ctx)
}

// WriteMemory commits the running config to startup.
func (s *Session) WriteMemory(ctx context.Context) error {
	_, err := s.RunTiming(ctx, "write memory", 10*time.Second)
	return err
}
