// Package netwait polls for TCP reachability. Restore sequences use it to
// watch rebooting nodes drop off the network and come back.
package netwait

import (
	"context"
	"fmt"
	"net"
	"time"
)

const dialTimeout = 3 * time.Second

// Open reports whether a TCP connection to addr succeeds.
func Open(ctx context.Context, addr string) bool {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Up blocks until addr accepts a TCP connection, polling every interval,
// or fails after timeout.
func Up(ctx context.Context, addr string, timeout, interval time.Duration) error {
	return poll(ctx, addr, timeout, interval, true)
}

// Down blocks until addr stops accepting TCP connections.
func Down(ctx context.Context, addr string, timeout, interval time.Duration) error {
	return poll(ctx, addr, timeout, interval, false)
}

func poll(ctx context.Context, addr string, timeout, interval time.Duration, wantOpen bool) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if Open(ctx, addr) == wantOpen {
			return nil
		}
		select {
		case <-ctx.Done():
			state := "reachable"
			if !wantOpen {
				state = "unreachable"
			}
			return fmt.Errorf("timed out after %s waiting for %s to become %s", timeout, addr, state)
		case <-ticker.C:
		}
	}
}
