package netwait

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

func TestUpListening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	if err := Up(context.Background(), ln.Addr().String(), 2*time.Second, 10*time.Millisecond); err != nil {
		t.Fatalf("Up: %v", err)
	}
}

func TestUpTimeout(t *testing.T) {
	// Reserve a port, then close it so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	err = Up(context.Background(), addr, 150*time.Millisecond, 20*time.Millisecond)
	if err == nil {
		t.Fatal("want timeout error")
	}
	if !strings.Contains(err.Error(), addr) {
		t.Errorf("error should name the address: %v", err)
	}
}

func TestDownAfterClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()

	done := make(chan error, 1)
	go func() {
		done <- Down(context.Background(), addr, 2*time.Second, 10*time.Millisecond)
	}()
	time.Sleep(30 * time.Millisecond)
	ln.Close()

	if err := <-done; err != nil {
		t.Fatalf("Down: %v", err)
	}
}

func TestUpCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Up(ctx, "192.0.2.1:23", 5*time.Second, 10*time.Millisecond)
	if err == nil {
		t.Fatal("want error when context already cancelled")
	}
}
