package ios

import (
	"context"
	"net"
	"time"
)

// Telnet protocol bytes (RFC 854/855). EVE-NG IOU nodes expose their
// console on plain telnet; we refuse every option so the NVT stays in
// its default line mode.
const (
	telnetSE   = 240
	telnetSB   = 250
	telnetWILL = 251
	telnetWONT = 252
	telnetDO   = 253
	telnetDONT = 254
	telnetIAC  = 255
)

// telnetConn filters IAC negotiation out of the byte stream and answers
// every DO with WONT and every WILL with DONT.
type telnetConn struct {
	net.Conn
	// leftover negotiation state across Read calls
	state   int
	command byte
}

const (
	stateData = iota
	stateIAC
	stateOption
	stateSub
	stateSubIAC
)

func (t *telnetConn) Read(p []byte) (int, error) {
	raw := make([]byte, len(p))
	for {
		nr, err := t.Conn.Read(raw)
		n := 0
		for _, b := range raw[:nr] {
			switch t.state {
			case stateData:
				if b == telnetIAC {
					t.state = stateIAC
				} else {
					p[n] = b
					n++
				}
			case stateIAC:
				switch b {
				case telnetIAC:
					// escaped 0xFF data byte
					p[n] = b
					n++
					t.state = stateData
				case telnetSB:
					t.state = stateSub
				case telnetDO, telnetDONT, telnetWILL, telnetWONT:
					t.command = b
					t.state = stateOption
				default:
					t.state = stateData
				}
			case stateOption:
				t.refuse(t.command, b)
				t.state = stateData
			case stateSub:
				if b == telnetIAC {
					t.state = stateSubIAC
				}
			case stateSubIAC:
				if b == telnetSE {
					t.state = stateData
				} else {
					t.state = stateSub
				}
			}
		}
		if n > 0 || err != nil {
			return n, err
		}
		// consumed pure negotiation; read again
	}
}

func (t *telnetConn) refuse(command, option byte) {
	var reply byte
	switch command {
	case telnetDO:
		reply = telnetWONT
	case telnetWILL:
		reply = telnetDONT
	default:
		return
	}
	t.Conn.Write([]byte{telnetIAC, reply, option})
}

func (t *telnetConn) Write(p []byte) (int, error) {
	// Escape literal IAC bytes. Config text is ASCII so this is rare.
	out := make([]byte, 0, len(p))
	for _, b := range p {
		if b == telnetIAC {
			out = append(out, telnetIAC)
		}
		out = append(out, b)
	}
	if _, err := t.Conn.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// DialTelnet opens a telnet session to addr (host:port).
func DialTelnet(ctx context.Context, name, addr string) (*Session, error) {
	d := net.Dialer{Timeout: 10 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return newSession(name, &telnetConn{Conn: conn}, nil), nil
}
