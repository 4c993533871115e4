package ios

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"
)

// pipeConn adapts an in-memory reader/writer pair to net.Conn for the
// telnet codec.
type pipeConn struct {
	r io.Reader
	w io.Writer
}

func (p *pipeConn) Read(b []byte) (int, error)         { return p.r.Read(b) }
func (p *pipeConn) Write(b []byte) (int, error)        { return p.w.Write(b) }
func (p *pipeConn) Close() error                       { return nil }
func (p *pipeConn) LocalAddr() net.Addr                { return nil }
func (p *pipeConn) RemoteAddr() net.Addr               { return nil }
func (p *pipeConn) SetDeadline(t time.Time) error      { return nil }
func (p *pipeConn) SetReadDeadline(t time.Time) error  { return nil }
func (p *pipeConn) SetWriteDeadline(t time.Time) error { return nil }

func telnetRead(t *testing.T, input []byte) (data []byte, replies []byte) {
	t.Helper()
	var out bytes.Buffer
	conn := &telnetConn{Conn: &pipeConn{r: bytes.NewReader(input), w: &out}}

	got, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return got, out.Bytes()
}

func TestTelnetPassesPlainData(t *testing.T) {
	data, replies := telnetRead(t, []byte("Switch>"))
	if string(data) != "Switch>" {
		t.Errorf("data = %q", data)
	}
	if len(replies) != 0 {
		t.Errorf("unexpected negotiation replies: %v", replies)
	}
}

func TestTelnetRefusesOptions(t *testing.T) {
	input := []byte{
		telnetIAC, telnetDO, 1, // DO echo
		'o', 'k',
		telnetIAC, telnetWILL, 3, // WILL suppress-go-ahead
	}
	data, replies := telnetRead(t, input)
	if string(data) != "ok" {
		t.Errorf("data = %q", data)
	}
	want := []byte{
		telnetIAC, telnetWONT, 1,
		telnetIAC, telnetDONT, 3,
	}
	if !bytes.Equal(replies, want) {
		t.Errorf("replies = %v, want %v", replies, want)
	}
}

func TestTelnetIgnoresDontAndWont(t *testing.T) {
	input := []byte{telnetIAC, telnetDONT, 1, 'x', telnetIAC, telnetWONT, 3, 'y'}
	data, replies := telnetRead(t, input)
	if string(data) != "xy" {
		t.Errorf("data = %q", data)
	}
	if len(replies) != 0 {
		t.Errorf("replied to DONT/WONT: %v", replies)
	}
}

func TestTelnetStripsSubnegotiation(t *testing.T) {
	input := []byte{
		'a',
		telnetIAC, telnetSB, 24, 1, 0, telnetIAC, telnetSE,
		'b',
	}
	data, _ := telnetRead(t, input)
	if string(data) != "ab" {
		t.Errorf("data = %q", data)
	}
}

func TestTelnetEscapedIAC(t *testing.T) {
	input := []byte{'a', telnetIAC, telnetIAC, 'b'}
	data, _ := telnetRead(t, input)
	if !bytes.Equal(data, []byte{'a', telnetIAC, 'b'}) {
		t.Errorf("data = %v", data)
	}
}

func TestTelnetNegotiationSplitAcrossReads(t *testing.T) {
	// One byte per Read call still parses the option sequence.
	var out bytes.Buffer
	conn := &telnetConn{Conn: &pipeConn{r: iotest(t, []byte{telnetIAC, telnetDO, 31, 'z'}), w: &out}}

	got, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "z" {
		t.Errorf("data = %q", got)
	}
	want := []byte{telnetIAC, telnetWONT, 31}
	if !bytes.Equal(out.Bytes(), want) {
		t.Errorf("replies = %v, want %v", out.Bytes(), want)
	}
}

// iotest returns a reader that yields one byte per Read.
func iotest(t *testing.T, b []byte) io.Reader {
	t.Helper()
	return &oneByteReader{rest: b}
}

type oneByteReader struct {
	rest []byte
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if len(r.rest) == 0 {
		return 0, io.EOF
	}
	p[0] = r.rest[0]
	r.rest = r.rest[1:]
	return 1, nil
}

func TestTelnetWriteEscapesIAC(t *testing.T) {
	var out bytes.Buffer
	conn := &telnetConn{Conn: &pipeConn{r: bytes.NewReader(nil), w: &out}}

	n, err := conn.Write([]byte{'a', telnetIAC, 'b'})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 3 {
		t.Errorf("n = %d, want 3", n)
	}
	want := []byte{'a', telnetIAC, telnetIAC, 'b'}
	if !bytes.Equal(out.Bytes(), want) {
		t.Errorf("wrote %v, want %v", out.Bytes(), want)
	}
}
