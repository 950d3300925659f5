// Package transport implements the framed, reliable byte-stream connection
// an AgentX session speaks over: TCP by default, or an AF_UNIX stream
// socket when the master exposes one.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/agentx-go/subagent/agentx/pdu"
	"golang.org/x/sys/unix"
)

// ErrConnectionError wraps any I/O failure surfaced by the transport.
var ErrConnectionError = errors.New("agentx transport connection error")

// Conn is a framed AgentX connection: read_pdu pulls a header, learns the
// payload length, reads exactly that many more bytes, and decodes; write
// writes a complete encoded PDU atomically.
type Conn struct {
	nc net.Conn
}

// Dial connects to network ("tcp" or "unix") at address. For "tcp" the
// default AgentX port is 705 when address carries no port. For "unix" the
// default path is /var/agentx/master.
func Dial(ctx context.Context, network, address string) (*Conn, error) {
	switch network {
	case "tcp":
		if _, _, err := net.SplitHostPort(address); err != nil {
			address = net.JoinHostPort(address, "705")
		}
	case "unix":
		if address == "" {
			address = "/var/agentx/master"
		}
	}
	var d net.Dialer
	nc, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s %s: %v", ErrConnectionError, network, address, err)
	}
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(30 * time.Second)
	}
	applySocketOptions(nc)
	return &Conn{nc: nc}, nil
}

// applySocketOptions tunes low-level socket behavior via golang.org/x/sys/unix
// where the connection exposes a raw file descriptor, mirroring the socket
// option tuning internal/netio performs on its BFD UDP sockets (there for
// TTL/GTSM; here for keepalive tuning on AF_UNIX, which net.TCPConn's
// SetKeepAlive does not cover).
func applySocketOptions(nc net.Conn) {
	sc, ok := nc.(syscall.Conn)
	if !ok {
		return
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
	})
}

// NewConn wraps an already-established net.Conn (used by tests: over an
// in-memory pipe, and on the accepted side of a fake master's TCP
// listener).
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc}
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	if err := c.nc.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrConnectionError, err)
	}
	return nil
}

// WritePDU encodes and writes p as a single atomic write.
func (c *Conn) WritePDU(p pdu.Packet) error {
	buf, err := pdu.Encode(p)
	if err != nil {
		return fmt.Errorf("encode pdu: %w", err)
	}
	if _, err := c.nc.Write(buf); err != nil {
		return fmt.Errorf("%w: write: %v", ErrConnectionError, err)
	}
	return nil
}

// ReadPDU reads a complete PDU: at least HeaderSize bytes to learn the
// payload length, then exactly that many more bytes, then decodes.
func (c *Conn) ReadPDU() (pdu.Packet, error) {
	header := make([]byte, pdu.HeaderSize)
	if _, err := io.ReadFull(c.nc, header); err != nil {
		return pdu.Packet{}, fmt.Errorf("%w: read header: %v", ErrConnectionError, err)
	}
	h, err := pdu.DecodeHeader(header)
	if err != nil {
		return pdu.Packet{}, err
	}

	full := make([]byte, pdu.HeaderSize+int(h.PayloadLength))
	copy(full, header)
	if h.PayloadLength > 0 {
		if _, err := io.ReadFull(c.nc, full[pdu.HeaderSize:]); err != nil {
			return pdu.Packet{}, fmt.Errorf("%w: read payload: %v", ErrConnectionError, err)
		}
	}
	return pdu.Decode(full)
}

// SetDeadline sets both read and write deadlines on the underlying
// connection, used by the session FSM to bound the Open/Register handshake
// and the best-effort Close response wait.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.nc.SetDeadline(t)
}

// LocalAddr and RemoteAddr expose the underlying socket's endpoints, used
// by admin introspection.
func (c *Conn) LocalAddr() net.Addr  { return c.nc.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }
