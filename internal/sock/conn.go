package sock

import (
	"errors"
	"net"
	"os"
)

// Conn adapts a net.Conn to the Socket capability.
type Conn struct {
	net.Conn
}

// NewConn wraps c.
func NewConn(c net.Conn) *Conn {
	return &Conn{Conn: c}
}

// Recv implements interfaces.Socket.
func (c *Conn) Recv(p []byte) (int, error) {
	return c.Conn.Read(p)
}

// Send implements interfaces.Socket.
func (c *Conn) Send(p []byte) (int, error) {
	return c.Conn.Write(p)
}

// IsWouldBlock reports whether err only means the socket had nothing to do
// right now: EAGAIN/EWOULDBLOCK on a non-blocking socket or an expired
// deadline on a net.Conn. There is no retry inside this package; callers
// decide when to try again.
func IsWouldBlock(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	return isWouldBlockErrno(err)
}

// Tune enables TCP_NODELAY and an SO_LINGER of lingerSecs on a client socket.
func Tune(c net.Conn, lingerSecs int) error {
	if err := SetNoDelay(c, true); err != nil {
		return err
	}
	return SetLinger(c, true, lingerSecs)
}
