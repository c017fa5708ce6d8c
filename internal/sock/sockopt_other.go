//go:build !linux

package sock

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// SetNoDelay sets TCP_NODELAY.
func SetNoDelay(c net.Conn, on bool) error {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return fmt.Errorf("socket options: %T is not a TCP connection", c)
	}
	return tc.SetNoDelay(on)
}

// SetLinger sets SO_LINGER.
func SetLinger(c net.Conn, on bool, secs int) error {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return fmt.Errorf("socket options: %T is not a TCP connection", c)
	}
	if !on {
		secs = -1
	}
	return tc.SetLinger(secs)
}

func isWouldBlockErrno(err error) bool {
	return errors.Is(err, syscall.EAGAIN)
}
