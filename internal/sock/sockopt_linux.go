//go:build linux

package sock

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

func control(c net.Conn, fn func(fd int) error) error {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return fmt.Errorf("socket options: %T has no file descriptor", c)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return fmt.Errorf("socket options: %w", err)
	}
	var opErr error
	if err := raw.Control(func(fd uintptr) {
		opErr = fn(int(fd))
	}); err != nil {
		return fmt.Errorf("socket options: %w", err)
	}
	return opErr
}

// SetNoDelay sets TCP_NODELAY.
func SetNoDelay(c net.Conn, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return control(c, func(fd int) error {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v); err != nil {
			return fmt.Errorf("set TCP_NODELAY: %w", err)
		}
		return nil
	})
}

// SetLinger sets SO_LINGER.
func SetLinger(c net.Conn, on bool, secs int) error {
	l := &unix.Linger{Linger: int32(secs)}
	if on {
		l.Onoff = 1
	}
	return control(c, func(fd int) error {
		if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, l); err != nil {
			return fmt.Errorf("set SO_LINGER: %w", err)
		}
		return nil
	})
}

func isWouldBlockErrno(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
