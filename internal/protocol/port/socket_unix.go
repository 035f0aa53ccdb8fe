//go:build !windows

package port

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setReuseAddr is a net.Dialer Control callback enabling SO_REUSEADDR on the
// client's outbound socket, so a rapid reconnect after the coordinator tears
// a session down doesn't collide with the previous connection's TIME_WAIT.
func setReuseAddr(_, _ string, conn syscall.RawConn) error {
	var sockErr error
	err := conn.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
