//go:build linux

package netio

import (
	"net"

	"golang.org/x/sys/unix"
)

// tuneSocket disables Nagle's algorithm on the accepted connection via a
// raw setsockopt call. It does not change the socket's blocking mode:
// non-blocking poll is done uniformly across platforms by connmgr's
// deadline-based frame assembly; this build tag only owns the one thing
// that genuinely differs per platform.
func tuneSocket(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	})
}
