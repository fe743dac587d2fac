//go:build !linux

package netio

import "net"

// tuneSocket is the portable fallback for non-Linux builds: the
// stdlib's own SetNoDelay, with no raw syscall access. Full parity with
// the teacher's Linux/Windows-IOCP split is not carried forward.
func tuneSocket(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
}
