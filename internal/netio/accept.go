// Package netio is the Network Worker: it owns the connmgr.Manager,
// polls every live connection for readable frames, drains outbound
// events from the Simulation Worker, and performs one pass every
// PassPeriod. A sibling AcceptLoop runs as the third long-lived
// task described in the design: it owns nothing but the listening
// socket and hands freshly handshaken connections off by channel.
package netio

import (
	"context"
	"errors"
	"log"
	"net"

	"github.com/arborwatch/ecosim/internal/wsproto"
)

// AcceptLoop binds addr and runs Serve on it. It exists as the
// convenience entry point cmd/ecosim-server uses; tests that need to
// know the bound ephemeral port should call net.Listen themselves and
// use Serve directly, since ":0" resolves to a different port each time.
func AcceptLoop(ctx context.Context, addr string, newConns chan<- net.Conn, logger *log.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, newConns, logger)
}

// Serve runs the accept loop over an already-bound listener: for as
// long as ctx is alive, it accepts TCP connections and performs the
// WebSocket upgrade handshake on each in its own goroutine, handing the
// result to newConns. A connection that fails its handshake is closed
// and never handed off — see wsproto.Handshake for the 400-and-close
// behaviour. Serve returns when ctx is cancelled or the listener fails.
func Serve(ctx context.Context, ln net.Listener, newConns chan<- net.Conn, logger *log.Logger) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if logger != nil {
				logger.Printf("netio: accept error: %v", err)
			}
			continue
		}
		go handshakeAndHandoff(ctx, conn, newConns, logger)
	}
}

func handshakeAndHandoff(ctx context.Context, conn net.Conn, newConns chan<- net.Conn, logger *log.Logger) {
	tuneSocket(conn)
	if err := wsproto.Handshake(conn); err != nil {
		if logger != nil {
			logger.Printf("netio: handshake from %s failed: %v", conn.RemoteAddr(), err)
		}
		_ = conn.Close()
		return
	}
	select {
	case newConns <- conn:
	case <-ctx.Done():
		_ = conn.Close()
	}
}
