// Package integration exercises the whole server — accept loop, Network
// Worker and Simulation Worker wired together exactly as
// cmd/ecosim-server assembles them — through a real TCP socket, using
// gorilla/websocket purely as a black-box client. It lives in its own
// module so the client dependency never touches the server's own go.mod.
package integration

import (
	"context"
	"log"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/arborwatch/ecosim/internal/connmgr"
	"github.com/arborwatch/ecosim/internal/netio"
	"github.com/arborwatch/ecosim/internal/simmsg"
	"github.com/arborwatch/ecosim/internal/simulation"
	"github.com/arborwatch/ecosim/internal/telemetry"
	"github.com/arborwatch/ecosim/internal/world"
)

// testServer is a running server assembled from the same three
// goroutines cmd/ecosim-server wires up, bound to an ephemeral port so
// parallel tests never collide.
type testServer struct {
	addr string
	sim  *simulation.Worker
	reg  *telemetry.Registry
	stop context.CancelFunc
	done chan struct{}
}

// startTestServer binds an ephemeral listener and runs the accept loop,
// Network Worker and Simulation Worker against it with TickPeriod 0, so
// ticks only ever happen when the test calls sim.StepTick.
func startTestServer(t *testing.T) *testServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	logger := log.New(testWriter{t}, "", 0)
	reg := telemetry.NewRegistry()

	w := world.NewRandom(world.DefaultWidth, world.DefaultHeight, rand.New(rand.NewSource(1)))

	newConns := make(chan net.Conn, 16)
	toSim := make(chan simmsg.Inbound, 256)
	toNet := make(chan simmsg.Outbound, 256)

	mgr := connmgr.NewManagerWithLogger(logger)
	netWorker := netio.NewWorker(mgr, newConns, toSim, toNet, reg, logger)
	netWorker.PassPeriod = 5 * time.Millisecond

	simWorker := simulation.NewWorker(w, toSim, toNet, reg, logger, 0, rand.New(rand.NewSource(2)))
	simWorker.PassPeriod = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		go netio.Serve(ctx, ln, newConns, logger)
		go netWorker.Run(ctx)
		simWorker.Run(ctx)
	}()

	ts := &testServer{
		addr: ln.Addr().String(),
		sim:  simWorker,
		reg:  reg,
		stop: cancel,
		done: done,
	}
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ts
}

// wsURL returns the ws:// URL a gorilla/websocket dialer connects to.
func (ts *testServer) wsURL() string {
	return "ws://" + ts.addr + "/"
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

// eventually polls cond every step until it returns true or timeout
// elapses, failing the test otherwise. Used instead of a fixed sleep
// whenever a test must wait on the 5ms worker pass cadence.
func eventually(t *testing.T, timeout, step time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(step)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}
