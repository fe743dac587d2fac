// Command ecosim-server wires together the accept loop, the Network
// Worker and the Simulation Worker and runs them until SIGINT/SIGTERM.
// It contains no protocol or simulation logic of its own — every
// behaviour lives in internal/wsproto, internal/connmgr, internal/netio,
// internal/simulation and internal/world; this file only constructs and
// connects them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/arborwatch/ecosim/internal/config"
	"github.com/arborwatch/ecosim/internal/connmgr"
	"github.com/arborwatch/ecosim/internal/netio"
	"github.com/arborwatch/ecosim/internal/simmsg"
	"github.com/arborwatch/ecosim/internal/simulation"
	"github.com/arborwatch/ecosim/internal/telemetry"
	"github.com/arborwatch/ecosim/internal/world"
)

func main() {
	addr := flag.String("addr", "", "WebSocket listen address (overrides ECOSIM_LISTEN_ADDR / default)")
	tick := flag.Duration("tick", 0, "world tick period (overrides ECOSIM_TICK_PERIOD / default)")
	flag.Parse()

	cfg := config.DefaultConfig()
	cfg.ApplyEnv()
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *tick != 0 {
		cfg.TickPeriod = *tick
	}

	logger := log.New(os.Stderr, "ecosim-server: ", log.LstdFlags)
	reg := telemetry.NewRegistry()

	if err := run(cfg, logger, reg); err != nil {
		logger.Fatalf("fatal: %v", err)
	}
}

func run(cfg *config.Config, logger *log.Logger, reg *telemetry.Registry) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	seed := cfg.WorldSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	w := world.NewRandom(cfg.WorldWidth, cfg.WorldHeight, rand.New(rand.NewSource(seed)))
	reg.RegisterProbe("world.width", func() any { return cfg.WorldWidth })
	reg.RegisterProbe("world.height", func() any { return cfg.WorldHeight })

	newConns := make(chan net.Conn, 64)
	toSim := make(chan simmsg.Inbound, 1024)
	toNet := make(chan simmsg.Outbound, 1024)

	mgr := connmgr.NewManagerWithLogger(logger)
	mgr.MaxFailedAuthAttempts = cfg.MaxFailedAuthAttempts
	netWorker := netio.NewWorker(mgr, newConns, toSim, toNet, reg, logger)
	netWorker.PassPeriod = cfg.NetworkPassPeriod

	simWorker := simulation.NewWorker(w, toSim, toNet, reg, logger, cfg.TickPeriod, rand.New(rand.NewSource(seed+1)))
	simWorker.PassPeriod = cfg.SimPassPeriod

	var wg sync.WaitGroup
	wg.Add(3)

	var acceptErr error
	go func() {
		defer wg.Done()
		acceptErr = netio.AcceptLoop(ctx, cfg.ListenAddr, newConns, logger)
	}()
	go func() {
		defer wg.Done()
		netWorker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		simWorker.Run(ctx)
	}()

	logger.Printf("listening on %s (world %dx%d, tick %s)", cfg.ListenAddr, cfg.WorldWidth, cfg.WorldHeight, cfg.TickPeriod)
	<-ctx.Done()
	logger.Printf("shutting down")
	wg.Wait()

	if acceptErr != nil {
		return fmt.Errorf("accept loop: %w", acceptErr)
	}
	return nil
}
