// Package simulation is the Simulation Worker: the single goroutine
// that owns a *world.World, services session and auth requests from
// the Network Worker, and drives the deterministic tick loop. Nothing
// outside this goroutine ever reads or mutates the World — see
// internal/world's package doc.
package simulation

import (
	"context"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/arborwatch/ecosim/internal/simmsg"
	"github.com/arborwatch/ecosim/internal/telemetry"
	"github.com/arborwatch/ecosim/internal/world"
)

// sessionTokenSpace matches the client key-space mentioned in the
// design (parity with a 3^9 range); any opaque 32-bit value would do,
// this one is just the one the design calls out explicitly.
const sessionTokenSpace = 19683 // 3^9

// DefaultPassPeriod is the Simulation Worker's per-pass sleep.
const DefaultPassPeriod = 50 * time.Millisecond

// MaxInboundDrainPerPass bounds how many SimulationMessages one pass
// services before checking whether a tick is due, so a burst of
// requests cannot indefinitely delay the world clock.
const MaxInboundDrainPerPass = 256

// Worker is the Simulation Worker.
type Worker struct {
	World *world.World

	Inbound  <-chan simmsg.Inbound
	Outbound chan<- simmsg.Outbound

	Telemetry *telemetry.Registry
	Logger    *log.Logger

	// TickPeriod is how often Run advances the world. Zero disables the
	// automatic tick check entirely — tests set it to zero and call
	// StepTick to advance manually, matching "TICK_PERIOD set to 0 for
	// tests so ticks advance manually".
	TickPeriod time.Duration
	PassPeriod time.Duration

	rng      *rand.Rand
	lastTick time.Time

	// manualTick/tickDone let a test drive ticks deterministically when
	// TickPeriod is zero: StepTick enqueues a request on manualTick,
	// which the worker's own goroutine services inside its next pass,
	// signalling completion on tickDone. World is never touched from
	// two goroutines at once.
	manualTick chan struct{}
	tickDone   chan struct{}
}

// NewWorker builds a Simulation Worker around an existing world and
// the two channels connecting it to the Network Worker. rng seeds
// session-token generation; it is independent of any randomness used to
// seed the world's land-energy grid, so token generation never affects
// tick determinism.
func NewWorker(w *world.World, inbound <-chan simmsg.Inbound, outbound chan<- simmsg.Outbound, reg *telemetry.Registry, logger *log.Logger, tickPeriod time.Duration, rng *rand.Rand) *Worker {
	return &Worker{
		World:      w,
		Inbound:    inbound,
		Outbound:   outbound,
		Telemetry:  reg,
		Logger:     logger,
		TickPeriod: tickPeriod,
		PassPeriod: DefaultPassPeriod,
		rng:        rng,
		lastTick:   time.Now(),
		manualTick: make(chan struct{}, 1),
		tickDone:   make(chan struct{}),
	}
}

// StepTick requests a single tick on the worker's own goroutine and
// blocks until pass has serviced it. It is meant for tests that run
// Run(ctx) in a goroutine with TickPeriod 0: calling World.Tick directly
// from the test goroutine would race pass's handling of inbound
// messages, which also mutates World.
func (w *Worker) StepTick() {
	w.manualTick <- struct{}{}
	<-w.tickDone
}

// Run blocks, performing one pass every PassPeriod, until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.PassPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}

// pass drains pending inbound messages and, if TickPeriod has elapsed,
// runs exactly one world tick.
func (w *Worker) pass(ctx context.Context) {
drain:
	for i := 0; i < MaxInboundDrainPerPass; i++ {
		select {
		case msg, ok := <-w.Inbound:
			if !ok {
				break drain
			}
			w.handle(ctx, msg)
		default:
			break drain
		}
	}

	if w.TickPeriod > 0 && time.Since(w.lastTick) >= w.TickPeriod {
		w.Tick(ctx)
		w.lastTick = time.Now()
		return
	}

	if w.TickPeriod <= 0 {
		select {
		case <-w.manualTick:
			w.Tick(ctx)
			w.tickDone <- struct{}{}
		default:
		}
	}
}

// handle services one SimulationMessage per the §4.5 mapping.
func (w *Worker) handle(ctx context.Context, msg simmsg.Inbound) {
	switch m := msg.(type) {
	case simmsg.RequestNewSession:
		token := uint32(w.rng.Intn(sessionTokenSpace))
		w.send(ctx, simmsg.NewSession{Conn: m.Conn, Token: token})

	case simmsg.AttemptAuthSession:
		// AttemptAuthSession always succeeds in this core: token
		// validation is an intentionally unimplemented extension
		// point, not an oversight. See DESIGN.md.
		w.send(ctx, simmsg.AuthSuccess{Conn: m.Conn, Token: m.Token})

	case simmsg.RequestWorldState:
		w.send(ctx, w.snapshot(m.Conn))

	case simmsg.RequestPlaceTree:
		if id, ok := w.World.PlaceTree(m.Species, m.Pos); ok {
			w.send(ctx, simmsg.PlaceTree{ID: id, Pos: m.Pos, Species: m.Species})
		}
	}
}

// snapshot builds the WorldStateReady answer to a RequestWorldState:
// the current discretised health grid plus every live tree's position,
// species and maturity stage.
func (w *Worker) snapshot(conn simmsg.ConnID) simmsg.WorldStateReady {
	trees := make([]simmsg.TreeSnapshot, len(w.World.Trees))
	stages := make([]simmsg.TreeStageEntry, len(w.World.Trees))
	for i, t := range w.World.Trees {
		trees[i] = simmsg.TreeSnapshot{ID: t.ID, Pos: t.Pos, Species: t.Species}
		stages[i] = simmsg.TreeStageEntry{ID: t.ID, Stage: t.WireStage()}
	}
	return simmsg.WorldStateReady{
		Conn:       conn,
		HealthGrid: discretizeHealth(w.World),
		Trees:      trees,
		Stages:     stages,
	}
}

// Tick runs exactly one world tick and emits its resulting events: a
// WorldTick/TreeTick pair every tick boundary, plus one KillTree per
// tree the tick harvested. Exported so pass and StepTick share one
// implementation; tests wanting a deterministic tick should call
// StepTick rather than this directly, to avoid racing pass's own
// inbound-message handling.
func (w *Worker) Tick(ctx context.Context) {
	start := time.Now()
	w.World.Tick()

	w.send(ctx, simmsg.WorldTick{HealthGrid: discretizeHealth(w.World)})
	w.send(ctx, simmsg.TreeTick{Trees: stagesOf(w.World)})

	for _, id := range w.World.DeadTrees {
		w.send(ctx, simmsg.KillTree{ID: id})
	}
	w.World.DeadTrees = w.World.DeadTrees[:0]

	if w.Telemetry != nil {
		w.Telemetry.Add("simulation.ticks", 1)
		w.Telemetry.Set("simulation.live_trees", int64(len(w.World.Trees)))
		w.Telemetry.Set("simulation.last_tick_micros", time.Since(start).Microseconds())
	}
}

func (w *Worker) send(ctx context.Context, msg simmsg.Outbound) {
	select {
	case w.Outbound <- msg:
	case <-ctx.Done():
	}
}

// discretizeHealth encodes the land-health grid into the wire's
// floor(health*255) byte-per-cell form used by HealthUpdate.
func discretizeHealth(w *world.World) []byte {
	out := make([]byte, len(w.LandHealth))
	for i, h := range w.LandHealth {
		v := int(math.Floor(h * 255))
		switch {
		case v < 0:
			v = 0
		case v > 255:
			v = 255
		}
		out[i] = byte(v)
	}
	return out
}

func stagesOf(w *world.World) []simmsg.TreeStageEntry {
	out := make([]simmsg.TreeStageEntry, len(w.Trees))
	for i, t := range w.Trees {
		out[i] = simmsg.TreeStageEntry{ID: t.ID, Stage: t.WireStage()}
	}
	return out
}
