package netio

import (
	"context"
	"log"
	"net"
	"time"

	"github.com/eapache/queue"

	"github.com/arborwatch/ecosim/internal/connmgr"
	"github.com/arborwatch/ecosim/internal/packet"
	"github.com/arborwatch/ecosim/internal/simmsg"
	"github.com/arborwatch/ecosim/internal/telemetry"
)

// DefaultPassPeriod is the Network Worker's per-pass sleep, matching
// the "one pass every ~50 ms" design budget.
const DefaultPassPeriod = 50 * time.Millisecond

// MaxInboundDrainPerPass caps how many client packets a single pass
// forwards to the Simulation Worker, keeping per-pass latency stable
// under a thundering herd of clients — an explicit MAY from the design.
const MaxInboundDrainPerPass = 256

// Worker is the Network Worker: the single goroutine that owns a
// connmgr.Manager, accepts handshaken sockets handed off by AcceptLoop,
// and ferries packets to and from the Simulation Worker. Nothing
// outside this goroutine touches Mgr.
type Worker struct {
	Mgr        *connmgr.Manager
	NewConns   <-chan net.Conn
	ToSim      chan<- simmsg.Inbound
	FromSim    <-chan simmsg.Outbound
	Telemetry  *telemetry.Registry
	Logger     *log.Logger
	PassPeriod time.Duration

	outbox *queue.Queue
}

// NewWorker wires a Network Worker around an existing connection
// manager and the two channels connecting it to the Simulation Worker.
func NewWorker(mgr *connmgr.Manager, newConns <-chan net.Conn, toSim chan<- simmsg.Inbound, fromSim <-chan simmsg.Outbound, reg *telemetry.Registry, logger *log.Logger) *Worker {
	return &Worker{
		Mgr:        mgr,
		NewConns:   newConns,
		ToSim:      toSim,
		FromSim:    fromSim,
		Telemetry:  reg,
		Logger:     logger,
		PassPeriod: DefaultPassPeriod,
		outbox:     queue.New(),
	}
}

// Run blocks, performing one pass every PassPeriod, until ctx is
// cancelled. New connections are adopted as soon as they arrive rather
// than waiting for the next tick, so a client's first packet is never
// delayed by up to a full pass period just to register.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.PassPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case conn, ok := <-w.NewConns:
			if !ok {
				w.NewConns = nil
				continue
			}
			w.Mgr.Register(conn)
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}

// pass runs the five steps of one Network Worker iteration, in order.
func (w *Worker) pass(ctx context.Context) {
	w.drainOutboundFromSimulation()
	w.drainInboundFromClients(ctx)
	w.Mgr.Sweep()
	w.drainAuthPolling(ctx)
	w.dispatchOutbox()

	if w.Telemetry != nil {
		w.Telemetry.Set("netio.connections", int64(w.Mgr.Count()))
	}
}

// drainOutboundFromSimulation converts every pending NetworkMessage
// into staged wire packets (step 1).
func (w *Worker) drainOutboundFromSimulation() {
	for {
		select {
		case msg, ok := <-w.FromSim:
			if !ok {
				return
			}
			w.stageOutbound(msg)
		default:
			return
		}
	}
}

// drainInboundFromClients repeatedly calls TryReadOne and forwards each
// decoded packet to the Simulation Worker (step 2), up to
// MaxInboundDrainPerPass packets so one noisy pass cannot starve the
// rest of the loop.
func (w *Worker) drainInboundFromClients(ctx context.Context) {
	for i := 0; i < MaxInboundDrainPerPass; i++ {
		id, pkt, ok := w.Mgr.TryReadOne()
		if !ok {
			return
		}
		msg := toInbound(id, pkt)
		if msg == nil {
			continue
		}
		select {
		case w.ToSim <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// drainAuthPolling forwards every connection waiting on a new-session
// grant or an auth decision (step 4).
func (w *Worker) drainAuthPolling(ctx context.Context) {
	for _, id := range w.Mgr.PollNewSessions() {
		select {
		case w.ToSim <- simmsg.RequestNewSession{Conn: id}:
		case <-ctx.Done():
			return
		}
	}
	for _, attempt := range w.Mgr.PollAuthAttempts() {
		select {
		case w.ToSim <- simmsg.AttemptAuthSession{Conn: attempt.Conn, Token: attempt.Token}:
		case <-ctx.Done():
			return
		}
	}
}

// toInbound maps a decoded client packet from a Ready connection onto
// the SimulationMessage it represents. TryReadOne never returns
// RequestNewSession, AttemptAuthSession or Debug — those are consumed
// internally — so only the two Ready-only tags reach here.
func toInbound(id simmsg.ConnID, pkt packet.Packet) simmsg.Inbound {
	switch pkt.Tag {
	case packet.TagRequestDownloadWorld:
		return simmsg.RequestWorldState{Conn: id}
	case packet.TagRequestPlaceTree:
		return simmsg.RequestPlaceTree{
			Conn:    id,
			Pos:     vec2(pkt.X, pkt.Y),
			Species: domainSpecies(pkt.Species),
		}
	default:
		return nil
	}
}

type outboundOp struct {
	targeted bool
	conn     simmsg.ConnID
	tag      packet.Tag
	payload  []byte
}

// stageOutbound encodes one NetworkMessage into one or more wire
// packets and pushes them onto the local staging queue, per the §6
// S→N mapping. The queue defers the actual write to step 5 so a single
// pass's sends preserve the order they were produced in.
func (w *Worker) stageOutbound(msg simmsg.Outbound) {
	switch m := msg.(type) {
	case simmsg.NewSession:
		w.Mgr.GrantNewSession(m.Conn)
		w.stageTargeted(m.Conn, packet.TagNewSession, packet.Packet{Tag: packet.TagNewSession, Token: m.Token})

	case simmsg.AuthSuccess:
		w.Mgr.GrantAuth(m.Conn)
		w.stageTargeted(m.Conn, packet.TagAuthSuccessful, packet.Packet{Tag: packet.TagAuthSuccessful, Token: m.Token})

	case simmsg.AuthFail:
		w.Mgr.NotifyAuthFail(m.Conn)
		w.stageTargeted(m.Conn, packet.TagAuthFail, packet.Packet{Tag: packet.TagAuthFail})

	case simmsg.WorldStateReady:
		w.stageTargeted(m.Conn, packet.TagHealthUpdate, packet.Packet{Tag: packet.TagHealthUpdate, HealthGrid: m.HealthGrid})
		for _, t := range m.Trees {
			w.stageTargeted(m.Conn, packet.TagTreePlaced, packet.Packet{
				Tag: packet.TagTreePlaced, ID: t.ID, X: float32(t.Pos.X), Y: float32(t.Pos.Y),
				Species: wireSpecies(t.Species),
			})
		}
		w.stageTargeted(m.Conn, packet.TagTreeUpdate, packet.Packet{Tag: packet.TagTreeUpdate, Trees: wireTreeStages(m.Stages)})

	case simmsg.PlaceTree:
		w.stageBroadcast(packet.TagTreePlaced, packet.Packet{
			Tag: packet.TagTreePlaced, ID: m.ID, X: float32(m.Pos.X), Y: float32(m.Pos.Y),
			Species: wireSpecies(m.Species),
		})

	case simmsg.KillTree:
		w.stageBroadcast(packet.TagTreeDied, packet.Packet{Tag: packet.TagTreeDied, ID: m.ID})

	case simmsg.WorldTick:
		w.stageBroadcast(packet.TagHealthUpdate, packet.Packet{Tag: packet.TagHealthUpdate, HealthGrid: m.HealthGrid})

	case simmsg.TreeTick:
		w.stageBroadcast(packet.TagTreeUpdate, packet.Packet{Tag: packet.TagTreeUpdate, Trees: wireTreeStages(m.Trees)})
	}
}

func (w *Worker) stageTargeted(id simmsg.ConnID, tag packet.Tag, p packet.Packet) {
	payload, err := packet.Encode(p)
	if err != nil {
		if w.Logger != nil {
			w.Logger.Printf("netio: encode %#x for conn %d: %v", tag, id, err)
		}
		return
	}
	w.outbox.Add(outboundOp{targeted: true, conn: id, tag: tag, payload: payload})
}

func (w *Worker) stageBroadcast(tag packet.Tag, p packet.Packet) {
	payload, err := packet.Encode(p)
	if err != nil {
		if w.Logger != nil {
			w.Logger.Printf("netio: encode %#x broadcast: %v", tag, err)
		}
		return
	}
	w.outbox.Add(outboundOp{targeted: false, tag: tag, payload: payload})
}

// dispatchOutbox runs step 5: every staged op is handed to SendTo or
// BroadcastToReady, in the order it was staged, and then every
// connection's pending packets are flushed to the wire in one pass.
// SendTo/BroadcastToReady already refuse a non-server tag as a
// defensive check, so a bug that stages a client-direction tag is
// dropped rather than sent.
func (w *Worker) dispatchOutbox() {
	for w.outbox.Length() > 0 {
		item := w.outbox.Peek()
		w.outbox.Remove()
		op := item.(outboundOp)
		if op.targeted {
			w.Mgr.SendTo(op.conn, op.tag, op.payload)
		} else {
			w.Mgr.BroadcastToReady(op.tag, op.payload)
		}
	}
	w.Mgr.FlushAll()
}

func wireTreeStages(entries []simmsg.TreeStageEntry) []packet.TreeStage {
	out := make([]packet.TreeStage, len(entries))
	for i, e := range entries {
		out[i] = packet.TreeStage{ID: e.ID, Stage: wireStage(e.Stage)}
	}
	return out
}
