// Package connmgr owns the set of accepted connections and their
// session lifecycle state. It is exclusive to the Network Worker: no
// other goroutine reads or mutates a Connection or a Manager.
package connmgr

import (
	"log"
	"net"

	"github.com/arborwatch/ecosim/internal/bufpool"
	"github.com/arborwatch/ecosim/internal/packet"
	"github.com/arborwatch/ecosim/internal/simmsg"
	"github.com/arborwatch/ecosim/internal/wsproto"
)

// frameScratchCap sizes the pooled frame-assembly buffer generously
// above the largest expected payload (a full 28x28 health grid plus
// framing overhead) so Flush rarely needs to grow it.
const frameScratchCap = 4 * 1024

// Manager holds every live connection, keyed by id, plus the
// registration order used for deterministic broadcast fan-out.
//
// Manager is not safe for concurrent use from more than one goroutine;
// the Network Worker owns it outright, the same way internal/world is
// owned outright by the Simulation Worker.
type Manager struct {
	conns  map[simmsg.ConnID]*Connection
	order  []simmsg.ConnID
	nextID simmsg.ConnID

	// Logger receives Debug (0x00) packet text and framing diagnostics.
	// Nil is valid and silences logging entirely.
	Logger *log.Logger

	// MaxFailedAuthAttempts is config.Config's MAX_FAILED_AUTH_ATTEMPTS
	// knob, applied to every connection registered from this point
	// forward. Change it before accepting connections you want it to
	// apply to; connections already registered keep the limit they were
	// given at Register time.
	MaxFailedAuthAttempts int

	// frameBuf is reused across Flush calls so a pass that writes many
	// frames does not allocate a new header+payload buffer for each one.
	frameBuf *bufpool.Bytes
}

// NewManager returns an empty connection manager with the default
// protocol-violation limit.
func NewManager() *Manager {
	return &Manager{
		conns:                 make(map[simmsg.ConnID]*Connection),
		MaxFailedAuthAttempts: DefaultMaxFailedAuthAttempts,
		frameBuf:              bufpool.NewBytes(frameScratchCap),
	}
}

// NewManagerWithLogger is like NewManager but attaches logger so Debug
// packets and framing failures are reported instead of silently dropped.
func NewManagerWithLogger(logger *log.Logger) *Manager {
	m := NewManager()
	m.Logger = logger
	return m
}

func (m *Manager) logf(format string, args ...any) {
	if m.Logger != nil {
		m.Logger.Printf(format, args...)
	}
}

// Register adopts a freshly handshaken socket, starting it in NoAuth.
func (m *Manager) Register(conn net.Conn) *Connection {
	id := m.nextID
	m.nextID++
	c := newConnection(id, conn, m.MaxFailedAuthAttempts)
	m.conns[id] = c
	m.order = append(m.order, id)
	return c
}

// Get looks up a connection by id.
func (m *Manager) Get(id simmsg.ConnID) (*Connection, bool) {
	c, ok := m.conns[id]
	return c, ok
}

// Remove closes and forgets a connection. Safe to call more than once.
func (m *Manager) Remove(id simmsg.ConnID) {
	c, ok := m.conns[id]
	if !ok {
		return
	}
	_ = c.Conn.Close()
	delete(m.conns, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// IDs returns every live connection id in registration order.
func (m *Manager) IDs() []simmsg.ConnID {
	out := make([]simmsg.ConnID, len(m.order))
	copy(out, m.order)
	return out
}

// ReadyIDs returns the subset of IDs currently in the Ready state, in
// registration order — the order every broadcast fan-out uses.
func (m *Manager) ReadyIDs() []simmsg.ConnID {
	out := make([]simmsg.ConnID, 0, len(m.order))
	for _, id := range m.order {
		if c, ok := m.conns[id]; ok && c.State.Kind == Ready {
			out = append(out, id)
		}
	}
	return out
}

// --- lifecycle transitions ---

// RequestNewSession moves a NoAuth connection to AwaitingNewSession,
// reporting whether the transition was legal from the connection's
// current state.
func (m *Manager) RequestNewSession(id simmsg.ConnID) bool {
	c, ok := m.conns[id]
	if !ok || c.State.Kind != NoAuth {
		return false
	}
	c.State = ConnState{Kind: AwaitingNewSession}
	return true
}

// MarkNewSessionRequested records that the request has been forwarded
// to the Simulation Worker.
func (m *Manager) MarkNewSessionRequested(id simmsg.ConnID) {
	if c, ok := m.conns[id]; ok && c.State.Kind == AwaitingNewSession {
		c.State = ConnState{Kind: NewSessionRequested}
	}
}

// PollNewSessions returns every connection currently AwaitingNewSession,
// in registration order, and advances each to NewSessionRequested — the
// Network Worker's cue to forward a RequestNewSession to the Simulation
// Worker exactly once per client request.
func (m *Manager) PollNewSessions() []simmsg.ConnID {
	var out []simmsg.ConnID
	for _, id := range m.order {
		if c, ok := m.conns[id]; ok && c.State.Kind == AwaitingNewSession {
			out = append(out, id)
		}
	}
	for _, id := range out {
		m.MarkNewSessionRequested(id)
	}
	return out
}

// AuthAttempt is one pending AttemptAuthSession awaiting forwarding.
type AuthAttempt struct {
	Conn  simmsg.ConnID
	Token uint32
}

// PollAuthAttempts returns every connection currently AttemptingAuth
// that has not yet been forwarded to the Simulation Worker, in
// registration order, and marks each Waiting so a later pass does not
// forward it again while the reply is outstanding.
func (m *Manager) PollAuthAttempts() []AuthAttempt {
	var out []AuthAttempt
	for _, id := range m.order {
		c, ok := m.conns[id]
		if ok && c.State.Kind == AttemptingAuth && !c.State.Waiting {
			out = append(out, AuthAttempt{Conn: id, Token: c.State.Token})
		}
	}
	for _, a := range out {
		if c, ok := m.conns[a.Conn]; ok {
			c.State.Waiting = true
		}
	}
	return out
}

// GrantNewSession returns a connection to NoAuth once the Simulation
// Worker has minted and delivered its session token.
func (m *Manager) GrantNewSession(id simmsg.ConnID) {
	if c, ok := m.conns[id]; ok && c.State.Kind == NewSessionRequested {
		c.State = ConnState{Kind: NoAuth}
	}
}

// AttemptAuth moves a NoAuth connection to AttemptingAuth with the
// offered token, reporting whether the transition was legal.
func (m *Manager) AttemptAuth(id simmsg.ConnID, token uint32) bool {
	c, ok := m.conns[id]
	if !ok || c.State.Kind != NoAuth {
		return false
	}
	c.State = ConnState{Kind: AttemptingAuth, Token: token}
	return true
}

// GrantAuth promotes an AttemptingAuth connection to Ready, setting its
// session id to the token it was attempting and resetting its
// accumulated protocol-violation count, per grant_session's "sets
// session_id=token, resets failed_auth_attempts".
func (m *Manager) GrantAuth(id simmsg.ConnID) {
	if c, ok := m.conns[id]; ok && c.State.Kind == AttemptingAuth {
		c.State = ConnState{Kind: Ready, SessionID: c.State.Token}
		c.failedAuthAttempts = 0
	}
}

// DenyAuth returns a rejected AttemptingAuth connection to NoAuth so it
// may request a fresh session.
func (m *Manager) DenyAuth(id simmsg.ConnID) {
	if c, ok := m.conns[id]; ok && c.State.Kind == AttemptingAuth {
		c.State = ConnState{Kind: NoAuth}
	}
}

// NotifyAuthFail applies an AuthFail reply from the Simulation Worker:
// it counts as one protocol violation and returns the connection to
// NoAuth, unless that violation now exceeds MAX_FAILED_AUTH_ATTEMPTS,
// in which case it goes to AwaitingDeletion instead. AttemptAuthSession
// always succeeds in this core (see design notes), so in practice this
// path is reachable only if a future extension wires real token
// validation; the state machine already supports it.
func (m *Manager) NotifyAuthFail(id simmsg.ConnID) StateKind {
	c, ok := m.conns[id]
	if !ok {
		return AwaitingDeletion
	}
	if c.recordViolation() {
		c.State = ConnState{Kind: AwaitingDeletion}
		return c.State.Kind
	}
	m.DenyAuth(id)
	return c.State.Kind
}

// MarkForDeletion forces a connection into AwaitingDeletion from any
// state — used on disconnect, decode error, or handshake failure.
func (m *Manager) MarkForDeletion(id simmsg.ConnID) {
	if c, ok := m.conns[id]; ok {
		c.State = ConnState{Kind: AwaitingDeletion}
	}
}

// RecordViolation counts one protocol violation against a connection,
// forcing it into AwaitingDeletion once MAX_FAILED_AUTH_ATTEMPTS is
// exceeded. Reports the connection's state after the call.
func (m *Manager) RecordViolation(id simmsg.ConnID) StateKind {
	c, ok := m.conns[id]
	if !ok {
		return AwaitingDeletion
	}
	if c.recordViolation() {
		c.State = ConnState{Kind: AwaitingDeletion}
	}
	return c.State.Kind
}

// PendingDeletions returns every connection currently in
// AwaitingDeletion, in registration order.
func (m *Manager) PendingDeletions() []simmsg.ConnID {
	var out []simmsg.ConnID
	for _, id := range m.order {
		if c, ok := m.conns[id]; ok && c.State.Kind == AwaitingDeletion {
			out = append(out, id)
		}
	}
	return out
}

// Sweep drops every connection currently AwaitingDeletion, closing its
// socket and forgetting its id. This is the Network Worker's per-pass
// flush() step.
func (m *Manager) Sweep() {
	for _, id := range m.PendingDeletions() {
		m.Remove(id)
	}
}

// --- inbound polling ---

// TryReadOne attempts one non-blocking read across every live
// connection, in registration order, and returns at most one decoded
// application packet per call. A framing error or a closing frame puts
// its connection into AwaitingDeletion; an unknown tag or short payload
// does the same. A packet sent in the wrong direction (a client sending
// a server tag) is silently dropped. RequestNewSession and
// AttemptAuthSession are consumed internally to drive the lifecycle
// state machine for any non-Ready connection and are never returned;
// Debug is logged and never returned. Only RequestDownloadWorld and
// RequestPlaceTree from a Ready connection are handed back to the
// caller.
func (m *Manager) TryReadOne() (simmsg.ConnID, packet.Packet, bool) {
	for _, id := range m.order {
		c, ok := m.conns[id]
		if !ok || c.State.Kind == AwaitingDeletion {
			continue
		}

		frame, gotFrame, err := c.tryReadFrame()
		if err != nil {
			m.logf("connmgr: conn %d framing error: %v", id, err)
			m.MarkForDeletion(id)
			continue
		}
		if !gotFrame {
			continue
		}
		if frame.Opcode == wsproto.OpClose {
			m.MarkForDeletion(id)
			continue
		}

		pkt, err := packet.Decode(frame.Payload)
		if err != nil {
			m.logf("connmgr: conn %d decode error: %v", id, err)
			m.MarkForDeletion(id)
			continue
		}
		if !packet.IsClientTag(pkt.Tag) {
			continue // disallowed direction: silently drop, no state change
		}
		if !IsValidFromClient(c.State.Kind, pkt.Tag) {
			continue // not valid for this connection's current state
		}

		switch pkt.Tag {
		case packet.TagDebug:
			m.logf("connmgr: conn %d debug: %s", id, pkt.Text)
		case packet.TagRequestNewSession:
			m.RequestNewSession(id)
		case packet.TagAttemptAuthSession:
			m.AttemptAuth(id, pkt.Token)
		default:
			return id, pkt, true
		}
	}
	return 0, packet.Packet{}, false
}

// --- outbound dispatch ---

// SendTo stages payload for delivery to exactly one connection. It
// refuses to stage a client-direction tag (a bug upstream, not a wire
// condition) and silently drops sends to an unknown or deleting
// connection, mirroring how a closed socket would behave.
func (m *Manager) SendTo(id simmsg.ConnID, tag packet.Tag, payload []byte) bool {
	if !packet.IsServerTag(tag) {
		return false
	}
	c, ok := m.conns[id]
	if !ok || c.State.Kind == AwaitingDeletion {
		return false
	}
	c.Enqueue(payload)
	return true
}

// BroadcastToReady stages payload for every connection currently Ready,
// in registration order.
func (m *Manager) BroadcastToReady(tag packet.Tag, payload []byte) {
	if !packet.IsServerTag(tag) {
		return
	}
	for _, id := range m.ReadyIDs() {
		m.conns[id].Enqueue(payload)
	}
}

// Flush writes every packet staged for one connection as an
// unfragmented binary WebSocket frame, in FIFO order. A write error
// marks the connection for deletion and stops flushing for it; already
// written packets are not retried.
func (m *Manager) Flush(id simmsg.ConnID) error {
	c, ok := m.conns[id]
	if !ok {
		return nil
	}
	buf := m.frameBuf.Get()
	defer m.frameBuf.Put(buf)
	for {
		payload, more := c.PopPending()
		if !more {
			return nil
		}
		frame, err := wsproto.EncodeFrameInto(buf, wsproto.OpBinary, payload)
		if err != nil {
			m.MarkForDeletion(id)
			return err
		}
		if _, err := c.Conn.Write(frame); err != nil {
			m.MarkForDeletion(id)
			return err
		}
		buf = frame
	}
}

// FlushAll flushes every live connection, in registration order.
func (m *Manager) FlushAll() {
	for _, id := range m.IDs() {
		_ = m.Flush(id)
	}
}

// Count returns the number of live connections, for telemetry.
func (m *Manager) Count() int {
	return len(m.conns)
}
