// Package simmsg defines the typed messages that cross the two channels
// between the Network Worker and the Simulation Worker. Messages are
// owned, not shared: the receiving worker is the sole mutator of
// anything a message refers to.
package simmsg

import "github.com/arborwatch/ecosim/internal/world"

// ConnID identifies a connection, shared with internal/connmgr's
// connection id space.
type ConnID uint32

// Inbound is implemented by every Network→Simulation message.
type Inbound interface{ inbound() }

// Outbound is implemented by every Simulation→Network message.
type Outbound interface{ outbound() }

// RequestNewSession asks Simulation to mint a fresh session token for Conn.
type RequestNewSession struct{ Conn ConnID }

func (RequestNewSession) inbound() {}

// AttemptAuthSession asks Simulation to validate Token for Conn.
type AttemptAuthSession struct {
	Conn  ConnID
	Token uint32
}

func (AttemptAuthSession) inbound() {}

// RequestWorldState asks Simulation to snapshot current world state for Conn.
type RequestWorldState struct{ Conn ConnID }

func (RequestWorldState) inbound() {}

// RequestPlaceTree asks Simulation to attempt placing a tree on behalf of Conn.
type RequestPlaceTree struct {
	Conn    ConnID
	Pos     world.Vec2
	Species world.Species
}

func (RequestPlaceTree) inbound() {}

// NewSession grants Conn a freshly minted session token.
type NewSession struct {
	Conn  ConnID
	Token uint32
}

func (NewSession) outbound() {}

// AuthSuccess confirms Conn's offered token was accepted.
type AuthSuccess struct {
	Conn  ConnID
	Token uint32
}

func (AuthSuccess) outbound() {}

// AuthFail tells the Network Worker Conn's auth attempt was rejected.
type AuthFail struct{ Conn ConnID }

func (AuthFail) outbound() {}

// TreeSnapshot is one live tree as reported in a WorldStateReady.
type TreeSnapshot struct {
	ID      uint32
	Pos     world.Vec2
	Species world.Species
}

// TreeStageEntry pairs a tree id with its current wire maturity stage.
type TreeStageEntry struct {
	ID    uint32
	Stage world.Stage
}

// WorldStateReady answers a RequestWorldState: a discretised health grid,
// a snapshot of every live tree, and their maturity stages. The Network
// Worker turns this into one HealthUpdate, one TreePlaced per tree, and
// one TreeUpdate, all sent only to Conn.
type WorldStateReady struct {
	Conn       ConnID
	HealthGrid []byte
	Trees      []TreeSnapshot
	Stages     []TreeStageEntry
}

func (WorldStateReady) outbound() {}

// PlaceTree announces a newly placed tree to every Ready connection.
type PlaceTree struct {
	ID      uint32
	Pos     world.Vec2
	Species world.Species
}

func (PlaceTree) outbound() {}

// KillTree announces a tree's death to every Ready connection.
type KillTree struct{ ID uint32 }

func (KillTree) outbound() {}

// WorldTick carries the discretised health grid emitted once per
// simulation tick, broadcast to every Ready connection.
type WorldTick struct{ HealthGrid []byte }

func (WorldTick) outbound() {}

// TreeTick carries every live tree's maturity stage, broadcast once per
// simulation tick alongside WorldTick.
type TreeTick struct{ Trees []TreeStageEntry }

func (TreeTick) outbound() {}
