package netio

import (
	"github.com/arborwatch/ecosim/internal/packet"
	"github.com/arborwatch/ecosim/internal/world"
)

// Species and Stage exist twice in this repo by design: packet.Species
// / packet.Stage are wire-layer concerns that never import the
// simulation, and world.Species / world.Stage are simulation-layer
// concerns that never import the wire codec. The Network Worker is the
// only place that knows both and converts between them.

func wireSpecies(s world.Species) packet.Species { return packet.Species(s) }

func domainSpecies(s packet.Species) world.Species { return world.Species(s) }

func wireStage(s world.Stage) packet.Stage { return packet.Stage(s) }

func vec2(x, y float32) world.Vec2 {
	return world.Vec2{X: float64(x), Y: float64(y)}
}
