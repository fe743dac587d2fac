// Package world implements the pure ecological simulation: a grid of
// land-energy and derived land-health cells, the live tree population,
// and the single deterministic tick function that advances both. Nothing
// in this package blocks, sleeps, or touches a network — it is owned
// exclusively by the Simulation Worker (see internal/simulation).
package world

import (
	"math"
	"math/rand"
)

// Default grid dimensions, per the external interface's WORLD_W/WORLD_H.
const (
	DefaultWidth  = 28
	DefaultHeight = 28
)

// Tunable spatial constants for the tick algorithm.
const (
	TreeRadius        = 0.3
	DeathAffectRange  = 1.0
	GrowthAffectRange = 2.0
	DiversityRange    = 1.3
	maturityThreshold = 1000
	adultDeathTicks   = 50
)

// World is the grid, its tree population, and the bookkeeping a tick
// needs. The zero value is not usable; construct with New or NewRandom.
type World struct {
	Width, Height int

	Land       []float64 // energy/nutrient level per cell, >= 0
	LandHealth []float64 // derived, in [0,1]

	Trees []Tree

	// DeadTrees accumulates ids killed by the tick most recently run;
	// the Simulation Worker drains and clears it right after each tick.
	DeadTrees []uint32

	nextTreeID uint32
}

// New constructs an empty world of the given dimensions with zeroed
// energy grids and no trees.
func New(width, height int) *World {
	return &World{
		Width:      width,
		Height:     height,
		Land:       make([]float64, width*height),
		LandHealth: make([]float64, width*height),
	}
}

// NewRandom constructs a world like New but seeds the land-energy grid
// with random starting nutrients, using rng. This is the only place in
// the package that consumes randomness — Tick itself is fully
// deterministic.
func NewRandom(width, height int, rng *rand.Rand) *World {
	w := New(width, height)
	for i := range w.Land {
		w.Land[i] = rng.Float64() * 10
	}
	recomputeHealth(w.Land, w.LandHealth)
	return w
}

func recomputeHealth(land, health []float64) {
	for i, c := range land {
		health[i] = landHealthOf(c)
	}
}

func landHealthOf(c float64) float64 {
	return 1 - math.Pow(c+1, 1.0/3.0)/(c+1)
}

// inBounds reports whether p lies within [-0.5, W-0.5) x [-0.5, H-0.5),
// the placement bounds used by PlaceTree.
func (w *World) inBounds(p Vec2) bool {
	return p.X >= -0.5 && p.X < float64(w.Width)-0.5 &&
		p.Y >= -0.5 && p.Y < float64(w.Height)-0.5
}

// cellIndex returns the land/land_health index for a position, flooring
// each axis into a grid cell.
func (w *World) cellIndex(p Vec2) int {
	x := int(math.Floor(p.X))
	y := int(math.Floor(p.Y))
	if x < 0 {
		x = 0
	}
	if x >= w.Width {
		x = w.Width - 1
	}
	if y < 0 {
		y = 0
	}
	if y >= w.Height {
		y = w.Height - 1
	}
	return x + y*w.Width
}

// PlaceTree attempts to add a new Seed at pos. It rejects positions
// outside the world bounds and positions within TreeRadius of any live
// tree. On success it returns the new tree's id and true; ids are
// allocated monotonically and never reused.
func (w *World) PlaceTree(species Species, pos Vec2) (uint32, bool) {
	if !w.inBounds(pos) {
		return 0, false
	}
	for _, t := range w.Trees {
		if t.Pos.Dist(pos) < TreeRadius {
			return 0, false
		}
	}

	id := w.nextTreeID
	w.nextTreeID++
	w.Trees = append(w.Trees, Tree{
		ID:       id,
		Species:  species,
		Pos:      pos,
		Maturity: Maturity{Kind: Seed, Ticks: 0},
	})
	return id, true
}

// LiveTreeCount returns the number of trees currently tracked, live or
// freshly dead (dead trees are removed from Trees at the end of Tick,
// after DeadTrees has been populated).
func (w *World) LiveTreeCount() int { return len(w.Trees) }
