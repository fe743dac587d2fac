package world

// Tick advances the world by exactly one simulation step, in this
// order: maturity advance, energy diffusion, per-cell land update,
// harvest of newly-dead trees into DeadTrees. Nothing here is
// time-based — callers (the Simulation Worker) decide when a tick is
// due; Tick itself is fully deterministic given the pre-tick state.
func (w *World) Tick() {
	w.advanceMaturity()
	w.diffuseLand()
	w.updateLandAndHealth()
	w.harvestDead()
}

// advanceMaturity runs step 1: each live tree's maturity transitions
// according to its local land health.
func (w *World) advanceMaturity() {
	for i := range w.Trees {
		t := &w.Trees[i]
		idx := w.cellIndex(t.Pos)
		health := w.LandHealth[idx]
		tickRate := 100 + int(200*(1-health))

		// The threshold check looks at the pre-tick ticks value, same
		// as promoting before aging a tick further: a tree that has
		// already crossed the threshold promotes instead of accruing
		// one more tick's worth of age in its old stage.
		switch t.Maturity.Kind {
		case Dead:
			// absorbing

		case Adult:
			if t.Maturity.Ticks > adultDeathTicks {
				t.Maturity = Maturity{Kind: Dead}
			} else {
				t.Maturity = Maturity{Kind: Adult, Ticks: t.Maturity.Ticks + 1}
			}

		case Child:
			if t.Maturity.Ticks > maturityThreshold {
				t.Maturity = Maturity{Kind: Adult, Ticks: 0}
			} else {
				t.Maturity = Maturity{Kind: Child, Ticks: t.Maturity.Ticks + tickRate}
			}

		case Seed:
			if t.Maturity.Ticks > maturityThreshold {
				t.Maturity = Maturity{Kind: Child, Ticks: 0}
			} else {
				t.Maturity = Maturity{Kind: Seed, Ticks: t.Maturity.Ticks + tickRate}
			}
		}
	}
}

// diffuseLand runs step 2: a 3x3 stencil blur of the energy grid with
// clamp-to-edge sampling (an out-of-range neighbor reads the nearest
// edge cell).
func (w *World) diffuseLand() {
	next := make([]float64, len(w.Land))
	ww, wh := w.Width, w.Height

	sample := func(x, y int) float64 {
		if x < 0 {
			x = 0
		} else if x >= ww {
			x = ww - 1
		}
		if y < 0 {
			y = 0
		} else if y >= wh {
			y = wh - 1
		}
		return w.Land[x+y*ww]
	}

	for y := 0; y < wh; y++ {
		for x := 0; x < ww; x++ {
			center := sample(x, y)
			ortho := sample(x+1, y) + sample(x-1, y) + sample(x, y+1) + sample(x, y-1)
			diag := sample(x+1, y+1) + sample(x+1, y-1) + sample(x-1, y+1) + sample(x-1, y-1)
			next[x+y*ww] = center*0.30 + ortho*0.15 + diag*0.025
		}
	}
	w.Land = next
}

// updateLandAndHealth runs step 3, using step 4's diversity index per
// cell: land energy decays, is replenished by dead trees and diverse
// mature stands, and is consumed by growing trees; land_health is then
// re-derived from land.
func (w *World) updateLandAndHealth() {
	ww, wh := w.Width, w.Height

	for y := 0; y < wh; y++ {
		for x := 0; x < ww; x++ {
			idx := x + y*ww
			center := Vec2{X: float64(x) + 0.5, Y: float64(y) + 0.5}

			var nearbyDead, nearbyGrowing, nearbyMature float64
			for _, t := range w.Trees {
				d := t.Pos.Dist(center)
				switch {
				case t.IsDead():
					if v := 1 - d/DeathAffectRange; v > 0 {
						nearbyDead += v
					}
				case t.IsGrowing():
					if v := 1 - d/GrowthAffectRange; v > 0 {
						nearbyGrowing += t.ConsumptionRate() * v
					}
				case t.IsMatureAdult():
					if v := 1 - d/GrowthAffectRange; v > 0 {
						nearbyMature += v
					}
				}
			}

			localDiversity := w.diversityAt(center, DiversityRange)

			c := w.Land[idx]
			decay := 0.03
			if extra := (c - 15) / 3; extra > 0 {
				decay += extra
			}
			c = c - decay + localDiversity*nearbyMature*0.2 + nearbyDead*3.0 - nearbyGrowing*0.2
			if c < 0 {
				c = 0
			}

			w.Land[idx] = c
			w.LandHealth[idx] = landHealthOf(c)
		}
	}
}

// harvestDead runs step 5: dead tree ids are appended to DeadTrees and
// removed from the live set.
func (w *World) harvestDead() {
	live := w.Trees[:0]
	for _, t := range w.Trees {
		if t.IsDead() {
			w.DeadTrees = append(w.DeadTrees, t.ID)
			continue
		}
		live = append(live, t)
	}
	w.Trees = live
}
